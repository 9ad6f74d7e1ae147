// Copyright (C) 2026 Trevor Vaughan
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package trust

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Seed bootstraps the trust stores from a directory of exported armored
// public keys laid out by domain:
//
//	<seedDir>/user/*.asc   → user store
//	<seedDir>/admin/*.asc  → admin store AND user store
//
// Admin keys are always double-imported so that every administrator is also
// a valid user; the converse never happens. Every seeded key is set to
// LevelUltimate in every store it lands in.
//
// Seeding is best-effort: files that fail to read or parse are logged and
// skipped. It is also idempotent — re-running over the same directory
// changes nothing. Missing subdirectories are treated as empty.
func Seed(seedDir string, users, admins *Store) error {
	if seedDir == "" {
		return nil
	}

	if err := seedDomain(filepath.Join(seedDir, "admin"), admins, users); err != nil {
		return err
	}
	return seedDomain(filepath.Join(seedDir, "user"), users)
}

// seedDomain imports every key file in dir into each of the given stores.
func seedDomain(dir string, stores ...*Store) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Seed subdirectory absent, treating as empty", "dir", dir)
			return nil
		}
		return fmt.Errorf("reading seed dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		armored, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Seed: skipping unreadable key file", "path", path, "error", err)
			continue
		}
		for _, store := range stores {
			fpr, err := store.Import(armored)
			if err != nil {
				slog.Warn("Seed: skipping unparsable key file", "path", path, "error", err)
				break
			}
			if err := store.SetTrust(fpr, LevelUltimate); err != nil {
				return fmt.Errorf("setting trust for seeded key %s: %w", fpr, err)
			}
			slog.Debug("Seeded key", "path", path, "fingerprint", fpr)
		}
	}
	return nil
}
