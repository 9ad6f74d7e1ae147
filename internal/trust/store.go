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
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

const (
	keyFileExt   = ".asc"
	trustDBName  = "trustdb"
	filePermKey  = 0644
	dirPermStore = 0750
)

// Store holds one trust domain's keyring. Imported keys are persisted as
// <FINGERPRINT>.asc files under dir alongside a trustdb file of
// FINGERPRINT:level lines, so the keyring survives restarts. A Store
// constructed with an empty dir is purely in-memory.
//
// All methods are safe for concurrent use.
type Store struct {
	dir string

	mu       sync.RWMutex
	entities map[string]*openpgp.Entity
	levels   map[string]Level
}

// NewStore opens (or initialises) the keyring at dir. Key files that fail to
// parse are skipped with a warning rather than aborting the load, matching
// the best-effort contract of seeding.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:      dir,
		entities: make(map[string]*openpgp.Entity),
		levels:   make(map[string]Level),
	}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, dirPermStore); err != nil {
		return nil, fmt.Errorf("creating keyring dir %s: %w", dir, err)
	}
	if err := s.loadKeys(); err != nil {
		return nil, err
	}
	if err := s.loadTrustDB(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadKeys() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading keyring dir %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != keyFileExt {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		armored, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable key file", "path", path, "error", err)
			continue
		}
		keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
		if err != nil {
			slog.Warn("Skipping unparsable key file", "path", path, "error", err)
			continue
		}
		for _, ent := range keys {
			s.entities[fingerprintOf(ent)] = ent
		}
	}
	return nil
}

func (s *Store) loadTrustDB() error {
	f, err := os.Open(filepath.Join(s.dir, trustDBName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening trustdb: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fpr, levelStr, found := strings.Cut(line, ":")
		if !found {
			slog.Warn("Skipping malformed trustdb line", "line", line)
			continue
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			slog.Warn("Skipping trustdb entry", "fingerprint", fpr, "error", err)
			continue
		}
		s.levels[strings.ToUpper(strings.TrimSpace(fpr))] = level
	}
	return scanner.Err()
}

// Import parses an armored public key and adds it to the keyring at
// LevelNone. Re-importing a known fingerprint is a no-op that returns the
// existing fingerprint without touching its trust level.
func (s *Store) Import(armored []byte) (string, error) {
	keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: no keys in input", ErrMalformedKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := ""
	for _, ent := range keys {
		fpr := fingerprintOf(ent)
		if first == "" {
			first = fpr
		}
		if _, exists := s.entities[fpr]; exists {
			continue
		}
		s.entities[fpr] = ent
		if _, ok := s.levels[fpr]; !ok {
			s.levels[fpr] = LevelNone
		}
		if err := s.persistKey(fpr, ent); err != nil {
			delete(s.entities, fpr)
			return "", err
		}
	}
	if err := s.persistTrustDB(); err != nil {
		return "", err
	}
	return first, nil
}

// SetTrust sets or overwrites the trust level for an imported fingerprint.
func (s *Store) SetTrust(fingerprint string, level Level) error {
	fpr := strings.ToUpper(fingerprint)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[fpr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFingerprint, fpr)
	}
	s.levels[fpr] = level
	return s.persistTrustDB()
}

// Trust returns the current trust level for a fingerprint. Unknown
// fingerprints report LevelNone.
func (s *Store) Trust(fingerprint string) Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levels[strings.ToUpper(fingerprint)]
}

// Verify checks an armored detached signature over payload against the
// keyring. The signer is resolved from the signature itself; on success the
// signer's fingerprint is returned. A signature from a key the store does
// not hold (or a corrupt signature) yields ErrInvalidSignature; a valid
// signature from a key below LevelUltimate yields ErrUntrustedSigner.
func (s *Store) Verify(payload, signature []byte) (string, error) {
	s.mu.RLock()
	keyring := make(openpgp.EntityList, 0, len(s.entities))
	for _, ent := range s.entities {
		keyring = append(keyring, ent)
	}
	s.mu.RUnlock()

	signer, err := openpgp.CheckArmoredDetachedSignature(
		keyring, bytes.NewReader(payload), bytes.NewReader(signature), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	fpr := fingerprintOf(signer)
	if s.Trust(fpr) != LevelUltimate {
		return "", fmt.Errorf("%w: %s", ErrUntrustedSigner, fpr)
	}
	return fpr, nil
}

// ListFingerprints returns the fingerprints of every imported key.
// Ordering is unspecified.
func (s *Store) ListFingerprints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fprs := make([]string, 0, len(s.entities))
	for fpr := range s.entities {
		fprs = append(fprs, fpr)
	}
	return fprs
}

// persistKey writes a single entity as an armored <FINGERPRINT>.asc file.
// c.mu must be held by the caller.
func (s *Store) persistKey(fpr string, ent *openpgp.Entity) error {
	if s.dir == "" {
		return nil
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return fmt.Errorf("armoring key %s: %w", fpr, err)
	}
	if err := ent.Serialize(w); err != nil {
		w.Close()
		return fmt.Errorf("serializing key %s: %w", fpr, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("armoring key %s: %w", fpr, err)
	}
	path := filepath.Join(s.dir, fpr+keyFileExt)
	if err := os.WriteFile(path, buf.Bytes(), filePermKey); err != nil {
		return fmt.Errorf("writing key file %s: %w", path, err)
	}
	return nil
}

// persistTrustDB rewrites the trustdb file. s.mu must be held by the caller.
func (s *Store) persistTrustDB() error {
	if s.dir == "" {
		return nil
	}
	var buf bytes.Buffer
	for fpr, level := range s.levels {
		fmt.Fprintf(&buf, "%s:%s\n", fpr, level)
	}
	path := filepath.Join(s.dir, trustDBName)
	if err := os.WriteFile(path, buf.Bytes(), filePermKey); err != nil {
		return fmt.Errorf("writing trustdb %s: %w", path, err)
	}
	return nil
}

func fingerprintOf(ent *openpgp.Entity) string {
	return fmt.Sprintf("%X", ent.PrimaryKey.Fingerprint)
}
