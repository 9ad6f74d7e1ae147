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

// Package storage provides the durable certificate record store. Records
// are bookkeeping only — the cryptographic material lives in the signed
// certificate itself; the store keeps what revocation and auditing need.
package storage

import (
	"errors"
	"fmt"
	"time"
)

const (
	StatusValid   = "valid"
	StatusRevoked = "revoked"
)

var (
	// ErrDuplicateSerial is returned by Insert when the serial number is
	// already present.
	ErrDuplicateSerial = errors.New("duplicate serial number")

	// ErrNotFound is returned when no record exists for a serial.
	ErrNotFound = errors.New("certificate record not found")
)

// Record is one issued certificate. Status only ever transitions
// valid → revoked; records are never deleted.
type Record struct {
	Serial      string // decimal serial number, unique
	Fingerprint string // requester's key fingerprint
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Status      string
	RevokedAt   *time.Time // nil while valid
}

// Store is the certificate record store contract. Implementations must
// serialize writes so that concurrent issuance never reuses a serial and
// AllRevoked reflects every revocation completed before the call.
type Store interface {
	Insert(r Record) error
	Get(serial string) (*Record, error)
	Revoke(serial string) error
	FindByFingerprint(fingerprint string) ([]Record, error)
	AllRevoked() ([]Record, error)
	Close() error
}

// Config selects and parameterizes the storage engine.
type Config struct {
	Engine string // currently only "sqlite3"
	DBPath string // file path or ":memory:"
}

// Open constructs the configured engine.
func Open(cfg Config) (Store, error) {
	switch cfg.Engine {
	case "sqlite3":
		return OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}
