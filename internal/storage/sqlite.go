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

package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS certs (
	serial      TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	issued_at   INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL,
	status      TEXT NOT NULL,
	revoked_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_certs_fingerprint ON certs (fingerprint);
CREATE INDEX IF NOT EXISTS idx_certs_status ON certs (status);
`

// SQLiteStore is the sqlite3-backed Store. The connection pool is pinned to
// a single connection: sqlite wants a single writer, and with ":memory:"
// every connection would otherwise get its own empty database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" gives an
// ephemeral store for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO certs (serial, fingerprint, issued_at, expires_at, status, revoked_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		r.Serial, r.Fingerprint, r.IssuedAt.Unix(), r.ExpiresAt.Unix(), r.Status,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateSerial, r.Serial)
		}
		return fmt.Errorf("inserting record %s: %w", r.Serial, err)
	}
	return nil
}

func (s *SQLiteStore) Get(serial string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT serial, fingerprint, issued_at, expires_at, status, revoked_at
		 FROM certs WHERE serial = ?`, serial)
	return scanRecord(row.Scan)
}

// Revoke transitions a record to revoked. The transition is one-way and
// idempotent: revoking an already-revoked serial is a no-op, not an error.
func (s *SQLiteStore) Revoke(serial string) error {
	res, err := s.db.Exec(
		`UPDATE certs SET status = ?, revoked_at = ? WHERE serial = ? AND status = ?`,
		StatusRevoked, time.Now().Unix(), serial, StatusValid,
	)
	if err != nil {
		return fmt.Errorf("revoking %s: %w", serial, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking %s: %w", serial, err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either already revoked (fine) or unknown serial.
	if _, err := s.Get(serial); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) FindByFingerprint(fingerprint string) ([]Record, error) {
	return s.queryRecords(
		`SELECT serial, fingerprint, issued_at, expires_at, status, revoked_at
		 FROM certs WHERE fingerprint = ? ORDER BY issued_at`, fingerprint)
}

func (s *SQLiteStore) AllRevoked() ([]Record, error) {
	return s.queryRecords(
		`SELECT serial, fingerprint, issued_at, expires_at, status, revoked_at
		 FROM certs WHERE status = ? ORDER BY revoked_at`, StatusRevoked)
}

func (s *SQLiteStore) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func scanRecord(scan func(...any) error) (*Record, error) {
	var (
		r         Record
		issued    int64
		expires   int64
		revokedAt sql.NullInt64
	)
	err := scan(&r.Serial, &r.Fingerprint, &issued, &expires, &r.Status, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	r.IssuedAt = time.Unix(issued, 0).UTC()
	r.ExpiresAt = time.Unix(expires, 0).UTC()
	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0).UTC()
		r.RevokedAt = &t
	}
	return &r, nil
}
