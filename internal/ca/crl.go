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

package ca

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// CRL builds a freshly signed revocation list from the record store. It is
// regenerated on every call — no caching — so it reflects every revocation
// completed before the call. An empty list is a valid CRL.
func (p *Processor) CRL() ([]byte, error) {
	revoked, err := p.records.AllRevoked()
	if err != nil {
		return nil, fmt.Errorf("loading revoked records: %w", err)
	}

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, r := range revoked {
		serial, ok := new(big.Int).SetString(r.Serial, 10)
		if !ok {
			// A non-numeric serial means the store has been tampered with;
			// skip the entry rather than emitting a CRL that fails parsing.
			slog.Warn("Skipping unparsable serial in CRL", "serial", r.Serial)
			continue
		}
		revokedAt := r.IssuedAt
		if r.RevokedAt != nil {
			revokedAt = *r.RevokedAt
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: revokedAt,
		})
	}

	now := time.Now().UTC()
	template := &x509.RevocationList{
		// A fresh CRL is built per call, so a second-granularity timestamp
		// keeps the number monotonic across restarts.
		Number:                    big.NewInt(now.Unix()),
		ThisUpdate:                now,
		NextUpdate:                now.Add(CRLValidity),
		RevokedCertificateEntries: entries,
	}

	crlBytes, err := x509.CreateRevocationList(rand.Reader, template, p.id.Cert, p.id.Key)
	if err != nil {
		return nil, fmt.Errorf("signing CRL: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlBytes}), nil
}
