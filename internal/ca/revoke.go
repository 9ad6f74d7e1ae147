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
	"errors"
	"fmt"
	"log/slog"

	"github.com/tvaughan/mtls-ca/internal/trust"
)

// RevokeCertificate revokes the record with the given serial. The caller
// proves identity with a detached signature over payload: a signer in the
// admin keyring may revoke anything, a signer in the user keyring only its
// own certificates. Anyone else gets ErrUnauthorized.
//
// Revocation is idempotent — revoking an already-revoked serial succeeds as
// a no-op. An unknown serial is storage.ErrNotFound.
func (p *Processor) RevokeCertificate(serial string, payload, signature []byte) error {
	record, err := p.records.Get(serial)
	if err != nil {
		return err
	}

	// Admins are implicitly users but carry an extra privilege: try the
	// admin domain first so an admin can revoke any subject's certificate.
	if fpr, err := p.admins.Verify(payload, signature); err == nil {
		slog.Info("Certificate revoked by admin", "serial", serial, "admin", fpr)
		return p.records.Revoke(serial)
	} else if !errors.Is(err, trust.ErrInvalidSignature) && !errors.Is(err, trust.ErrUntrustedSigner) {
		return err
	}

	fpr, err := p.users.Verify(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if fpr != record.Fingerprint {
		return fmt.Errorf("%w: signer %s does not own certificate %s", ErrUnauthorized, fpr, serial)
	}

	slog.Info("Certificate revoked by subject", "serial", serial, "fingerprint", fpr)
	return p.records.Revoke(serial)
}
