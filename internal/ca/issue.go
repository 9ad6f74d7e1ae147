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
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/tvaughan/mtls-ca/internal/storage"
)

// maxSerialAttempts bounds the retry loop for the astronomically unlikely
// 128-bit serial collision, which surfaces as ErrDuplicateSerial at insert.
const maxSerialAttempts = 3

// IssueCertificate authenticates the detached signature over the CSR bytes
// exactly as submitted, applies the lifetime policy, signs a certificate
// with the CA identity, and persists the record before returning the PEM.
// Persist-first ordering: a crash between persistence and response must not
// leave an unrecorded valid certificate.
//
// Trust and policy errors propagate unchanged; nothing is persisted on any
// failure path.
func (p *Processor) IssueCertificate(csrPEM, signature []byte, lifetime time.Duration) ([]byte, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("%w: not a PEM certificate request", ErrMalformedRequest)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: CSR self-signature invalid: %v", ErrMalformedRequest, err)
	}

	// The signer resolves from the signature, never from a request field.
	fingerprint, err := p.users.Verify(csrPEM, signature)
	if err != nil {
		return nil, err
	}

	if err := p.opts.Policy.Validate(lifetime); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// SubjectKeyIdentifier: SHA1 of the SubjectPublicKeyInfo DER (RFC 5280 §4.2.1.2).
	pubKeyDER, err := x509.MarshalPKIXPublicKey(csr.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported public key: %v", ErrMalformedRequest, err)
	}
	subjectKeyID := sha1.Sum(pubKeyDER)

	dnsNames := append([]string{}, csr.DNSNames...)
	if p.opts.AlternateName != "" {
		dnsNames = append(dnsNames, p.opts.AlternateName)
	}

	for attempt := 0; attempt < maxSerialAttempts; attempt++ {
		serial, err := newSerial()
		if err != nil {
			return nil, err
		}

		template := &x509.Certificate{
			SerialNumber: serial,
			Subject:      csr.Subject,
			NotBefore:    now,
			NotAfter:     now.Add(lifetime),

			KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},

			BasicConstraintsValid: true,
			IsCA:                  false,

			SubjectKeyId:   subjectKeyID[:],
			AuthorityKeyId: p.id.Cert.SubjectKeyId,

			DNSNames: dnsNames,
		}

		certBytes, err := x509.CreateCertificate(rand.Reader, template, p.id.Cert, csr.PublicKey, p.id.Key)
		if err != nil {
			return nil, fmt.Errorf("signing certificate: %w", err)
		}

		record := storage.Record{
			Serial:      serial.String(),
			Fingerprint: fingerprint,
			IssuedAt:    now,
			ExpiresAt:   now.Add(lifetime),
			Status:      storage.StatusValid,
		}
		if err := p.records.Insert(record); err != nil {
			if errors.Is(err, storage.ErrDuplicateSerial) {
				slog.Warn("Serial collision, retrying", "serial", record.Serial)
				continue
			}
			return nil, fmt.Errorf("recording issued certificate: %w", err)
		}

		slog.Info("Certificate issued",
			"subject", csr.Subject.CommonName,
			"fingerprint", fingerprint,
			"serial", record.Serial,
			"lifetime", lifetime,
		)
		return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes}), nil
	}

	return nil, fmt.Errorf("could not allocate a unique serial after %d attempts", maxSerialAttempts)
}

// newSerial draws a random 128-bit serial. Collisions are negligible at
// this width; the record store's unique-insert check backstops them anyway.
func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}
