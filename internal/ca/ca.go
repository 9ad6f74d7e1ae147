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

// Package ca implements the certificate processor: the trust-enforcing core
// that authenticates signature-backed requests against the keyring stores,
// applies lifetime policy, signs certificates and CRLs with the CA
// identity, and records issuance and revocation.
package ca

import (
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/tvaughan/mtls-ca/internal/storage"
	"github.com/tvaughan/mtls-ca/internal/trust"
)

var (
	// ErrMalformedRequest is returned when the submitted CSR does not parse
	// or carries an invalid self-signature.
	ErrMalformedRequest = errors.New("malformed certificate request")

	// ErrLifetimePolicy is returned when the requested lifetime falls
	// outside the configured bounds.
	ErrLifetimePolicy = errors.New("requested lifetime violates policy")

	// ErrUnauthorized is returned when a revocation caller is neither the
	// certificate's subject nor an administrator.
	ErrUnauthorized = errors.New("not authorized")
)

// CRLValidity is the validity window written into every generated CRL.
const CRLValidity = 30 * 24 * time.Hour

// LifetimePolicy bounds the lifetime a requester may ask for. Min is an
// inclusive lower bound. Max <= 0 means no upper bound (the configuration
// layer's max_lifetime=0 sentinel stops here); a positive Max is an
// inclusive upper bound and requests exceeding it are rejected, never
// silently clamped.
type LifetimePolicy struct {
	Min time.Duration
	Max time.Duration
}

func (p LifetimePolicy) Validate(requested time.Duration) error {
	if requested < p.Min {
		return fmtErrLifetime("requested %s is below the minimum %s", requested, p.Min)
	}
	if p.Max > 0 && requested > p.Max {
		return fmtErrLifetime("requested %s exceeds the maximum %s", requested, p.Max)
	}
	return nil
}

func fmtErrLifetime(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLifetimePolicy, fmt.Sprintf(format, args...))
}

// Options carries the policy and naming configuration for a Processor.
type Options struct {
	Policy        LifetimePolicy
	Issuer        string
	AlternateName string
}

// Processor is the issuance orchestrator. All fields are set at
// construction and never mutated afterwards; the trust stores and record
// store carry their own synchronization, so a single Processor is safe for
// concurrent requests.
type Processor struct {
	id      *Identity
	users   *trust.Store
	admins  *trust.Store
	records storage.Store
	opts    Options
}

func New(id *Identity, users, admins *trust.Store, records storage.Store, opts Options) *Processor {
	return &Processor{
		id:      id,
		users:   users,
		admins:  admins,
		records: records,
		opts:    opts,
	}
}

// Ready reports whether the processor can serve requests.
func (p *Processor) Ready() bool {
	return p.id != nil && p.id.Cert != nil && p.id.Key != nil
}

// CAInfo describes the authority's public identity.
type CAInfo struct {
	Issuer        string
	PEM           []byte
	AlternateName string
}

// CACertificate returns the CA's own certificate. No authentication;
// the CA certificate is public material.
func (p *Processor) CACertificate() CAInfo {
	return CAInfo{
		Issuer:        p.opts.Issuer,
		PEM:           pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.id.Cert.Raw}),
		AlternateName: p.opts.AlternateName,
	}
}
