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

// Package trust implements the domain-scoped key trust stores that gate
// certificate issuance. Each store wraps an OpenPGP keyring plus a trust
// level per fingerprint; only keys at LevelUltimate authorize anything.
package trust

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedKey is returned by Import when the input does not parse
	// as an armored OpenPGP public key.
	ErrMalformedKey = errors.New("malformed public key")

	// ErrUnknownFingerprint is returned by SetTrust for a fingerprint that
	// was never imported.
	ErrUnknownFingerprint = errors.New("unknown fingerprint")

	// ErrInvalidSignature is returned by Verify when the signature does not
	// verify against any key in the store.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUntrustedSigner is returned by Verify when the signature verifies
	// but the signer's trust level is below ultimate.
	ErrUntrustedSigner = errors.New("untrusted signer")
)

// Level is the graded confidence rating attached to an imported key.
// Authorization is strictly binary: LevelUltimate authorizes, everything
// below is rejected identically to an absent key.
type Level int

const (
	LevelNone Level = iota
	LevelMarginal
	LevelFull
	LevelUltimate
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelMarginal:
		return "marginal"
	case LevelFull:
		return "full"
	case LevelUltimate:
		return "ultimate"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts the textual form stored in the trustdb back to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "marginal":
		return LevelMarginal, nil
	case "full":
		return LevelFull, nil
	case "ultimate":
		return LevelUltimate, nil
	default:
		return LevelNone, fmt.Errorf("unknown trust level %q", s)
	}
}
