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

package testutil

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// PGPIdentity bundles a freshly generated OpenPGP key with the forms the
// trust store and the request path consume.
type PGPIdentity struct {
	Entity      *openpgp.Entity
	Fingerprint string
}

// NewPGPIdentity generates an ed25519 OpenPGP key (fast enough to mint one
// per test) for name <email>.
func NewPGPIdentity(name, email string) (*PGPIdentity, error) {
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity(name, "", email, cfg)
	if err != nil {
		return nil, err
	}
	return &PGPIdentity{
		Entity:      entity,
		Fingerprint: fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint),
	}, nil
}

// ArmoredPublicKey exports the identity's public key in the armored form
// the seeder and Import consume.
func (id *PGPIdentity) ArmoredPublicKey() ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := id.Entity.Serialize(w); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DetachSign produces an armored detached signature over payload.
func (id *PGPIdentity) DetachSign(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, id.Entity, bytes.NewReader(payload), nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
