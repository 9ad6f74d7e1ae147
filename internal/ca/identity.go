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
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// caValidity is the lifetime of a self-bootstrapped CA certificate.
const caValidity = 5 * 365 * 24 * time.Hour

// Identity is the CA's signing key and certificate. Loaded once at process
// start and immutable afterwards; it is owned exclusively by the Processor
// and safe to share across concurrent signing operations.
type Identity struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// LoadIdentity reads the CA key and certificate from the configured paths.
// Accepts both PKCS1 ("BEGIN RSA PRIVATE KEY") and PKCS8 ("BEGIN PRIVATE
// KEY") keys; bootstrapped keys are always PKCS1, imported keys may be
// PKCS8 (openssl-3.x default).
func LoadIdentity(keyPath, certPath string) (*Identity, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}

	var key *rsa.PrivateKey
	if k1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
		key = k1
	} else if k8, err8 := x509.ParsePKCS8PrivateKey(block.Bytes); err8 == nil {
		var ok bool
		key, ok = k8.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("CA private key is not an RSA key")
		}
	} else {
		return nil, fmt.Errorf("failed to parse CA private key (PKCS1: %v; PKCS8: %v)", err1, err8)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	block, _ = pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA cert: %w", err)
	}

	return &Identity{Cert: cert, Key: key}, nil
}

// LoadOrCreateIdentity loads the CA identity, bootstrapping a fresh
// self-signed CA when neither file exists yet. Files that exist but do not
// parse are an error, never overwritten.
func LoadOrCreateIdentity(keyPath, certPath, issuer string) (*Identity, error) {
	_, errKey := os.Stat(keyPath)
	_, errCert := os.Stat(certPath)
	if os.IsNotExist(errKey) && os.IsNotExist(errCert) {
		slog.Info("No existing CA found, bootstrapping new CA", "issuer", issuer)
		return bootstrapIdentity(keyPath, certPath, issuer)
	}
	return LoadIdentity(keyPath, certPath)
}

func bootstrapIdentity(keyPath, certPath, issuer string) (*Identity, error) {
	slog.Debug("Generating CA key (4096-bit RSA), this may take a moment")
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	// SubjectKeyIdentifier: SHA1 of the DER-encoded public key.
	pubBytes, _ := asn1.Marshal(key.PublicKey)
	subjectKeyID := sha1.Sum(pubBytes)

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: issuer,
		},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          subjectKeyID[:],
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing generated CA cert: %w", err)
	}

	for _, dir := range []string{filepath.Dir(keyPath), filepath.Dir(certPath)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating CA dir %s: %w", dir, err)
		}
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, keyPEM, 0640); err != nil {
		return nil, fmt.Errorf("writing CA key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, fmt.Errorf("writing CA cert: %w", err)
	}

	slog.Info("CA bootstrapped", "cn", template.Subject.CommonName, "cert", certPath)
	return &Identity{Cert: cert, Key: key}, nil
}
