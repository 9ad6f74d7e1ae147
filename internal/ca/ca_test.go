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

package ca_test

import (
	"crypto/x509"
	"encoding/pem"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tvaughan/mtls-ca/internal/ca"
	"github.com/tvaughan/mtls-ca/internal/storage"
	"github.com/tvaughan/mtls-ca/internal/testutil"
	"github.com/tvaughan/mtls-ca/internal/trust"
)

var _ = Describe("Processor", func() {
	var (
		users     *trust.Store
		admins    *trust.Store
		records   storage.Store
		processor *ca.Processor
	)

	importUltimate := func(store *trust.Store, id *testutil.PGPIdentity) {
		pub, err := id.ArmoredPublicKey()
		Expect(err).NotTo(HaveOccurred())
		fpr, err := store.Import(pub)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.SetTrust(fpr, trust.LevelUltimate)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		users, err = trust.NewStore("")
		Expect(err).NotTo(HaveOccurred())
		admins, err = trust.NewStore("")
		Expect(err).NotTo(HaveOccurred())
		records, err = storage.Open(storage.Config{Engine: "sqlite3", DBPath: ":memory:"})
		Expect(err).NotTo(HaveOccurred())

		// Mirrors seeding: the admin key lands in both stores.
		importUltimate(users, userID)
		importUltimate(users, adminID)
		importUltimate(admins, adminID)

		processor = ca.New(testIdentity, users, admins, records, ca.Options{
			Policy:        ca.LifetimePolicy{Min: 60 * time.Second, Max: 24 * time.Hour},
			Issuer:        "Test Authority",
			AlternateName: "ca.example.com",
		})
	})

	AfterEach(func() {
		records.Close()
	})

	signedCSR := func(id *testutil.PGPIdentity, commonName string) ([]byte, []byte) {
		csrPEM, err := testutil.GenerateCSR(commonName)
		Expect(err).NotTo(HaveOccurred())
		sig, err := id.DetachSign(csrPEM)
		Expect(err).NotTo(HaveOccurred())
		return csrPEM, sig
	}

	issuedSerial := func(certPEM []byte) string {
		block, _ := pem.Decode(certPEM)
		Expect(block).NotTo(BeNil())
		cert, err := x509.ParseCertificate(block.Bytes)
		Expect(err).NotTo(HaveOccurred())
		return cert.SerialNumber.String()
	}

	// --- IssueCertificate ---

	Describe("IssueCertificate", func() {
		It("issues a certificate for a trusted signer", func() {
			csrPEM, sig := signedCSR(userID, "node.example.com")

			certPEM, err := processor.IssueCertificate(csrPEM, sig, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			block, rest := pem.Decode(certPEM)
			Expect(block).NotTo(BeNil())
			Expect(block.Type).To(Equal("CERTIFICATE"))
			Expect(rest).To(BeEmpty())

			cert, err := x509.ParseCertificate(block.Bytes)
			Expect(err).NotTo(HaveOccurred())
			Expect(cert.Subject.CommonName).To(Equal("node.example.com"))
			Expect(cert.NotAfter.Sub(cert.NotBefore)).To(Equal(time.Hour))
			Expect(cert.DNSNames).To(ContainElement("ca.example.com"))
			Expect(cert.IsCA).To(BeFalse())
			Expect(cert.ExtKeyUsage).To(ConsistOf(x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth))

			// Chains back to the CA.
			Expect(cert.CheckSignatureFrom(testIdentity.Cert)).To(Succeed())
		})

		It("persists a record before returning", func() {
			csrPEM, sig := signedCSR(userID, "node.example.com")
			certPEM, err := processor.IssueCertificate(csrPEM, sig, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			rec, err := records.Get(issuedSerial(certPEM))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(storage.StatusValid))
			Expect(rec.Fingerprint).To(Equal(userID.Fingerprint))
		})

		It("rejects a CSR signed by an unknown key and records nothing", func() {
			csrPEM, sig := signedCSR(strangerID, "intruder.example.com")

			_, err := processor.IssueCertificate(csrPEM, sig, time.Hour)
			Expect(err).To(MatchError(trust.ErrInvalidSignature))

			revoked, err := records.AllRevoked()
			Expect(err).NotTo(HaveOccurred())
			Expect(revoked).To(BeEmpty())
			recs, err := records.FindByFingerprint(strangerID.Fingerprint)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("rejects a signature over a different CSR", func() {
			csrPEM, _ := signedCSR(userID, "node.example.com")
			otherCSR, err := testutil.GenerateCSR("other.example.com")
			Expect(err).NotTo(HaveOccurred())
			sig, err := userID.DetachSign(otherCSR)
			Expect(err).NotTo(HaveOccurred())

			_, err = processor.IssueCertificate(csrPEM, sig, time.Hour)
			Expect(err).To(MatchError(trust.ErrInvalidSignature))
		})

		It("rejects malformed CSR input", func() {
			sig, err := userID.DetachSign([]byte("junk"))
			Expect(err).NotTo(HaveOccurred())
			_, err = processor.IssueCertificate([]byte("junk"), sig, time.Hour)
			Expect(err).To(MatchError(ca.ErrMalformedRequest))
		})

		It("rejects a lifetime below the minimum", func() {
			csrPEM, sig := signedCSR(userID, "node.example.com")
			_, err := processor.IssueCertificate(csrPEM, sig, 30*time.Second)
			Expect(err).To(MatchError(ca.ErrLifetimePolicy))

			recs, err := records.FindByFingerprint(userID.Fingerprint)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("rejects a lifetime above the maximum instead of clamping", func() {
			csrPEM, sig := signedCSR(userID, "node.example.com")
			_, err := processor.IssueCertificate(csrPEM, sig, 48*time.Hour)
			Expect(err).To(MatchError(ca.ErrLifetimePolicy))
		})

		It("allows any lifetime above the minimum when no maximum is set", func() {
			unbounded := ca.New(testIdentity, users, admins, records, ca.Options{
				Policy: ca.LifetimePolicy{Min: 60 * time.Second},
				Issuer: "Test Authority",
			})
			csrPEM, sig := signedCSR(userID, "node.example.com")
			_, err := unbounded.IssueCertificate(csrPEM, sig, 365*24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
		})

		It("issues distinct serials under concurrent requests", func() {
			const n = 5
			serials := make([]string, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()
					defer GinkgoRecover()
					csrPEM, sig := signedCSR(userID, "concurrent.example.com")
					certPEM, err := processor.IssueCertificate(csrPEM, sig, time.Hour)
					Expect(err).NotTo(HaveOccurred())
					serials[idx] = issuedSerial(certPEM)
				}(i)
			}
			wg.Wait()

			seen := map[string]bool{}
			for _, serial := range serials {
				Expect(seen[serial]).To(BeFalse(), "serial %s issued twice", serial)
				seen[serial] = true
				_, err := records.Get(serial)
				Expect(err).NotTo(HaveOccurred())
			}
		})
	})

	// --- RevokeCertificate ---

	Describe("RevokeCertificate", func() {
		var serial string

		BeforeEach(func() {
			csrPEM, sig := signedCSR(userID, "node.example.com")
			certPEM, err := processor.IssueCertificate(csrPEM, sig, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			serial = issuedSerial(certPEM)
		})

		It("lets the certificate owner revoke their own certificate", func() {
			sig, err := userID.DetachSign([]byte(serial))
			Expect(err).NotTo(HaveOccurred())

			Expect(processor.RevokeCertificate(serial, []byte(serial), sig)).To(Succeed())

			rec, err := records.Get(serial)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(storage.StatusRevoked))
		})

		It("lets an administrator revoke any certificate", func() {
			sig, err := adminID.DetachSign([]byte(serial))
			Expect(err).NotTo(HaveOccurred())

			Expect(processor.RevokeCertificate(serial, []byte(serial), sig)).To(Succeed())

			rec, err := records.Get(serial)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(storage.StatusRevoked))
		})

		It("rejects a trusted user who does not own the certificate", func() {
			otherUser, err := testutil.NewPGPIdentity("Other User", "other@example.com")
			Expect(err).NotTo(HaveOccurred())
			importUltimate(users, otherUser)

			sig, err := otherUser.DetachSign([]byte(serial))
			Expect(err).NotTo(HaveOccurred())

			err = processor.RevokeCertificate(serial, []byte(serial), sig)
			Expect(err).To(MatchError(ca.ErrUnauthorized))

			rec, err := records.Get(serial)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(storage.StatusValid))
		})

		It("rejects a signer unknown to both stores", func() {
			sig, err := strangerID.DetachSign([]byte(serial))
			Expect(err).NotTo(HaveOccurred())

			err = processor.RevokeCertificate(serial, []byte(serial), sig)
			Expect(err).To(MatchError(ca.ErrUnauthorized))
		})

		It("returns ErrNotFound for an unknown serial", func() {
			sig, err := adminID.DetachSign([]byte("999999"))
			Expect(err).NotTo(HaveOccurred())

			err = processor.RevokeCertificate("999999", []byte("999999"), sig)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("treats a second revocation as a no-op", func() {
			sig, err := adminID.DetachSign([]byte(serial))
			Expect(err).NotTo(HaveOccurred())

			Expect(processor.RevokeCertificate(serial, []byte(serial), sig)).To(Succeed())
			Expect(processor.RevokeCertificate(serial, []byte(serial), sig)).To(Succeed())
		})
	})

	// --- CRL ---

	Describe("CRL", func() {
		It("produces a verifiable empty CRL when nothing is revoked", func() {
			crlPEM, err := processor.CRL()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(crlPEM)).To(HavePrefix("-----BEGIN X509 CRL-----"))
			Expect(string(crlPEM)).To(ContainSubstring("-----END X509 CRL-----"))

			block, _ := pem.Decode(crlPEM)
			Expect(block).NotTo(BeNil())
			crl, err := x509.ParseRevocationList(block.Bytes)
			Expect(err).NotTo(HaveOccurred())
			Expect(crl.RevokedCertificateEntries).To(BeEmpty())
			Expect(crl.CheckSignatureFrom(testIdentity.Cert)).To(Succeed())
		})

		It("includes revoked serials", func() {
			csrPEM, sig := signedCSR(userID, "doomed.example.com")
			certPEM, err := processor.IssueCertificate(csrPEM, sig, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			serial := issuedSerial(certPEM)

			revokeSig, err := adminID.DetachSign([]byte(serial))
			Expect(err).NotTo(HaveOccurred())
			Expect(processor.RevokeCertificate(serial, []byte(serial), revokeSig)).To(Succeed())

			crlPEM, err := processor.CRL()
			Expect(err).NotTo(HaveOccurred())
			block, _ := pem.Decode(crlPEM)
			crl, err := x509.ParseRevocationList(block.Bytes)
			Expect(err).NotTo(HaveOccurred())
			Expect(crl.RevokedCertificateEntries).To(HaveLen(1))
			Expect(crl.RevokedCertificateEntries[0].SerialNumber.String()).To(Equal(serial))
			Expect(crl.NextUpdate.Sub(crl.ThisUpdate)).To(Equal(ca.CRLValidity))
		})
	})

	// --- CACertificate / Ready ---

	Describe("CACertificate", func() {
		It("returns the issuer name and the CA PEM", func() {
			info := processor.CACertificate()
			Expect(info.Issuer).To(Equal("Test Authority"))
			Expect(info.AlternateName).To(Equal("ca.example.com"))

			block, _ := pem.Decode(info.PEM)
			Expect(block).NotTo(BeNil())
			cert, err := x509.ParseCertificate(block.Bytes)
			Expect(err).NotTo(HaveOccurred())
			Expect(cert.Subject.CommonName).To(Equal("Test Authority"))
		})
	})

	Describe("Ready", func() {
		It("is true with a loaded identity", func() {
			Expect(processor.Ready()).To(BeTrue())
		})

		It("is false without one", func() {
			Expect(ca.New(nil, users, admins, records, ca.Options{}).Ready()).To(BeFalse())
		})
	})
})
