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

package trust_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tvaughan/mtls-ca/internal/testutil"
	"github.com/tvaughan/mtls-ca/internal/trust"
)

var _ = Describe("Store", func() {
	var store *trust.Store

	BeforeEach(func() {
		var err error
		store, err = trust.NewStore("")
		Expect(err).NotTo(HaveOccurred())
	})

	// --- Import ---

	Describe("Import", func() {
		It("imports an armored public key and returns its fingerprint", func() {
			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())

			fpr, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(fpr).To(Equal(alice.Fingerprint))
			Expect(store.ListFingerprints()).To(ConsistOf(alice.Fingerprint))
		})

		It("is idempotent and preserves the trust level on re-import", func() {
			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())

			fpr, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.SetTrust(fpr, trust.LevelUltimate)).To(Succeed())

			again, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(fpr))
			Expect(store.ListFingerprints()).To(HaveLen(1))
			Expect(store.Trust(fpr)).To(Equal(trust.LevelUltimate))
		})

		It("rejects garbage input", func() {
			_, err := store.Import([]byte("not a key"))
			Expect(err).To(MatchError(trust.ErrMalformedKey))
		})

		It("starts new keys at LevelNone", func() {
			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())

			fpr, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Trust(fpr)).To(Equal(trust.LevelNone))
		})
	})

	// --- SetTrust / Trust ---

	Describe("SetTrust", func() {
		It("rejects an unknown fingerprint", func() {
			err := store.SetTrust("DEADBEEF", trust.LevelUltimate)
			Expect(err).To(MatchError(trust.ErrUnknownFingerprint))
		})

		It("updates the level for an imported key", func() {
			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())
			fpr, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.SetTrust(fpr, trust.LevelMarginal)).To(Succeed())
			Expect(store.Trust(fpr)).To(Equal(trust.LevelMarginal))
		})

		It("reports LevelNone for fingerprints it has never seen", func() {
			Expect(store.Trust("DEADBEEF")).To(Equal(trust.LevelNone))
		})
	})

	// --- Verify ---

	Describe("Verify", func() {
		payload := []byte("-----BEGIN CERTIFICATE REQUEST-----\nfake\n-----END CERTIFICATE REQUEST-----\n")

		importUltimate := func(id *testutil.PGPIdentity) string {
			pub, err := id.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())
			fpr, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.SetTrust(fpr, trust.LevelUltimate)).To(Succeed())
			return fpr
		}

		It("accepts a valid signature from an ultimately trusted key", func() {
			fpr := importUltimate(alice)
			sig, err := alice.DetachSign(payload)
			Expect(err).NotTo(HaveOccurred())

			got, err := store.Verify(payload, sig)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(fpr))
		})

		It("rejects a signature from a key the store does not hold", func() {
			importUltimate(alice)
			sig, err := mal.DetachSign(payload)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Verify(payload, sig)
			Expect(err).To(MatchError(trust.ErrInvalidSignature))
		})

		It("rejects a valid signature from a key below ultimate trust", func() {
			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())
			fpr, err := store.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.SetTrust(fpr, trust.LevelFull)).To(Succeed())

			sig, err := alice.DetachSign(payload)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Verify(payload, sig)
			Expect(err).To(MatchError(trust.ErrUntrustedSigner))
		})

		It("rejects a signature over different content", func() {
			importUltimate(alice)
			sig, err := alice.DetachSign([]byte("something else entirely"))
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Verify(payload, sig)
			Expect(err).To(MatchError(trust.ErrInvalidSignature))
		})

		It("rejects corrupt signature data", func() {
			importUltimate(alice)
			_, err := store.Verify(payload, []byte("garbage"))
			Expect(err).To(MatchError(trust.ErrInvalidSignature))
		})
	})

	// --- Persistence ---

	Describe("Persistence", func() {
		var tmpDir string

		BeforeEach(func() {
			var err error
			tmpDir, err = os.MkdirTemp("", "mtls-ca-trust-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			os.RemoveAll(tmpDir)
		})

		It("reloads keys and trust levels across restarts", func() {
			first, err := trust.NewStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())
			fpr, err := first.Import(pub)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.SetTrust(fpr, trust.LevelUltimate)).To(Succeed())

			second, err := trust.NewStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ListFingerprints()).To(ConsistOf(fpr))
			Expect(second.Trust(fpr)).To(Equal(trust.LevelUltimate))

			// The reloaded keyring verifies signatures too.
			payload := []byte("payload")
			sig, err := alice.DetachSign(payload)
			Expect(err).NotTo(HaveOccurred())
			got, err := second.Verify(payload, sig)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(fpr))
		})

		It("writes key material as <FINGERPRINT>.asc", func() {
			s, err := trust.NewStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())
			fpr, err := s.Import(pub)
			Expect(err).NotTo(HaveOccurred())

			data, err := os.ReadFile(filepath.Join(tmpDir, fpr+".asc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("BEGIN PGP PUBLIC KEY BLOCK"))
		})

		It("skips unparsable key files on load", func() {
			s, err := trust.NewStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			pub, err := alice.ArmoredPublicKey()
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Import(pub)
			Expect(err).NotTo(HaveOccurred())

			Expect(os.WriteFile(filepath.Join(tmpDir, "junk.asc"), []byte("junk"), 0644)).To(Succeed())

			reloaded, err := trust.NewStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.ListFingerprints()).To(ConsistOf(alice.Fingerprint))
		})
	})

	// --- ParseLevel ---

	Describe("ParseLevel", func() {
		It("roundtrips every defined level", func() {
			for _, level := range []trust.Level{
				trust.LevelNone, trust.LevelMarginal, trust.LevelFull, trust.LevelUltimate,
			} {
				parsed, err := trust.ParseLevel(level.String())
				Expect(err).NotTo(HaveOccurred())
				Expect(parsed).To(Equal(level))
			}
		})

		It("rejects unknown names", func() {
			_, err := trust.ParseLevel("supreme")
			Expect(err).To(HaveOccurred())
		})
	})
})
