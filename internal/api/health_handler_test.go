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

package api_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tvaughan/mtls-ca/internal/api"
	"github.com/tvaughan/mtls-ca/internal/ca"
	"github.com/tvaughan/mtls-ca/internal/storage"
	"github.com/tvaughan/mtls-ca/internal/trust"
)

var _ = Describe("Health endpoints", func() {
	newMux := func(id *ca.Identity) http.Handler {
		users, err := trust.NewStore("")
		Expect(err).NotTo(HaveOccurred())
		admins, err := trust.NewStore("")
		Expect(err).NotTo(HaveOccurred())
		records, err := storage.Open(storage.Config{Engine: "sqlite3", DBPath: ":memory:"})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(records.Close)

		return api.New(ca.New(id, users, admins, records, ca.Options{})).Routes()
	}

	It("liveness always succeeds", func() {
		rr := httptest.NewRecorder()
		newMux(cachedIdentity).ServeHTTP(rr, httptest.NewRequest("GET", "/healthz/live", nil))
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(rr.Body.String()).To(ContainSubstring("ok"))
	})

	It("readiness succeeds with a loaded CA identity", func() {
		rr := httptest.NewRecorder()
		newMux(cachedIdentity).ServeHTTP(rr, httptest.NewRequest("GET", "/healthz/ready", nil))
		Expect(rr.Code).To(Equal(http.StatusOK))
	})

	It("readiness fails without a CA identity", func() {
		rr := httptest.NewRecorder()
		newMux(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/healthz/ready", nil))
		Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
