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

// Package api is the thin HTTP marshaling layer over the certificate
// processor. Authentication lives in the processor (detached signatures
// verified against the keyrings), not here; this package only maps the
// core's typed errors onto status codes.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tvaughan/mtls-ca/internal/ca"
	"github.com/tvaughan/mtls-ca/internal/storage"
	"github.com/tvaughan/mtls-ca/internal/trust"
)

// Version is reported by GET /version. Overridable at build time via
// -ldflags "-X github.com/tvaughan/mtls-ca/internal/api.Version=...".
var Version = "0.1.0"

// maxBodyBytes caps request bodies; CSRs and signatures are small.
const maxBodyBytes = 1 << 20

type Server struct {
	Processor *ca.Processor
}

func New(p *ca.Processor) *Server {
	return &Server{Processor: p}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /certificate", s.handleIssue)
	mux.HandleFunc("DELETE /certificate", s.handleRevoke)
	mux.HandleFunc("GET /crl", s.handleGetCRL)
	mux.HandleFunc("GET /ca", s.handleGetCA)
	mux.HandleFunc("GET /version", s.handleGetVersion)

	mux.HandleFunc("GET /healthz/live", s.handleLive)
	mux.HandleFunc("GET /healthz/ready", s.handleReady)

	return mux
}

// --- Issuance ---

// IssueRequest is the issuance payload. Signature is an armored detached
// PGP signature over the csr field's exact bytes; lifetime is in seconds.
type IssueRequest struct {
	CSR       string `json:"csr"`
	Signature string `json:"signature"`
	Lifetime  int64  `json:"lifetime"`
}

type IssueResponse struct {
	Cert string `json:"cert"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	slog.Debug("POST certificate", "lifetime", req.Lifetime)

	certPEM, err := s.Processor.IssueCertificate(
		[]byte(req.CSR), []byte(req.Signature), time.Duration(req.Lifetime)*time.Second)
	if err != nil {
		writeProcessorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IssueResponse{Cert: string(certPEM)})
}

// --- Revocation ---

// RevokeRequest identifies the certificate by serial. Signature is an
// armored detached PGP signature over the serial field's UTF-8 bytes,
// proving the caller is the subject or an administrator.
type RevokeRequest struct {
	Serial    string `json:"serial"`
	Signature string `json:"signature"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	slog.Debug("DELETE certificate", "serial", req.Serial)

	err := s.Processor.RevokeCertificate(req.Serial, []byte(req.Serial), []byte(req.Signature))
	if err != nil {
		writeProcessorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- CRL / CA cert / version ---

func (s *Server) handleGetCRL(w http.ResponseWriter, r *http.Request) {
	slog.Debug("GET crl")
	crlPEM, err := s.Processor.CRL()
	if err != nil {
		slog.Error("CRL generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write(crlPEM)
}

type CAResponse struct {
	Issuer        string `json:"issuer"`
	Cert          string `json:"cert"`
	AlternateName string `json:"alternate_name"`
}

func (s *Server) handleGetCA(w http.ResponseWriter, r *http.Request) {
	slog.Debug("GET ca")
	info := s.Processor.CACertificate()
	writeJSON(w, http.StatusOK, CAResponse{
		Issuer:        info.Issuer,
		Cert:          string(info.PEM),
		AlternateName: info.AlternateName,
	})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// --- Helpers ---

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// errorResponse is the client-fault body shape: {"error": true, "msg": ...}.
type errorResponse struct {
	Error bool   `json:"error"`
	Msg   string `json:"msg"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: true, Msg: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeProcessorError maps the core's typed errors onto the HTTP taxonomy:
// authentication → 401, authorization → 403, malformed input and policy →
// 400, unknown serial → 404, everything else is a server fault with no
// internal detail exposed.
func writeProcessorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trust.ErrInvalidSignature), errors.Is(err, trust.ErrUntrustedSigner):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ca.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ca.ErrMalformedRequest), errors.Is(err, ca.ErrLifetimePolicy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
