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

// mtls-ca-ctl is an operator/requester CLI for the mtls-ca server.
//
// Global flags must appear before the subcommand.
// Usage:
//
//	mtls-ca-ctl [global-flags] <subcommand> [subcommand-flags]
package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tvaughan/mtls-ca/internal/ca"
)

// ---------- global state ----------

var (
	globalServerURL  string
	globalCACert     string
	globalClientCert string
	globalClientKey  string
	globalVerbose    bool
)

// ---------- HTTP client ----------

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func newClient() *Client {
	transport := &http.Transport{}

	tlsCfg := &tls.Config{}

	if globalCACert != "" {
		caCertPEM, err := os.ReadFile(globalCACert)
		if err != nil {
			fatalf("Error reading --ca-cert %s: %v", globalCACert, err)
		}
		pool := x509.NewCertPool()
		block, _ := pem.Decode(caCertPEM)
		if block != nil {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				fatalf("Error parsing --ca-cert: %v", err)
			}
			pool.AddCert(cert)
		}
		tlsCfg.RootCAs = pool
	} else {
		// No CA cert provided: skip TLS verification (useful for self-signed dev certs).
		tlsCfg.InsecureSkipVerify = true //nolint:gosec
	}

	if globalClientCert != "" && globalClientKey != "" {
		cert, err := tls.LoadX509KeyPair(globalClientCert, globalClientKey)
		if err != nil {
			fatalf("Error loading --client-cert/--client-key: %v", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	transport.TLSClientConfig = tlsCfg

	return &Client{
		BaseURL: strings.TrimRight(globalServerURL, "/"),
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

func (c *Client) do(method, path string, body []byte) (int, []byte, error) {
	url := c.BaseURL + path
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func (c *Client) get(path string) (int, []byte, error) {
	return c.do("GET", path, nil)
}

func (c *Client) post(path string, body []byte) (int, []byte, error) {
	return c.do("POST", path, body)
}

func (c *Client) delete(path string, body []byte) (int, []byte, error) {
	return c.do("DELETE", path, body)
}

// ---------- helpers ----------

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func checkHTTP(code int, body []byte, method, path string) {
	if code >= 200 && code < 300 {
		return
	}
	fatalf("HTTP %d on %s %s: %s", code, method, path, strings.TrimSpace(string(body)))
}

// ---------- subcommand: ca ----------

func cmdCA(args []string) {
	fs := flag.NewFlagSet("ca", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print the full JSON response instead of the PEM")
	if err := fs.Parse(args); err != nil {
		fatalf("ca: %v", err)
	}

	c := newClient()
	code, body, err := c.get("/ca")
	if err != nil {
		fatalf("ca: %v", err)
	}
	checkHTTP(code, body, "GET", "/ca")

	if *asJSON {
		os.Stdout.Write(body)
		return
	}
	var resp struct {
		Cert string `json:"cert"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fatalf("ca: could not parse response: %v", err)
	}
	fmt.Print(resp.Cert)
}

// ---------- subcommand: crl ----------

func cmdCRL(args []string) {
	fs := flag.NewFlagSet("crl", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fatalf("crl: %v", err)
	}

	c := newClient()
	code, body, err := c.get("/crl")
	if err != nil {
		fatalf("crl: %v", err)
	}
	checkHTTP(code, body, "GET", "/crl")
	os.Stdout.Write(body)
}

// ---------- subcommand: issue ----------

func cmdIssue(args []string) {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	csrPath := fs.String("csr", "", "Path to the PEM CSR file (required)")
	sigPath := fs.String("signature", "", "Path to the armored detached signature over the CSR file (required)")
	lifetime := fs.Int64("lifetime", 3600, "Requested certificate lifetime in seconds")
	outDir := fs.String("out-dir", "", "Directory to save the certificate to (default: stdout)")
	if err := fs.Parse(args); err != nil {
		fatalf("issue: %v", err)
	}
	if *csrPath == "" {
		fatalf("issue: --csr is required")
	}
	if *sigPath == "" {
		fatalf("issue: --signature is required")
	}

	csrPEM, err := os.ReadFile(*csrPath)
	if err != nil {
		fatalf("issue: reading --csr: %v", err)
	}
	sig, err := os.ReadFile(*sigPath)
	if err != nil {
		fatalf("issue: reading --signature: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"csr":       string(csrPEM),
		"signature": string(sig),
		"lifetime":  *lifetime,
	})

	c := newClient()
	code, respBody, err := c.post("/certificate", body)
	if err != nil {
		fatalf("issue: %v", err)
	}
	checkHTTP(code, respBody, "POST", "/certificate")

	var resp struct {
		Cert string `json:"cert"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		fatalf("issue: could not parse response: %v", err)
	}

	if *outDir == "" {
		fmt.Print(resp.Cert)
		return
	}
	certPath := filepath.Join(*outDir, strings.TrimSuffix(filepath.Base(*csrPath), ".csr")+".pem")
	if err := os.WriteFile(certPath, []byte(resp.Cert), 0644); err != nil {
		fatalf("issue: failed to save certificate to %s: %v", certPath, err)
	}
	fmt.Fprintf(os.Stderr, "Certificate saved to %s\n", certPath)
}

// ---------- subcommand: revoke ----------

func cmdRevoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	serial := fs.String("serial", "", "Serial number of the certificate to revoke (required)")
	sigPath := fs.String("signature", "", "Path to the armored detached signature over the serial string (required)")
	if err := fs.Parse(args); err != nil {
		fatalf("revoke: %v", err)
	}
	if *serial == "" {
		fatalf("revoke: --serial is required")
	}
	if *sigPath == "" {
		fatalf("revoke: --signature is required")
	}

	sig, err := os.ReadFile(*sigPath)
	if err != nil {
		fatalf("revoke: reading --signature: %v", err)
	}

	body, _ := json.Marshal(map[string]string{
		"serial":    *serial,
		"signature": string(sig),
	})

	c := newClient()
	code, respBody, err := c.delete("/certificate", body)
	if err != nil {
		fatalf("revoke: %v", err)
	}
	checkHTTP(code, respBody, "DELETE", "/certificate")
	fmt.Printf("Revoked %s\n", *serial)
}

// ---------- subcommand: setup ----------

func cmdSetup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	keyPath := fs.String("key", "", "Path to write the CA private key to (required)")
	certPath := fs.String("cert", "", "Path to write the CA certificate to (required)")
	issuer := fs.String("issuer", "mtls-ca", "Issuer common name for the CA certificate")
	if err := fs.Parse(args); err != nil {
		fatalf("setup: %v", err)
	}
	if *keyPath == "" {
		fatalf("setup: --key is required")
	}
	if *certPath == "" {
		fatalf("setup: --cert is required")
	}

	id, err := ca.LoadOrCreateIdentity(*keyPath, *certPath, *issuer)
	if err != nil {
		fatalf("setup: %v", err)
	}
	fmt.Printf("CA ready (CN: %s, expires: %s)\n",
		id.Cert.Subject.CommonName, id.Cert.NotAfter.Format(time.RFC3339))
}

// ---------- subcommand: version ----------

func cmdVersion(args []string) {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fatalf("version: %v", err)
	}

	c := newClient()
	code, body, err := c.get("/version")
	if err != nil {
		fatalf("version: %v", err)
	}
	checkHTTP(code, body, "GET", "/version")
	os.Stdout.Write(body)
}

// ---------- main ----------

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML config file (default: ~/.mtls-ca-ctl.yaml if it exists)")
	flag.StringVar(&globalServerURL, "server-url", "", "mtls-ca server URL")
	flag.StringVar(&globalCACert, "ca-cert", "", "Path to CA cert PEM for TLS verification (omit to skip verify)")
	flag.StringVar(&globalClientCert, "client-cert", "", "Path to client certificate PEM for mTLS")
	flag.StringVar(&globalClientKey, "client-key", "", "Path to client private key PEM for mTLS")
	flag.BoolVar(&globalVerbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	home, _ := os.UserHomeDir()
	resolved := resolveConfigFile(configFile, "MTLS_CA_CTL_CONFIG", filepath.Join(home, ".mtls-ca-ctl.yaml"))
	cfg, err := loadCtlConfig(resolved)
	if err != nil {
		fatalf("%v", err)
	}

	// Config file / env values fill anything the flags left unset.
	if globalServerURL == "" {
		globalServerURL = cfg.ServerURL
	}
	if globalCACert == "" {
		globalCACert = cfg.CACert
	}
	if globalClientCert == "" {
		globalClientCert = cfg.ClientCert
	}
	if globalClientKey == "" {
		globalClientKey = cfg.ClientKey
	}
	if !globalVerbose {
		globalVerbose = cfg.Verbose
	}

	if globalVerbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	subcmdArgs := flag.Args()
	if len(subcmdArgs) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: mtls-ca-ctl [global-flags] <subcommand> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Subcommands:\n")
		fmt.Fprintf(os.Stderr, "  ca       Fetch the CA certificate\n")
		fmt.Fprintf(os.Stderr, "  crl      Fetch the certificate revocation list\n")
		fmt.Fprintf(os.Stderr, "  issue    Submit a signed CSR and print the issued certificate\n")
		fmt.Fprintf(os.Stderr, "  revoke   Revoke a certificate by serial number\n")
		fmt.Fprintf(os.Stderr, "  setup    Bootstrap CA key and certificate files (offline)\n")
		fmt.Fprintf(os.Stderr, "  version  Print the server version\n")
		os.Exit(1)
	}

	subcmd := subcmdArgs[0]
	rest := subcmdArgs[1:]

	switch subcmd {
	case "ca":
		cmdCA(rest)
	case "crl":
		cmdCRL(rest)
	case "issue":
		cmdIssue(rest)
	case "revoke":
		cmdRevoke(rest)
	case "setup":
		cmdSetup(rest)
	case "version":
		cmdVersion(rest)
	default:
		fatalf("unknown subcommand %q (run without arguments for help)", subcmd)
	}
}
