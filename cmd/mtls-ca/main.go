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

package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tvaughan/mtls-ca/internal/api"
	"github.com/tvaughan/mtls-ca/internal/ca"
	"github.com/tvaughan/mtls-ca/internal/storage"
	"github.com/tvaughan/mtls-ca/internal/trust"
)

// isLoopback reports whether host is a loopback address (127.x.x.x, ::1, or
// "localhost"). Plain HTTP is only safe when the server cannot be reached
// from outside the local machine.
func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}

func main() {
	var (
		configFile    string
		host          string
		port          int
		verbosity     int
		logFile       string
		tlsCert       string
		tlsKey        string
		seedDir       string
		noTLSRequired bool
	)

	cmd := &cobra.Command{
		Use:          "mtls-ca",
		Short:        "Signature-authenticated certificate authority for mutual TLS",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// --- Config loading (file → env → CLI flags) ---
			resolved := resolveConfigFile(configFile, "MTLS_CA_CONFIG", "/etc/mtls-ca/config.yaml")
			cfg, err := loadServerConfig(resolved)
			if err != nil {
				return err
			}

			// Apply explicitly-set CLI flags (highest precedence).
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("verbosity") {
				cfg.Verbosity = verbosity
			}
			if cmd.Flags().Changed("logfile") {
				cfg.LogFile = logFile
			}
			if cmd.Flags().Changed("tls-cert") {
				cfg.TLSCert = tlsCert
			}
			if cmd.Flags().Changed("tls-key") {
				cfg.TLSKey = tlsKey
			}
			if cmd.Flags().Changed("seed-dir") {
				cfg.MTLS.SeedDir = seedDir
			}
			if cmd.Flags().Changed("no-tls-required") {
				cfg.NoTLSRequired = noTLSRequired
			}

			// --- Logging setup ---
			var logLevel slog.Level
			switch cfg.Verbosity {
			case 0:
				logLevel = slog.LevelInfo
			case 1:
				logLevel = slog.LevelDebug
			default:
				logLevel = slog.Level(-8) // Trace
			}

			opts := &slog.HandlerOptions{Level: logLevel}
			var logHandler slog.Handler

			if cfg.LogFile != "" {
				f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
				if err != nil {
					return fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
				}
				logHandler = slog.NewJSONHandler(f, opts)
			} else {
				logHandler = slog.NewTextHandler(os.Stderr, opts)
			}
			slog.SetDefault(slog.New(logHandler))

			slog.Info("Starting mtls-ca",
				"host", cfg.Host,
				"port", cfg.Port,
				"issuer", cfg.CA.Issuer,
				"storage", cfg.Storage.Engine,
			)

			// --- TLS enforcement ---
			// Plain HTTP over a non-loopback interface lets any on-path host
			// intercept certificate requests. Refuse to start unless:
			//   (a) TLS is configured (tls_cert + tls_key), or
			//   (b) the bind address is loopback-only, or
			//   (c) the operator explicitly opts out with --no-tls-required.
			tlsConfigured := cfg.TLSCert != "" && cfg.TLSKey != ""
			if !tlsConfigured {
				if !isLoopback(cfg.Host) && !cfg.NoTLSRequired {
					slog.Error("Refusing to start: plain HTTP on a non-loopback address. " +
						"Enable TLS (tls_cert / tls_key), " +
						"restrict to loopback (--host 127.0.0.1), " +
						"or explicitly opt out with --no-tls-required.")
					os.Exit(1)
				}
				if cfg.NoTLSRequired && !isLoopback(cfg.Host) {
					slog.Warn("TLS is not configured on a non-loopback address. " +
						"Only use --no-tls-required behind a trusted TLS proxy or in test environments.")
				}
			}

			// --- Storage ---
			records, err := storage.Open(storage.Config{
				Engine: cfg.Storage.Engine,
				DBPath: cfg.Storage.SQLite3.DBPath,
			})
			if err != nil {
				slog.Error("Failed to open certificate record store", "error", err)
				os.Exit(1)
			}
			defer records.Close()

			// --- Trust stores & seeding ---
			users, err := trust.NewStore(cfg.GnuPG.User)
			if err != nil {
				slog.Error("Failed to open user trust store", "dir", cfg.GnuPG.User, "error", err)
				os.Exit(1)
			}
			admins, err := trust.NewStore(cfg.GnuPG.Admin)
			if err != nil {
				slog.Error("Failed to open admin trust store", "dir", cfg.GnuPG.Admin, "error", err)
				os.Exit(1)
			}

			// Seeding runs to completion before the listener starts; no
			// request is ever served against half-populated keyrings.
			if err := trust.Seed(cfg.MTLS.SeedDir, users, admins); err != nil {
				slog.Error("Trust store seeding failed", "seed_dir", cfg.MTLS.SeedDir, "error", err)
				os.Exit(1)
			}
			slog.Info("Trust stores ready",
				"users", len(users.ListFingerprints()),
				"admins", len(admins.ListFingerprints()),
			)

			// --- CA identity ---
			identity, err := ca.LoadOrCreateIdentity(cfg.CA.Key, cfg.CA.Cert, cfg.CA.Issuer)
			if err != nil {
				slog.Error("Failed to load CA identity", "error", err)
				os.Exit(1)
			}

			processor := ca.New(identity, users, admins, records, ca.Options{
				Policy: ca.LifetimePolicy{
					Min: time.Duration(cfg.MTLS.MinLifetime) * time.Second,
					Max: time.Duration(cfg.MTLS.MaxLifetime) * time.Second,
				},
				Issuer:        cfg.CA.Issuer,
				AlternateName: cfg.CA.AlternateName,
			})

			// --- HTTP(S) Server ---
			srv := api.New(processor)

			addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			slog.Info("Listening", "address", addr)

			server := &http.Server{
				Addr:              addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
			}

			if tlsConfigured {
				serverCert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
				if err != nil {
					slog.Error("Failed to load TLS cert/key", "cert", cfg.TLSCert, "key", cfg.TLSKey, "error", err)
					os.Exit(1)
				}

				caPool := x509.NewCertPool()
				if block, _ := pem.Decode(processor.CACertificate().PEM); block != nil {
					if caCert, err := x509.ParseCertificate(block.Bytes); err == nil {
						caPool.AddCert(caCert)
					}
				}

				server.TLSConfig = &tls.Config{
					Certificates: []tls.Certificate{serverCert},
					ClientCAs:    caPool,
					ClientAuth:   tls.RequestClientCert,
					MinVersion:   tls.VersionTLS12,
				}

				slog.Info("TLS enabled", "cert", cfg.TLSCert)
				if err := server.ListenAndServeTLS("", ""); err != nil {
					slog.Error("Server failed", "error", err)
					os.Exit(1)
				}
			} else {
				if err := server.ListenAndServe(); err != nil {
					slog.Error("Server failed", "error", err)
					os.Exit(1)
				}
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "Path to YAML config file (default: /etc/mtls-ca/config.yaml if it exists)")
	f.StringVar(&host, "host", "0.0.0.0", "Address to listen on")
	f.IntVar(&port, "port", 4000, "Port to listen on")
	f.IntVarP(&verbosity, "verbosity", "v", 0, "Verbosity: 0=Info 1=Debug 2=Trace")
	f.StringVar(&logFile, "logfile", "", "Log to file instead of stderr")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS server certificate PEM (enables HTTPS)")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS server private key PEM (enables HTTPS)")
	f.StringVar(&seedDir, "seed-dir", "", "Directory of exported public keys (user/, admin/) to seed the trust stores from")
	f.BoolVar(&noTLSRequired, "no-tls-required", false, "Allow plain HTTP on non-loopback addresses (use only behind a trusted TLS proxy or in test environments)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
