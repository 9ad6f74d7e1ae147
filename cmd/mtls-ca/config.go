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
	"fmt"
	"os"
	"strconv"

	"go.yaml.in/yaml/v3"
)

// serverConfig holds all configuration for the mtls-ca server.
// Fields are populated from (lowest → highest priority):
//
//	built-in defaults → config file → env vars → CLI flags
type serverConfig struct {
	CA      caConfig      `yaml:"ca"`
	MTLS    mtlsConfig    `yaml:"mtls"`
	GnuPG   gnupgConfig   `yaml:"gnupg"`
	Storage storageConfig `yaml:"storage"`

	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Verbosity     int    `yaml:"verbosity"`
	LogFile       string `yaml:"logfile"`
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`
	NoTLSRequired bool   `yaml:"no_tls_required"`
}

// caConfig names the CA identity material. Key and Cert are bootstrapped
// in place when neither file exists.
type caConfig struct {
	Key           string `yaml:"key"`
	Cert          string `yaml:"cert"`
	Issuer        string `yaml:"issuer"`
	AlternateName string `yaml:"alternate_name"`
}

// mtlsConfig is the issuance policy. Lifetimes are in seconds;
// max_lifetime=0 means no upper bound.
type mtlsConfig struct {
	MinLifetime int64  `yaml:"min_lifetime"`
	MaxLifetime int64  `yaml:"max_lifetime"`
	SeedDir     string `yaml:"seed_dir"`
}

// gnupgConfig locates the two keyring homes, one per trust domain.
type gnupgConfig struct {
	User  string `yaml:"user"`
	Admin string `yaml:"admin"`
}

type storageConfig struct {
	Engine  string        `yaml:"engine"`
	SQLite3 sqlite3Config `yaml:"sqlite3"`
}

type sqlite3Config struct {
	DBPath string `yaml:"db_path"`
}

// loadServerConfig applies built-in defaults, optionally loads a YAML config
// file, then overlays environment variables. configFile may be "" to skip
// file loading.
func loadServerConfig(configFile string) (*serverConfig, error) {
	cfg := &serverConfig{
		CA: caConfig{
			Key:    "secrets/authority/RootCA.key",
			Cert:   "secrets/authority/RootCA.pem",
			Issuer: "mtls-ca",
		},
		MTLS: mtlsConfig{
			MinLifetime: 60,
		},
		GnuPG: gnupgConfig{
			User:  "secrets/gnupg",
			Admin: "secrets/gnupg_admin",
		},
		Storage: storageConfig{
			Engine:  "sqlite3",
			SQLite3: sqlite3Config{DBPath: "mtls-ca.db"},
		},
		Host: "0.0.0.0",
		Port: 4000,
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configFile, err)
		}
	}

	applyServerEnv(cfg)
	return cfg, nil
}

// applyServerEnv overlays MTLS_CA_* environment variables onto cfg.
func applyServerEnv(cfg *serverConfig) {
	if v := os.Getenv("MTLS_CA_KEY"); v != "" {
		cfg.CA.Key = v
	}
	if v := os.Getenv("MTLS_CA_CERT"); v != "" {
		cfg.CA.Cert = v
	}
	if v := os.Getenv("MTLS_CA_ISSUER"); v != "" {
		cfg.CA.Issuer = v
	}
	if v := os.Getenv("MTLS_CA_ALTERNATE_NAME"); v != "" {
		cfg.CA.AlternateName = v
	}
	if v := os.Getenv("MTLS_CA_MIN_LIFETIME"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MTLS.MinLifetime = n
		}
	}
	if v := os.Getenv("MTLS_CA_MAX_LIFETIME"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MTLS.MaxLifetime = n
		}
	}
	if v := os.Getenv("MTLS_CA_SEED_DIR"); v != "" {
		cfg.MTLS.SeedDir = v
	}
	if v := os.Getenv("MTLS_CA_GNUPG_USER"); v != "" {
		cfg.GnuPG.User = v
	}
	if v := os.Getenv("MTLS_CA_GNUPG_ADMIN"); v != "" {
		cfg.GnuPG.Admin = v
	}
	if v := os.Getenv("MTLS_CA_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("MTLS_CA_SQLITE_DB_PATH"); v != "" {
		cfg.Storage.SQLite3.DBPath = v
	}
	if v := os.Getenv("MTLS_CA_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("MTLS_CA_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("MTLS_CA_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verbosity = n
		}
	}
	if v := os.Getenv("MTLS_CA_LOGFILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("MTLS_CA_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("MTLS_CA_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("MTLS_CA_NO_TLS_REQUIRED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NoTLSRequired = b
		}
	}
}

// resolveConfigFile returns the config file path to use:
// cliFlag → envVar → defaultPath (if it exists) → "".
func resolveConfigFile(cliFlag, envVar, defaultPath string) string {
	if cliFlag != "" {
		return cliFlag
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}
	return ""
}
