// Copyright 2026 The Icon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the agent's TOML configuration file and overlays
// ICON_-prefixed environment variables on top of it (spec §4.12, §6).
package config

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ProxyConfig configures the local MITM listener.
type ProxyConfig struct {
	ListenAddr string `toml:"listen_addr"`
	CACertFile string `toml:"ca_cert_file"`
	CAKeyFile  string `toml:"ca_key_file"`
}

// APIConfig configures the control-plane connection (spec C10).
type APIConfig struct {
	BaseURL               string `toml:"base_url"`
	APIKey                string `toml:"api_key"`
	HMACSecret            string `toml:"hmac_secret"`
	PinnedCertSHA         string `toml:"pinned_cert_sha256"`
	AgentID               string `toml:"agent_id"`
	EnrollmentKey         string `toml:"enrollment_key"`
	HeartbeatIntervalSecs int    `toml:"heartbeat_interval_secs"`
}

// RuleSyncConfig configures the C9 push channel (Pusher/Reverb protocol
// over WebSocket) layered on top of the poll-by-version fallback.
type RuleSyncConfig struct {
	WebsocketURL  string `toml:"websocket_url"`
	ReverbAppKey  string `toml:"reverb_app_key"`
	ReverbChannel string `toml:"reverb_channel"`
}

// ClipboardConfig configures the clipboard DLP monitor (spec C7).
type ClipboardConfig struct {
	Enabled         bool `toml:"enabled"`
	PollIntervalMS  int  `toml:"poll_interval_ms"`
}

// StoreConfig configures the local persistence layer (spec C11) and the
// C8 event-queue drain cadence, which reads through the same store.
type StoreConfig struct {
	Path                string `toml:"path"`
	EncryptionKeyHex    string `toml:"encryption_key_hex"`
	RetentionDays       int    `toml:"retention_days"`
	EventSyncIntervalS  int    `toml:"event_sync_interval_secs"`
	EventBatchSize      int    `toml:"event_batch_size"`
}

// MetricsConfig configures the loopback-only Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AppConfig is the root configuration document, decoded from TOML and
// then overlaid with ICON_<KEY> environment variables.
type AppConfig struct {
	Proxy     ProxyConfig     `toml:"proxy"`
	API       APIConfig       `toml:"api"`
	RuleSync  RuleSyncConfig  `toml:"rule_sync"`
	Clipboard ClipboardConfig `toml:"clipboard"`
	Store     StoreConfig     `toml:"store"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
}

// Default returns an AppConfig populated with the spec's documented
// defaults, for both --generate-config output and as a base before a file
// or environment overlay is applied.
func Default() AppConfig {
	return AppConfig{
		Proxy: ProxyConfig{
			ListenAddr: "127.0.0.1:8443",
			CACertFile: defaultPath("ca.crt"),
			CAKeyFile:  defaultPath("ca.key"),
		},
		API: APIConfig{
			BaseURL:               "https://api.icon.example.com",
			HeartbeatIntervalSecs: 60,
		},
		RuleSync: RuleSyncConfig{
			WebsocketURL: "wss://api.icon.example.com/app",
		},
		Clipboard: ClipboardConfig{
			Enabled:        true,
			PollIntervalMS: 500,
		},
		Store: StoreConfig{
			Path:               defaultPath("icon.db"),
			RetentionDays:      7,
			EventSyncIntervalS: 30,
			EventBatchSize:     100,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultConfigPath returns the platform-specific config file location.
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\Icon\config.toml`
	}
	return "/etc/icon/config.toml"
}

func defaultPath(name string) string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\Icon\` + name
	}
	return "/etc/icon/" + name
}

// Load reads path, falling back to Default() field values for anything
// absent in the file, then applies the ICON_ environment overlay.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return AppConfig{}, fmt.Errorf("config: stat %s: %w", path, err)
	}

	overlayEnv(&cfg, "ICON", "")
	return cfg, nil
}

// overlayEnv walks cfg's exported fields by reflection and, for each leaf
// field, checks whether an ICON_<PATH> environment variable is set —
// PATH being the field's toml tag chain joined with underscores and
// upper-cased (e.g. ICON_PROXY_LISTEN_ADDR). No config library in the
// corpus provides this; it is a small, self-contained reflection walk
// rather than a hand-rolled parser for TOML itself (see DESIGN.md).
func overlayEnv(v any, prefix, pathSoFar string) {
	rv := reflect.ValueOf(v).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		tag := field.Tag.Get("toml")
		if tag == "" {
			tag = strings.ToLower(field.Name)
		}
		envKey := strings.ToUpper(prefix + "_" + tag)
		if pathSoFar != "" {
			envKey = strings.ToUpper(prefix + "_" + pathSoFar + "_" + tag)
		}

		if fv.Kind() == reflect.Struct {
			childPath := tag
			if pathSoFar != "" {
				childPath = pathSoFar + "_" + tag
			}
			overlayEnv(fv.Addr().Interface(), prefix, childPath)
			continue
		}

		raw, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		setScalar(fv, raw)
	}
}

func setScalar(fv reflect.Value, raw string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			fv.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	}
}

// WriteTemplate renders cfg as TOML to path, used by --generate-config.
func WriteTemplate(path string, cfg AppConfig) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
