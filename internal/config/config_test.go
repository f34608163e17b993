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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.ListenAddr != "127.0.0.1:8443" {
		t.Fatalf("got %q", cfg.Proxy.ListenAddr)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[proxy]\nlisten_addr = \"0.0.0.0:9443\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.ListenAddr != "0.0.0.0:9443" {
		t.Fatalf("got %q", cfg.Proxy.ListenAddr)
	}
	if cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected untouched field to keep default, got %d", cfg.Store.RetentionDays)
	}
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	t.Setenv("ICON_PROXY_LISTEN_ADDR", "10.0.0.1:8443")
	t.Setenv("ICON_CLIPBOARD_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.ListenAddr != "10.0.0.1:8443" {
		t.Fatalf("got %q", cfg.Proxy.ListenAddr)
	}
	if cfg.Clipboard.Enabled {
		t.Fatal("expected env overlay to disable clipboard monitor")
	}
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, Default()); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != Default().API.BaseURL {
		t.Fatalf("got %q", cfg.API.BaseURL)
	}
}
