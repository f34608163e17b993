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

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ouattaraab/Icon/internal/config"
)

// newTestAPIServer serves just enough of the control-plane surface for
// New() to complete a full bootstrap: registration plus empty rule/domain
// syncs.
func newTestAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"machine_id":  "machine-1",
			"api_key":     "key-1",
			"hmac_secret": "secret-1",
		})
	})
	mux.HandleFunc("/api/rules/sync", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rules": []any{}, "deleted_ids": []any{}})
	})
	mux.HandleFunc("/api/domains/sync", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"domains": []any{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL string) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "icon.db")
	cfg.Store.EncryptionKeyHex = ""
	cfg.Proxy.CACertFile = filepath.Join(dir, "ca.crt")
	cfg.Proxy.CAKeyFile = filepath.Join(dir, "ca.key")
	cfg.Proxy.ListenAddr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.Clipboard.Enabled = false
	cfg.API.BaseURL = apiURL
	return cfg
}

func TestNewBootstrapsCredentialsOnFirstRun(t *testing.T) {
	srv := newTestAPIServer(t)
	cfg := testConfig(t, srv.URL)
	log := zaptest.NewLogger(t)

	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.store.Close()

	machineID, err := a.store.GetSecret(context.Background(), secretMachineID)
	if err != nil || machineID != "machine-1" {
		t.Fatalf("got %q, err=%v", machineID, err)
	}
}

func TestNewReusesPersistedCredentialsOnSecondRun(t *testing.T) {
	srv := newTestAPIServer(t)
	cfg := testConfig(t, srv.URL)
	log := zaptest.NewLogger(t)

	a1, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	a1.store.Close()

	registerCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/register", func(w http.ResponseWriter, r *http.Request) {
		registerCalls++
	})
	mux.HandleFunc("/api/rules/sync", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rules": []any{}, "deleted_ids": []any{}})
	})
	mux.HandleFunc("/api/domains/sync", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"domains": []any{}})
	})
	srv2 := httptest.NewServer(mux)
	t.Cleanup(srv2.Close)
	cfg.API.BaseURL = srv2.URL

	a2, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer a2.store.Close()

	if registerCalls != 0 {
		t.Fatalf("expected no re-registration, got %d calls", registerCalls)
	}
}

func TestSecondsOrFallsBackOnNonPositive(t *testing.T) {
	if got := secondsOr(0, 5*time.Second); got != 5*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := secondsOr(10, 5*time.Second); got != 10*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestDaysOrFallsBackOnNonPositive(t *testing.T) {
	if got := daysOr(-1, time.Hour); got != time.Hour {
		t.Fatalf("got %v", got)
	}
	if got := daysOr(2, time.Hour); got != 48*time.Hour {
		t.Fatalf("got %v", got)
	}
}
