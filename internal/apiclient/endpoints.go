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

package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RegisterRequest is the bootstrap payload sent once per machine.
type RegisterRequest struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	OSVersion string `json:"os_version"`
}

// RegisterResponse carries the credentials the agent persists locally.
// If the server already knows this machine, it echoes the same values
// (register is idempotent per machine_id).
type RegisterResponse struct {
	MachineID  string `json:"machine_id"`
	APIKey     string `json:"api_key"`
	HMACSecret string `json:"hmac_secret"`
}

// Register calls POST /api/agents/register.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshal register request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/agents/register", body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: register: %w", err)
	}
	var out RegisterResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("apiclient: register: %w", err)
	}
	return &out, nil
}

// HeartbeatResponse reports server-requested side effects.
type HeartbeatResponse struct {
	ForceSyncRules  bool   `json:"force_sync_rules"`
	UpdateAvailable string `json:"update_available,omitempty"`
}

// Heartbeat calls POST /api/agents/heartbeat.
func (c *Client) Heartbeat(ctx context.Context) (*HeartbeatResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/agents/heartbeat", []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: heartbeat: %w", err)
	}
	var out HeartbeatResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("apiclient: heartbeat: %w", err)
	}
	return &out, nil
}

// EventPayload is the wire shape of one queued event, exported so
// internal/queue can build batches without this package depending back
// on the queue's storage representation.
type EventPayload struct {
	EventType       string         `json:"event_type"`
	Platform        string         `json:"platform,omitempty"`
	Domain          string         `json:"domain,omitempty"`
	ContentHash     string         `json:"content_hash,omitempty"`
	PromptExcerpt   string         `json:"prompt_excerpt,omitempty"`
	ResponseExcerpt string         `json:"response_excerpt,omitempty"`
	RuleID          string         `json:"rule_id,omitempty"`
	Severity        string         `json:"severity,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	OccurredAt      string         `json:"occurred_at"` // ISO-8601 UTC
}

// SendEvents calls POST /api/events with a batch of events wrapped in the
// EventBatch{machine_id, events[]} envelope.
func (c *Client) SendEvents(ctx context.Context, machineID string, events []EventPayload) error {
	body, err := json.Marshal(struct {
		MachineID string         `json:"machine_id"`
		Events    []EventPayload `json:"events"`
	}{MachineID: machineID, Events: events})
	if err != nil {
		return fmt.Errorf("apiclient: marshal events batch: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/events", body)
	if err != nil {
		return fmt.Errorf("apiclient: send events: %w", err)
	}
	return decodeJSON(resp, &struct{}{})
}

// RuleDocument is the wire shape of one synced rule.
type RuleDocument struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Version  uint64          `json:"version"`
	Category string          `json:"category"`
	Target   string          `json:"target"`
	Cond     json.RawMessage `json:"condition"`
	Act      json.RawMessage `json:"action"`
	Priority uint32          `json:"priority"`
	Enabled  bool            `json:"enabled"`
}

// RuleSyncResponse is the incremental rule sync result.
type RuleSyncResponse struct {
	Rules      []RuleDocument `json:"rules"`
	DeletedIDs []string       `json:"deleted_ids"`
}

// SyncRules calls GET /api/rules/sync?version=<N>.
func (c *Client) SyncRules(ctx context.Context, sinceVersion uint64) (*RuleSyncResponse, error) {
	path := fmt.Sprintf("/api/rules/sync?version=%d", sinceVersion)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: sync rules: %w", err)
	}
	var out RuleSyncResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("apiclient: sync rules: %w", err)
	}
	return &out, nil
}

// DomainEntry is the wire shape of one monitored domain.
type DomainEntry struct {
	Domain       string `json:"domain"`
	PlatformName string `json:"platform_name,omitempty"`
	IsBlocked    bool   `json:"is_blocked"`
}

// DomainSyncResponse is the full monitored-domain list.
type DomainSyncResponse struct {
	Domains []DomainEntry `json:"domains"`
}

// SyncDomains calls GET /api/domains/sync.
func (c *Client) SyncDomains(ctx context.Context) (*DomainSyncResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/domains/sync", nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: sync domains: %w", err)
	}
	var out DomainSyncResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("apiclient: sync domains: %w", err)
	}
	return &out, nil
}

// UpdateInfo describes an available agent update, or nil if current.
type UpdateInfo struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
	Checksum    string `json:"checksum"`
}

// CheckUpdate calls GET /api/agents/update?version=<current>. A 204
// response means no update is available (nil, nil).
func (c *Client) CheckUpdate(ctx context.Context, currentVersion string) (*UpdateInfo, error) {
	path := fmt.Sprintf("/api/agents/update?version=%s", currentVersion)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: check update: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}
	var out UpdateInfo
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("apiclient: check update: %w", err)
	}
	return &out, nil
}

// WatchdogAlertRequest reports that the watchdog process (a separate
// binary, out of scope here) observed the core agent unresponsive or
// missing.
type WatchdogAlertRequest struct {
	Reason string `json:"reason"`
}

// SendWatchdogAlert calls POST /api/agents/watchdog-alert. The core agent
// doesn't run the watchdog itself; this method only gives a watchdog
// process something to call.
func (c *Client) SendWatchdogAlert(ctx context.Context, reason string) error {
	body, err := json.Marshal(WatchdogAlertRequest{Reason: reason})
	if err != nil {
		return fmt.Errorf("apiclient: marshal watchdog alert: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/agents/watchdog-alert", body)
	if err != nil {
		return fmt.Errorf("apiclient: send watchdog alert: %w", err)
	}
	return decodeJSON(resp, &struct{}{})
}

// Health calls GET /api/health as a liveness probe.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return fmt.Errorf("apiclient: health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apiclient: health: status %d", resp.StatusCode)
	}
	return nil
}
