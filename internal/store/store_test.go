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

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/queue"
	"github.com/ouattaraab/Icon/internal/rules"
)

func newTestStore(t *testing.T, key []byte) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "icon.db"), key, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetSecretEncrypted(t *testing.T) {
	key := make([]byte, 32)
	s := newTestStore(t, key)
	ctx := context.Background()

	if err := s.PutSecret(ctx, "hmac_secret", "super-secret-value"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSecret(ctx, "hmac_secret")
	if err != nil {
		t.Fatal(err)
	}
	if got != "super-secret-value" {
		t.Fatalf("got %q", got)
	}
}

func TestGetSecretMissingReturnsEmpty(t *testing.T) {
	s := newTestStore(t, nil)
	got, err := s.GetSecret(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestUpsertAndLoadRules(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	r := rules.Rule{
		ID: "r1", Name: "test", Version: 1, Category: rules.CategoryBlock,
		Target: rules.TargetPrompt, Priority: 10, Enabled: true,
		Cond: rules.Condition{Type: rules.ConditionKeyword, Keywords: []string{"secret"}},
		Act:  rules.Action{Type: rules.ActionBlock, Message: "no secrets"},
	}
	if err := s.UpsertRule(ctx, r); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.AllEnabledRules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].ID != "r1" || loaded[0].Cond.Keywords[0] != "secret" {
		t.Fatalf("got %+v", loaded)
	}
}

// TestDisabledRuleStillReturnedButMarked asserts a disabled rule is
// still loaded (with Enabled false) rather than dropped at the store
// layer: the engine's snapshot needs to retain it so toggling a rule
// back on doesn't require a reload (spec §3).
func TestDisabledRuleStillReturnedButMarked(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	r := rules.Rule{ID: "r1", Target: rules.TargetPrompt, Enabled: false,
		Cond: rules.Condition{Type: rules.ConditionKeyword, Keywords: []string{"x"}},
		Act:  rules.Action{Type: rules.ActionLog}}
	if err := s.UpsertRule(ctx, r); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.AllEnabledRules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].ID != "r1" || loaded[0].Enabled {
		t.Fatalf("expected disabled rule retained with Enabled=false, got %+v", loaded)
	}
}

func TestDeleteRule(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	r := rules.Rule{ID: "r1", Target: rules.TargetPrompt, Enabled: true,
		Cond: rules.Condition{Type: rules.ConditionKeyword, Keywords: []string{"x"}},
		Act:  rules.Action{Type: rules.ActionLog}}
	if err := s.UpsertRule(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRule(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.AllEnabledRules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected rule deleted, got %+v", loaded)
	}
}

func TestEnqueueAndPendingBatch(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := queue.Event{
			EventType: queue.TypePrompt, Platform: "chatgpt", Domain: "api.openai.com",
			PromptExcerpt: "hello", OccurredAt: time.Now(), CreatedAt: time.Now(),
		}
		if _, err := s.Enqueue(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	batch, err := s.PendingBatch(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d events", len(batch))
	}
	if batch[0].Platform != "chatgpt" || batch[0].PromptExcerpt != "hello" {
		t.Fatalf("got %+v", batch[0])
	}

	ids := []int64{batch[0].ID, batch[1].ID}
	if err := s.MarkSynced(ctx, ids); err != nil {
		t.Fatal(err)
	}
	remaining, err := s.PendingBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining unsynced event, got %d", len(remaining))
	}
}

func TestGCSyncedBefore(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	old := queue.Event{
		EventType: queue.TypeBlock, OccurredAt: time.Now().Add(-48 * time.Hour),
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	id, err := s.Enqueue(ctx, old)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSynced(ctx, []int64{id}); err != nil {
		t.Fatal(err)
	}

	n, err := s.GCSyncedBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row GC'd, got %d", n)
	}
}

func TestReplaceMonitoredDomains(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	entries := []DomainRecord{{Domain: "api.openai.com", Platform: "chatgpt"}}
	if err := s.ReplaceMonitoredDomains(ctx, entries); err != nil {
		t.Fatal(err)
	}
	got, err := s.MonitoredDomains(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Domain != "api.openai.com" {
		t.Fatalf("got %+v", got)
	}

	if err := s.ReplaceMonitoredDomains(ctx, []DomainRecord{{Domain: "claude.ai", Platform: "claude", IsBlocked: true}}); err != nil {
		t.Fatal(err)
	}
	got, err = s.MonitoredDomains(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Domain != "claude.ai" || !got[0].IsBlocked {
		t.Fatalf("expected atomic replace, got %+v", got)
	}
}
