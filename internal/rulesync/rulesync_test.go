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

package rulesync

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ouattaraab/Icon/internal/apiclient"
	"github.com/ouattaraab/Icon/internal/rules"
)

type fakePuller struct {
	resp *apiclient.RuleSyncResponse
	err  error
	gotV uint64
}

func (f *fakePuller) SyncRules(_ context.Context, since uint64) (*apiclient.RuleSyncResponse, error) {
	f.gotV = since
	return f.resp, f.err
}

type fakeEngine struct {
	updated []rules.Rule
	deleted []string
	version uint64
}

func (f *fakeEngine) Update(_ context.Context, rs []rules.Rule) error {
	f.updated = append(f.updated, rs...)
	return nil
}

func (f *fakeEngine) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) LatestVersion() uint64 { return f.version }

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPollAppliesUpsertsAndDeletes(t *testing.T) {
	puller := &fakePuller{
		resp: &apiclient.RuleSyncResponse{
			Rules: []apiclient.RuleDocument{{
				ID: "r1", Name: "test", Version: 6, Category: "block", Target: "prompt",
				Cond: rawJSON(t, rules.Condition{Type: rules.ConditionKeyword, Keywords: []string{"x"}}),
				Act:  rawJSON(t, rules.Action{Type: rules.ActionBlock, Message: "no"}),
				Priority: 5, Enabled: true,
			}},
			DeletedIDs: []string{"old"},
		},
	}
	engine := &fakeEngine{version: 5}
	s := New(puller, engine, zaptest.NewLogger(t))

	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if puller.gotV != 5 {
		t.Fatalf("expected poll to use latest local version, got %d", puller.gotV)
	}
	if len(engine.updated) != 1 || engine.updated[0].ID != "r1" {
		t.Fatalf("got %+v", engine.updated)
	}
	if len(engine.deleted) != 1 || engine.deleted[0] != "old" {
		t.Fatalf("got %+v", engine.deleted)
	}
}

func TestPollSkipsMalformedRule(t *testing.T) {
	puller := &fakePuller{
		resp: &apiclient.RuleSyncResponse{
			Rules: []apiclient.RuleDocument{{ID: "bad", Cond: json.RawMessage(`not-json`)}},
		},
	}
	engine := &fakeEngine{}
	s := New(puller, engine, zaptest.NewLogger(t))
	if err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(engine.updated) != 0 {
		t.Fatalf("expected malformed rule skipped, got %+v", engine.updated)
	}
}

func TestHandleRuleChangedCreatedUpsertsRule(t *testing.T) {
	engine := &fakeEngine{}
	s := New(&fakePuller{}, engine, zaptest.NewLogger(t))

	doc := apiclient.RuleDocument{
		ID: "r2", Category: "alert", Target: "response",
		Cond: rawJSON(t, rules.Condition{Type: rules.ConditionKeyword, Keywords: []string{"y"}}),
		Act:  rawJSON(t, rules.Action{Type: rules.ActionAlert, Severity: rules.SeverityWarning}),
		Enabled: true,
	}
	data, _ := json.Marshal(ruleChangedData{Action: "created", Rule: &doc})
	s.handleRuleChanged(context.Background(), string(data))

	if len(engine.updated) != 1 || engine.updated[0].ID != "r2" {
		t.Fatalf("got %+v", engine.updated)
	}
}

func TestHandleRuleChangedDeletedByRuleID(t *testing.T) {
	engine := &fakeEngine{}
	s := New(&fakePuller{}, engine, zaptest.NewLogger(t))

	data, _ := json.Marshal(ruleChangedData{Action: "deleted", RuleID: "r3"})
	s.handleRuleChanged(context.Background(), string(data))

	if len(engine.deleted) != 1 || engine.deleted[0] != "r3" {
		t.Fatalf("got %+v", engine.deleted)
	}
}

func TestHandleRuleDeleted(t *testing.T) {
	engine := &fakeEngine{}
	s := New(&fakePuller{}, engine, zaptest.NewLogger(t))

	data, _ := json.Marshal(ruleDeletedData{RuleID: "r4"})
	s.handleRuleDeleted(context.Background(), string(data))

	if len(engine.deleted) != 1 || engine.deleted[0] != "r4" {
		t.Fatalf("got %+v", engine.deleted)
	}
}

func TestBuildDialURLAddsPusherQueryParams(t *testing.T) {
	u, err := buildDialURL(PushConfig{URL: "wss://example.com/app", AppKey: "key-1"})
	if err != nil {
		t.Fatal(err)
	}
	if u != "wss://example.com/app?app_key=key-1&client=icon-agent&protocol=7&version=1.0" {
		t.Fatalf("got %s", u)
	}
}
