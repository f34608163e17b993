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

package heartbeat

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ouattaraab/Icon/internal/apiclient"
)

type fakePulser struct {
	resp *apiclient.HeartbeatResponse
	err  error
}

func (f fakePulser) Heartbeat(context.Context) (*apiclient.HeartbeatResponse, error) {
	return f.resp, f.err
}

type fakeRuleForcer struct{ calls int }

func (f *fakeRuleForcer) Poll(context.Context) error { f.calls++; return nil }

type fakeUpdateNotifier struct{ versions []string }

func (f *fakeUpdateNotifier) Notify(_ context.Context, version string) {
	f.versions = append(f.versions, version)
}

func TestBeatOnceForcesRuleSyncWhenRequested(t *testing.T) {
	rules := &fakeRuleForcer{}
	updates := &fakeUpdateNotifier{}
	l := New(fakePulser{resp: &apiclient.HeartbeatResponse{ForceSyncRules: true}}, rules, updates, zaptest.NewLogger(t))

	l.beatOnce(context.Background())

	if rules.calls != 1 {
		t.Fatalf("expected one forced poll, got %d", rules.calls)
	}
	if len(updates.versions) != 0 {
		t.Fatalf("expected no update notification, got %+v", updates.versions)
	}
}

func TestBeatOnceNotifiesUpdateOncePerVersion(t *testing.T) {
	rules := &fakeRuleForcer{}
	updates := &fakeUpdateNotifier{}
	pulser := fakePulser{resp: &apiclient.HeartbeatResponse{UpdateAvailable: "1.2.0"}}
	l := New(pulser, rules, updates, zaptest.NewLogger(t))

	l.beatOnce(context.Background())
	l.beatOnce(context.Background())

	if len(updates.versions) != 1 || updates.versions[0] != "1.2.0" {
		t.Fatalf("expected a single dedup'd notification, got %+v", updates.versions)
	}
}

func TestBeatOnceNotifiesAgainOnNewVersion(t *testing.T) {
	rules := &fakeRuleForcer{}
	updates := &fakeUpdateNotifier{}
	l := New(fakePulser{resp: &apiclient.HeartbeatResponse{UpdateAvailable: "1.2.0"}}, rules, updates, zaptest.NewLogger(t))
	l.beatOnce(context.Background())

	l.pulser = fakePulser{resp: &apiclient.HeartbeatResponse{UpdateAvailable: "1.3.0"}}
	l.beatOnce(context.Background())

	if len(updates.versions) != 2 {
		t.Fatalf("expected two distinct notifications, got %+v", updates.versions)
	}
}

func TestBeatOnceSurvivesPulserError(t *testing.T) {
	rules := &fakeRuleForcer{}
	updates := &fakeUpdateNotifier{}
	l := New(fakePulser{err: context.DeadlineExceeded}, rules, updates, zaptest.NewLogger(t))

	l.beatOnce(context.Background())

	if rules.calls != 0 || len(updates.versions) != 0 {
		t.Fatalf("expected no side effects on error")
	}
}

func TestWithIntervalOverride(t *testing.T) {
	l := New(fakePulser{}, &fakeRuleForcer{}, &fakeUpdateNotifier{}, zaptest.NewLogger(t)).WithInterval(5 * time.Second)
	if l.interval != 5*time.Second {
		t.Fatalf("got %v", l.interval)
	}
}
