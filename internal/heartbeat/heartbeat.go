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

// Package heartbeat periodically phones home to the control plane and
// acts on the server-requested side effects it reports back: an
// out-of-band rule sync, or notice of an available agent update (spec
// C10/C12 ambient loop).
package heartbeat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/apiclient"
)

const defaultInterval = 60 * time.Second

// Pulser is the subset of apiclient.Client the heartbeat loop needs.
type Pulser interface {
	Heartbeat(ctx context.Context) (*apiclient.HeartbeatResponse, error)
}

// RuleForcer is invoked when the server reports force_sync_rules.
type RuleForcer interface {
	Poll(ctx context.Context) error
}

// UpdateNotifier is invoked when the server reports a new update_available
// version, at most once per version.
type UpdateNotifier interface {
	Notify(ctx context.Context, version string)
}

// Loop owns the heartbeat ticker and the set of update versions it has
// already surfaced, so later heartbeats reporting any of those versions
// don't re-notify (spec: update check dedup).
type Loop struct {
	pulser   Pulser
	rules    RuleForcer
	updates  UpdateNotifier
	log      *zap.Logger
	interval time.Duration

	notifiedVersions map[string]bool
}

// New constructs a Loop with the spec-default 60-second cadence.
func New(pulser Pulser, rules RuleForcer, updates UpdateNotifier, log *zap.Logger) *Loop {
	return &Loop{pulser: pulser, rules: rules, updates: updates, log: log, interval: defaultInterval}
}

// WithInterval overrides the heartbeat cadence from config.
func (l *Loop) WithInterval(d time.Duration) *Loop {
	if d > 0 {
		l.interval = d
	}
	return l
}

// Run beats on l.interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.beatOnce(ctx)
		}
	}
}

func (l *Loop) beatOnce(ctx context.Context) {
	resp, err := l.pulser.Heartbeat(ctx)
	if err != nil {
		l.log.Warn("heartbeat failed", zap.Error(err))
		return
	}

	if resp.ForceSyncRules {
		l.log.Info("heartbeat requested out-of-band rule sync")
		if err := l.rules.Poll(ctx); err != nil {
			l.log.Warn("forced rule sync failed", zap.Error(err))
		}
	}

	if resp.UpdateAvailable != "" && !l.notifiedVersions[resp.UpdateAvailable] {
		if l.notifiedVersions == nil {
			l.notifiedVersions = make(map[string]bool)
		}
		l.notifiedVersions[resp.UpdateAvailable] = true
		l.updates.Notify(ctx, resp.UpdateAvailable)
	}
}
