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

// Package rulesync keeps the local rule cache converged with the control
// plane through two independent, authoritative feeds: a poll-by-version
// pull and a persistent Pusher-protocol push channel (spec C9).
package rulesync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/apiclient"
	"github.com/ouattaraab/Icon/internal/metrics"
	"github.com/ouattaraab/Icon/internal/rules"
)

// Puller is the subset of apiclient.Client the poll feed needs.
type Puller interface {
	SyncRules(ctx context.Context, sinceVersion uint64) (*apiclient.RuleSyncResponse, error)
}

// Engine is the subset of rules.Engine the sync feeds mutate.
type Engine interface {
	Update(ctx context.Context, rs []rules.Rule) error
	Delete(ctx context.Context, id string) error
	LatestVersion() uint64
}

// Syncer owns both feeds over a shared Engine.
type Syncer struct {
	puller Puller
	engine Engine
	log    *zap.Logger
}

// New constructs a Syncer.
func New(puller Puller, engine Engine, log *zap.Logger) *Syncer {
	return &Syncer{puller: puller, engine: engine, log: log}
}

// Poll calls /api/rules/sync?version=<latest_local>, applies every
// returned upsert and delete, and refreshes the C5 cache. Safe to call on
// startup and whenever the heartbeat response requests force_sync_rules.
func (s *Syncer) Poll(ctx context.Context) error {
	since := s.engine.LatestVersion()
	resp, err := s.puller.SyncRules(ctx, since)
	if err != nil {
		return fmt.Errorf("rulesync: poll: %w", err)
	}

	if len(resp.Rules) > 0 {
		rs := make([]rules.Rule, 0, len(resp.Rules))
		for _, doc := range resp.Rules {
			r, err := fromDocument(doc)
			if err != nil {
				s.log.Warn("skipping malformed synced rule", zap.String("rule_id", doc.ID), zap.Error(err))
				continue
			}
			rs = append(rs, r)
		}
		if err := s.engine.Update(ctx, rs); err != nil {
			return fmt.Errorf("rulesync: apply upserts: %w", err)
		}
	}

	for _, id := range resp.DeletedIDs {
		if err := s.engine.Delete(ctx, id); err != nil {
			return fmt.Errorf("rulesync: apply delete %s: %w", id, err)
		}
	}

	metrics.RuleSyncVersion.Set(float64(s.engine.LatestVersion()))
	s.log.Info("rule poll converged",
		zap.Uint64("since_version", since),
		zap.Int("upserts", len(resp.Rules)),
		zap.Int("deletes", len(resp.DeletedIDs)))
	return nil
}

func fromDocument(doc apiclient.RuleDocument) (rules.Rule, error) {
	var cond rules.Condition
	if err := json.Unmarshal(doc.Cond, &cond); err != nil {
		return rules.Rule{}, fmt.Errorf("decode condition: %w", err)
	}
	var act rules.Action
	if err := json.Unmarshal(doc.Act, &act); err != nil {
		return rules.Rule{}, fmt.Errorf("decode action: %w", err)
	}
	return rules.Rule{
		ID:       doc.ID,
		Name:     doc.Name,
		Version:  doc.Version,
		Category: rules.Category(doc.Category),
		Target:   rules.Target(doc.Target),
		Cond:     cond,
		Act:      act,
		Priority: doc.Priority,
		Enabled:  doc.Enabled,
	}, nil
}
