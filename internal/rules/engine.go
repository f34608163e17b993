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

package rules

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Store is the persistence boundary the engine rebuilds its cache from.
// internal/store implements this against the local encrypted database.
type Store interface {
	AllEnabledRules(ctx context.Context) ([]Rule, error)
	UpsertRule(ctx context.Context, r Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// Engine is the in-memory rule evaluator described in spec §4.5. State is
// an immutable snapshot: writers rebuild the whole sorted slice and swap
// it in under the write lock, and readers hold the read lock only long
// enough to load the current slice, then evaluate without it. This is
// the copy-on-write variant spec §9 explicitly allows.
type Engine struct {
	store Store
	log   *zap.Logger

	mu    sync.RWMutex
	rules []Rule // sorted by (priority desc, id asc), enabled-only is NOT pre-filtered so toggles don't require a reload
}

func NewEngine(store Store, log *zap.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Load reads the full rule set from the store and installs it as the
// current snapshot.
func (e *Engine) Load(ctx context.Context) error {
	all, err := e.store.AllEnabledRules(ctx)
	if err != nil {
		return err
	}
	sortRules(all)

	e.mu.Lock()
	e.rules = all
	e.mu.Unlock()

	e.log.Info("rules loaded into cache", zap.Int("count", len(all)))
	return nil
}

func sortRules(rs []Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority > rs[j].Priority
		}
		return rs[i].ID < rs[j].ID
	})
}

// Update upserts rules into the store and refreshes the cache
// transactionally: rules are only visible to Evaluate once every row in
// the batch has been persisted.
func (e *Engine) Update(ctx context.Context, rs []Rule) error {
	for _, r := range rs {
		if err := ValidateCondition(r.Cond); err != nil {
			e.log.Warn("rejecting rule with invalid condition", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		if err := e.store.UpsertRule(ctx, r); err != nil {
			return err
		}
	}
	return e.Load(ctx)
}

// Delete removes a rule by id and refreshes the cache.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	return e.Load(ctx)
}

// LatestVersion returns the highest rule version currently cached, used
// as the cursor for incremental sync (spec §4.9).
func (e *Engine) LatestVersion() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var max uint64
	for _, r := range e.rules {
		if r.Version > max {
			max = r.Version
		}
	}
	return max
}

// Evaluate returns the outcome of the first enabled rule, in
// (priority desc, id asc) order, whose target matches and whose
// condition matches content. NoMatch iff no such rule exists
// (spec §8 invariant 2).
func (e *Engine) Evaluate(content string, target Target) EvaluationResult {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if !r.Enabled || r.Target != target {
			continue
		}
		if !Matches(content, r.Cond, e.log) {
			continue
		}

		switch r.Act.Type {
		case ActionBlock:
			return Blocked(r.ID, r.Name, r.Act.Message)
		case ActionAlert:
			return Alerted(r.ID, r.Name, r.Act.Severity)
		case ActionLog:
			return Logged(r.ID)
		default:
			return Logged(r.ID)
		}
	}
	return NoMatch
}
