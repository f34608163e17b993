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

// Package clipboard polls the OS clipboard, deduplicates unchanged
// content, and evaluates it against both the server-delivered rule engine
// and a fixed set of built-in DLP patterns (spec C7). The clipboard is
// never mutated: this is an observe-only path.
package clipboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/queue"
	"github.com/ouattaraab/Icon/internal/rules"
)

const defaultMaxScanLength = 50_000

// Reader abstracts the OS clipboard read so tests can substitute fixed
// content without touching the real clipboard.
type Reader interface {
	ReadAll() (string, error)
}

// osReader wraps github.com/atotto/clipboard, the only cross-platform
// clipboard access library retrieved in the corpus.
type osReader struct{}

func (osReader) ReadAll() (string, error) { return clipboard.ReadAll() }

// Evaluator is the subset of rules.Engine the monitor evaluates against.
type Evaluator interface {
	Evaluate(content string, target rules.Target) rules.EvaluationResult
}

// Enqueuer is the subset of queue.Drainer the monitor appends events to.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev queue.Event)
}

// Notifier optionally surfaces an OS-native notification for an event;
// nil disables notifications.
type Notifier interface {
	Notify(title, message string) error
}

// Monitor polls the clipboard on an interval and drives the combination
// logic between the rule engine and built-in DLP patterns.
type Monitor struct {
	reader        Reader
	evaluator     Evaluator
	queue         Enqueuer
	notifier      Notifier
	log           *zap.Logger
	pollInterval  time.Duration
	maxScanLength int
	patterns      []compiledPattern

	lastHash string
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithPollInterval overrides the default 500ms poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithMaxScanLength overrides the default 50,000-character scan cap.
func WithMaxScanLength(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxScanLength = n
		}
	}
}

// WithNotifier attaches an OS-native notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithReader overrides the clipboard reader, for tests.
func WithReader(r Reader) Option {
	return func(m *Monitor) { m.reader = r }
}

// New constructs a Monitor with spec-default cadence and scan cap.
func New(evaluator Evaluator, enqueuer Enqueuer, log *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		reader:        osReader{},
		evaluator:     evaluator,
		queue:         enqueuer,
		log:           log,
		pollInterval:  500 * time.Millisecond,
		maxScanLength: defaultMaxScanLength,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.patterns = compileBuiltinPatterns(log)
	return m
}

// Run polls the clipboard until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	content, err := m.reader.ReadAll()
	if err != nil {
		m.log.Debug("clipboard read failed", zap.Error(err))
		return
	}
	if content == "" {
		return
	}

	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])
	if hash == m.lastHash {
		return
	}
	m.lastHash = hash

	scanned := content
	if len(scanned) > m.maxScanLength {
		scanned = scanned[:m.maxScanLength]
	}

	ruleResult := m.evaluator.Evaluate(scanned, rules.TargetClipboard)
	dlpMatches := scanBuiltins(m.patterns, scanned)

	ev, ok := combine(ruleResult, dlpMatches, hash)
	if !ok {
		return
	}
	m.queue.Enqueue(ctx, ev)

	if m.notifier != nil {
		if err := m.notifier.Notify("Icon DLP", string(ev.EventType)); err != nil {
			m.log.Debug("clipboard notification failed", zap.Error(err))
		}
	}
}

type clipboardMetadata struct {
	DLPMatches    []DLPMatch `json:"dlp_matches,omitempty"`
	TriggeredRule string     `json:"triggered_rule,omitempty"`
	CorrelationID string     `json:"correlation_id"`
}

// combine applies the spec §4.7 decision table: rule-engine outcome and
// built-in matches jointly decide the emitted event type and severity, or
// that nothing should be emitted at all.
func combine(result rules.EvaluationResult, dlpMatches []DLPMatch, contentHash string) (queue.Event, bool) {
	meta := clipboardMetadata{DLPMatches: dlpMatches, CorrelationID: uuid.NewString()}

	var eventType queue.Type
	var severity string

	switch result.Kind {
	case rules.OutcomeBlocked:
		eventType = queue.TypeClipboardBlock
		severity = "critical"
		meta.TriggeredRule = result.RuleID
	case rules.OutcomeAlerted:
		eventType = queue.TypeClipboardAlert
		severity = string(result.Severity)
		meta.TriggeredRule = result.RuleID
	case rules.OutcomeLogged:
		if len(dlpMatches) > 0 {
			eventType = queue.TypeClipboardAlert
			severity = "warning"
		} else {
			eventType = queue.TypeClipboardLog
			severity = "info"
		}
		meta.TriggeredRule = result.RuleID
	case rules.OutcomeNoMatch:
		if len(dlpMatches) == 0 {
			return queue.Event{}, false
		}
		eventType = queue.TypeClipboardAlert
		severity = "warning"
	default:
		return queue.Event{}, false
	}

	metaMap, err := metadataToMap(meta)
	if err != nil {
		metaMap = nil
	}

	now := time.Now().UTC()
	return queue.Event{
		EventType:   eventType,
		ContentHash: contentHash,
		Severity:    severity,
		Metadata:    metaMap,
		OccurredAt:  now,
		CreatedAt:   now,
	}, true
}

func metadataToMap(meta clipboardMetadata) (map[string]any, error) {
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
