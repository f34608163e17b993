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

package queue

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/apiclient"
	"github.com/ouattaraab/Icon/internal/metrics"
)

const (
	defaultSyncInterval = 30 * time.Second
	defaultBatchSize    = 100
	defaultRetention    = 7 * 24 * time.Hour
)

// Store is the persistence boundary the Drainer reads/writes through;
// internal/store.Store implements it.
type Store interface {
	Enqueue(ctx context.Context, ev Event) (int64, error)
	PendingBatch(ctx context.Context, limit int) ([]Event, error)
	MarkSynced(ctx context.Context, ids []int64) error
	GCSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Uploader is the subset of apiclient.Client the drain loop needs.
type Uploader interface {
	SendEvents(ctx context.Context, machineID string, events []apiclient.EventPayload) error
}

// Drainer owns the background upload and retention passes over Store.
// Enqueue itself is synchronous but never touches the network: the
// producer's write completes as soon as the row is durable locally (spec
// §8 invariant 1).
type Drainer struct {
	store     Store
	uploader  Uploader
	machineID string
	log       *zap.Logger

	syncInterval time.Duration
	batchSize    int
	retention    time.Duration
}

// NewDrainer constructs a Drainer with spec-default intervals; zero
// durations/sizes fall back to those defaults.
func NewDrainer(store Store, uploader Uploader, machineID string, log *zap.Logger) *Drainer {
	return &Drainer{
		store: store, uploader: uploader, machineID: machineID, log: log,
		syncInterval: defaultSyncInterval, batchSize: defaultBatchSize, retention: defaultRetention,
	}
}

// WithIntervals overrides the sync cadence, batch size, and retention
// window with config-derived values; zero values leave the existing
// setting (spec defaults) untouched.
func (d *Drainer) WithIntervals(syncInterval time.Duration, batchSize int, retention time.Duration) *Drainer {
	if syncInterval > 0 {
		d.syncInterval = syncInterval
	}
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	if retention > 0 {
		d.retention = retention
	}
	return d
}

// Enqueue appends ev; callers in the hot path (C6/C7) never await the
// network as a result of this call.
func (d *Drainer) Enqueue(ctx context.Context, ev Event) {
	ev.CreatedAt = time.Now().UTC()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = ev.CreatedAt
	}
	if _, err := d.store.Enqueue(ctx, ev); err != nil {
		d.log.Error("failed to enqueue event", zap.Error(err), zap.String("event_type", string(ev.EventType)))
		return
	}
	metrics.EventsEnqueued.WithLabelValues(targetLabel(ev.EventType)).Inc()
}

func targetLabel(t Type) string {
	switch t {
	case TypePrompt, TypeBlock, TypeAlert, TypeDomainBlock:
		return "prompt"
	case TypeResponse, TypeResponseAlert:
		return "response"
	default:
		return "clipboard"
	}
}

// RunSync drains unsynced rows to the API every syncInterval until ctx is
// cancelled. Upload failures abort the current tick silently; the next
// tick retries the same rows (spec §4.8: no exponential backoff required).
func (d *Drainer) RunSync(ctx context.Context) {
	ticker := time.NewTicker(d.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.syncOnce(ctx)
		}
	}
}

func (d *Drainer) syncOnce(ctx context.Context) {
	batch, err := d.store.PendingBatch(ctx, d.batchSize)
	if err != nil {
		d.log.Warn("failed to read pending event batch", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}

	payloads := make([]apiclient.EventPayload, len(batch))
	ids := make([]int64, len(batch))
	for i, ev := range batch {
		payloads[i] = toPayload(ev)
		ids[i] = ev.ID
	}

	if err := d.uploader.SendEvents(ctx, d.machineID, payloads); err != nil {
		d.log.Warn("event batch upload failed, retrying next tick", zap.Error(err), zap.Int("batch_size", len(batch)))
		return
	}
	if err := d.store.MarkSynced(ctx, ids); err != nil {
		d.log.Error("failed to mark batch synced after successful upload", zap.Error(err))
		return
	}
	metrics.EventsSynced.Add(float64(len(batch)))
}

func toPayload(ev Event) apiclient.EventPayload {
	return apiclient.EventPayload{
		EventType:       string(ev.EventType),
		Platform:        ev.Platform,
		Domain:          ev.Domain,
		ContentHash:     ev.ContentHash,
		PromptExcerpt:   ev.PromptExcerpt,
		ResponseExcerpt: ev.ResponseExcerpt,
		RuleID:          ev.RuleID,
		Severity:        ev.Severity,
		Metadata:        ev.Metadata,
		OccurredAt:      ev.OccurredAt.Format(time.RFC3339),
	}
}

// RunRetention deletes synced rows older than retention, once per day,
// until ctx is cancelled.
func (d *Drainer) RunRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	d.retentionOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.retentionOnce(ctx)
		}
	}
}

func (d *Drainer) retentionOnce(ctx context.Context) {
	n, err := d.store.GCSyncedBefore(ctx, time.Now().Add(-d.retention))
	if err != nil {
		d.log.Warn("retention GC pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		d.log.Info("retention GC removed synced events",
			zap.Int64("rows", n),
			zap.String("rows_human", humanize.Comma(n)))
	}
}
