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
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ouattaraab/Icon/internal/apiclient"
)

type fakeStore struct {
	mu      sync.Mutex
	events  []Event
	nextID  int64
	synced  map[int64]bool
	gcCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{synced: map[int64]bool{}}
}

func (f *fakeStore) Enqueue(_ context.Context, ev Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ev.ID = f.nextID
	f.events = append(f.events, ev)
	return ev.ID, nil
}

func (f *fakeStore) PendingBatch(_ context.Context, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if f.synced[ev.ID] {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSynced(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.synced[id] = true
	}
	return nil
}

func (f *fakeStore) GCSyncedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gcCalls++
	var kept []Event
	var removed int64
	for _, ev := range f.events {
		if f.synced[ev.ID] && ev.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	f.events = kept
	return removed, nil
}

type fakeUploader struct {
	mu       sync.Mutex
	batches  [][]apiclient.EventPayload
	failNext bool
}

func (f *fakeUploader) SendEvents(_ context.Context, _ string, events []apiclient.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated upload failure")
	}
	f.batches = append(f.batches, events)
	return nil
}

func TestSyncOnceUploadsAndMarksSynced(t *testing.T) {
	store := newFakeStore()
	uploader := &fakeUploader{}
	d := NewDrainer(store, uploader, "machine-1", zaptest.NewLogger(t))
	ctx := context.Background()

	d.Enqueue(ctx, Event{EventType: TypePrompt, Platform: "chatgpt", PromptExcerpt: "hi"})
	d.Enqueue(ctx, Event{EventType: TypeBlock, Platform: "claude"})

	d.syncOnce(ctx)

	if len(uploader.batches) != 1 || len(uploader.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", uploader.batches)
	}
	remaining, _ := store.PendingBatch(ctx, 10)
	if len(remaining) != 0 {
		t.Fatalf("expected all events marked synced, got %d remaining", len(remaining))
	}
}

func TestSyncOnceLeavesBatchPendingOnUploadFailure(t *testing.T) {
	store := newFakeStore()
	uploader := &fakeUploader{failNext: true}
	d := NewDrainer(store, uploader, "machine-1", zaptest.NewLogger(t))
	ctx := context.Background()

	d.Enqueue(ctx, Event{EventType: TypePrompt, Platform: "chatgpt"})
	d.syncOnce(ctx)

	remaining, _ := store.PendingBatch(ctx, 10)
	if len(remaining) != 1 {
		t.Fatalf("expected event to remain pending after failed upload, got %d", len(remaining))
	}
}

func TestSyncOnceNoPendingEventsIsNoop(t *testing.T) {
	store := newFakeStore()
	uploader := &fakeUploader{}
	d := NewDrainer(store, uploader, "machine-1", zaptest.NewLogger(t))
	d.syncOnce(context.Background())
	if len(uploader.batches) != 0 {
		t.Fatalf("expected no upload calls, got %+v", uploader.batches)
	}
}

func TestRetentionOnceRemovesOldSyncedRows(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	old := Event{EventType: TypeBlock, CreatedAt: time.Now().Add(-48 * time.Hour)}
	id, _ := store.Enqueue(ctx, old)
	_ = store.MarkSynced(ctx, []int64{id})

	recent := Event{EventType: TypePrompt, CreatedAt: time.Now()}
	recentID, _ := store.Enqueue(ctx, recent)
	_ = store.MarkSynced(ctx, []int64{recentID})

	d := NewDrainer(store, &fakeUploader{}, "machine-1", zaptest.NewLogger(t))
	d.retention = 24 * time.Hour
	d.retentionOnce(ctx)

	if len(store.events) != 1 || store.events[0].ID != recentID {
		t.Fatalf("expected only recent event retained, got %+v", store.events)
	}
}

func TestTargetLabel(t *testing.T) {
	cases := map[Type]string{
		TypePrompt:         "prompt",
		TypeBlock:          "prompt",
		TypeDomainBlock:    "prompt",
		TypeAlert:          "prompt",
		TypeResponse:       "response",
		TypeResponseAlert:  "response",
		TypeClipboardLog:   "clipboard",
		TypeClipboardAlert: "clipboard",
		TypeClipboardBlock: "clipboard",
	}
	for typ, want := range cases {
		if got := targetLabel(typ); got != want {
			t.Errorf("targetLabel(%s) = %q, want %q", typ, got, want)
		}
	}
}
