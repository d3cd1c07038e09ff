package stage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helsenia/lunasync/internal/async"
)

const (
	// FlushSize is the hard cap: the pending set is flushed as soon as it
	// holds this many distinct identifiers.
	FlushSize = 12
	// QuietPeriod is how long the batcher waits for more identifiers before
	// flushing a smaller batch.
	QuietPeriod = 250 * time.Millisecond
	// FallbackLimit bounds the per-item lookups that cover bulk misses.
	FallbackLimit = 6
)

// Result is one identifier/label pair from a classification endpoint. Stage
// is the raw label; normalization happens when it is recorded.
type Result struct {
	ChatID string
	Stage  string
}

// Client is the slice of the backend API the batcher needs.
type Client interface {
	LeadStatusBulk(ctx context.Context, chatIDs []string) ([]Result, error)
	LeadStatusSingle(ctx context.Context, chatID string) (string, error)
}

// Batcher buffers chat identifiers that need a stage lookup and resolves
// them in bulk, with bounded per-item fallback for anything the bulk
// endpoint does not cover.
type Batcher struct {
	store  *Store
	client Client
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	onFlush func()
}

func NewBatcher(store *Store, client Client, logger *zap.Logger) *Batcher {
	return &Batcher{
		store:   store,
		client:  client,
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

// OnFlush registers a callback invoked after every flush that may have
// changed stage data (counters, active-tab refresh).
func (b *Batcher) OnFlush(fn func()) {
	b.mu.Lock()
	b.onFlush = fn
	b.mu.Unlock()
}

// QueueLookup schedules a stage lookup for the chat. It is a no-op for
// chats that already have an assignment this session. The batch flushes at
// FlushSize identifiers, or after QuietPeriod without a new addition.
func (b *Batcher) QueueLookup(ctx context.Context, chatID string) {
	if chatID == "" || b.store.Has(chatID) {
		return
	}

	b.mu.Lock()
	b.pending[chatID] = struct{}{}
	if len(b.pending) >= FlushSize {
		b.mu.Unlock()
		go b.Flush(ctx)
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(QuietPeriod, func() { b.Flush(ctx) })
	b.mu.Unlock()
}

// Flush snapshots and clears the pending set, resolves it in bulk, then
// covers misses (or a total bulk failure) with bounded per-item lookups.
// Safe to call with an empty set.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.pending = make(map[string]struct{})
	notify := b.onFlush
	b.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	results, err := b.client.LeadStatusBulk(ctx, ids)
	if err != nil {
		b.logger.Warn("Bulk stage lookup failed, falling back to per-item",
			zap.Error(err),
			zap.Int("batch_size", len(ids)))
		b.lookupEach(ctx, ids)
	} else {
		seen := make(map[string]struct{}, len(results))
		for _, rec := range results {
			if rec.ChatID == "" || rec.Stage == "" {
				continue
			}
			b.store.Set(rec.ChatID, rec.Stage)
			seen[rec.ChatID] = struct{}{}
		}

		var misses []string
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				misses = append(misses, id)
			}
		}
		b.lookupEach(ctx, misses)
	}

	if notify != nil {
		notify()
	}
}

func (b *Batcher) lookupEach(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	tasks := make([]async.Task[struct{}], len(ids))
	for i, id := range ids {
		id := id
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			raw, err := b.client.LeadStatusSingle(ctx, id)
			if err != nil {
				b.logger.Debug("Single stage lookup failed",
					zap.Error(err),
					zap.String("chatid", id))
				return struct{}{}, err
			}
			if raw != "" {
				b.store.Set(id, raw)
			}
			return struct{}{}, nil
		}
	}
	async.RunLimited(ctx, tasks, FallbackLimit)
}
