package enrich

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/helsenia/lunasync/internal/models"
	"github.com/helsenia/lunasync/internal/storage"
)

// Fetcher is the slice of the backend API used for enrichment.
type Fetcher interface {
	NameImage(ctx context.Context, chatID string, preview bool) (models.NameImage, error)
	LastMessage(ctx context.Context, chatID string) (models.Preview, int64, error)
}

// Hydrator resolves names, avatars and message previews through the TTL
// cache, collapsing concurrent lookups for the same key into one fetch.
type Hydrator struct {
	fetcher Fetcher
	cache   storage.Cache
	flight  singleflight.Group
	logger  *zap.Logger
}

func NewHydrator(fetcher Fetcher, cache storage.Cache, logger *zap.Logger) *Hydrator {
	return &Hydrator{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}
}

func nameImageKey(chatID string, preview bool) string {
	p := 0
	if preview {
		p = 1
	}
	return fmt.Sprintf("ni:%s:%d", chatID, p)
}

func previewKey(chatID string) string {
	return "pv:" + chatID
}

// NameImage returns the cached name/avatar for a chat, fetching on a miss.
// It never fails: a fetch error yields an empty record, cached with the
// short TTL so the next session retries soon.
func (h *Hydrator) NameImage(ctx context.Context, chatID string, preview bool) models.NameImage {
	key := nameImageKey(chatID, preview)

	if data, ok := h.cache.Get(ctx, key); ok {
		var cached models.NameImage
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached
		}
	}

	v, _, _ := h.flight.Do(key, func() (any, error) {
		resp, err := h.fetcher.NameImage(ctx, chatID, preview)
		if err != nil {
			h.logger.Debug("Name/image lookup failed",
				zap.Error(err),
				zap.String("chatid", chatID))
			h.store(ctx, key, models.NameImage{}, storage.TTLNameImageMiss)
			return models.NameImage{}, nil
		}
		ttl := storage.TTLNameImageHit
		if resp.Empty() {
			ttl = storage.TTLNameImageMiss
		}
		h.store(ctx, key, resp, ttl)
		return resp, nil
	})
	return v.(models.NameImage)
}

// CachedPreview returns the preview from the TTL cache only, without going
// to the network. Used to paint something immediately while the fresh fetch
// runs in the background.
func (h *Hydrator) CachedPreview(ctx context.Context, chatID string) (models.Preview, bool) {
	data, ok := h.cache.Get(ctx, previewKey(chatID))
	if !ok {
		return models.Preview{}, false
	}
	var pv models.Preview
	if err := json.Unmarshal(data, &pv); err != nil {
		return models.Preview{}, false
	}
	return pv, true
}

// Preview fetches the latest message of a chat and caches the result. The
// fallback text covers chats whose stream record already carried a last
// message but whose message fetch came back empty. The returned timestamp
// is the raw message timestamp (zero when unknown).
func (h *Hydrator) Preview(ctx context.Context, chatID, fallback string) (models.Preview, int64, error) {
	pv, ts, err := h.fetcher.LastMessage(ctx, chatID)
	if err != nil {
		return models.Preview{}, 0, err
	}
	if pv.Text == "" {
		pv.Text = fallback
	}
	h.store(ctx, previewKey(chatID), pv, storage.TTLPreview)
	return pv, ts, nil
}

// store marshals and writes a cache entry; cache writes are best-effort so
// an encode failure is only logged.
func (h *Hydrator) store(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to encode cache entry",
			zap.Error(err),
			zap.String("key", key))
		return
	}
	h.cache.Set(ctx, key, data, ttl)
}
