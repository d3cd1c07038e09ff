package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helsenia/lunasync/internal/models"
	"github.com/helsenia/lunasync/internal/storage"
)

type fakeFetcher struct {
	nameImageCalls atomic.Int64
	lastMsgCalls   atomic.Int64

	nameImage models.NameImage
	nameErr   error

	preview    models.Preview
	previewTS  int64
	previewErr error

	block chan struct{} // when set, NameImage waits on it
}

func (f *fakeFetcher) NameImage(ctx context.Context, chatID string, preview bool) (models.NameImage, error) {
	f.nameImageCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.nameImage, f.nameErr
}

func (f *fakeFetcher) LastMessage(ctx context.Context, chatID string) (models.Preview, int64, error) {
	f.lastMsgCalls.Add(1)
	return f.preview, f.previewTS, f.previewErr
}

func newHydrator(f *fakeFetcher) (*Hydrator, storage.Cache) {
	cache := storage.NewMemoryCache()
	return NewHydrator(f, cache, zap.NewNop()), cache
}

func TestNameImageCachesHit(t *testing.T) {
	f := &fakeFetcher{nameImage: models.NameImage{Name: "Maria", Image: "img"}}
	h, _ := newHydrator(f)
	ctx := context.Background()

	got := h.NameImage(ctx, "a", true)
	assert.Equal(t, "Maria", got.Name)

	got = h.NameImage(ctx, "a", true)
	assert.Equal(t, "Maria", got.Name)
	assert.Equal(t, int64(1), f.nameImageCalls.Load(), "second call must be served from cache")
}

func TestNameImageNegativeCaching(t *testing.T) {
	f := &fakeFetcher{nameErr: errors.New("transport down")}
	h, _ := newHydrator(f)
	ctx := context.Background()

	got := h.NameImage(ctx, "a", true)
	assert.True(t, got.Empty(), "failed lookup yields an empty record, not an error")

	h.NameImage(ctx, "a", true)
	assert.Equal(t, int64(1), f.nameImageCalls.Load(), "the empty record is cached")
}

func TestNameImageSingleFlight(t *testing.T) {
	f := &fakeFetcher{
		nameImage: models.NameImage{Name: "Maria"},
		block:     make(chan struct{}),
	}
	h, _ := newHydrator(f)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]models.NameImage, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = h.NameImage(ctx, "a", true)
		}()
	}

	// Let every caller reach the in-flight fetch, then release it.
	time.Sleep(20 * time.Millisecond)
	close(f.block)
	wg.Wait()

	assert.Equal(t, int64(1), f.nameImageCalls.Load(), "concurrent callers share one fetch")
	for _, r := range results {
		assert.Equal(t, "Maria", r.Name)
	}
}

func TestNameImageDistinctKeysDoNotCollide(t *testing.T) {
	f := &fakeFetcher{nameImage: models.NameImage{Name: "Maria"}}
	h, _ := newHydrator(f)
	ctx := context.Background()

	h.NameImage(ctx, "a", true)
	h.NameImage(ctx, "a", false)
	assert.Equal(t, int64(2), f.nameImageCalls.Load(), "preview variants cache separately")
}

func TestPreviewCachesResult(t *testing.T) {
	f := &fakeFetcher{preview: models.Preview{Text: "oi", FromMe: true}, previewTS: 1700000000}
	h, _ := newHydrator(f)
	ctx := context.Background()

	pv, ts, err := h.Preview(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "oi", pv.Text)
	assert.True(t, pv.FromMe)
	assert.Equal(t, int64(1700000000), ts)

	cached, ok := h.CachedPreview(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, pv, cached)
}

func TestPreviewFallbackText(t *testing.T) {
	f := &fakeFetcher{} // no last message
	h, _ := newHydrator(f)

	pv, _, err := h.Preview(context.Background(), "a", "from the stream record")
	require.NoError(t, err)
	assert.Equal(t, "from the stream record", pv.Text)
}

func TestPreviewErrorDoesNotCache(t *testing.T) {
	f := &fakeFetcher{previewErr: errors.New("boom")}
	h, _ := newHydrator(f)
	ctx := context.Background()

	_, _, err := h.Preview(ctx, "a", "")
	assert.Error(t, err)

	_, ok := h.CachedPreview(ctx, "a")
	assert.False(t, ok)
}
