package chatlist

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/helsenia/lunasync/internal/async"
	"github.com/helsenia/lunasync/internal/enrich"
	"github.com/helsenia/lunasync/internal/models"
	"github.com/helsenia/lunasync/internal/stage"
	"github.com/helsenia/lunasync/internal/stream"
)

const (
	previewMaxRunes = 90
	crmSyncLimit    = 1000
)

// Stream records have gone through several field namings; these are the
// accepted aliases, in priority order.
var (
	recordIDAliases    = []string{"wa_chatid", "chatid", "wa_fastid", "wa_id"}
	recordTSAliases    = []string{"wa_lastMsgTimestamp", "messageTimestamp", "updatedAt"}
	recordStageAliases = []string{"_stage", "stage", "status"}
	recordNameAliases  = []string{"wa_contactName", "name"}
)

// Backend is the slice of the API client the engine drives directly.
type Backend interface {
	ChatStream(ctx context.Context) (io.ReadCloser, error)
	CRMSync(ctx context.Context, limit int)
}

// Listener receives plain-data updates for rendering. Implementations must
// not call back into the engine from these methods.
type Listener interface {
	ChatUpserted(chat models.ChatRecord)
	ChatHydrated(h models.Hydration)
	ListReordered(chatIDs []string)
	StageCountsChanged(counts map[stage.Stage]int)
	StreamFailed(err error)
}

// NopListener discards every update.
type NopListener struct{}

func (NopListener) ChatUpserted(models.ChatRecord)         {}
func (NopListener) ChatHydrated(models.Hydration)          {}
func (NopListener) ListReordered([]string)                 {}
func (NopListener) StageCountsChanged(map[stage.Stage]int) {}
func (NopListener) StreamFailed(error)                     {}

// Engine ingests the chat stream and keeps the local view in sync: recency
// order, stage assignments and background enrichment. One engine is one
// session; Reset starts over.
type Engine struct {
	backend  Backend
	batcher  *stage.Batcher
	stages   *stage.Store
	hydrator *enrich.Hydrator
	queue    *async.Queue
	tracker  *Tracker
	listener Listener
	logger   *zap.Logger

	// reqID is the request generation counter. Every closure that mutates
	// view state captures the generation it was created under and checks it
	// against the current value first, so a superseded load goes inert
	// without hard cancellation.
	reqID atomic.Int64

	mu       sync.Mutex
	loading  bool
	chats    []models.ChatRecord
	index    map[string]int
	names    map[string]models.NameImage
	previews map[string]models.Preview
}

func NewEngine(backend Backend, batcher *stage.Batcher, stages *stage.Store,
	hydrator *enrich.Hydrator, queue *async.Queue, listener Listener, logger *zap.Logger) *Engine {
	if listener == nil {
		listener = NopListener{}
	}
	e := &Engine{
		backend:  backend,
		batcher:  batcher,
		stages:   stages,
		hydrator: hydrator,
		queue:    queue,
		listener: listener,
		logger:   logger,
		index:    make(map[string]int),
		names:    make(map[string]models.NameImage),
		previews: make(map[string]models.Preview),
	}
	e.tracker = NewTracker(e.reorder)
	batcher.OnFlush(e.notifyStageCounts)
	return e
}

// Tracker exposes the recency index, mainly for callers that want to feed
// activity from sources other than the stream (e.g. incoming messages).
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// LoadChats opens the stream and ingests it to completion. The chat set is
// replaced wholesale; stage assignments and recency survive across loads
// within the session. Concurrent calls are collapsed: a load that finds
// another one running returns immediately.
func (e *Engine) LoadChats(ctx context.Context) error {
	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return nil
	}
	e.loading = true
	e.mu.Unlock()

	gen := e.reqID.Add(1)
	session := uuid.New().String()
	defer func() {
		if gen == e.reqID.Load() {
			e.mu.Lock()
			e.loading = false
			e.mu.Unlock()
		}
	}()

	e.logger.Info("Loading chat list",
		zap.String("session", session))

	body, err := e.backend.ChatStream(ctx)
	if err != nil {
		e.listener.StreamFailed(err)
		return fmt.Errorf("failed to open chat stream: %w", err)
	}
	defer body.Close()

	if gen != e.reqID.Load() {
		return nil
	}

	e.mu.Lock()
	e.chats = nil
	e.index = make(map[string]int)
	e.mu.Unlock()

	reader := stream.NewReader(body, e.logger)
	count := 0
	for {
		raw, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if gen == e.reqID.Load() {
				e.listener.StreamFailed(err)
			}
			return fmt.Errorf("chat stream aborted: %w", err)
		}
		if gen != e.reqID.Load() {
			// Superseded mid-load; the transport keeps streaming but this
			// session must stop touching shared state.
			return nil
		}
		e.ingest(ctx, gen, raw)
		count++
	}

	e.batcher.Flush(ctx)
	e.backend.CRMSync(ctx, crmSyncLimit)

	e.logger.Info("Chat list loaded",
		zap.String("session", session),
		zap.Int("chats", count))
	return nil
}

func (e *Engine) ingest(ctx context.Context, gen int64, raw json.RawMessage) {
	root := gjson.ParseBytes(raw)
	if root.Get("error").Exists() {
		return
	}

	chat, stageHint := parseRecord(root)

	e.mu.Lock()
	if idx, ok := e.index[chat.ID]; ok && chat.ID != "" {
		e.chats[idx] = chat
	} else {
		e.chats = append(e.chats, chat)
		if chat.ID != "" {
			e.index[chat.ID] = len(e.chats) - 1
		}
	}
	e.mu.Unlock()

	e.listener.ChatUpserted(chat)
	e.tracker.UpdateActivity(chat.ID, chat.LastActivity)

	if chat.ID == "" {
		return
	}

	if stageHint != "" {
		e.stages.Set(chat.ID, stageHint)
		e.notifyStageCounts()
	}

	e.batcher.QueueLookup(ctx, chat.ID)
	e.queue.Push(e.enrichJob(gen, chat))
}

func parseRecord(root gjson.Result) (models.ChatRecord, string) {
	id := firstString(root, recordIDAliases)
	rawTS := firstInt(root, recordTSAliases)
	return models.ChatRecord{
		ID:           id,
		Name:         firstString(root, recordNameAliases),
		Preview:      models.TruncatePreview(root.Get("wa_lastMessageText").String(), previewMaxRunes),
		LastActivity: NormalizeMillis(rawTS),
		Unread:       int(root.Get("wa_unreadCount").Int()),
	}, firstString(root, recordStageAliases)
}

func firstString(root gjson.Result, aliases []string) string {
	for _, a := range aliases {
		if v := root.Get(a); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstInt(root gjson.Result, aliases []string) int64 {
	for _, a := range aliases {
		if v := root.Get(a); v.Exists() && v.Int() != 0 {
			return v.Int()
		}
	}
	return 0
}

// enrichJob hydrates one chat's name, avatar and preview off the critical
// path. Failures leave the display fallbacks in place.
func (e *Engine) enrichJob(gen int64, chat models.ChatRecord) func(ctx context.Context) error {
	id := chat.ID
	return func(ctx context.Context) error {
		if gen != e.reqID.Load() {
			return nil
		}

		if _, ok := e.nameOf(id); !ok {
			ni := e.hydrator.NameImage(ctx, id, true)
			if gen != e.reqID.Load() {
				return nil
			}
			e.setName(id, ni)
			e.emitHydration(id)
		}

		// Paint the cached preview immediately; the fresh fetch follows.
		if _, ok := e.previewOf(id); !ok {
			if pv, ok := e.hydrator.CachedPreview(ctx, id); ok && gen == e.reqID.Load() {
				e.setPreview(id, pv)
				e.emitHydration(id)
			}
		}

		pv, ts, err := e.hydrator.Preview(ctx, id, chat.Preview)
		if err != nil {
			// Recency still advances from the stream record itself.
			e.tracker.UpdateActivity(id, chat.LastActivity)
			return fmt.Errorf("preview fetch for %s: %w", id, err)
		}
		if gen != e.reqID.Load() {
			return nil
		}
		e.setPreview(id, pv)
		if ts > 0 {
			e.tracker.UpdateActivity(id, ts)
		}
		e.emitHydration(id)
		return nil
	}
}

func (e *Engine) nameOf(id string) (models.NameImage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ni, ok := e.names[id]
	return ni, ok
}

func (e *Engine) setName(id string, ni models.NameImage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names[id] = ni
	if idx, ok := e.index[id]; ok && ni.Name != "" {
		e.chats[idx].Name = ni.Name
	}
}

func (e *Engine) previewOf(id string) (models.Preview, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pv, ok := e.previews[id]
	return pv, ok
}

func (e *Engine) setPreview(id string, pv models.Preview) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.previews[id] = pv
	if idx, ok := e.index[id]; ok {
		e.chats[idx].Preview = models.TruncatePreview(pv.Text, previewMaxRunes)
		e.chats[idx].PreviewFromMe = pv.FromMe
	}
}

func (e *Engine) emitHydration(id string) {
	e.mu.Lock()
	ni := e.names[id]
	pv, hasPV := e.previews[id]
	var recordName string
	if idx, ok := e.index[id]; ok {
		recordName = e.chats[idx].Name
	}
	e.mu.Unlock()

	name := ni.Name
	if name == "" {
		name = recordName
	}
	if name == "" {
		name = models.PrettyID(id)
	}

	avatar := ni.ImagePreview
	if avatar == "" {
		avatar = ni.Image
	}

	h := models.Hydration{
		ChatID:    id,
		Name:      name,
		Avatar:    avatar,
		Initials:  models.InitialsOf(name),
		Preview:   previewLabel(pv, hasPV),
		TimeLabel: models.FormatTime(e.tracker.Last(id), time.Now()),
	}
	e.listener.ChatHydrated(h)
}

func previewLabel(pv models.Preview, known bool) string {
	if !known || pv.Text == "" {
		return "Sem mensagens"
	}
	label := models.TruncatePreview(pv.Text, previewMaxRunes)
	if pv.FromMe {
		label = "Você: " + label
	}
	return label
}

// reorder runs on the tracker's coalescing timer: one stable descending
// sort over the currently known chats.
func (e *Engine) reorder() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.chats))
	for _, ch := range e.chats {
		if ch.ID != "" {
			ids = append(ids, ch.ID)
		}
	}
	e.mu.Unlock()

	e.tracker.SortDesc(ids)
	e.listener.ListReordered(ids)
}

func (e *Engine) notifyStageCounts() {
	e.listener.StageCountsChanged(e.StageCounts())
}

// Chats returns the current chat set in arrival order, with enrichment
// applied and recency stamped.
func (e *Engine) Chats() []models.ChatRecord {
	e.mu.Lock()
	out := make([]models.ChatRecord, len(e.chats))
	copy(out, e.chats)
	e.mu.Unlock()

	for i := range out {
		if ts := e.tracker.Last(out[i].ID); ts > out[i].LastActivity {
			out[i].LastActivity = ts
		}
	}
	return out
}

// ChatsByRecency returns the current chat set sorted newest first.
func (e *Engine) ChatsByRecency() []models.ChatRecord {
	out := e.Chats()
	ids := make([]string, len(out))
	byID := make(map[string]models.ChatRecord, len(out))
	for i, ch := range out {
		ids[i] = ch.ID
		byID[ch.ID] = ch
	}
	e.tracker.SortDesc(ids)
	sorted := make([]models.ChatRecord, 0, len(ids))
	for _, id := range ids {
		sorted = append(sorted, byID[id])
	}
	return sorted
}

// ChatsInStage filters the chat set by pipeline stage; a chat without an
// assignment belongs to the base stage.
func (e *Engine) ChatsInStage(st stage.Stage) []models.ChatRecord {
	var out []models.ChatRecord
	for _, ch := range e.Chats() {
		cur := stage.StageContact
		if rec, ok := e.stages.Get(ch.ID); ok {
			cur = rec.Stage
		}
		if cur == st {
			out = append(out, ch)
		}
	}
	return out
}

// StageCounts tallies the current chats by stage.
func (e *Engine) StageCounts() map[stage.Stage]int {
	e.mu.Lock()
	ids := make([]string, 0, len(e.chats))
	for _, ch := range e.chats {
		if ch.ID != "" {
			ids = append(ids, ch.ID)
		}
	}
	e.mu.Unlock()
	return e.stages.Counts(ids)
}

// SetUnread overrides the unread count carried by the stream record, for
// callers tracking message arrivals on top of the list.
func (e *Engine) SetUnread(chatID string, count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx, ok := e.index[chatID]; ok {
		e.chats[idx].Unread = count
	}
}

// Reset ends the session: any in-flight load goes inert and all local
// state is dropped.
func (e *Engine) Reset() {
	e.reqID.Add(1)
	e.mu.Lock()
	e.loading = false
	e.chats = nil
	e.index = make(map[string]int)
	e.names = make(map[string]models.NameImage)
	e.previews = make(map[string]models.Preview)
	e.mu.Unlock()
	e.tracker.Reset()
	e.stages.Reset()
}
