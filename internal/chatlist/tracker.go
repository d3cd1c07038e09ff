package chatlist

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// ReorderDelay is the coalescing window: activity updates inside it collapse
// into a single reorder pass.
const ReorderDelay = 60 * time.Millisecond

// NormalizeMillis accepts second- or millisecond-resolution epoch values.
// A 10-digit decimal value is seconds and gets scaled to milliseconds.
func NormalizeMillis(raw int64) int64 {
	if raw <= 0 {
		return 0
	}
	if len(strconv.FormatInt(raw, 10)) == 10 {
		return raw * 1000
	}
	return raw
}

// Tracker keeps the maximum activity timestamp seen per chat and schedules
// coalesced reorder passes. Values only move forward: an out-of-order update
// with an older timestamp is ignored.
type Tracker struct {
	mu        sync.Mutex
	lastTS    map[string]int64
	dirty     bool
	timer     *time.Timer
	onReorder func()
}

// NewTracker creates a tracker; onReorder runs at most once per coalescing
// window, on a timer goroutine.
func NewTracker(onReorder func()) *Tracker {
	return &Tracker{
		lastTS:    make(map[string]int64),
		onReorder: onReorder,
	}
}

// UpdateActivity records a raw timestamp for a chat. It reports whether the
// stored maximum advanced; only then is a reorder scheduled.
func (t *Tracker) UpdateActivity(chatID string, rawTS int64) bool {
	if chatID == "" {
		return false
	}
	val := NormalizeMillis(rawTS)

	t.mu.Lock()
	defer t.mu.Unlock()
	if val <= t.lastTS[chatID] {
		return false
	}
	t.lastTS[chatID] = val
	t.dirty = true
	if t.timer == nil {
		t.timer = time.AfterFunc(ReorderDelay, t.fire)
	}
	return true
}

func (t *Tracker) fire() {
	t.mu.Lock()
	t.timer = nil
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	cb := t.onReorder
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Last returns the stored maximum for a chat, zero when unknown.
func (t *Tracker) Last(chatID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTS[chatID]
}

// SortDesc orders chat ids by last activity, newest first. The sort is
// stable: chats with equal (or no) activity keep their relative order.
func (t *Tracker) SortDesc(chatIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sort.SliceStable(chatIDs, func(i, j int) bool {
		return t.lastTS[chatIDs[i]] > t.lastTS[chatIDs[j]]
	})
}

// Reset drops all recency state; used when a session ends.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTS = make(map[string]int64)
	t.dirty = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
