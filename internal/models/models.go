package models

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ChatRecord is one conversation as seen by the chat list. It is created by
// the stream ingestion loop and mutated by enrichment tasks; a fresh load
// replaces the whole set.
type ChatRecord struct {
	ID            string `json:"chatid"`
	Name          string `json:"name,omitempty"`
	Preview       string `json:"preview,omitempty"`
	PreviewFromMe bool   `json:"preview_from_me,omitempty"`
	LastActivity  int64  `json:"last_activity"` // milliseconds since epoch
	Unread        int    `json:"unread"`
}

// NameImage is the payload of a name/avatar lookup. All fields are optional;
// an all-empty value is a cached negative result.
type NameImage struct {
	Name         string `json:"name,omitempty"`
	Image        string `json:"image,omitempty"`
	ImagePreview string `json:"imagePreview,omitempty"`
}

// Empty reports whether the lookup produced no usable data.
func (n NameImage) Empty() bool {
	return n.Name == "" && n.Image == "" && n.ImagePreview == ""
}

// Preview is the cached last-message preview for a chat.
type Preview struct {
	Text   string `json:"text"`
	FromMe bool   `json:"fromMe"`
}

// Hydration is the plain-data update handed to the rendering collaborator
// when background enrichment finishes for a chat.
type Hydration struct {
	ChatID    string
	Name      string
	Avatar    string
	Initials  string
	Preview   string
	TimeLabel string
}

// PrettyID strips the messaging-provider suffix from a raw chat identifier
// so it can double as a display name fallback.
func PrettyID(id string) string {
	const suffix = "@s.whatsapp.net"
	if len(id) >= len(suffix) && strings.EqualFold(id[len(id)-len(suffix):], suffix) {
		return id[:len(id)-len(suffix)]
	}
	return id
}

// InitialsOf returns up to two uppercase initials for an avatar fallback,
// "??" when the name is empty.
func InitialsOf(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return "??"
	}
	if len(fields) > 2 {
		fields = fields[:2]
	}
	var b strings.Builder
	for _, f := range fields {
		r := []rune(f)
		b.WriteRune(unicode.ToUpper(r[0]))
	}
	return b.String()
}

// TruncatePreview collapses whitespace and caps the preview at max runes,
// appending an ellipsis when it was cut.
func TruncatePreview(s string, max int) string {
	t := strings.Join(strings.Fields(s), " ")
	if t == "" {
		return ""
	}
	r := []rune(t)
	if len(r) <= max {
		return t
	}
	return strings.TrimRight(string(r[:max-1]), " ") + "…"
}

// FormatTime renders a last-activity timestamp the way the chat list shows
// it: hh:mm within the last 24 hours, "Nd" beyond that, empty for zero.
func FormatTime(ms int64, now time.Time) string {
	if ms <= 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	diff := now.Sub(t)
	if diff < 24*time.Hour {
		return t.Format("15:04")
	}
	days := int(diff.Hours() / 24)
	return strconv.Itoa(days) + "d"
}
