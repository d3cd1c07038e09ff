package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrettyID(t *testing.T) {
	assert.Equal(t, "5511999990000", PrettyID("5511999990000@s.whatsapp.net"))
	assert.Equal(t, "5511999990000", PrettyID("5511999990000"))
	assert.Equal(t, "group-123@g.us", PrettyID("group-123@g.us"))
	assert.Equal(t, "", PrettyID(""))
}

func TestInitialsOf(t *testing.T) {
	assert.Equal(t, "MS", InitialsOf("Maria Silva"))
	assert.Equal(t, "MS", InitialsOf("  maria  silva  santos "))
	assert.Equal(t, "A", InitialsOf("alice"))
	assert.Equal(t, "??", InitialsOf(""))
	assert.Equal(t, "??", InitialsOf("   "))
}

func TestTruncatePreview(t *testing.T) {
	assert.Equal(t, "oi tudo bem", TruncatePreview("oi\n  tudo\t bem", 90))
	assert.Equal(t, "", TruncatePreview("   ", 90))

	long := strings.Repeat("a", 120)
	got := TruncatePreview(long, 90)
	assert.Equal(t, 90, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	// exactly at the cap is left alone
	exact := strings.Repeat("b", 90)
	assert.Equal(t, exact, TruncatePreview(exact, 90))
}

func TestFormatTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 18, 0, 0, 0, time.Local)

	recent := now.Add(-2 * time.Hour)
	assert.Equal(t, recent.Format("15:04"), FormatTime(recent.UnixMilli(), now))

	old := now.Add(-72 * time.Hour)
	assert.Equal(t, "3d", FormatTime(old.UnixMilli(), now))

	assert.Equal(t, "", FormatTime(0, now))
	assert.Equal(t, "", FormatTime(-5, now))
}

func TestNameImageEmpty(t *testing.T) {
	assert.True(t, NameImage{}.Empty())
	assert.False(t, NameImage{Name: "Maria"}.Empty())
	assert.False(t, NameImage{ImagePreview: "data:image/jpeg;base64,xx"}.Empty())
}
