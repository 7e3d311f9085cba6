package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kyiv = time.FixedZone("EEST", 3*60*60)

// Monday afternoon.
var now = time.Date(2026, 6, 15, 14, 0, 0, 0, kyiv)

func TestParseFixedLayouts(t *testing.T) {
	p := NewParser(kyiv)

	cases := map[string]time.Time{
		"2026-06-20 18:30":    time.Date(2026, 6, 20, 18, 30, 0, 0, kyiv),
		"2026-06-20 18:30:15": time.Date(2026, 6, 20, 18, 30, 15, 0, kyiv),
		"20.06.2026 09:05":    time.Date(2026, 6, 20, 9, 5, 0, 0, kyiv),
		"2026-06-20":          time.Date(2026, 6, 20, 23, 59, 0, 0, kyiv),
		"20.06.2026":          time.Date(2026, 6, 20, 23, 59, 0, 0, kyiv),
	}
	for in, want := range cases {
		got, ok := p.Parse(in, now)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), "%s: want %s, got %s", in, want, got)
	}
}

func TestParseRejectsNonsense(t *testing.T) {
	p := NewParser(kyiv)

	for _, in := range []string{"", "   ", "???", "asdf qwerty"} {
		_, ok := p.Parse(in, now)
		assert.False(t, ok, in)
	}
}

func TestParsePastDateStaysInPast(t *testing.T) {
	p := NewParser(kyiv)

	got, ok := p.Parse("2020-01-01 10:00", now)
	require.True(t, ok)
	assert.True(t, got.Before(now))
}

func TestParseYesterdayIsNeverFuture(t *testing.T) {
	p := NewParser(kyiv)

	got, ok := p.Parse("yesterday", now)
	if ok {
		assert.True(t, got.Before(now), "yesterday resolved to %s", got)
	}
}

func TestParseRelativeDuration(t *testing.T) {
	p := NewParser(kyiv)

	got, ok := p.Parse("in 2 hours", now)
	require.True(t, ok)
	assert.True(t, got.After(now))
}
