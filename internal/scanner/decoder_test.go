package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func feedString(d *Decoder, s string) {
	for _, r := range s {
		d.Feed(Report{Rune: r})
	}
}

func TestDecoderFlushOnTerminator(t *testing.T) {
	d := NewDecoder(0, 1)
	feedString(d, "4006381333931")

	bc, ok := d.Feed(Report{Terminator: true})
	require.True(t, ok)
	assert.Equal(t, "4006381333931", bc.Value)
	assert.Equal(t, "EAN13", bc.Type)
	assert.Zero(t, d.pending())
}

func TestDecoderNoResidueAcrossScans(t *testing.T) {
	d := NewDecoder(0, 1)
	feedString(d, "ABC")
	d.Feed(Report{Terminator: true})
	feedString(d, "12")

	bc, ok := d.Feed(Report{Terminator: true})
	require.True(t, ok)
	assert.Equal(t, "12", bc.Value)
}

func TestDecoderEmptyTerminatorEmitsNothing(t *testing.T) {
	d := NewDecoder(0, 1)
	_, ok := d.Feed(Report{Terminator: true})
	assert.False(t, ok)
}

func TestDecoderIgnoresEmptyReports(t *testing.T) {
	d := NewDecoder(0, 1)
	d.Feed(Report{})
	assert.Zero(t, d.pending())
}

func TestDecoderInterKeyGapDiscards(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	d := NewDecoder(100*time.Millisecond, 1)
	d.now = clock.now

	feedString(d, "stale")
	clock.advance(500 * time.Millisecond)
	d.Feed(Report{Rune: '9'})
	clock.advance(10 * time.Millisecond)
	d.Feed(Report{Rune: '8'})

	bc, ok := d.Feed(Report{Terminator: true})
	require.True(t, ok)
	assert.Equal(t, "98", bc.Value)
}

func TestDecoderTerminatorAfterGapFlushesNothing(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	d := NewDecoder(100*time.Millisecond, 1)
	d.now = clock.now

	feedString(d, "stale")
	clock.advance(500 * time.Millisecond)
	_, ok := d.Feed(Report{Terminator: true})
	assert.False(t, ok)
	assert.Zero(t, d.pending())

	feedString(d, "fresh")
	bc, ok := d.Feed(Report{Terminator: true})
	require.True(t, ok)
	assert.Equal(t, "fresh", bc.Value)
}

func TestDecoderMinLength(t *testing.T) {
	d := NewDecoder(0, 4)
	feedString(d, "abc")
	_, ok := d.Feed(Report{Terminator: true})
	assert.False(t, ok)
	assert.Zero(t, d.pending())

	feedString(d, "abcd")
	_, ok = d.Feed(Report{Terminator: true})
	assert.True(t, ok)
}

func TestGuessSymbology(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"4006381333931", "EAN13"},
		{"96385074", "EAN8"},
		{"036000291452", "UPC-A"},
		{"10614141000415", "GTIN-14"},
		{"CODE-39 TEST", "CODE39"},
		{"12345", "CODE39"},
		{"abc123", "CODE39"},
		{"a_b", "CODE128"},
		{"https://example.com/x", "CODE128"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, GuessSymbology(tt.value))
		})
	}
}
