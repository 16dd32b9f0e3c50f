package scanner

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootReport(mod byte, keys ...byte) []byte {
	rep := make([]byte, 8)
	rep[0] = mod
	copy(rep[2:], keys)
	return rep
}

func TestBootReportDecoder(t *testing.T) {
	var d bootReportDecoder

	out := d.decode(bootReport(0, 0x1e))
	require.Len(t, out, 1)
	assert.Equal(t, '1', out[0].Rune)

	// Held key repeats the same usage: no new press.
	assert.Empty(t, d.decode(bootReport(0, 0x1e)))

	assert.Empty(t, d.decode(bootReport(0)))

	out = d.decode(bootReport(hidLeftShift, 0x04))
	require.Len(t, out, 1)
	assert.Equal(t, 'A', out[0].Rune)

	out = d.decode(bootReport(0, hidEnter))
	require.Len(t, out, 1)
	assert.True(t, out[0].Terminator)
}

func TestBootReportDecoderShortReport(t *testing.T) {
	var d bootReportDecoder
	assert.Nil(t, d.decode([]byte{0, 0, 0x04}))
}

func TestEvdevKeyState(t *testing.T) {
	var s evdevKeyState

	r, ok := s.handle(30, 1)
	require.True(t, ok)
	assert.Equal(t, 'a', r.Rune)

	_, ok = s.handle(30, 0)
	assert.False(t, ok)

	_, ok = s.handle(evKeyLeftShift, 1)
	assert.False(t, ok)
	r, ok = s.handle(30, 1)
	require.True(t, ok)
	assert.Equal(t, 'A', r.Rune)
	s.handle(evKeyLeftShift, 0)

	_, ok = s.handle(2, 2)
	assert.False(t, ok, "autorepeat is not a press")

	r, ok = s.handle(evKeyEnter, 1)
	require.True(t, ok)
	assert.True(t, r.Terminator)
}

type chunkReader struct {
	chunks [][]byte
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("closed")
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func TestReportSource(t *testing.T) {
	withID := append([]byte{0x01}, bootReport(0, 0x05)...)
	r := &chunkReader{chunks: [][]byte{
		bootReport(0, 0x04),
		bootReport(0),
		withID,
		bootReport(0, hidEnter),
	}}
	src := newReportSource(r)

	var got []Report
	for {
		rep, err := src.ReadReport()
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, rep)
	}
	assert.Equal(t, []Report{{Rune: 'a'}, {Rune: 'b'}, {Terminator: true}}, got)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, r.closed)
}
