package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", nil)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestNewWritesToExtra(t *testing.T) {
	var out bytes.Buffer
	log, err := New("warn", &out)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("printer offline")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "WARN\tprinter offline")
}

func TestDeferredBuffersUntilAttach(t *testing.T) {
	var d Deferred
	d.Write([]byte("early\n"))

	var out bytes.Buffer
	require.NoError(t, d.Attach(&out))
	d.Write([]byte("late\n"))

	assert.Equal(t, "early\nlate\n", out.String())
}
