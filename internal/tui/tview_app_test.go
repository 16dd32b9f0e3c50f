package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelOf(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"14:05:00\tERROR\tjob\tprint failed", "error"},
		{"14:05:00\tWARN\tdiscovery\tmdns probe failed", "warning"},
		{"14:05:00\tDEBUG\tapi\tcommand", "debug"},
		{"14:05:00\tINFO\tbridge\tlistening", "info"},
		{"plain text", "info"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelOf(tt.line), tt.line)
	}
}
