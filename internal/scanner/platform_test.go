package scanner

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func backendNames(backends []Backend) []string {
	var names []string
	for _, b := range backends {
		names = append(names, b.Name())
	}
	return names
}

func TestDefaultBackends(t *testing.T) {
	var want []string
	switch runtime.GOOS {
	case "linux":
		want = []string{"evdev"}
	case "darwin", "windows":
		want = []string{"hid"}
	}

	assert.Equal(t, want, backendNames(DefaultBackends(nil)))
	assert.Equal(t, append(want, "devfile"), backendNames(DefaultBackends([]string{"/dev/hidraw0"})))
}
