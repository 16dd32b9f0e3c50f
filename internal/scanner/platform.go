package scanner

import "runtime"

// DefaultBackends picks the backends for the running platform: evdev on
// Linux, where hidraw would open the same scanners a second time, and hid on
// macOS and Windows. Configured device files are always added.
func DefaultBackends(devicePaths []string) []Backend {
	var backends []Backend
	switch runtime.GOOS {
	case "linux":
		backends = append(backends, NewEvdevBackend())
	case "darwin", "windows":
		backends = append(backends, NewHIDBackend())
	}
	if len(devicePaths) > 0 {
		backends = append(backends, NewDevFileBackend(devicePaths))
	}
	return backends
}
