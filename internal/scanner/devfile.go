package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DevFileBackend reads boot keyboard reports straight from configured device
// files such as /dev/hidraw0, for scanners the other backends miss.
type DevFileBackend struct {
	Paths []string
}

func NewDevFileBackend(paths []string) *DevFileBackend {
	return &DevFileBackend{Paths: paths}
}

func (b *DevFileBackend) Name() string { return "devfile" }

func (b *DevFileBackend) Enumerate(ctx context.Context) ([]Candidate, error) {
	var found []Candidate
	for _, path := range b.Paths {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		base := filepath.Base(path)
		found = append(found, Candidate{ID: "usb:dev:" + base, Name: base, Path: path})
	}
	return found, nil
}

func (b *DevFileBackend) Open(c Candidate) (Source, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.Path, err)
	}
	return newReportSource(f), nil
}
