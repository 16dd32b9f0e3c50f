//go:build !linux

package scanner

import "context"

// EvdevBackend is Linux only.
type EvdevBackend struct{}

func NewEvdevBackend() *EvdevBackend { return &EvdevBackend{} }

func (b *EvdevBackend) Name() string { return "evdev" }

func (b *EvdevBackend) Enumerate(context.Context) ([]Candidate, error) {
	return nil, ErrUnsupported
}

func (b *EvdevBackend) Open(Candidate) (Source, error) {
	return nil, ErrUnsupported
}
