// Package logging builds the zap logger shared by every component.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger at level writing to stderr, or to extra
// instead when it is non-nil (the dashboard log view).
func New(level string, extra io.Writer) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if extra != nil {
		// The dashboard owns the terminal, so stderr is dropped.
		sink = zapcore.AddSync(extra)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, zap.NewAtomicLevelAt(lvl))
	return zap.New(core), nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Deferred is a writer that buffers until Attach names its destination. It
// lets the logger exist before the dashboard it writes into.
type Deferred struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

func (d *Deferred) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w != nil {
		return d.w.Write(p)
	}
	return d.buf.Write(p)
}

// Attach flushes the buffered output to w and sends later writes there.
func (d *Deferred) Attach(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w = w
	if d.buf.Len() == 0 {
		return nil
	}
	_, err := w.Write(d.buf.Bytes())
	d.buf.Reset()
	return err
}
