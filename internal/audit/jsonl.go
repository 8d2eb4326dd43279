package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

// WriterSink appends one JSON document per line to an io.Writer. Each event
// is serialised first and written with a single Write call under the lock, so
// concurrent appends never interleave inside a line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps the given writer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Append implements Sink.
func (s *WriterSink) Append(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	payload = append(payload, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// FileSink is a WriterSink over an append-only file.
type FileSink struct {
	*WriterSink
	file *os.File
}

// NewFileSink opens (or creates) the file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &FileSink{WriterSink: NewWriterSink(file), file: file}, nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	return s.file.Close()
}
