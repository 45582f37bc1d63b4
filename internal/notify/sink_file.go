package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends one JSON incident per line. The file is created 0600 since
// incidents name users and carry masked excerpts.
type FileSink struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("file_jsonl: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file_jsonl: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file_jsonl: open %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	return &FileSink{path: path, f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.path }

func (s *FileSink) Deliver(_ context.Context, inc *Incident) error {
	if inc == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("file_jsonl: sink closed")
	}
	// Encode appends the newline; flushing per incident keeps lines whole on crash.
	if err := s.enc.Encode(inc); err != nil {
		return fmt.Errorf("file_jsonl: write incident %s: %w", inc.IncidentID, err)
	}
	return s.buf.Flush()
}

func (s *FileSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.f.Close()
	s.f = nil
	return errors.Join(flushErr, closeErr)
}
