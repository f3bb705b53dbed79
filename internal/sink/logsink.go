package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shortontech/crawlwatch/internal/event"
)

// LogSink appends events as newline-delimited JSON to LOG_PATH, or to
// standard output when LOG_PATH is "stdout".
type LogSink struct {
	dst string
	f   *os.File

	mu  sync.Mutex
	enc *json.Encoder
}

func NewLogSink() *LogSink {
	return &LogSink{dst: getEnvOr("LOG_PATH", "ndjson.log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(ctx context.Context) error {
	var w io.Writer = os.Stdout
	if s.dst != "stdout" {
		f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log sink %s: %w", s.dst, err)
		}
		s.f = f
		w = f
	}
	s.mu.Lock()
	s.enc = json.NewEncoder(w)
	s.mu.Unlock()
	return nil
}

func (s *LogSink) Enqueue(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return fmt.Errorf("log sink not started")
	}
	if err := s.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
