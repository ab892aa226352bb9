package alert

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// stdoutSink writes alerts to stdout as JSON
type stdoutSink struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStdoutSink creates a new stdout sink
func NewStdoutSink() Sink {
	return &stdoutSink{
		encoder: json.NewEncoder(os.Stdout),
	}
}

// Publish writes an alert to stdout as JSON
func (s *stdoutSink) Publish(ctx context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.encoder.Encode(alert)
}

// Close closes the sink (no-op for stdout)
func (s *stdoutSink) Close() error {
	return nil
}
