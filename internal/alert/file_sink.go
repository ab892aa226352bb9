package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// fileSink writes alerts to a file with rotation
type fileSink struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileSink creates a new file sink with log rotation
func NewFileSink(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Sink, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	return &fileSink{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}, nil
}

// Publish writes an alert to the file
func (s *fileSink) Publish(ctx context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.encoder.Encode(alert)
}

// Close closes the file sink
func (s *fileSink) Close() error {
	return s.logger.Close()
}
