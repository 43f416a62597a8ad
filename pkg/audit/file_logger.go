package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileLogger appends events as JSON lines, one file per installation,
// for shipping to an external collector.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	logger *logrus.Logger
}

// NewFileLogger opens (or creates) the audit log file at path.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	return &FileLogger{file: file, logger: logger}, nil
}

// Log implements Logger.
func (l *FileLogger) Log(_ context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := logrus.Fields{
		"event_type": string(event.Type),
		"status":     string(event.Status),
	}
	if event.ActorID != 0 {
		fields["actor_id"] = event.ActorID
		fields["actor_type"] = event.ActorType
	}
	if event.OwnerID != 0 {
		fields["owner_id"] = event.OwnerID
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Detail {
		fields["detail_"+k] = v
	}
	entry := l.logger.WithFields(fields)
	if !event.Timestamp.IsZero() {
		entry = entry.WithTime(event.Timestamp)
	}
	entry.Info(event.Message)
	return nil
}

// Close implements Logger.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
