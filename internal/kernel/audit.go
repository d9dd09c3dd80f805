package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEvent records one executed task.
type AuditEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	ProcessID    int       `json:"process_id"`
	ConnectionID string    `json:"connection_id"`
	TaskType     string    `json:"task_type"`
	Command      string    `json:"command,omitempty"`
	ContextID    string    `json:"context_id,omitempty"`
	Force        bool      `json:"force,omitempty"`
	QueueWaitMS  int64     `json:"queue_wait_ms"`
	DurationMS   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// AuditLogger persists task audit events.
type AuditLogger interface {
	LogEvent(event AuditEvent) error
	Close() error
}

// FileAuditLogger appends events as JSON lines to a 0600 file.
type FileAuditLogger struct {
	file   *os.File
	mutex  sync.Mutex
	closed bool
}

// NewFileAuditLogger opens (or creates) filename for appending.
func NewFileAuditLogger(filename string) (*FileAuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileAuditLogger{file: file}, nil
}

// LogEvent writes one event and syncs the file.
func (l *FileAuditLogger) LogEvent(event AuditEvent) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return fmt.Errorf("audit logger is closed")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ProcessID == 0 {
		event.ProcessID = os.Getpid()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return l.file.Sync()
}

// Close closes the underlying file. Further LogEvent calls fail.
func (l *FileAuditLogger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

type nopAudit struct{}

func (nopAudit) LogEvent(AuditEvent) error { return nil }
func (nopAudit) Close() error              { return nil }
