// Package audit records the chat sidecar's turn and session lifecycle events as structured,
// greppable log lines distinct from ordinary operational logging — who asked for what, whether it
// finished cleanly, and why not when it didn't.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation represents the type of auditable operation.
type Operation string

const (
	OpSessionCreate    Operation = "session.create"
	OpSessionTerminate Operation = "session.terminate"
	OpTurnStart        Operation = "turn.start"
	OpTurnComplete     Operation = "turn.complete"
	OpTurnInterrupt    Operation = "turn.interrupt"
	OpTurnFail         Operation = "turn.fail"
)

// Event represents an audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Operation Operation              `json:"operation"`
	SessionID string                 `json:"session_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	SandboxID string                 `json:"sandbox_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger handles audit logging.
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default audit logger.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates a new audit logger.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.MessageID != "" {
		attrs = append(attrs, slog.String("message_id", event.MessageID))
	}
	if event.SandboxID != "" {
		attrs = append(attrs, slog.String("sandbox_id", event.SandboxID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogTurnOutcome records a turn's terminal stream_status as a turn.complete/interrupt/fail audit
// event, picking the operation from status the same way the Stream Runtime picks the render
// event kind it emits for that outcome.
func (l *Logger) LogTurnOutcome(sessionID, messageID, status string, err error) {
	op := OpTurnComplete
	switch status {
	case "interrupted":
		op = OpTurnInterrupt
	case "failed":
		op = OpTurnFail
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation: op,
		SessionID: sessionID,
		MessageID: messageID,
		Success:   status == "completed",
		Error:     errMsg,
	})
}

// Convenience functions using the default logger.

func Log(event *Event) {
	Default().Log(event)
}

func LogTurnOutcome(sessionID, messageID, status string, err error) {
	Default().LogTurnOutcome(sessionID, messageID, status, err)
}
