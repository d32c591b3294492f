// Package audit provides the append-only accountability trail. Entries are
// written as newline-delimited JSON and are never edited or deleted.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"arcavault/internal/infrastructure"
)

// Outcome classifies an audited operation.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeDenied         Outcome = "denied"
	OutcomeTamperDetected Outcome = "tamper_detected"
)

// Entry is one audit record.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	CapabilityID string    `json:"capability_id,omitempty"`
	GameScope    string    `json:"game_scope,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Outcome      Outcome   `json:"outcome"`
}

// Logger appends entries to the audit log file. Writes are serialized so
// concurrent callers never interleave partial lines.
type Logger struct {
	path    string
	sem     *semaphore.Weighted
	metrics *infrastructure.Metrics
}

// NewLogger creates an audit logger backed by path. The file is created on
// first write.
func NewLogger(path string) *Logger {
	return &Logger{
		path: path,
		sem:  semaphore.NewWeighted(1),
	}
}

// WithMetrics attaches counters to the logger. Every component routes its
// tamper events through RecordTamper, so this is where they are counted.
func (l *Logger) WithMetrics(m *infrastructure.Metrics) *Logger {
	l.metrics = m
	return l
}

// Record appends one entry. A zero timestamp is filled with the current UTC
// time.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// RecordTamper records a tamper event for path. It satisfies the tamper
// detector's recorder interface.
func (l *Logger) RecordTamper(ctx context.Context, path, detail string) error {
	l.metrics.RecordTamper(ctx)
	err := l.Record(ctx, Entry{
		Action:  "integrity.verify",
		Detail:  fmt.Sprintf("%s: %s", path, detail),
		Outcome: OutcomeTamperDetected,
	})
	if err != nil {
		slog.Error("Failed to append tamper audit entry",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// Tail returns up to n most recent entries, oldest first. Unparseable lines
// are skipped; the log is append-only and external truncation is not
// repaired here.
func (l *Logger) Tail(ctx context.Context, n int) ([]Entry, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
