// Package runlog keeps a short in-memory history of finished submissions.
package runlog

import (
	"sync"
	"time"
)

type Entry struct {
	SubmissionID string    `json:"submission_id"`
	Language     string    `json:"language"`
	Status       string    `json:"status"`
	Files        int       `json:"files"`
	ExitCode     int       `json:"exit_code"`
	DurationMs   int64     `json:"duration_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Log is a fixed-size ring of entries. A zero-size log records nothing.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func New(size int) *Log {
	if size < 0 {
		size = 0
	}
	return &Log{entries: make([]Entry, size)}
}

func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return
	}
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns the stored entries, newest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
