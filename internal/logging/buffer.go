package logging

import (
	"strings"
	"sync"
)

// DefaultBufferLines is how many lines NewLogBuffer keeps.
const DefaultBufferLines = 1000

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	max   int
	mu    sync.Mutex
}

// NewLogBuffer keeps the last capacity lines (DefaultBufferLines when
// capacity <= 0).
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferLines
	}
	return &LogBuffer{lines: make([]string, 0, capacity), max: capacity}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	// zap hands over whole entries; split in case one spans several lines.
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		lb.lines = append(lb.lines, line)
	}
	if len(lb.lines) > lb.max {
		lb.lines = append(lb.lines[:0], lb.lines[len(lb.lines)-lb.max:]...)
	}
	return len(p), nil
}

// Sync satisfies zapcore.WriteSyncer.
func (lb *LogBuffer) Sync() error { return nil }

// GetLogs returns a copy of the buffered lines, oldest first. When limit is
// positive only the newest limit lines are returned.
func (lb *LogBuffer) GetLogs(limit int) []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(lb.lines) {
		start = len(lb.lines) - limit
	}
	logs := make([]string, len(lb.lines)-start)
	copy(logs, lb.lines[start:])
	return logs
}
