// Package logbuffer implements a bounded per-slot ring buffer of recent
// child process output lines.
package logbuffer

import "sync"

// MaxLines is the maximum number of lines retained per slot.
const MaxLines = 500

// StderrPrefix tags lines captured from a child's stderr stream so callers
// can distinguish them from stdout lines inside the flattened buffer.
const StderrPrefix = "[stderr] "

// Buffer is a bounded FIFO of trimmed output lines. Zero value is not
// usable; construct with New.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// New returns a Buffer bounded at max lines. max <= 0 uses MaxLines.
func New(max int) *Buffer {
	if max <= 0 {
		max = MaxLines
	}
	return &Buffer{max: max}
}

// Append adds a line to the buffer, trimming from the front if the bound
// is exceeded. Empty lines are ignored to match the "non-empty line"
// capture rule of the stream reader.
func (b *Buffer) Append(line string, stderr bool) {
	if line == "" {
		return
	}
	if stderr {
		line = StderrPrefix + line
	}
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = b.lines[over:]
	}
	b.mu.Unlock()
}

// Last returns up to n of the most recent lines, oldest first. n <= 0
// returns the full buffer.
func (b *Buffer) Last(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.lines) {
		out := make([]string, len(b.lines))
		copy(out, b.lines)
		return out
	}
	start := len(b.lines) - n
	out := make([]string, n)
	copy(out, b.lines[start:])
	return out
}

// Reset discards all buffered lines. Called when a slot is explicitly
// restarted; automatic crash restarts keep the buffer so the lines leading
// up to the crash stay inspectable.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}

// Len reports the current number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
