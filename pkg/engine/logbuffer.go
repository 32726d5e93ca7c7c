package engine

import "sync"

// DefaultLogCapacity is the number of lines kept by a LogBuffer unless configured otherwise.
const DefaultLogCapacity = 1000

// LogBuffer is a bounded, append-only sequence of display lines.
//
// When an append would exceed the capacity, the oldest half of the buffer is
// evicted in one batch instead of sliding one line at a time.
type LogBuffer struct {
	mu       sync.RWMutex
	lines    []string
	capacity int
	total    uint64
}

// NewLogBuffer creates a buffer holding at most capacity lines.
// A non-positive capacity selects DefaultLogCapacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{
		lines:    make([]string, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// Append adds one line.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(line)
}

// AppendMany adds lines in order.
func (b *LogBuffer) AppendMany(lines []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range lines {
		b.appendLocked(l)
	}
}

func (b *LogBuffer) appendLocked(line string) {
	if len(b.lines) >= b.capacity {
		evict := max(b.capacity/2, 1)
		n := copy(b.lines, b.lines[evict:])
		clear(b.lines[n:])
		b.lines = b.lines[:n]
	}
	b.lines = append(b.lines, line)
	b.total++
}

// Clear drops every line. Only the foreground calls this, between runs.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.lines)
	b.lines = b.lines[:0]
	b.total = 0
}

// Snapshot returns a copy of the lines in arrival order.
func (b *LogBuffer) Snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Since returns the lines appended after the first n since the last Clear,
// along with the new cursor. Lines already evicted are skipped, so a slow
// reader loses lines but never sees one twice.
func (b *LogBuffer) Since(n uint64) ([]string, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.total {
		n = 0
	}
	first := b.total - uint64(len(b.lines))
	if n < first {
		n = first
	}
	out := make([]string, b.total-n)
	copy(out, b.lines[n-first:])
	return out, b.total
}

// Len returns the current number of lines.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Cap returns the capacity bound.
func (b *LogBuffer) Cap() int {
	return b.capacity
}
