package core

// streamBuffer queues live instructions that arrive while a historical window
// is in flight. Lines are drained in arrival order.
type streamBuffer struct {
	lines []string
}

// Push appends a line.
func (b *streamBuffer) Push(line string) {
	b.lines = append(b.lines, line)
}

// Drain returns every queued line and empties the buffer.
func (b *streamBuffer) Drain() []string {
	lines := b.lines
	b.lines = nil
	return lines
}

// Discard empties the buffer and returns how many lines were dropped.
func (b *streamBuffer) Discard() int {
	n := len(b.lines)
	b.lines = nil
	return n
}

// Len returns the number of queued lines.
func (b *streamBuffer) Len() int {
	return len(b.lines)
}
