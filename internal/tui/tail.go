package tui

import (
	"strings"
	"sync"

	"pkt.systems/printwatch/schema"
)

// TailView is a snapshot of the visible part of a Tail.
type TailView struct {
	Lines        []string
	TotalLines   int
	ScrollOffset int
	AtBottom     bool
	Resets       int
}

// Tail is a terminal visualization sink. It keeps the most recent
// instructions as scrollback lines.
// ScrollOffset is the number of lines from the bottom; 0 means at bottom.
type Tail struct {
	mu           sync.Mutex
	lines        []string
	scrollOffset int
	maxLines     int
	resets       int
	resized      bool
}

// NewTail returns a Tail holding at most maxLines lines.
func NewTail(maxLines int) *Tail {
	if maxLines <= 0 {
		maxLines = schema.DefaultBufferMaxLines
	}
	return &Tail{maxLines: maxLines}
}

// Clear drops all lines and returns the view to the bottom.
func (t *Tail) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
	t.scrollOffset = 0
	t.resets++
}

// ProcessGCode appends every non-empty line of text. If the view is scrolled
// up, the offset grows so the view stays anchored.
func (t *Tail) ProcessGCode(text string) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, lines...)
	if t.scrollOffset > 0 {
		t.scrollOffset += len(lines)
	}
	if len(t.lines) > t.maxLines {
		trim := len(t.lines) - t.maxLines
		t.lines = append([]string(nil), t.lines[trim:]...)
		if t.scrollOffset > len(t.lines) {
			t.scrollOffset = len(t.lines)
		}
	}
}

// Resize marks the tail for re-layout on the next render.
func (t *Tail) Resize() {
	t.mu.Lock()
	t.resized = true
	t.mu.Unlock()
}

// TakeResize reports and clears a pending Resize.
func (t *Tail) TakeResize() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	resized := t.resized
	t.resized = false
	return resized
}

// ResetScroll returns the view to the bottom.
func (t *Tail) ResetScroll() {
	t.mu.Lock()
	t.scrollOffset = 0
	t.mu.Unlock()
}

// Scroll adjusts the scroll offset by delta. Positive delta scrolls up (older
// lines). Limit is the viewport height.
func (t *Tail) Scroll(delta, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrollOffset = clampScroll(t.scrollOffset+delta, len(t.lines), limit)
}

// Snapshot returns the lines visible in a viewport of limit rows.
func (t *Tail) Snapshot(limit int) TailView {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.lines)
	if limit <= 0 || limit > total {
		limit = total
	}
	if max := maxScroll(total, limit); t.scrollOffset > max {
		t.scrollOffset = max
	}
	end := total - t.scrollOffset
	start := end - limit
	if start < 0 {
		start = 0
	}
	lines := make([]string, end-start)
	copy(lines, t.lines[start:end])
	return TailView{
		Lines:        lines,
		TotalLines:   total,
		ScrollOffset: t.scrollOffset,
		AtBottom:     t.scrollOffset == 0,
		Resets:       t.resets,
	}
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 || total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}
