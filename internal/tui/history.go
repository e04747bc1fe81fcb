package tui

import (
	"strings"

	"pkt.systems/printwatch/schema"
)

const defaultHistoryMax = 50

type notificationHistory struct {
	entries []schema.Notification
	max     int
}

func newNotificationHistory(max int) *notificationHistory {
	if max <= 0 {
		max = defaultHistoryMax
	}
	return &notificationHistory{max: max}
}

// Append records n unless it is blank or repeats the newest entry.
func (h *notificationHistory) Append(n schema.Notification) bool {
	if h == nil {
		return false
	}
	if strings.TrimSpace(n.Message) == "" {
		return false
	}
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == n {
		return false
	}
	h.entries = append(h.entries, n)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

// Latest returns up to count entries, oldest first.
func (h *notificationHistory) Latest(count int) []schema.Notification {
	if h == nil || count <= 0 {
		return nil
	}
	start := len(h.entries) - count
	if start < 0 {
		start = 0
	}
	return append([]schema.Notification(nil), h.entries[start:]...)
}
