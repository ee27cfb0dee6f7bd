package models

import "time"

// Sender identifies who produced a history entry.
type Sender string

const (
	SenderSelf   Sender = "self"
	SenderOther  Sender = "other"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// TimestampLayout is the on-disk timestamp format of history entries.
const TimestampLayout = "2006-01-02 15:04:05"

// HistoryEntry is one record of a per-character transcript. Entries are
// append-only and never rewritten once stored.
type HistoryEntry struct {
	Timestamp string `json:"timestamp"`
	Sender    Sender `json:"sender"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func NewHistoryEntry(sender Sender, message string, at time.Time) HistoryEntry {
	return HistoryEntry{
		Timestamp: at.Format(TimestampLayout),
		Sender:    sender,
		Message:   message,
	}
}
