package types

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// HistoryEntry is one projected unlock event.
type HistoryEntry struct {
	ID        string
	Method    UnlockMethod
	Actor     string
	LockerID  string
	Timestamp time.Time
}

// HistoryView is the read model handed to history observers, newest first.
type HistoryView []HistoryEntry

var ageMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Hour, Format: "%d min %s", DivBy: time.Minute},
	{D: 24 * time.Hour, Format: "%d hours %s", DivBy: time.Hour},
	{D: math.MaxInt64, Format: "%d days %s", DivBy: 24 * time.Hour},
}

// Age renders how long ago then was relative to now ("5 min ago",
// "3 hours ago", "2 days ago").  Computed at render time, never stored.
func Age(then, now time.Time) string {
	return humanize.CustomRelTime(then, now, "ago", "from now", ageMagnitudes)
}

type HistoryEntryJSON struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	User      string `json:"user"`
	LockerID  string `json:"locker_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Age       string `json:"age"`
}

type HistoryResponse struct {
	Entries []HistoryEntryJSON `json:"entries"`
}

// NewHistoryResponse renders a view for transport, computing ages against now.
func NewHistoryResponse(view HistoryView, now time.Time) HistoryResponse {
	out := HistoryResponse{Entries: make([]HistoryEntryJSON, 0, len(view))}
	for _, e := range view {
		out.Entries = append(out.Entries, HistoryEntryJSON{
			ID:        e.ID,
			Method:    string(e.Method),
			User:      e.Actor,
			LockerID:  e.LockerID,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Age:       Age(e.Timestamp, now),
		})
	}
	return out
}
