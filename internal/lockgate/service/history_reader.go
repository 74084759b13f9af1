package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

// HistoryReader projects the openings branch into a HistoryView.
type HistoryReader struct {
	store  store.StateStore
	logger *log.Logger
}

func NewHistoryReader(st store.StateStore, logger *log.Logger) *HistoryReader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &HistoryReader{store: st, logger: logger}
}

// Subscribe calls onChange with a freshly sorted view at subscribe time and
// after every change under openings/.  A failed read is logged and delivered
// as an empty view.
func (r *HistoryReader) Subscribe(onChange func(types.HistoryView)) store.Subscription {
	return r.store.Subscribe(OpeningsPath, func(snap store.Snapshot, err error) {
		if err != nil {
			r.logger.Printf("history read: %v", err)
			onChange(types.HistoryView{})
			return
		}
		onChange(ProjectHistory(snap))
	})
}

// Snapshot reads the openings branch once.
func (r *HistoryReader) Snapshot(ctx context.Context) (types.HistoryView, error) {
	snap, err := r.store.Get(ctx, OpeningsPath)
	if err != nil {
		return types.HistoryView{}, fmt.Errorf("%w: history: %w", ErrStoreRead, err)
	}
	return ProjectHistory(snap), nil
}

// ProjectHistory turns an openings snapshot into entries sorted newest first,
// ties broken by id descending.  Children that are not records are skipped.
func ProjectHistory(snap store.Snapshot) types.HistoryView {
	children := snap.Children()
	view := make(types.HistoryView, 0, len(children))

	for id, raw := range children {
		rec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		e := types.HistoryEntry{ID: id}
		if s, ok := rec[fieldMethod].(string); ok {
			e.Method = types.UnlockMethod(s)
		}
		if s, ok := rec[fieldUser].(string); ok {
			e.Actor = s
		}
		if s, ok := rec[fieldLocker].(string); ok {
			e.LockerID = s
		}
		e.Timestamp, _ = parseTimestamp(rec[fieldTimestamp])
		view = append(view, e)
	}

	sort.Slice(view, func(i, j int) bool {
		if !view[i].Timestamp.Equal(view[j].Timestamp) {
			return view[i].Timestamp.After(view[j].Timestamp)
		}
		return view[i].ID > view[j].ID
	})
	return view
}

// parseTimestamp accepts unix milliseconds (this gateway) or RFC 3339
// strings (external writers).
func parseTimestamp(v any) (time.Time, bool) {
	if ms, ok := store.Int64(v); ok {
		return time.UnixMilli(ms).UTC(), true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
