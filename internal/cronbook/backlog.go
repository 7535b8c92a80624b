package cronbook

import (
	"errors"
	"sync"
	"time"

	logx "hadroid/pkg/logx"
)

// Entry is the next fire instant of one event. It is never persisted.
type Entry struct {
	EventID string
	At      time.Time // UTC

	// key is the expression and timezone the instant was computed from.
	key string
}

func entryKey(ev Event) string { return ev.Expression + "\x00" + ev.Timezone }

// Backlog tracks the upcoming fire instant of every known event.
// Order follows the book's insertion order.
type Backlog struct {
	log logx.Logger

	mu      sync.Mutex
	entries []Entry
}

func NewBacklog(log logx.Logger) *Backlog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backlog{log: log}
}

// Refresh merges events into the backlog. Entries for known ids keep their
// instant (so repeated refreshes never push a pending fire time forward)
// unless the event's expression or timezone changed. New events get their
// first instant after now; ids no longer present are pruned. Events that
// cannot be evaluated are logged and left out.
func (b *Backlog) Refresh(events []Event, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	known := make(map[string]Entry, len(b.entries))
	for _, e := range b.entries {
		known[e.EventID] = e
	}

	next := make([]Entry, 0, len(events))
	for _, ev := range events {
		key := entryKey(ev)
		if e, ok := known[ev.ID]; ok && e.key == key {
			next = append(next, e)
			continue
		}
		at, err := NextFire(ev, now)
		if err != nil {
			lvl := b.log.Warn
			if errors.Is(err, ErrNoOccurrence) {
				lvl = b.log.Debug
			}
			lvl("event not scheduled", logx.String("id", ev.ID), logx.String("time", ev.Expression), logx.Err(err))
			continue
		}
		next = append(next, Entry{EventID: ev.ID, At: at, key: key})
	}
	b.entries = next
}

// Due returns the ids whose instant is at or before now, in backlog order.
func (b *Backlog) Due(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.entries {
		if !e.At.After(now) {
			out = append(out, e.EventID)
		}
	}
	return out
}

// At returns the pending instant for id.
func (b *Backlog) At(id string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.EventID == id {
			return e.At, true
		}
	}
	return time.Time{}, false
}

// Drop removes entries. A dropped event comes back, with its following
// occurrence, on the next Refresh.
func (b *Backlog) Drop(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if _, ok := drop[e.EventID]; !ok {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// Entries returns a snapshot for diagnostics.
func (b *Backlog) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
