package cronbook

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"hadroid/internal/storage"
	logx "hadroid/pkg/logx"
)

// Event is one scheduled command.
type Event struct {
	ID         string `json:"eventId"`
	Expression string `json:"time"`
	Command    string `json:"command"`
	Channel    string `json:"roomId"`
	Timezone   string `json:"timezone"`
}

// Document is the persisted form of a Book.
type Document struct {
	Events          []Event `json:"events"`
	DefaultTimezone string  `json:"defaultTimezone"`
}

// Listing is an event with its position in a (possibly channel-filtered) list.
// Index is for display only; events are addressed by ID.
type Listing struct {
	Index int
	Event Event
}

const (
	DefaultDocName  = "cron"
	DefaultTimezone = "UTC"
)

type BookOptions struct {
	// DocName is the storage document holding the book. Default "cron".
	DocName string
	// DefaultTimezone seeds a book that was never saved. Default "UTC".
	DefaultTimezone string
	Logger          logx.Logger
	// NewID overrides id generation (uuid v4).
	NewID func() string
}

// Book is the durable event store. Every mutation reloads the document,
// applies the change and writes the whole document back, all under one
// mutex, so writers inside the process never interleave.
type Book struct {
	st    storage.Store
	name  string
	seed  string
	log   logx.Logger
	newID func() string

	mu  sync.Mutex
	doc Document
}

func NewBook(st storage.Store, opt BookOptions) *Book {
	if opt.DocName == "" {
		opt.DocName = DefaultDocName
	}
	if strings.TrimSpace(opt.DefaultTimezone) == "" {
		opt.DefaultTimezone = DefaultTimezone
	}
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	return &Book{
		st:    st,
		name:  opt.DocName,
		seed:  opt.DefaultTimezone,
		log:   opt.Logger.With(logx.String("comp", "cronbook")),
		newID: opt.NewID,
		doc:   Document{DefaultTimezone: opt.DefaultTimezone},
	}
}

// OpenBook returns a Book with its snapshot already loaded.
func OpenBook(ctx context.Context, st storage.Store, opt BookOptions) (*Book, error) {
	b := NewBook(st, opt)
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload replaces the in-memory snapshot with the persisted document.
func (b *Book) Reload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(ctx)
}

func (b *Book) loadLocked(ctx context.Context) error {
	var doc Document
	found, err := b.st.LoadDoc(ctx, b.name, &doc)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrStoreIO, b.name, err)
	}
	if !found {
		doc = Document{}
	}
	if strings.TrimSpace(doc.DefaultTimezone) == "" {
		doc.DefaultTimezone = b.seed
	}
	b.doc = doc
	return nil
}

// saveLocked persists doc and makes it the current snapshot only on success.
func (b *Book) saveLocked(ctx context.Context, doc Document) error {
	if err := b.st.SaveDoc(ctx, b.name, doc); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStoreIO, b.name, err)
	}
	b.doc = doc
	return nil
}

// Add validates and appends a new event, returning its id. An empty tz uses
// the book's default timezone. Rejected input leaves the book unchanged.
func (b *Book) Add(ctx context.Context, expr, command, channel, tz string) (string, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	if _, err := ParseExpression(expr); err != nil {
		return "", err
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return "", ErrEmptyCommand
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return "", err
	}
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = b.doc.DefaultTimezone
	}
	if _, err := LoadTimezone(tz); err != nil {
		return "", err
	}

	ev := Event{
		ID:         b.newID(),
		Expression: expr,
		Command:    command,
		Channel:    channel,
		Timezone:   tz,
	}
	next := b.doc
	next.Events = append(append(make([]Event, 0, len(b.doc.Events)+1), b.doc.Events...), ev)
	if err := b.saveLocked(ctx, next); err != nil {
		return "", err
	}
	b.log.Info("event added",
		logx.String("id", ev.ID),
		logx.String("time", ev.Expression),
		logx.String("channel", ev.Channel),
		logx.String("tz", ev.Timezone),
	)
	return ev.ID, nil
}

// List returns events in insertion order. An empty channel lists all events.
func (b *Book) List(channel string) []Listing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return listFiltered(b.doc.Events, channel)
}

func listFiltered(events []Event, channel string) []Listing {
	out := make([]Listing, 0, len(events))
	for _, ev := range events {
		if channel != "" && ev.Channel != channel {
			continue
		}
		out = append(out, Listing{Index: len(out), Event: ev})
	}
	return out
}

// Events returns a copy of the current snapshot's events.
func (b *Book) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.doc.Events...)
}

func (b *Book) Get(id string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.doc.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// Remove deletes the event with the given id. An unknown id is logged and
// reported as false, not as an error.
func (b *Book) Remove(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return false, err
	}
	return b.removeLocked(ctx, id)
}

// RemoveAt deletes the event shown at index in List(channel).
// An out-of-range index is logged and reported as false.
func (b *Book) RemoveAt(ctx context.Context, index int, channel string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return false, err
	}
	ls := listFiltered(b.doc.Events, channel)
	if index < 0 || index >= len(ls) {
		b.log.Info("remove ignored", logx.Int("index", index), logx.String("channel", channel), logx.Err(ErrNotFound))
		return false, nil
	}
	return b.removeLocked(ctx, ls[index].Event.ID)
}

func (b *Book) removeLocked(ctx context.Context, id string) (bool, error) {
	pos := -1
	for i, ev := range b.doc.Events {
		if ev.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		b.log.Info("remove ignored", logx.String("id", id), logx.Err(ErrNotFound))
		return false, nil
	}
	next := b.doc
	next.Events = make([]Event, 0, len(b.doc.Events)-1)
	next.Events = append(next.Events, b.doc.Events[:pos]...)
	next.Events = append(next.Events, b.doc.Events[pos+1:]...)
	if err := b.saveLocked(ctx, next); err != nil {
		return false, err
	}
	b.log.Info("event removed", logx.String("id", id))
	return true, nil
}

// SetTimezone changes the default applied to future Add calls.
func (b *Book) SetTimezone(ctx context.Context, tz string) error {
	tz = strings.TrimSpace(tz)
	if _, err := LoadTimezone(tz); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return err
	}
	next := b.doc
	next.DefaultTimezone = tz
	if err := b.saveLocked(ctx, next); err != nil {
		return err
	}
	b.log.Info("default timezone changed", logx.String("tz", tz))
	return nil
}

func (b *Book) Timezone() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.DefaultTimezone
}
