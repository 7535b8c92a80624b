package cronbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"hadroid/internal/storage"
	logx "hadroid/pkg/logx"
)

// flakyStore fails loads or saves on demand.
type flakyStore struct {
	storage.Store
	failLoad bool
	failSave bool
}

var errDisk = errors.New("disk on fire")

func (f *flakyStore) LoadDoc(ctx context.Context, name string, v any) (bool, error) {
	if f.failLoad {
		return false, errDisk
	}
	return f.Store.LoadDoc(ctx, name, v)
}

func (f *flakyStore) SaveDoc(ctx context.Context, name string, v any) error {
	if f.failSave {
		return errDisk
	}
	return f.Store.SaveDoc(ctx, name, v)
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ev-%d", n)
	}
}

func newTestBook(t *testing.T, st storage.Store) *Book {
	t.Helper()
	b, err := OpenBook(context.Background(), st, BookOptions{NewID: seqIDs()})
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	return b
}

func TestAddRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	b, err := OpenBook(ctx, st, BookOptions{})
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	id, err := b.Add(ctx, "*/5 * * * *", "menu today", "room1", "Europe/Zurich")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("Add returned empty id")
	}

	fresh, err := OpenBook(ctx, st, BookOptions{})
	if err != nil {
		t.Fatalf("OpenBook fresh: %v", err)
	}
	got, ok := fresh.Get(id)
	if !ok {
		t.Fatalf("Get(%q) not found after reload", id)
	}
	want := Event{ID: id, Expression: "*/5 * * * *", Command: "menu today", Channel: "room1", Timezone: "Europe/Zurich"}
	if got != want {
		t.Fatalf("reloaded event = %+v, want %+v", got, want)
	}
}

func TestPersistedDocumentShape(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	b := newTestBook(t, mem)
	if _, err := b.Add(context.Background(), "0 12 * * 1-5", "menu --yall", "42/7", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	raw, ok := mem.Raw(DefaultDocName)
	if !ok {
		t.Fatal("document not saved")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["defaultTimezone"] != "UTC" {
		t.Fatalf("defaultTimezone = %v, want UTC", doc["defaultTimezone"])
	}
	events := doc["events"].([]any)
	ev := events[0].(map[string]any)
	for k, want := range map[string]string{
		"eventId": "ev-1", "time": "0 12 * * 1-5", "command": "menu --yall", "roomId": "42/7", "timezone": "UTC",
	} {
		if ev[k] != want {
			t.Fatalf("event[%s] = %v, want %q", k, ev[k], want)
		}
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	b := newTestBook(t, mem)

	tests := []struct {
		name    string
		expr    string
		command string
		tz      string
		want    error
	}{
		{name: "four fields", expr: "* * * *", command: "ping", want: ErrInvalidExpression},
		{name: "descriptor", expr: "@hourly", command: "ping", want: ErrInvalidExpression},
		{name: "bad timezone", expr: "* * * * *", command: "ping", tz: "Nowhere/City", want: ErrUnknownTimezone},
		{name: "empty command", expr: "* * * * *", command: "  ", want: ErrEmptyCommand},
	}
	for _, tt := range tests {
		if _, err := b.Add(ctx, tt.expr, tt.command, "room1", tt.tz); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Add error = %v, want %v", tt.name, err, tt.want)
		}
	}
	if _, ok := mem.Raw(DefaultDocName); ok {
		t.Fatal("rejected adds must not write the document")
	}
	if n := len(b.List("")); n != 0 {
		t.Fatalf("List len = %d, want 0", n)
	}
}

func TestListFiltersByChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBook(t, storage.NewMemory())
	for _, ch := range []string{"room1", "room2", "room1"} {
		if _, err := b.Add(ctx, "0 * * * *", "ping", ch, ""); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	ls := b.List("room1")
	if len(ls) != 2 {
		t.Fatalf("List(room1) len = %d, want 2", len(ls))
	}
	for i, l := range ls {
		if l.Index != i || l.Event.Channel != "room1" {
			t.Fatalf("List(room1)[%d] = %+v", i, l)
		}
	}
	if ls[0].Event.ID != "ev-1" || ls[1].Event.ID != "ev-3" {
		t.Fatalf("List(room1) not in insertion order: %v, %v", ls[0].Event.ID, ls[1].Event.ID)
	}
	if n := len(b.List("")); n != 3 {
		t.Fatalf("List(all) len = %d, want 3", n)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBook(t, storage.NewMemory())
	for _, ch := range []string{"room1", "room2", "room1"} {
		if _, err := b.Add(ctx, "0 * * * *", "ping "+ch, ch, ""); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	ok, err := b.RemoveAt(ctx, 5, "room1")
	if err != nil || ok {
		t.Fatalf("RemoveAt(out of range) = %v, %v; want false, nil", ok, err)
	}
	if n := len(b.List("")); n != 3 {
		t.Fatalf("event count = %d after out-of-range remove, want 3", n)
	}
	if ok, err := b.RemoveAt(ctx, -1, ""); err != nil || ok {
		t.Fatalf("RemoveAt(-1) = %v, %v; want false, nil", ok, err)
	}

	// Index 1 within room1 is the third event overall.
	ok, err = b.RemoveAt(ctx, 1, "room1")
	if err != nil || !ok {
		t.Fatalf("RemoveAt(1, room1) = %v, %v", ok, err)
	}
	if _, found := b.Get("ev-3"); found {
		t.Fatal("ev-3 should be removed")
	}

	ok, err = b.Remove(ctx, "ev-2")
	if err != nil || !ok {
		t.Fatalf("Remove(ev-2) = %v, %v", ok, err)
	}
	ok, err = b.Remove(ctx, "ev-2")
	if err != nil || ok {
		t.Fatalf("Remove(ev-2) again = %v, %v; want false, nil", ok, err)
	}
	if ls := b.List(""); len(ls) != 1 || ls[0].Event.ID != "ev-1" {
		t.Fatalf("remaining = %+v", ls)
	}
}

func TestSetTimezoneAppliesToAdd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBook(t, storage.NewMemory())
	if err := b.SetTimezone(ctx, "America/New_York"); err != nil {
		t.Fatalf("SetTimezone: %v", err)
	}
	if got := b.Timezone(); got != "America/New_York" {
		t.Fatalf("Timezone = %q", got)
	}
	id, err := b.Add(ctx, "0 9 * * *", "ping", "room1", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	ev, _ := b.Get(id)
	if ev.Timezone != "America/New_York" {
		t.Fatalf("event timezone = %q, want America/New_York", ev.Timezone)
	}

	if err := b.SetTimezone(ctx, "Atlantis/Capital"); !errors.Is(err, ErrUnknownTimezone) {
		t.Fatalf("SetTimezone(bad) error = %v", err)
	}
	if got := b.Timezone(); got != "America/New_York" {
		t.Fatalf("Timezone after rejected set = %q", got)
	}
}

func TestStoreIOFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := &flakyStore{Store: storage.NewMemory()}
	b := newTestBook(t, fs)
	if _, err := b.Add(ctx, "0 * * * *", "ping", "room1", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fs.failSave = true
	if _, err := b.Add(ctx, "0 * * * *", "pong", "room1", ""); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("Add with failing save error = %v, want ErrStoreIO", err)
	}
	if n := len(b.List("")); n != 1 {
		t.Fatalf("event count after failed save = %d, want 1", n)
	}
	fs.failSave = false

	fs.failLoad = true
	if err := b.Reload(ctx); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("Reload error = %v, want ErrStoreIO", err)
	}
	if _, err := b.Remove(ctx, "ev-1"); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("Remove error = %v, want ErrStoreIO", err)
	}
}

func TestDefaultTimezoneSeed(t *testing.T) {
	t.Parallel()
	b, err := OpenBook(context.Background(), storage.NewMemory(), BookOptions{DefaultTimezone: "Europe/Zurich"})
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	if got := b.Timezone(); got != "Europe/Zurich" {
		t.Fatalf("Timezone = %q, want Europe/Zurich", got)
	}
}
