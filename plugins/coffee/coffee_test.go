package coffee

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hadroid/internal/plugin/plugintest"
	"hadroid/internal/router"
	"hadroid/internal/storage"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		args   []string
		action string
		n      int
		err    error
	}{
		{args: nil, action: "drink", n: 1},
		{args: []string{"drink", "3"}, action: "drink", n: 3},
		{args: []string{"pay"}, action: "pay", n: 1},
		{args: []string{"balance"}, action: "balance", n: 1},
		{args: []string{"stats"}, action: "stats", n: 1},
		{args: []string{"pay", "-2"}, err: router.ErrUsage},
		{args: []string{"drink", "x"}, err: router.ErrUsage},
		{args: []string{"balance", "1"}, err: router.ErrUsage},
		{args: []string{"steal"}, err: router.ErrUsage},
	}
	for _, tt := range tests {
		action, n, err := parseArgs(tt.args)
		if !errors.Is(err, tt.err) {
			t.Fatalf("parseArgs(%q) error = %v, want %v", tt.args, err, tt.err)
		}
		if err == nil && (action != tt.action || n != tt.n) {
			t.Fatalf("parseArgs(%q) = %s %d, want %s %d", tt.args, action, n, tt.action, tt.n)
		}
	}
}

func TestDrinkPayBalance(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "")

	steps := []struct{ text, want string }{
		{"!coffee", "@alice, coffee balance changed (0 -> 1)"},
		{"!c drink 2", "@alice, coffee balance changed (1 -> 3)"},
		{"!coffee pay 4", "@alice, coffee balance changed (3 -> -1)"},
		{"!c balance", "@alice's coffee balance: -1"},
	}
	for _, s := range steps {
		h.Say(t, "alice", s.text)
		if got := h.Sender.Last(); got != s.want {
			t.Fatalf("%s -> %q, want %q", s.text, got, s.want)
		}
	}

	raw, ok := h.Store.Raw(docName(plugintest.Room.String()))
	if !ok {
		t.Fatal("ledger not saved")
	}
	var l Ledger
	if err := json.Unmarshal(raw, &l); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	uid := uidOf(plugintest.UserID("alice"))
	if l.Balance[uid] != -1 || len(l.Ops) != 3 || l.Ops[2].Delta != -4 {
		t.Fatalf("ledger = %+v", l)
	}
	if l.Users[uid].Username != "alice" {
		t.Fatalf("user not recorded: %+v", l.Users)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "")
	h.Say(t, "carol", "!c stats")
	if got := h.Sender.Last(); got != "Coffee stats:\n@carol: 0 (drunk 0)" {
		t.Fatalf("stats with one idle user = %q", got)
	}
	h.Say(t, "bob", "!c drink 2")
	h.Say(t, "alice", "!c drink 5")
	h.Say(t, "alice", "!c pay 1")
	h.Say(t, "bob", "!c stats")
	want := "Coffee stats:\n@alice: 4 (drunk 5)\n@bob: 2 (drunk 2)\n@carol: 0 (drunk 0)"
	if got := h.Sender.Last(); got != want {
		t.Fatalf("stats = %q, want %q", got, want)
	}
}

func TestBadArgsReplyUsage(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "")
	h.Say(t, "alice", "!coffee pay lots")
	last := h.Sender.Sent()[len(h.Sender.Sent())-1]
	if !last.Preformatted || last.Text != "Usage:\n  "+usage {
		t.Fatalf("reply = %+v", last)
	}
}

func TestScheduledCoffeeNeedsUser(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "")
	err := h.Router.Execute(t.Context(), plugintest.Room.String(), "coffee drink")
	if !errors.Is(err, errNoUser) {
		t.Fatalf("Execute = %v, want errNoUser", err)
	}
}

func TestLedgerCompaction(t *testing.T) {
	t.Parallel()
	l := newLedger()
	uid := l.touch(User{ID: 1, Username: "a"})
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxOps+10; i++ {
		l.apply(uid, 1, at.Add(time.Duration(i)*time.Minute))
	}
	if len(l.Ops) != maxOps || l.Balance[uid] != maxOps+10 {
		t.Fatalf("ops = %d balance = %d", len(l.Ops), l.Balance[uid])
	}
	if !l.Ops[0].Time.Equal(at.Add(10 * time.Minute)) {
		t.Fatalf("oldest op = %v", l.Ops[0].Time)
	}
}

func TestDocNameIsValid(t *testing.T) {
	t.Parallel()
	for _, room := range []string{"100", "-1001234/7"} {
		if n := docName(room); !storage.ValidDocName(n) {
			t.Fatalf("docName(%q) = %q is not a valid document name", room, n)
		}
	}
}
