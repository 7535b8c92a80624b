package cron

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"hadroid/internal/cronbook"
	"hadroid/internal/plugin/plugintest"
	"hadroid/internal/router"
	logx "hadroid/pkg/logx"
)

func TestAddListRemove(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "", "alice")

	h.Say(t, "alice", `!cron add "*/5 * * * *" menu today`)
	if got := h.Sender.Last(); got != "Scheduled 0 (*/5 * * * * UTC): 'menu today'" {
		t.Fatalf("add = %q", got)
	}
	h.Say(t, "alice", "!cron add ``0 12 * * 1-5`` \"menu --yall\"")
	if got := h.Sender.Last(); got != "Scheduled 1 (0 12 * * 1-5 UTC): 'menu --yall'" {
		t.Fatalf("add quoted command = %q", got)
	}

	h.Say(t, "bob", "!cron list")
	last := h.Sender.Sent()[len(h.Sender.Sent())-1]
	want := "0 (*/5 * * * *): 'menu today'\n1 (0 12 * * 1-5): 'menu --yall'"
	if !last.Preformatted || last.Text != want {
		t.Fatalf("list = %+v", last)
	}

	h.Say(t, "alice", "!cron remove 5")
	if got := h.Sender.Last(); got != "No scheduled command 5." {
		t.Fatalf("remove out of range = %q", got)
	}
	h.Say(t, "alice", "!cron remove 0")
	if got := h.Sender.Last(); got != "Removed 0." {
		t.Fatalf("remove = %q", got)
	}
	h.Say(t, "bob", "!cron list")
	if got := h.Sender.Last(); got != "0 (0 12 * * 1-5): 'menu --yall'" {
		t.Fatalf("list after remove = %q", got)
	}

	// Remove by persistent id.
	id := h.Book.List("")[0].Event.ID
	h.Say(t, "alice", "!cron remove "+id)
	if got := h.Sender.Last(); got != "Removed "+id+"." {
		t.Fatalf("remove by id = %q", got)
	}
	h.Say(t, "bob", "!cron list")
	if got := h.Sender.Last(); got != "No scheduled commands." {
		t.Fatalf("empty list = %q", got)
	}
}

func TestAddRequiresAdminAndValidInput(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "", "alice")

	h.Say(t, "bob", `!cron add "* * * * *" ping`)
	if got := h.Sender.Last(); got != "I'm sorry bob, I'm afraid I can't do that." {
		t.Fatalf("non-admin add = %q", got)
	}
	h.Say(t, "alice", `!cron add "* * * *" ping`)
	if got := h.Sender.Last(); !strings.HasPrefix(got, `Invalid time "* * * *"`) {
		t.Fatalf("bad expr = %q", got)
	}
	h.Say(t, "alice", `!cron add --tz Mars/Base "* * * * *" ping`)
	if got := h.Sender.Last(); got != `Unknown timezone "Mars/Base".` {
		t.Fatalf("bad tz = %q", got)
	}
	h.Say(t, "alice", `!cron add "* * * * *"`)
	if got := h.Sender.Last(); got != "Usage:\n  "+usageAdd {
		t.Fatalf("missing command = %q", got)
	}
	if n := len(h.Book.List("")); n != 0 {
		t.Fatalf("rejected adds stored %d events", n)
	}

	h.Say(t, "alice", `!cron add --tz America/New_York "0 9 * * *" ping`)
	if ev := h.Book.List("")[0].Event; ev.Timezone != "America/New_York" {
		t.Fatalf("event tz = %q", ev.Timezone)
	}
	audit := h.Store.Audit()
	if len(audit) == 0 || audit[len(audit)-1].Action != "cron add" || !audit[len(audit)-1].OK {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestTimezoneCommand(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "", "alice")

	h.Say(t, "bob", "!cron timezone")
	if got := h.Sender.Last(); got != "Default timezone: UTC" {
		t.Fatalf("show = %q", got)
	}
	h.Say(t, "bob", "!cron timezone Europe/Zurich")
	if got := h.Sender.Last(); !strings.HasPrefix(got, "I'm sorry bob") {
		t.Fatalf("non-admin set = %q", got)
	}
	h.Say(t, "alice", "!cron timezone Atlantis")
	if got := h.Sender.Last(); got != `Unknown timezone "Atlantis".` {
		t.Fatalf("bad set = %q", got)
	}
	h.Say(t, "alice", "!cron timezone Europe/Zurich")
	if got := h.Book.Timezone(); got != "Europe/Zurich" {
		t.Fatalf("Timezone = %q", got)
	}
	h.Say(t, "alice", `!cron add "0 12 * * *" ping`)
	if got := h.Sender.Last(); got != "Scheduled 0 (0 12 * * * Europe/Zurich): 'ping'" {
		t.Fatalf("add after tz change = %q", got)
	}
}

func TestNext(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "", "alice")
	h.Say(t, "bob", "!cron next")
	if got := h.Sender.Last(); got != "No scheduled commands." {
		t.Fatalf("empty next = %q", got)
	}
	h.Say(t, "alice", `!cron add "0 * * * *" ping`)
	h.Say(t, "alice", `!cron add "*/5 * * * *" menu`)
	h.Say(t, "bob", "!cron next")
	if got := h.Sender.Last(); got != "Next: 'menu' at Mon 2025-06-02 10:05 UTC (*/5 * * * *)" {
		t.Fatalf("next = %q", got)
	}
}

func TestScheduledCommandsReachTheRoom(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), "", "alice")
	h.Say(t, "alice", `!cron add "*/5 * * * *" cron list`)
	h.Say(t, "alice", `!cron add "*/5 * * * *" nosuchcommand`)
	h.Sender.Reset()

	now := time.Date(2025, 6, 2, 10, 2, 0, 0, time.UTC)
	d := cronbook.NewDispatcher(h.Book, cronbook.ExecutorFunc(h.Router.Execute), cronbook.DispatcherOptions{
		Logger: logx.NewWriter(io.Discard, "debug"),
		Bus:    h.Bus,
		Now:    func() time.Time { return now },
	})
	ctx := context.Background()
	d.Tick(ctx)
	now = now.Add(3 * time.Minute)
	res := d.Tick(ctx)
	if res.Fired != 1 || res.Failed != 1 {
		t.Fatalf("tick = %+v, want 1 fired 1 failed", res)
	}

	sent := h.Sender.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want listing and usage", len(sent))
	}
	if sent[0].To != plugintest.Room || !strings.HasPrefix(sent[0].Text, "0 (*/5 * * * *): 'cron list'") {
		t.Fatalf("listing = %+v", sent[0])
	}
	if !sent[1].Preformatted || !strings.HasPrefix(sent[1].Text, "Usage:") {
		t.Fatalf("unknown command reply = %+v", sent[1])
	}
}

func TestSplitAdd(t *testing.T) {
	t.Parallel()
	tz, expr, cmd, err := splitAdd([]string{"--tz=UTC", "0 12 * * *", "echo", "hello world"})
	if err != nil || tz != "UTC" || expr != "0 12 * * *" || cmd != `echo "hello world"` {
		t.Fatalf("splitAdd = %q %q %q %v", tz, expr, cmd, err)
	}
	if _, _, _, err := splitAdd([]string{"--tz", "UTC", "0 12 * * *"}); err != router.ErrUsage {
		t.Fatalf("splitAdd without command = %v", err)
	}
}
