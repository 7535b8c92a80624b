package base

import (
	"strings"
	"testing"

	"hadroid/internal/plugin/plugintest"
)

func TestPingEchoAndNotes(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), `{"whatsnew":"v2: cron timezones"}`)

	h.Say(t, "bob", "!ping")
	if got := h.Sender.Last(); got != "Pong!" {
		t.Fatalf("ping = %q", got)
	}
	h.Say(t, "bob", `!echo hello "big world"`)
	if got := h.Sender.Last(); got != "hello big world" {
		t.Fatalf("echo = %q", got)
	}
	h.Say(t, "bob", "!whatsnew")
	last := h.Sender.Sent()[len(h.Sender.Sent())-1]
	if last.Text != "v2: cron timezones" || !last.Preformatted {
		t.Fatalf("whatsnew = %+v", last)
	}
	h.Say(t, "bob", "!changelog")
	if got := h.Sender.Last(); got != "Nothing to report." {
		t.Fatalf("changelog = %q", got)
	}
}

func TestSelfdestruct(t *testing.T) {
	t.Parallel()
	h := plugintest.New(t, New(), `{"countdown":"1ms"}`, "alice")

	h.Say(t, "bob", "!selfdestruct")
	if got := h.Sender.Last(); got != "I'm sorry bob, I'm afraid I can't do that." {
		t.Fatalf("refusal = %q", got)
	}
	if len(h.Shutdowns()) != 0 {
		t.Fatal("non-admin triggered shutdown")
	}

	h.Sender.Reset()
	h.Say(t, "alice", "!selfdestruct")
	want := "Self destructing in 3...|2...|1..|:boom:"
	if got := strings.Join(h.Sender.Texts(), "|"); got != want {
		t.Fatalf("countdown = %q, want %q", got, want)
	}
	if s := h.Shutdowns(); len(s) != 1 || s[0] != "selfdestruct" {
		t.Fatalf("shutdowns = %v", s)
	}
}
