package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "hadroid/internal/transport"
)

type chanSender struct{ ch chan string }

func (s chanSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.ch <- text
	return kit.MessageRef{}, nil
}

func TestNewWriterFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "cron"))
	log.Debug("hidden")
	log.Info("fired", Int("n", 2), Strings("ids", []string{"a", "b"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["message"] != "fired" || m["comp"] != "cron" || m["n"] != float64(2) {
		t.Fatalf("entry = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	Nop().With(String("a", "b")).Error("still nothing")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatChatJSON(t *testing.T) {
	t.Parallel()
	got := formatChatJSON([]byte(`{"level":"warn","time":"x","message":"book reload failed","err":"disk full","comp":"cron"}` + "\n"))
	want := "[WARN] book reload failed\n- comp=cron\n- err=disk full"
	if got != want {
		t.Fatalf("formatChatJSON = %q, want %q", got, want)
	}
	if got := formatChatJSON([]byte("not json")); got != "not json" {
		t.Fatalf("formatChatJSON(raw) = %q", got)
	}
	if got := truncate(strings.Repeat("x", 50), 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	t.Parallel()
	sent := make(chan string, 4)
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, chanSender{ch: sent})
	defer svc.Close()
	svc.SetChatTarget(kit.ChatTarget{ChatID: -100, ThreadID: 2})

	log.Info("routine")
	log.Warn("cron command failed", String("cmd", "menu"))

	select {
	case msg := <-sent:
		if !strings.HasPrefix(msg, "[WARN] cron command failed") || !strings.Contains(msg, "- cmd=menu") {
			t.Fatalf("chat message = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("warning not forwarded")
	}
	select {
	case msg := <-sent:
		t.Fatalf("unexpected chat message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
