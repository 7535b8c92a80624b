// Package plugintest runs a plugin behind a real router and an in-memory
// store, so plugin tests can talk to it the way a chat user would.
package plugintest

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"sync"
	"testing"
	"time"

	"hadroid/internal/config"
	"hadroid/internal/cronbook"
	"hadroid/internal/eventbus"
	"hadroid/internal/plugin"
	"hadroid/internal/router"
	"hadroid/internal/storage"
	kit "hadroid/internal/transport"
	"hadroid/internal/transport/transporttest"
	logx "hadroid/pkg/logx"
)

// Room is where Say posts messages.
var Room = kit.ChatTarget{ChatID: 100, ThreadID: 7}

type Harness struct {
	Router  *router.Router
	Sender  *transporttest.Recorder
	Store   *storage.Memory
	Bus     eventbus.Bus
	Book    *cronbook.Book
	Manager *plugin.Manager

	mu        sync.Mutex
	now       time.Time
	shutdowns []string
}

// New starts p with raw as its plugin config. Users named in admins may run
// admin commands.
func New(t testing.TB, p plugin.Plugin, raw string, admins ...string) *Harness {
	t.Helper()
	log := logx.NewWriter(io.Discard, "debug")
	h := &Harness{
		Sender: &transporttest.Recorder{},
		Store:  storage.NewMemory(),
		Bus:    eventbus.New(),
		now:    time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	book, err := cronbook.OpenBook(context.Background(), h.Store, cronbook.BookOptions{Logger: log})
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	h.Book = book

	cfg := &config.Config{
		Bot: config.BotConfig{Name: "hadroid", Admins: admins},
		Plugins: map[string]config.PluginConfigRaw{
			p.Name(): {Enabled: true, Config: json.RawMessage(raw)},
		},
	}
	h.Router = router.New(router.Options{Logger: log, Sender: h.Sender, Store: h.Store, Bus: h.Bus})
	h.Router.SetConfig(cfg)

	deps := plugin.Deps{
		Logger:   log,
		Store:    h.Store,
		Bus:      h.Bus,
		Sender:   h.Sender,
		Book:     book,
		Shutdown: h.shutdown,
		Now:      h.Now,
	}
	h.Manager = plugin.NewManager(log, deps, h.Router)
	h.Manager.Register(p)
	if err := h.Manager.ValidateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.Manager.StartAll(ctx, cfg)
	if running := h.Manager.Running(); len(running) != 1 {
		cancel()
		t.Fatalf("plugin %s did not start", p.Name())
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		h.Manager.StopAll(sctx, "test")
		cancel()
	})
	return h
}

// UserID is the stable numeric id Say uses for user.
func UserID(user string) int64 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(user))
	return int64(f.Sum32())
}

// Say posts text as user and waits for the command to finish.
func (h *Harness) Say(t testing.TB, user, text string) {
	t.Helper()
	msg := &kit.Message{
		ChatID:       Room.ChatID,
		ThreadID:     Room.ThreadID,
		FromID:       UserID(user),
		FromUsername: user,
		FromName:     user + " McTest",
		Text:         text,
		SentAt:       h.Now(),
	}
	if err := h.Router.HandleMessage(context.Background(), msg); err != nil {
		t.Logf("%q: handler returned %v", text, err)
	}
}

func (h *Harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *Harness) SetNow(t time.Time) {
	h.mu.Lock()
	h.now = t
	h.mu.Unlock()
}

func (h *Harness) shutdown(reason string) {
	h.mu.Lock()
	h.shutdowns = append(h.shutdowns, reason)
	h.mu.Unlock()
}

// Shutdowns lists the reasons passed to Deps.Shutdown.
func (h *Harness) Shutdowns() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.shutdowns...)
}
