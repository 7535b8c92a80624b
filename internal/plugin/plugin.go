package plugin

import (
	"context"
	"encoding/json"
	"time"

	"hadroid/internal/cronbook"
	"hadroid/internal/eventbus"
	"hadroid/internal/router"
	"hadroid/internal/runtime/supervisor"
	"hadroid/internal/storage"
	kit "hadroid/internal/transport"
	logx "hadroid/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

// ConfigurablePlugin receives its raw "plugins.<name>.config" blob before
// Start and on every change.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before it is committed.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

type Deps struct {
	Logger logx.Logger
	Store  storage.Store
	Bus    eventbus.Bus
	Sender kit.Sender
	Book   *cronbook.Book

	// Shutdown asks the app to stop.
	Shutdown func(reason string)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Base is embedded by plugins:
//
//	type Plugin struct{ plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type Base struct {
	Log    logx.Logger
	Deps   Deps
	Runner *supervisor.Supervisor
	name   string

	ctx context.Context
}

// InitBase wires deps + logger.
func (b *Base) InitBase(deps Deps, name string) {
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	b.Deps = deps
	b.name = name
	b.Log = deps.Logger.With(logx.String("plugin", name))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *Base) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.NewSupervisor(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase cancels runner + waits bounded by ctx.
func (b *Base) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *Base) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *Base) Now() time.Time {
	if b.Deps.Now == nil {
		return time.Now()
	}
	return b.Deps.Now()
}

// Publish emits a plugin-namespaced event ("<plugin>.<kind>").
func (b *Base) Publish(kind string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: b.name + "." + kind, Time: b.Now(), Data: data})
}

// LoadDoc and SaveDoc read and write whole plugin documents.
func (b *Base) LoadDoc(ctx context.Context, name string, v any) (bool, error) {
	if b.Deps.Store == nil {
		return false, nil
	}
	return b.Deps.Store.LoadDoc(ctx, name, v)
}

func (b *Base) SaveDoc(ctx context.Context, name string, v any) error {
	if b.Deps.Store == nil {
		return nil
	}
	return b.Deps.Store.SaveDoc(ctx, name, v)
}

// DecodeConfig decodes a per-plugin raw json blob into a typed config struct.
func DecodeConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
