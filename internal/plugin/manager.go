package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"hadroid/internal/config"
	"hadroid/internal/router"
	logx "hadroid/pkg/logx"
)

// Registry receives the command set of running plugins.
type Registry interface {
	SetRegistry(cmds []router.Command)
}

const callTimeout = 10 * time.Second

// Manager starts, stops and reconfigures plugins according to the
// "plugins" config section. A plugin runs when plugins.<name>.enabled is true.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	deps Deps
	reg  Registry

	plugins map[string]Plugin
	order   []string
	run     map[string]bool
	// last config blob hash per running plugin (avoids redundant OnConfigChange calls)
	lastHash map[string]uint64
	pcancel  map[string]context.CancelFunc

	// long-lived parent of plugin contexts; StartAll may get a call-scoped ctx
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewManager(log logx.Logger, deps Deps, reg Registry) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:        log.With(logx.String("comp", "plugins")),
		deps:       deps,
		reg:        reg,
		plugins:    map[string]Plugin{},
		run:        map[string]bool{},
		lastHash:   map[string]uint64{},
		pcancel:    map[string]context.CancelFunc{},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

func (m *Manager) Register(ps ...Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		name := p.Name()
		if _, dup := m.plugins[name]; !dup {
			m.order = append(m.order, name)
		}
		m.plugins[name] = p
	}
}

// Running returns the names of running plugins, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, ok := range m.run {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// StartAll starts enabled plugins and publishes their commands.
func (m *Manager) StartAll(ctx context.Context, cfg *config.Config) {
	go func() {
		select {
		case <-ctx.Done():
			m.baseCancel()
		case <-m.baseCtx.Done():
		}
	}()
	m.Apply(cfg)
}

// Apply reconciles running plugins against cfg: enable, disable, or push
// changed plugin config.
func (m *Manager) Apply(cfg *config.Config) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, name := range names {
		m.mu.Lock()
		p := m.plugins[name]
		running := m.run[name]
		m.mu.Unlock()

		raw, ok := cfg.Plugins[name]
		enabled := ok && raw.Enabled
		switch {
		case enabled && !running:
			m.startOne(name, p, raw)
		case !enabled && running:
			sctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			m.stopOne(sctx, name, "disabled")
			cancel()
		case enabled && running:
			cp, ok := p.(ConfigurablePlugin)
			if !ok {
				break
			}
			h := config.HashJSON(raw.Config)
			m.mu.Lock()
			same := m.lastHash[name] == h
			m.lastHash[name] = h
			m.mu.Unlock()
			if same {
				m.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
				break
			}
			cctx, cancel := context.WithTimeout(m.baseCtx, callTimeout)
			if err := m.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) }); err != nil {
				m.log.Warn("plugin config apply failed", logx.String("plugin", name), logx.Err(err))
			}
			cancel()
		}
	}
	m.refreshRegistry()
}

func (m *Manager) startOne(name string, p Plugin, raw config.PluginConfigRaw) {
	pctx, cancel := context.WithCancel(m.baseCtx)

	ictx, icancel := context.WithTimeout(pctx, callTimeout)
	err := m.safeCall("plugin.init."+name, func() error { return p.Init(ictx, m.deps) })
	icancel()
	if err != nil {
		m.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
		cancel()
		return
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := m.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			m.log.Error("plugin config apply failed", logx.String("plugin", name), logx.Err(err))
			cancel()
			return
		}
	}
	if err := m.safeCall("plugin.start."+name, func() error { return p.Start(pctx) }); err != nil {
		m.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		cancel()
		return
	}

	m.mu.Lock()
	m.run[name] = true
	m.pcancel[name] = cancel
	m.lastHash[name] = config.HashJSON(raw.Config)
	m.mu.Unlock()
	m.log.Info("plugin started", logx.String("plugin", name))
}

func (m *Manager) stopOne(ctx context.Context, name, reason string) {
	m.mu.Lock()
	p := m.plugins[name]
	running := m.run[name]
	cancel := m.pcancel[name]
	m.mu.Unlock()
	if !running || p == nil {
		return
	}
	start := time.Now()
	// cancel plugin context first (stop background loops promptly)
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		_ = m.safeCall("plugin.stop."+name, func() error { return p.Stop(ctx) })
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(ctx.Err()))
	}

	m.mu.Lock()
	m.run[name] = false
	delete(m.pcancel, name)
	delete(m.lastHash, name)
	m.mu.Unlock()
	m.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", reason), logx.Duration("took", time.Since(start)))
}

// StopAll stops every running plugin.
func (m *Manager) StopAll(ctx context.Context, reason string) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()
	for i := len(names) - 1; i >= 0; i-- {
		m.stopOne(ctx, names[i], reason)
	}
	m.baseCancel()
}

// ValidateConfig runs plugin validators against a candidate config before
// it is committed. It does not call Init/Start/Stop.
func (m *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	plugins := make(map[string]Plugin, len(m.plugins))
	for k, v := range m.plugins {
		plugins[k] = v
	}
	m.mu.Unlock()

	for _, name := range names {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		v, ok := plugins[name].(ConfigValidator)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := v.ValidateConfig(cctx, raw.Config)
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) refreshRegistry() {
	m.mu.Lock()
	var cmds []router.Command
	for _, name := range m.order {
		if !m.run[name] {
			continue
		}
		for _, c := range m.plugins[name].Commands() {
			c.Plugin = name
			cmds = append(cmds, c)
		}
	}
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.SetRegistry(cmds)
	}
}

func (m *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}
