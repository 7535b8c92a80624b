// Package base provides the small always-on commands: ping, echo, whatsnew,
// changelog and selfdestruct.
package base

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"hadroid/internal/config"
	"hadroid/internal/plugin"
	"hadroid/internal/router"
	logx "hadroid/pkg/logx"
)

type Config struct {
	WhatsNew  string `json:"whatsnew"`
	Changelog string `json:"changelog"`
	// Countdown is the pause between selfdestruct messages. Default: 1s.
	Countdown string `json:"countdown,omitempty"`
}

const defaultCountdown = time.Second

type Plugin struct {
	plugin.Base

	mu  sync.RWMutex
	cfg Config
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "base" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return err
	}
	_, err = config.ParseDurationField("plugins.base.config.countdown", c.Countdown)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return p.StopBase(ctx) }

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "check the bot is alive",
			Usage:       "ping",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "Pong!")
			},
		},
		{
			Route:       "echo",
			Description: "say something",
			Usage:       "echo <msg>...",
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.RawArgs) == 0 {
					return router.ErrUsage
				}
				return req.Reply(ctx, strings.Join(req.RawArgs, " "))
			},
		},
		{
			Route:       "whatsnew",
			Description: "latest changes",
			Usage:       "whatsnew",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.ReplyBlock(ctx, orNothing(p.config().WhatsNew))
			},
		},
		{
			Route:       "changelog",
			Description: "full changelog",
			Usage:       "changelog",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.ReplyBlock(ctx, orNothing(p.config().Changelog))
			},
		},
		{
			Route:       "selfdestruct",
			Description: "stop the bot",
			Usage:       "selfdestruct",
			Access:      router.AccessAdmin,
			Handle:      p.selfdestruct,
		},
	}
}

func orNothing(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Nothing to report."
	}
	return s
}

func (p *Plugin) selfdestruct(ctx context.Context, req *router.Request) error {
	step, err := config.ParseDurationField("", p.config().Countdown)
	if err != nil || step <= 0 {
		step = defaultCountdown
	}
	for _, line := range []string{"Self destructing in 3...", "2...", "1.."} {
		if err := req.Reply(ctx, line); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
	if err := req.Reply(ctx, ":boom:"); err != nil {
		return err
	}
	p.Log.Warn("selfdestruct requested", logx.String("user", req.FromUsername), logx.Bool("scheduled", req.Scheduled))
	if p.Deps.Shutdown != nil {
		p.Deps.Shutdown("selfdestruct")
	}
	return nil
}
