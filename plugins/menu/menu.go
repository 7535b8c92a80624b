// Package menu posts the restaurant lunch menu.
package menu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"hadroid/internal/plugin"
	"hadroid/internal/router"
	logx "hadroid/pkg/logx"
)

const usage = "(menu | m) [<day>] [--yall]"

type Config struct {
	// Restaurant appears in the header ("Today's R2 selection:").
	Restaurant string `json:"restaurant,omitempty"`
	// Timezone decides what "today" is. Default: UTC.
	Timezone string            `json:"timezone,omitempty"`
	Week     map[string][]Item `json:"week,omitempty"`
	Dates    map[string][]Item `json:"dates,omitempty"`
}

type Plugin struct {
	plugin.Base

	provider Provider
	builtin  *ConfigProvider

	mu         sync.RWMutex
	restaurant string
	loc        *time.Location
}

// New returns a menu plugin backed by its own config.
func New() *Plugin {
	cp := &ConfigProvider{}
	return &Plugin{provider: cp, builtin: cp, restaurant: "R2", loc: time.UTC}
}

// NewWithProvider uses src for menus; Week and Dates in config are ignored.
func NewWithProvider(src Provider) *Plugin {
	return &Plugin{provider: src, restaurant: "R2", loc: time.UTC}
}

func (p *Plugin) Name() string { return "menu" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func decode(raw json.RawMessage) (Config, *time.Location, error) {
	c, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return c, nil, err
	}
	loc := time.UTC
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return c, nil, fmt.Errorf("timezone: %w", err)
		}
	}
	for day := range c.Week {
		if _, ok := weekdays[strings.ToLower(day)]; !ok && !isWeekend(day) {
			return c, nil, fmt.Errorf("week: unknown day %q", day)
		}
	}
	for d := range c.Dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return c, nil, fmt.Errorf("dates: %q is not YYYY-MM-DD", d)
		}
	}
	return c, loc, nil
}

func isWeekend(day string) bool {
	d := strings.ToLower(day)
	return d == "saturday" || d == "sunday"
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, _, err := decode(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, loc, err := decode(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.loc = loc
	p.restaurant = "R2"
	if c.Restaurant != "" {
		p.restaurant = c.Restaurant
	}
	p.mu.Unlock()
	if p.builtin != nil {
		week := map[string][]Item{}
		for k, v := range c.Week {
			week[strings.ToLower(k)] = v
		}
		p.builtin.set(week, c.Dates)
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{{
		Route:       "menu",
		Aliases:     []string{"m"},
		Description: "today's lunch menu",
		Usage:       usage,
		BoolFlags:   []string{"yall"},
		Handle:      p.handle,
	}}
}

func (p *Plugin) handle(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 1 {
		return router.ErrUsage
	}
	day := strings.ToLower(req.Arg(0))
	if day == "" {
		day = "today"
	}
	p.mu.RLock()
	loc, restaurant := p.loc, p.restaurant
	p.mu.RUnlock()

	date, ok := resolveDay(day, p.Now().In(loc))
	if !ok {
		return req.Reply(ctx, badDay)
	}
	items, err := p.provider.Menu(ctx, date)
	if err != nil {
		req.Logger.Warn("menu fetch failed", logx.String("day", day), logx.Err(err))
		items = nil
	}
	msg := ""
	if req.BoolFlags["yall"] {
		msg = lunchCall
	}
	msg += formatMenu(items, day, restaurant)
	return req.Reply(ctx, msg)
}
