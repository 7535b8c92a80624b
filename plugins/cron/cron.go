// Package cron is the chat front end of the scheduled-command book.
package cron

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hadroid/internal/cronbook"
	"hadroid/internal/plugin"
	"hadroid/internal/router"
	logx "hadroid/pkg/logx"
)

const (
	usageAdd      = "cron add [--tz <zone>] <time> <cmd>..."
	usageRemove   = "cron remove <idx|id>"
	usageList     = "cron list [--all]"
	usageNext     = "cron next"
	usageTimezone = "cron timezone [<tzname>]"

	nextLayout = "Mon 2006-01-02 15:04 MST"
)

type Plugin struct {
	plugin.Base
	book *cronbook.Book
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "cron" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Book == nil {
		return errors.New("cron: event book required")
	}
	p.book = deps.Book
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Route: "cron add", Description: "schedule a command", Usage: usageAdd, Access: router.AccessAdmin, Handle: p.add},
		{Route: "cron remove", Aliases: []string{"cron_rm"}, Description: "remove a scheduled command", Usage: usageRemove, Access: router.AccessAdmin, Handle: p.remove},
		{Route: "cron list", Description: "list scheduled commands", Usage: usageList, BoolFlags: []string{"all"}, Handle: p.list},
		{Route: "cron next", Description: "when the next command fires", Usage: usageNext, Handle: p.next},
		{Route: "cron timezone", Description: "show or set the default timezone", Usage: usageTimezone, Audit: true, Handle: p.timezone},
	}
}

// splitAdd reads "[--tz <zone>] <time> <cmd>..." from raw tokens. A single
// command token is taken verbatim so `cron add "0 12 * * *" "menu --yall"`
// and `cron add "0 12 * * *" menu --yall` schedule the same text.
func splitAdd(raw []string) (tz, expr, command string, err error) {
	if len(raw) >= 2 && (raw[0] == "--tz" || raw[0] == "-tz") {
		tz, raw = raw[1], raw[2:]
	} else if len(raw) >= 1 && strings.HasPrefix(raw[0], "--tz=") {
		tz, raw = strings.TrimPrefix(raw[0], "--tz="), raw[1:]
	}
	if len(raw) < 2 {
		return "", "", "", router.ErrUsage
	}
	expr = raw[0]
	if len(raw) == 2 {
		command = raw[1]
	} else {
		command = router.JoinArgs(raw[1:])
	}
	return tz, expr, command, nil
}

func (p *Plugin) add(ctx context.Context, req *router.Request) error {
	tz, expr, command, err := splitAdd(req.RawArgs)
	if err != nil {
		return err
	}
	id, err := p.book.Add(ctx, expr, command, req.Channel, tz)
	switch {
	case errors.Is(err, cronbook.ErrInvalidExpression):
		return req.Reply(ctx, fmt.Sprintf("Invalid time %q: use five cron fields (minute hour day month weekday).", expr))
	case errors.Is(err, cronbook.ErrUnknownTimezone):
		return req.Reply(ctx, fmt.Sprintf("Unknown timezone %q.", tz))
	case errors.Is(err, cronbook.ErrEmptyCommand):
		return router.ErrUsage
	case err != nil:
		return err
	}
	ev, _ := p.book.Get(id)
	idx := len(p.book.List(req.Channel)) - 1
	p.Publish("added", ev)
	return req.Reply(ctx, fmt.Sprintf("Scheduled %d (%s %s): '%s'", idx, ev.Expression, ev.Timezone, ev.Command))
}

func (p *Plugin) remove(ctx context.Context, req *router.Request) error {
	if len(req.RawArgs) != 1 {
		return router.ErrUsage
	}
	key := req.RawArgs[0]
	var (
		ok  bool
		err error
	)
	if idx, convErr := strconv.Atoi(key); convErr == nil {
		ok, err = p.book.RemoveAt(ctx, idx, req.Channel)
	} else {
		ok, err = p.book.Remove(ctx, key)
	}
	if err != nil {
		return err
	}
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("No scheduled command %s.", key))
	}
	p.Publish("removed", key)
	return req.Reply(ctx, fmt.Sprintf("Removed %s.", key))
}

func (p *Plugin) list(ctx context.Context, req *router.Request) error {
	p.reload(ctx, req)
	all := req.BoolFlags["all"]
	channel := req.Channel
	if all {
		channel = ""
	}
	ls := p.book.List(channel)
	if len(ls) == 0 {
		return req.Reply(ctx, "No scheduled commands.")
	}
	lines := make([]string, 0, len(ls))
	for _, l := range ls {
		line := fmt.Sprintf("%d (%s): '%s'", l.Index, l.Event.Expression, l.Event.Command)
		if all {
			line += " @ " + l.Event.Channel
		}
		lines = append(lines, line)
	}
	return req.ReplyBlock(ctx, strings.Join(lines, "\n"))
}

func (p *Plugin) next(ctx context.Context, req *router.Request) error {
	p.reload(ctx, req)
	ls := p.book.List(req.Channel)
	events := make([]cronbook.Event, 0, len(ls))
	for _, l := range ls {
		events = append(events, l.Event)
	}
	ev, at, ok := cronbook.Upcoming(events, p.Now())
	if !ok {
		return req.Reply(ctx, "No scheduled commands.")
	}
	if loc, err := cronbook.LoadTimezone(ev.Timezone); err == nil {
		at = at.In(loc)
	}
	return req.Reply(ctx, fmt.Sprintf("Next: '%s' at %s (%s)", ev.Command, at.Format(nextLayout), ev.Expression))
}

func (p *Plugin) timezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 1 {
		return router.ErrUsage
	}
	if len(req.Args) == 0 {
		p.reload(ctx, req)
		return req.Reply(ctx, "Default timezone: "+p.book.Timezone())
	}
	if !req.IsAdmin() {
		return req.Reply(ctx, fmt.Sprintf("I'm sorry %s, I'm afraid I can't do that.", req.FirstName()))
	}
	tz := req.Args[0]
	if err := p.book.SetTimezone(ctx, tz); err != nil {
		if errors.Is(err, cronbook.ErrUnknownTimezone) {
			return req.Reply(ctx, fmt.Sprintf("Unknown timezone %q.", tz))
		}
		return err
	}
	req.Logger.Info("default timezone changed", logx.String("tz", tz))
	return req.Reply(ctx, "Default timezone set to "+tz)
}

// reload refreshes the snapshot so reads see writes from other processes
// sharing the store. A failed reload still answers from the last snapshot.
func (p *Plugin) reload(ctx context.Context, req *router.Request) {
	if err := p.book.Reload(ctx); err != nil {
		req.Logger.Warn("cron book reload failed; using last snapshot", logx.Err(err))
	}
}
