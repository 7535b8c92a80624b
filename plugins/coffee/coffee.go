// Package coffee keeps a per-room ledger of coffees drunk and paid for.
package coffee

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"hadroid/internal/plugin"
	"hadroid/internal/router"
	logx "hadroid/pkg/logx"
)

const usage = "(coffee | c) [(drink [<n>] | pay [<n>] | balance | stats)]"

var errNoUser = errors.New("coffee needs a user; it cannot run from cron")

// BalanceChanged is published as "coffee.balance" after drink/pay.
type BalanceChanged struct {
	Room     string
	UserID   int64
	Username string
	From, To int
}

type Plugin struct {
	plugin.Base

	ledgerMu sync.Mutex
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "coffee" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("coffee: store required")
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{{
		Route:       "coffee",
		Aliases:     []string{"c"},
		Description: "coffee ledger",
		Usage:       usage,
		Handle:      p.handle,
	}}
}

// parseArgs applies the grammar; no action means drink.
func parseArgs(args []string) (action string, n int, err error) {
	action, n = "drink", 1
	if len(args) == 0 {
		return action, n, nil
	}
	action = args[0]
	rest := args[1:]
	switch action {
	case "drink", "pay":
		if len(rest) > 1 {
			return "", 0, router.ErrUsage
		}
		if len(rest) == 1 {
			v, err := strconv.Atoi(rest[0])
			if err != nil || v <= 0 {
				return "", 0, router.ErrUsage
			}
			n = v
		}
	case "balance", "stats":
		if len(rest) != 0 {
			return "", 0, router.ErrUsage
		}
	default:
		return "", 0, router.ErrUsage
	}
	return action, n, nil
}

func (p *Plugin) handle(ctx context.Context, req *router.Request) error {
	action, n, err := parseArgs(req.Args)
	if err != nil {
		return err
	}
	if req.FromID == 0 && action != "stats" {
		return errNoUser
	}
	user := User{ID: req.FromID, Username: req.FromUsername, Name: req.FromName}

	var (
		reply   string
		changed *BalanceChanged
	)
	err = p.update(ctx, req.Channel, func(l *Ledger) error {
		var uid string
		if req.FromID != 0 {
			uid = l.touch(user)
		}
		switch action {
		case "drink", "pay":
			delta := n
			if action == "pay" {
				delta = -n
			}
			from, to := l.apply(uid, delta, p.Now())
			reply = fmt.Sprintf("%s, coffee balance changed (%d -> %d)", req.Handle(), from, to)
			changed = &BalanceChanged{Room: req.Channel, UserID: req.FromID, Username: req.FromUsername, From: from, To: to}
		case "balance":
			reply = fmt.Sprintf("%s's coffee balance: %d", req.Handle(), l.Balance[uid])
		case "stats":
			reply = formatStats(l.stats())
		}
		return nil
	})
	if err != nil {
		req.Logger.Error("coffee ledger update failed", logx.Err(err))
		return err
	}
	if changed != nil {
		p.Publish("balance", *changed)
	}
	return req.Reply(ctx, reply)
}
