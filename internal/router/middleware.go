package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"hadroid/internal/eventbus"
	"hadroid/internal/storage"
	logx "hadroid/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// CommandEvent is the payload of command.handled / command.failed.
type CommandEvent struct {
	ReqID     string
	Command   string
	Channel   string
	FromID    int64
	Scheduled bool
	Took      time.Duration
	Error     string
}

func MWRequestLog(log logx.Logger, bus eventbus.Bus) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			ev := CommandEvent{
				ReqID:     req.ReqID,
				Command:   req.Command,
				Channel:   req.Channel,
				FromID:    req.FromID,
				Scheduled: req.Scheduled,
				Took:      d,
			}
			if err != nil {
				ev.Error = err.Error()
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				bus.Publish(eventbus.Event{Type: eventbus.CommandFailed, Time: time.Now(), Data: ev})
			} else {
				logger.Info("request ok", logx.Duration("dur", d))
				bus.Publish(eventbus.Event{Type: eventbus.CommandHandled, Time: time.Now(), Data: ev})
			}
			return err
		}
	}
}

const auditTimeout = 5 * time.Second

// MWAudit writes one storage audit entry per invocation of an admin (or
// Audit-marked) command. Audit write failures are logged, never returned.
func MWAudit(st storage.Store, cmd Command) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if st == nil || (cmd.Access != AccessAdmin && !cmd.Audit) {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)

			entry := storage.AuditEntry{
				At:            start.UTC(),
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				Room:          req.Channel,
				Plugin:        cmd.Plugin,
				Action:        cmd.Route,
				Args:          JoinArgs(req.RawArgs),
				OK:            err == nil,
				TookMS:        time.Since(start).Milliseconds(),
			}
			if req.Scheduled {
				entry.ActorUsername = "cron"
			}
			if err != nil {
				entry.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
			defer cancel()
			if aerr := st.AppendAudit(actx, entry); aerr != nil {
				req.Logger.Warn("audit write failed", logx.Err(aerr))
			}
			return err
		}
	}
}
