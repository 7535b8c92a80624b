package cronbook

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"hadroid/internal/eventbus"
	logx "hadroid/pkg/logx"
)

// Executor runs command text as a privileged user in channel.
type Executor interface {
	Execute(ctx context.Context, channel, command string) error
}

type ExecutorFunc func(ctx context.Context, channel, command string) error

func (f ExecutorFunc) Execute(ctx context.Context, channel, command string) error {
	return f(ctx, channel, command)
}

// FireEvent is the Data of cron.fired / cron.failed bus events.
type FireEvent struct {
	EventID   string
	Command   string
	Channel   string
	Scheduled time.Time
	Took      time.Duration
	Error     string
}

type DispatcherOptions struct {
	// Interval between iterations. Default 30s.
	Interval time.Duration
	// CommandTimeout bounds one command (0 disables).
	CommandTimeout time.Duration
	Bus            eventbus.Bus
	Logger         logx.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// TickResult summarizes one iteration.
type TickResult struct {
	Skipped bool // the book could not be read
	Fired   int
	Failed  int
}

// Dispatcher polls the book and executes due commands.
type Dispatcher struct {
	book    *Book
	backlog *Backlog
	exec    Executor
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	interval atomic.Int64
	timeout  time.Duration
}

func NewDispatcher(book *Book, exec Executor, opt DispatcherOptions) *Dispatcher {
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop{}
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	log := opt.Logger.With(logx.String("comp", "cron.dispatcher"))
	d := &Dispatcher{
		book:    book,
		backlog: NewBacklog(log),
		exec:    exec,
		bus:     opt.Bus,
		log:     log,
		now:     opt.Now,
		timeout: opt.CommandTimeout,
	}
	d.SetInterval(opt.Interval)
	return d
}

// SetInterval changes the poll interval; it applies from the next sleep.
// Non-positive values select 30s.
func (d *Dispatcher) SetInterval(iv time.Duration) {
	if iv <= 0 {
		iv = 30 * time.Second
	}
	d.interval.Store(int64(iv))
}

func (d *Dispatcher) Interval() time.Duration { return time.Duration(d.interval.Load()) }

func (d *Dispatcher) Backlog() *Backlog { return d.backlog }

// Run ticks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", logx.Duration("interval", d.Interval()))
	defer d.log.Info("dispatcher stopped")
	for {
		d.Tick(ctx)
		t := time.NewTimer(d.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Tick runs one iteration: reload, refresh, execute due events, drop them.
func (d *Dispatcher) Tick(ctx context.Context) TickResult {
	var res TickResult
	if err := d.book.Reload(ctx); err != nil {
		d.log.Warn("book reload failed; skipping iteration", logx.Err(err))
		d.bus.Publish(eventbus.Event{Type: eventbus.CronSkipped, Data: err.Error()})
		res.Skipped = true
		return res
	}

	now := d.now().UTC()
	d.backlog.Refresh(d.book.Events(), now)

	for _, id := range d.backlog.Due(now) {
		if ctx.Err() != nil {
			break
		}
		at, _ := d.backlog.At(id)
		ev, ok := d.book.Get(id)
		if !ok {
			d.backlog.Drop(id)
			continue
		}

		start := time.Now()
		err := d.fire(ctx, ev)
		d.backlog.Drop(id)

		fe := FireEvent{EventID: ev.ID, Command: ev.Command, Channel: ev.Channel, Scheduled: at, Took: time.Since(start)}
		if err != nil {
			res.Failed++
			fe.Error = err.Error()
			d.log.Warn("scheduled command failed",
				logx.String("id", ev.ID),
				logx.String("command", ev.Command),
				logx.String("channel", ev.Channel),
				logx.Err(err),
			)
			d.bus.Publish(eventbus.Event{Type: eventbus.CronFailed, Data: fe})
			continue
		}
		res.Fired++
		d.log.Info("scheduled command fired",
			logx.String("id", ev.ID),
			logx.String("command", ev.Command),
			logx.String("channel", ev.Channel),
			logx.Time("scheduled", at),
		)
		d.bus.Publish(eventbus.Event{Type: eventbus.CronFired, Data: fe})
	}
	return res
}

func (d *Dispatcher) fire(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("scheduled command panicked", logx.String("id", ev.ID), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: panic: %v", ErrDispatch, r)
		}
	}()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.exec.Execute(ctx, ev.Channel, ev.Command); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	return nil
}
