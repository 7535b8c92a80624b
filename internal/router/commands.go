package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hadroid/internal/config"
	"hadroid/internal/eventbus"
	"hadroid/internal/storage"
	kit "hadroid/internal/transport"
	logx "hadroid/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

var (
	// ErrUnknownCommand is returned by Execute when the text names no command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage is returned by handlers on bad arguments; the router replies
	// with the command usage.
	ErrUsage = errors.New("bad arguments")
	// ErrBadChannel is returned by Execute for unparsable room ids.
	ErrBadChannel = errors.New("bad channel")
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "ping"
	//   "cron add"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["c"] for "coffee"
	Description string
	Usage       string
	Access      Access

	Plugin  string
	Timeout time.Duration // optional per-command override
	// BoolFlags never take a value, so "menu --yall today" keeps "today"
	// as a positional argument.
	BoolFlags []string
	// Audit records every invocation, not just admin ones.
	Audit  bool
	Handle HandlerFunc
}

type Request struct {
	Msg     *kit.Message // nil for scheduled invocations
	Room    kit.ChatTarget
	Channel string // Room.String()

	FromID       int64
	FromUsername string
	FromName     string

	// Privileged requests pass admin checks. Scheduled implies Privileged.
	Privileged bool
	Scheduled  bool

	Path    []string // matched command path tokens
	Command string   // route
	Args    []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Sender kit.Sender
	Config *config.Config
	Logger logx.Logger

	admin bool
	usage string
}

// IsAdmin reports whether the caller may run admin commands.
func (r *Request) IsAdmin() bool { return r.Privileged || r.admin }

func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Room, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyBlock sends text as a fixed-width block.
func (r *Request) ReplyBlock(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Room, text, &kit.SendOptions{Preformatted: true, DisablePreview: true})
	return err
}

// FirstName is the first word of the sender's display name, falling back to
// the username.
func (r *Request) FirstName() string {
	if f := strings.Fields(r.FromName); len(f) > 0 {
		return f[0]
	}
	if r.FromUsername != "" {
		return r.FromUsername
	}
	return "Dave"
}

// Handle returns the sender's chat handle ("@name"), or the display name
// when the sender has no username.
func (r *Request) Handle() string {
	if r.FromUsername != "" {
		return "@" + r.FromUsername
	}
	if r.FromName != "" {
		return r.FromName
	}
	return strconv.FormatInt(r.FromID, 10)
}

// Arg returns positional argument i or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

type Options struct {
	Logger logx.Logger
	Sender kit.Sender
	// Store receives audit entries; nil disables auditing.
	Store storage.Store
	Bus   eventbus.Bus

	// QueueSize bounds pending inbound commands (default 256).
	QueueSize int
}

type Router struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode

	cfg atomic.Pointer[config.Config]

	log    logx.Logger
	sender kit.Sender
	store  storage.Store
	bus    eventbus.Bus

	jobs chan func()
}

func New(opt Options) *Router {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop{}
	}
	r := &Router{
		root:   newRoot(),
		alias:  map[string]*cmdNode{},
		log:    opt.Logger.With(logx.String("comp", "router")),
		sender: opt.Sender,
		store:  opt.Store,
		bus:    opt.Bus,
		jobs:   make(chan func(), opt.QueueSize),
	}
	r.cfg.Store(&config.Config{})
	return r
}

// SetConfig swaps prefixes, the bot name, admins and timeouts. Safe to call
// during hot-reload.
func (r *Router) SetConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	r.cfg.Store(cfg)
}

func (r *Router) config() *config.Config { return r.cfg.Load() }

func (r *Router) SetRegistry(cmds []Command) {
	// always inject help
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "help [<cmd>...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyBlock(ctx, r.helpText(req.Args))
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)

		leaf := root.find(route)
		// auto alias for multi-token routes: "cron list" -> "cron_list" (Telegram menu shortcuts)
		if len(route) > 1 {
			auto := strings.Join(route, "_")
			if _, exists := alias[auto]; !exists {
				alias[auto] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()
}

// Commands returns the registered commands in route order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.commands()
}

// MenuCommands lists top-level commands for platform command menus.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []kit.BotCommand
	for _, name := range r.root.childNames() {
		n := r.root.children[name]
		desc := name
		if n.cmd != nil && n.cmd.Description != "" {
			desc = n.cmd.Description
		} else if len(n.children) > 0 {
			desc = name + " commands"
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}

// resolution is the outcome of matching tokens against the registry.
type resolution struct {
	cmd  *Command
	path []string
	args []string
	node *cmdNode
}

func (r *Router) resolve(words []string) (resolution, bool) {
	if len(words) == 0 {
		return resolution{}, false
	}
	word := strings.ToLower(words[0])
	args := words[1:]

	r.mu.RLock()
	rootNode := r.root
	aliasMap := r.alias
	r.mu.RUnlock()

	// alias as root-level shortcut
	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		return resolution{cmd: &cmd, path: splitRoute(cmd.Route), args: args, node: leaf}, true
	}

	cur, ok := rootNode.child(word)
	if !ok {
		return resolution{}, false
	}
	path := []string{word}
	for len(args) > 0 {
		nxt := args[0]
		if strings.HasPrefix(nxt, "-") { // flags start, stop subcommand traversal
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, strings.ToLower(nxt))
		args = args[1:]
	}
	res := resolution{path: path, args: args, node: cur}
	if cur.cmd != nil {
		cmd := *cur.cmd
		res.cmd = &cmd
	}
	return res, true
}

func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := r.config().Bot.Workers
	if workers <= 0 {
		workers = 4
	}
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var wg sync.WaitGroup
	jobs := r.jobs
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-jobs:
					if job != nil {
						job()
					}
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("updates channel closed")
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.routeMessage(ctx, up.Message)
			}
		}
	}
}

// HandleMessage routes one inbound message synchronously. DispatchLoop uses
// the worker pool instead; tests and one-shot mode call this directly.
func (r *Router) HandleMessage(ctx context.Context, msg *kit.Message) error {
	run, ok := r.prepare(ctx, msg)
	if !ok {
		return nil
	}
	return run(ctx)
}

func (r *Router) routeMessage(ctx context.Context, msg *kit.Message) {
	run, ok := r.prepare(ctx, msg)
	if !ok {
		return
	}
	select {
	case r.jobs <- func() { _ = run(ctx) }:
	default:
		_, _ = r.sender.SendText(ctx, msg.Target(), "busy, try again", nil)
	}
}

// prepare turns a chat message into a runnable invocation. ok is false when
// the message is not addressed to the bot or was answered already (usage,
// refusal).
func (r *Router) prepare(ctx context.Context, msg *kit.Message) (run func(context.Context) error, ok bool) {
	if msg == nil {
		return nil, false
	}
	cfg := r.config()
	if isSelf(msg.FromUsername, cfg.Bot.Name) {
		return nil, false
	}
	line, ok := extractCommand(msg.Text, cfg.Bot.Prefixes, cfg.Bot.Name)
	if !ok {
		return nil, false
	}
	words := tokenizeCommandLine(line)
	if len(words) == 0 {
		return nil, false
	}
	room := msg.Target()
	res, found := r.resolve(words)
	if !found || res.cmd == nil {
		r.replyHelp(ctx, room, res, found)
		return nil, false
	}

	req := r.newRequest(cfg, room, *res.cmd, res)
	req.Msg = msg
	req.FromID = msg.FromID
	req.FromUsername = msg.FromUsername
	req.FromName = msg.FromName
	req.admin = isAdmin(msg.FromID, msg.FromUsername, cfg.Bot.Admins)
	req.Logger = req.Logger.With(logx.Int64("from_id", msg.FromID))

	if res.cmd.Access == AccessAdmin && !req.IsAdmin() {
		_ = req.Reply(ctx, fmt.Sprintf("I'm sorry %s, I'm afraid I can't do that.", req.FirstName()))
		req.Logger.Warn("admin command refused", logx.String("user", msg.FromUsername))
		return nil, false
	}
	h := r.chain(*res.cmd)
	return func(ctx context.Context) error { return h(ctx, req) }, true
}

// Execute runs command text on behalf of the system in channel. It is the
// entry point for scheduled commands: the call is synchronous and passes
// admin checks.
func (r *Router) Execute(ctx context.Context, channel, command string) error {
	room, err := kit.ParseChatTarget(channel)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrBadChannel, channel, err)
	}
	words := tokenizeCommandLine(command)
	if len(words) == 0 {
		return fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}
	res, found := r.resolve(words)
	if !found || res.cmd == nil {
		r.replyHelp(ctx, room, res, found)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, words[0])
	}
	req := r.newRequest(r.config(), room, *res.cmd, res)
	req.Privileged = true
	req.Scheduled = true
	req.Logger = req.Logger.With(logx.Bool("scheduled", true))
	return r.chain(*res.cmd)(ctx, req)
}

func (r *Router) newRequest(cfg *config.Config, room kit.ChatTarget, cmd Command, res resolution) *Request {
	pos, flags, bools := parseFlags(res.args, cmd.BoolFlags)
	rid := newReqID()
	return &Request{
		Room:      room,
		Channel:   room.String(),
		Path:      res.path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   res.args,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Sender:    r.sender,
		Config:    cfg,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("room", room.String()),
			logx.String("cmd", cmd.Route),
		),
		usage: cmd.Usage,
	}
}

func (r *Router) chain(cmd Command) HandlerFunc {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.config().Bot.Timeout()
	}
	return Chain(
		withUsage(cmd.Handle),
		MWPanicRecover(r.log),
		MWRequestLog(r.log, r.bus),
		MWAudit(r.store, cmd),
		MWTimeout(timeout),
	)
}

// withUsage replies with the command usage when the handler reports bad
// arguments.
func withUsage(h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		err := h(ctx, req)
		if errors.Is(err, ErrUsage) && req.usage != "" {
			_ = req.ReplyBlock(ctx, "Usage:\n  "+req.usage)
		}
		return err
	}
}

func (r *Router) replyHelp(ctx context.Context, room kit.ChatTarget, res resolution, found bool) {
	var text string
	if found && res.node != nil {
		text = r.helpText(res.path)
	} else {
		text = r.helpText(nil)
	}
	if _, err := r.sender.SendText(ctx, room, text, &kit.SendOptions{Preformatted: true, DisablePreview: true}); err != nil {
		r.log.Warn("send usage failed", logx.String("room", room.String()), logx.Err(err))
	}
}

func isSelf(username, botName string) bool {
	return botName != "" && strings.EqualFold(strings.TrimPrefix(username, "@"), strings.TrimPrefix(botName, "@"))
}

// isAdmin matches admins by numeric id or by username (case-insensitive,
// leading "@" optional).
func isAdmin(id int64, username string, admins []string) bool {
	idStr := strconv.FormatInt(id, 10)
	user := strings.TrimPrefix(username, "@")
	for _, a := range admins {
		a = strings.TrimPrefix(strings.TrimSpace(a), "@")
		if a == "" {
			continue
		}
		if a == idStr && id != 0 {
			return true
		}
		if user != "" && strings.EqualFold(a, user) {
			return true
		}
	}
	return false
}

// extractCommand strips the command marker from chat text. Accepted forms:
//
//	!ping            (any configured prefix; "!" and "/" by default)
//	/ping@hadroid    (Telegram style, bot suffix on the first word)
//	@hadroid ping    (mention)
func extractCommand(text string, prefixes []string, botName string) (string, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", false
	}
	name := strings.TrimPrefix(botName, "@")
	if name != "" {
		mention := "@" + name
		if len(s) >= len(mention) && strings.EqualFold(s[:len(mention)], mention) {
			rest := s[len(mention):]
			if rest == "" || strings.ContainsAny(rest[:1], " \t\n:,") {
				rest = strings.TrimSpace(strings.TrimLeft(rest, ":, \t\n"))
				return rest, rest != ""
			}
		}
	}
	if len(prefixes) == 0 {
		prefixes = []string{"!", "/"}
	}
	for _, p := range prefixes {
		if p == "" || !strings.HasPrefix(s, p) {
			continue
		}
		rest := strings.TrimSpace(s[len(p):])
		if rest == "" {
			return "", false
		}
		first, tail, _ := strings.Cut(rest, " ")
		if at := strings.IndexByte(first, '@'); at > 0 {
			target := first[at+1:]
			if name != "" && !strings.EqualFold(target, name) {
				// addressed to another bot
				return "", false
			}
			rest = strings.TrimSpace(first[:at] + " " + tail)
		}
		return rest, true
	}
	return "", false
}
