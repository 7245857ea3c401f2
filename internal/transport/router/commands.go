package router

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"restartbot/internal/runtime/supervisor"
	kit "restartbot/internal/transport"
	logx "restartbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "help"
	//   "timed_restart add"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["tr"]
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type Request struct {
	Msg     *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Owner     bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
}

type Options struct {
	Workers   int
	QueueSize int
	// TrustConsole treats console input as coming from an owner.
	TrustConsole bool
}

type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode // alias -> node; subcommands still resolve below it
	menu  []kit.BotCommand

	// registered and builtins are kept so either can change without the other.
	registered []Command
	builtins   []Command

	owners       []int64
	trustConsole bool

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	qs := opt.QueueSize
	if qs <= 0 {
		qs = 256
	}
	return &CommandManager{
		root:         newRoot(),
		alias:        map[string]*cmdNode{},
		owners:       append([]int64(nil), owners...),
		trustConsole: opt.TrustConsole,
		log:          log,
		adapter:      adapter,
		workers:      workers,
		jobs:         make(chan func(), qs),
	}
}

// Supervisor returns the worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64, trustConsole bool) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.trustConsole = trustConsole
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(msg *kit.Message) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if msg.Transport == kit.Console && m.trustConsole {
		return true
	}
	return slices.Contains(m.owners, msg.FromID)
}

// SetBuiltins installs host commands that stay across SetRegistry calls.
func (m *CommandManager) SetBuiltins(cmds ...Command) {
	m.mu.Lock()
	m.builtins = slices.Clone(cmds)
	last := m.registered
	m.mu.Unlock()
	m.SetRegistry(last)
}

// SetRegistry replaces the command set. Builtins and the help command are always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	m.mu.Lock()
	m.registered = slices.Clone(cmds)
	builtins := m.builtins
	m.mu.Unlock()

	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "/help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(slices.Concat(cmds, builtins), helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	leaves := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		leaves = append(leaves, c)

		// Multi-token routes get a Telegram-friendly "/a_b" alias. The base
		// token itself must never be an alias or subcommand traversal breaks.
		if name, ok := menuNameFromRoute(route); ok && (len(route) > 1 || name != route[0]) {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	menu := buildMenuCommands(root, leaves)

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.menu = menu
	m.mu.Unlock()
}

// SyncMenu pushes the command menu to adapters that support one.
func (m *CommandManager) SyncMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := m.menu
	m.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done
// or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// match resolves text to a command. ok is false when text is not a command.
// A nil cmd with ok set means the path exists but has no handler (group) or
// is unknown; path is then the tokens that matched.
func (m *CommandManager) match(text string) (cmd *Command, path, args []string, ok bool) {
	body, isCmd := stripPrefix(strings.TrimSpace(text))
	if !isCmd {
		return nil, nil, nil, false
	}
	parts := tokenizeCommandLine(body)
	if len(parts) == 0 {
		return nil, nil, nil, false
	}
	word := strings.ToLower(parts[0])
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args = parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	cur, found := root.child(word)
	if !found {
		if cur, found = alias[word]; !found {
			return nil, nil, args, true
		}
	}
	path = slices.Clone(cur.path)
	for len(args) > 0 {
		if isFlag(args[0]) {
			break
		}
		next, found := cur.child(strings.ToLower(args[0]))
		if !found {
			break
		}
		cur = next
		path = append(path, next.name)
		args = args[1:]
	}
	if cur.cmd == nil {
		return nil, path, args, true
	}
	c := *cur.cmd
	return &c, path, args, true
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	cmd, path, raw, ok := m.match(msg.Text)
	if !ok {
		return
	}
	to := msg.Target()
	if cmd == nil {
		text := "unknown command. try /help"
		if len(path) > 0 {
			text = m.helpText(path)
		}
		_ = m.adapter.SendText(ctx, to, text, nil)
		return
	}

	owner := m.isOwner(msg)
	if cmd.Access == AccessOwnerOnly && !owner {
		_ = m.adapter.SendText(ctx, to, "unauthorized", nil)
		return
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(raw)
	req := &Request{
		Msg:       msg,
		Chat:      to,
		FromID:    msg.FromID,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Owner:     owner,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("transport", msg.Transport),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() {
		if err := final(ctx, req); err != nil {
			_ = req.Reply(ctx, fmt.Sprintf("error: %v", err))
		}
	}) {
		_ = m.adapter.SendText(ctx, to, "busy, try again", nil)
	}
}
