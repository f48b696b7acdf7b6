// Package bot implements the operator command surface on top of the cycle
// coordinator. Only the configured chat is served.
package bot

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"uesbot/internal/compose"
	"uesbot/internal/cycle"
	appLog "uesbot/internal/log"
	"uesbot/internal/model"
	"uesbot/internal/quiet"
	"uesbot/internal/state"
	"uesbot/internal/telegram"
)

// Cycles is the part of the coordinator the bot drives.
type Cycles interface {
	RunNow(ctx context.Context, wait time.Duration) (cycle.Result, error)
	Update(ctx context.Context, wait time.Duration, fn func(*state.State) error) (*state.State, error)
	State(ctx context.Context) (*state.State, error)
	Snapshot(ctx context.Context) ([]model.Event, error)
	Deliver(ctx context.Context, kind, text string) error
}

// Messenger answers commands.
type Messenger interface {
	Reply(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, name string, data []byte, caption string) error
}

// Scheduler is the periodic trigger whose interval the operator may change.
type Scheduler interface {
	SetInterval(d time.Duration) error
	Interval() time.Duration
	Next() time.Time
}

// Options configures the bot.
type Options struct {
	ChatID      int64
	Location    *time.Location
	UrgentHours int
	MaxLines    int
	// Quiet is the configured default window.
	Quiet quiet.Window
	// LockWait bounds how long commands wait for a running cycle.
	LockWait time.Duration
	// Cooldown is the minimum spacing between forced scrapes; zero disables it.
	Cooldown  time.Duration
	DaysAhead int
	Now       func() time.Time
}

type handler func(ctx context.Context, b *Bot, chatID int64, args []string)

// Bot dispatches commands.
type Bot struct {
	cycles   Cycles
	msg      Messenger
	sched    Scheduler
	opts     Options
	limiter  *rate.Limiter
	commands map[string]handler
}

// New builds a bot.
func New(c Cycles, m Messenger, s Scheduler, opts Options) *Bot {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Bot{
		cycles: c,
		msg:    m,
		sched:  s,
		opts:   opts,
	}
	if opts.Cooldown > 0 {
		b.limiter = rate.NewLimiter(rate.Every(opts.Cooldown), 1)
	}
	b.commands = map[string]handler{}
	for _, cmd := range commandTable {
		for _, name := range cmd.names {
			b.commands[name] = cmd.fn
		}
	}
	return b
}

// Handle processes one incoming message. It is a telegram.Handler.
func (b *Bot) Handle(ctx context.Context, m telegram.Message) {
	if m.Chat.ID != b.opts.ChatID {
		appLog.Warn("unauthorized command dropped", "chat", m.Chat.ID)
		return
	}
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	fn, ok := b.commands[name]
	if !ok {
		appLog.Debug("unknown command ignored", "command", name)
		return
	}
	appLog.Info("command received", "command", name, "args", len(args))
	fn(ctx, b, m.Chat.ID, args)
}

// parseCommand splits "/cmd@botname a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// reply sends plain text; HTML metacharacters are escaped.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.replyHTML(ctx, chatID, compose.Escape(text))
}

func (b *Bot) replyHTML(ctx context.Context, chatID int64, text string) {
	if err := b.msg.Reply(ctx, chatID, text); err != nil {
		appLog.Error("reply failed", err, "chat", chatID)
	}
}

// allowScrape applies the forced-scrape cooldown.
func (b *Bot) allowScrape() bool {
	return b.limiter == nil || b.limiter.Allow()
}
