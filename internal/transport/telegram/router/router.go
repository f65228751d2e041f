// Package router turns Telegram messages from owners into agent requests on
// the bus and delivers the agent's responses back to the originating chat.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"enel/internal/eventbus"
	kit "enel/internal/transport"
	logx "enel/pkg/logx"
)

const ChannelTelegram = "telegram"

// DefaultCommands are forwarded to the agent.
var DefaultCommands = []kit.BotCommand{
	{Command: "status", Description: "Agent and scheduler status"},
	{Command: "weather", Description: "Latest weather report"},
	{Command: "air", Description: "Latest air quality reading"},
	{Command: "tasks", Description: "Scheduled tasks and next runs"},
	{Command: "run", Description: "Run a task now: /run <task>"},
	{Command: "history", Description: "Recent runs: /history [task]"},
}

type Config struct {
	Owners   []int64
	Commands []kit.BotCommand
	// HandlerTimeout bounds local command handling and replies.
	HandlerTimeout time.Duration
}

// Request is one parsed command message.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Logger  logx.Logger
}

type Router struct {
	cfg      Config
	sender   kit.Sender
	bus      eventbus.Bus
	log      logx.Logger
	owners   map[int64]bool
	commands map[string]bool
	handler  Handler
}

func New(cfg Config, sender kit.Sender, bus eventbus.Bus, log logx.Logger) *Router {
	if len(cfg.Commands) == 0 {
		cfg.Commands = DefaultCommands
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cfg:      cfg,
		sender:   sender,
		bus:      bus,
		log:      log,
		owners:   map[int64]bool{},
		commands: map[string]bool{},
	}
	for _, id := range cfg.Owners {
		r.owners[id] = true
	}
	if len(r.owners) == 0 {
		log.Warn("telegram owners empty; every command will be ignored")
	}
	for _, c := range cfg.Commands {
		r.commands[c.Command] = true
	}
	r.handler = stack(r.dispatch, recoverPanics, ownersOnly(r.owners), logRequests, deadline(cfg.HandlerTimeout))
	return r
}

// Menu is the command list shown in the Telegram menu.
func (r *Router) Menu() []kit.BotCommand {
	return append([]kit.BotCommand{{Command: "help", Description: "List commands"}}, r.cfg.Commands...)
}

// Run consumes updates and delivers responses until ctx is done or updates closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	responses, unsub := r.bus.Subscribe(64, eventbus.TypeResponse)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.HandleUpdate(ctx, up)
		case ev, ok := <-responses:
			if !ok {
				return errors.New("response subscription closed")
			}
			if resp, ok := ev.Data.(eventbus.Response); ok {
				r.deliver(ctx, resp)
			}
		}
	}
}

func (r *Router) HandleUpdate(ctx context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	m := up.Message
	cmd, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	req := &Request{
		Update:  up,
		Chat:    m.Target(),
		FromID:  m.FromID,
		Command: cmd,
		Args:    args,
	}
	req.Logger = r.log.With(
		logx.Int64("chat_id", m.ChatID),
		logx.Int64("from_id", m.FromID),
		logx.String("from", m.FromName),
		logx.String("cmd", cmd),
	)
	_ = r.handler(ctx, req)
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = strings.ToLower(cmd)
	if cmd == "" {
		return "", nil, false
	}
	return cmd, fields[1:], true
}

func (r *Router) dispatch(ctx context.Context, req *Request) error {
	switch {
	case req.Command == "help" || req.Command == "start":
		return r.reply(ctx, req.Chat, r.helpText())
	case r.commands[req.Command]:
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRequest,
			Time: time.Now(),
			Data: eventbus.Request{
				ID:      uuid.NewString(),
				Command: req.Command,
				Args:    req.Args,
				Origin: eventbus.Origin{
					Channel:  ChannelTelegram,
					ChatID:   req.Chat.ChatID,
					ThreadID: req.Chat.ThreadID,
					UserID:   req.FromID,
				},
			},
		})
		return nil
	default:
		return r.reply(ctx, req.Chat, fmt.Sprintf("Unknown command /%s. Try /help.", req.Command))
	}
}

func (r *Router) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.Menu() {
		fmt.Fprintf(&b, "/%s - %s\n", c.Command, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) deliver(ctx context.Context, resp eventbus.Response) {
	if resp.Origin.Channel != ChannelTelegram || resp.Origin.ChatID == 0 {
		return
	}
	text := resp.Text
	if resp.Error != "" {
		text = "⚠️ " + resp.Error
	}
	to := kit.ChatTarget{ChatID: resp.Origin.ChatID, ThreadID: resp.Origin.ThreadID}
	cctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()
	if err := r.reply(cctx, to, text); err != nil {
		r.log.Warn("response delivery failed", logx.String("request_id", resp.RequestID), logx.Err(err))
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) error {
	if r.sender == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
	return err
}
