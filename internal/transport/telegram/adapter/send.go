package adapter

import (
	"cmp"
	"context"
	"slices"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "enel/internal/transport"
	logx "enel/pkg/logx"
)

const (
	textLimit       = 4000
	menuLimit       = 100
	menuDescription = 256
)

// SendText sends text, split into several messages when it is too long for
// one. The returned ref points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	send := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}
	chat := &tele.Chat{ID: to.ChatID}
	html := strings.EqualFold(opt.ParseMode, tele.ModeHTML)

	var first kit.MessageRef
	for _, part := range chunks(text, textLimit, html) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, part, send)
		if err != nil {
			return first, err
		}
		if first.MessageID == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendAlert implements logx.AlertSender.
func (a *Adapter) SendAlert(ctx context.Context, text string) error {
	if a.cfg.AlertTarget.IsZero() {
		return nil
	}
	_, err := a.SendText(ctx, a.cfg.AlertTarget, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the command menu. Telegram is only called
// when the menu differs from the last one it accepted.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, min(len(cmds), menuLimit))
	for _, c := range cmds {
		if c.Command == "" || len(menu) == menuLimit {
			continue
		}
		desc := cmp.Or(c.Description, c.Command)
		if len(desc) > menuDescription {
			desc = desc[:menuDescription]
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, menu) {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = menu
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

// chunks splits text into pieces of at most limit runes. A cut prefers the
// last newline past the first third of the window and, for HTML, moves back
// before a tag the window would otherwise split.
func chunks(text string, limit int, html bool) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(text)
	if len(rs) <= limit {
		return []string{text}
	}
	var out []string
	for len(rs) > 0 {
		cut := len(rs)
		if cut > limit {
			cut = cutPoint(rs[:limit], html)
		}
		if part := strings.TrimRight(string(rs[:cut]), "\n"); part != "" {
			out = append(out, part)
		}
		rs = rs[cut:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

func cutPoint(window []rune, html bool) int {
	cut := len(window)
	if nl := lastRune(window, '\n'); nl >= len(window)/3 {
		cut = nl + 1
	}
	if html {
		lt, gt := lastRune(window[:cut], '<'), lastRune(window[:cut], '>')
		if lt > gt && lt > 0 {
			cut = lt
		}
	}
	return cut
}

func lastRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
