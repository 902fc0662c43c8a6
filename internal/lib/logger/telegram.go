package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// AlertSender delivers a log line to the operator chat.
type AlertSender interface {
	SendMessage(msg string)
}

type telegramHandler struct {
	next  slog.Handler
	bot   AlertSender
	level slog.Level
}

// SetupTelegramHandler wraps a logger so records at or above level are also
// forwarded to the operator Telegram chat. Forwarding is best-effort; the
// wrapped handler always runs.
func SetupTelegramHandler(lg *slog.Logger, bot AlertSender, level slog.Level) *slog.Logger {
	return slog.New(&telegramHandler{next: lg.Handler(), bot: bot, level: level})
}

func (h *telegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *telegramHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= h.level && h.bot != nil {
		text := fmt.Sprintf("[%s] %s", rec.Level, rec.Message)
		rec.Attrs(func(a slog.Attr) bool {
			text += fmt.Sprintf("\n%s: %s", a.Key, a.Value.String())
			return true
		})
		go h.bot.SendMessage(text)
	}
	return h.next.Handle(ctx, rec)
}

func (h *telegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &telegramHandler{next: h.next.WithAttrs(attrs), bot: h.bot, level: h.level}
}

func (h *telegramHandler) WithGroup(name string) slog.Handler {
	return &telegramHandler{next: h.next.WithGroup(name), bot: h.bot, level: h.level}
}
