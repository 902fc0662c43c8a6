package followup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"VentaBot/ai/gpt"
	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
	"VentaBot/internal/service/aggregator"

	"github.com/google/uuid"
)

const historyWindow = 10

// Repository is the slice of storage the worker polls and mutates.
type Repository interface {
	DueFollowUps(n int, now time.Time) ([]entity.Conversation, error)
	GetBot(botID string) (*entity.Bot, error)
	GetHistory(botID, customer string, limit int) ([]entity.BufferedMessage, error)
	SaveMessage(msg entity.BufferedMessage) error
	MarkFollowUpSent(botID, customer string, n int) error
	RescheduleFollowUp2(botID, customer string, nextAt time.Time) error
}

// Generator produces the short re-engagement nudge.
type Generator interface {
	GenerateFollowUp(instruction string, history []gpt.Turn) (string, error)
}

// Worker is the free-running poll loop that re-engages stalled
// conversations. It sends through the raw channel primitive, not the full
// dispatcher: a nudge carries no report and can never close a deal.
type Worker struct {
	repo     Repository
	gen      Generator
	channels aggregator.ChannelResolver
	interval time.Duration
	log      *slog.Logger
}

func NewWorker(repo Repository, gen Generator, channels aggregator.ChannelResolver, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		repo:     repo,
		gen:      gen,
		channels: channels,
		interval: interval,
		log:      logger.With(sl.Module("followup")),
	}
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("follow-up worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("follow-up worker stopped")
			return
		case <-ticker.C:
			w.Tick(time.Now().UTC())
		}
	}
}

// Tick runs both due queries once. Exported so tests can drive the worker
// without the timer.
func (w *Worker) Tick(now time.Time) {
	for n := 1; n <= 2; n++ {
		due, err := w.repo.DueFollowUps(n, now)
		if err != nil {
			w.log.Error("due query failed", slog.Int("follow_up", n), sl.Err(err))
			continue
		}
		for i := range due {
			if err := w.nudge(&due[i], n, now); err != nil {
				// Due-timestamp stays untouched; the next poll retries.
				w.log.Warn("follow-up failed",
					slog.Int("follow_up", n),
					slog.String("customer", due[i].Customer),
					sl.Err(err))
			}
		}
	}
}

func (w *Worker) nudge(conv *entity.Conversation, n int, now time.Time) error {
	b, err := w.repo.GetBot(conv.BotID)
	if err != nil {
		return fmt.Errorf("load bot: %w", err)
	}
	if b == nil || !b.Active() {
		return nil
	}

	ch, err := w.channels(b)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	history, err := w.repo.GetHistory(conv.BotID, conv.Customer, historyWindow)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	// One attempt, no retry: a lost nudge just waits for the next poll.
	text, err := w.gen.GenerateFollowUp(buildNudgeInstruction(conv, n), aggregator.Turns(history))
	if err != nil {
		return fmt.Errorf("generate nudge: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("generate nudge: empty text")
	}

	if err := ch.SendText(conv.Customer, text); err != nil {
		return fmt.Errorf("send nudge: %w", err)
	}

	err = w.repo.SaveMessage(entity.BufferedMessage{
		BotID:      conv.BotID,
		Customer:   conv.Customer,
		Role:       entity.RoleAssistant,
		Kind:       entity.KindText,
		Text:       text,
		Buffered:   false,
		ExternalID: "fup-" + uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		w.log.Warn("nudge persist failed", sl.Err(err))
	}

	if n == 1 {
		// One-shot.
		return w.repo.MarkFollowUpSent(conv.BotID, conv.Customer, 1)
	}

	// The long follow-up recurs at a fixed cadence until the customer
	// replies or the deal closes.
	return w.repo.RescheduleFollowUp2(conv.BotID, conv.Customer, now.Add(b.FollowUp2Delay()))
}

// buildNudgeInstruction is deliberately minimal: no catalog, no output
// schema, just a warm reopening of a stalled conversation.
func buildNudgeInstruction(conv *entity.Conversation, n int) string {
	var sb strings.Builder
	sb.WriteString("The customer went quiet mid-conversation. ")
	if n == 1 {
		sb.WriteString("Write one short, warm message to gently pick the conversation back up where it left off. ")
	} else {
		sb.WriteString("Write one short, casual check-in message reminding them you are still around to help. ")
	}
	name := strings.TrimSpace(conv.CustomerName)
	if name != "" && !isAllDigits(name) {
		fmt.Fprintf(&sb, "Address them as %s. ", name)
	}
	sb.WriteString("No pressure, no new offers, at most two sentences. Reply with the message text only.")
	return sb.String()
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
