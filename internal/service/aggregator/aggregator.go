package aggregator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"VentaBot/ai/gpt"
	"VentaBot/bot"
	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
	"VentaBot/internal/service/normalizer"

	"github.com/google/uuid"
)

// Repository is the slice of storage the aggregator needs.
type Repository interface {
	MessageExists(externalID string) (bool, error)
	GetConversation(botID, customer string) (*entity.Conversation, error)
	TouchConversation(botID, customer, name string) (*entity.Conversation, error)
	ConversationUpdatedAt(botID, customer string) (time.Time, error)
	SaveMessage(msg entity.BufferedMessage) error
	CollapseBuffered(botID, customer string) (*entity.BufferedMessage, error)
	GetHistory(botID, customer string, limit int) ([]entity.BufferedMessage, error)
	GetBotState(botID, customer string) (*entity.BotState, error)
	UpsertBotState(botID, customer string, welcomeSent bool, lastIntent string) error
	GetActiveProducts(botID string) ([]entity.Product, error)
}

// Generator is the language-completion service.
type Generator interface {
	Generate(instruction string, history []gpt.Turn) (entity.AiReply, error)
}

// Dispatcher delivers a structured reply and applies its side effects
// (order report, terminal transition, follow-up scheduling).
type Dispatcher interface {
	Dispatch(b *entity.Bot, ch bot.Channel, customer string, reply entity.AiReply) error
}

// ChannelResolver hands back the outbound channel for a bot.
type ChannelResolver func(b *entity.Bot) (bot.Channel, error)

// Service is the turn aggregator: it debounces rapid-fire customer input,
// merges a burst into one turn, generates exactly one reply per burst and
// hands it to the dispatcher.
//
// Any number of invocations for the same conversation may be in flight at
// once. There is no lock: the conversation's updated_at is the fencing
// token, captured on arrival and compared after the quiet window. Whoever
// still holds the freshest timestamp wins the merge; everyone else exits
// without side effects.
type Service struct {
	repo       Repository
	normalizer *normalizer.Service
	generator  Generator
	dispatcher Dispatcher
	channels   ChannelResolver

	debounce        time.Duration
	historyLimit    int
	maxSegmentChars int

	log *slog.Logger
}

func New(repo Repository, norm *normalizer.Service, generator Generator, dispatcher Dispatcher,
	channels ChannelResolver, debounce time.Duration, historyLimit, maxSegmentChars int,
	logger *slog.Logger) *Service {

	return &Service{
		repo:            repo,
		normalizer:      norm,
		generator:       generator,
		dispatcher:      dispatcher,
		channels:        channels,
		debounce:        debounce,
		historyLimit:    historyLimit,
		maxSegmentChars: maxSegmentChars,
		log:             logger.With(sl.Module("aggregator")),
	}
}

// HandleInbound runs the full pipeline for one raw channel event. Duplicate
// ids, terminal conversations, empty fragments and lost debounce races are
// all silent no-ops; only real failures come back as errors.
func (s *Service) HandleInbound(b *entity.Bot, ev entity.InboundEvent) error {
	if !b.Active() {
		return nil
	}

	lg := s.log.With(
		slog.String("bot", b.ID.Hex()),
		slog.String("customer", ev.From),
	)

	duplicate, err := s.repo.MessageExists(ev.MessageID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if duplicate {
		return nil
	}

	conv, err := s.repo.GetConversation(b.ID.Hex(), ev.From)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv != nil && conv.Sold {
		// Terminal: no processing, and deliberately no read receipt, so the
		// operator keeps an unread indicator on this chat.
		return nil
	}

	ch, err := s.channels(b)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	if err := ch.MarkRead(ev.MessageID); err != nil {
		lg.Warn("mark read failed", sl.Err(err))
	}

	fragment := s.normalizer.Normalize(ev)
	if fragment.Text == "" {
		return nil
	}

	// The upsert both registers the live signal (clearing pending
	// follow-ups) and resolves this invocation's arrival timestamp.
	conv, err = s.repo.TouchConversation(b.ID.Hex(), ev.From, ev.SenderName)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	arrival := conv.UpdatedAt

	err = s.repo.SaveMessage(entity.BufferedMessage{
		BotID:      b.ID.Hex(),
		Customer:   ev.From,
		Role:       entity.RoleCustomer,
		Kind:       fragment.Kind,
		Text:       fragment.Text,
		Buffered:   true,
		ExternalID: ev.MessageID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("buffer fragment: %w", err)
	}

	// The one blocking wait: a plain delay, cancelable only by process
	// shutdown.
	time.Sleep(s.debounce)

	latest, err := s.repo.ConversationUpdatedAt(b.ID.Hex(), ev.From)
	if err != nil {
		return fmt.Errorf("fencing re-read: %w", err)
	}
	if latest.After(arrival) {
		// A newer fragment arrived during the wait and owns the merge.
		return nil
	}

	return s.processTurn(b, ch, conv, lg)
}

func (s *Service) processTurn(b *entity.Bot, ch bot.Channel, conv *entity.Conversation, lg *slog.Logger) error {
	merged, err := s.repo.CollapseBuffered(b.ID.Hex(), conv.Customer)
	if err != nil {
		return fmt.Errorf("collapse buffer: %w", err)
	}
	if merged == nil {
		// Raced away; nothing left to do.
		return nil
	}

	history, err := s.repo.GetHistory(b.ID.Hex(), conv.Customer, s.historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	state, err := s.repo.GetBotState(b.ID.Hex(), conv.Customer)
	if err != nil {
		return fmt.Errorf("load bot state: %w", err)
	}

	products, err := s.repo.GetActiveProducts(b.ID.Hex())
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	instruction := buildInstruction(b, conv, state, products, s.maxSegmentChars)

	reply, err := s.generator.Generate(instruction, Turns(history))
	if err != nil {
		// Buffered fragments are already merged into durable history, so
		// the next inbound event retries with full context.
		lg.Error("generation failed", sl.Err(err))
		return fmt.Errorf("generate reply: %w", err)
	}

	if err := s.dispatcher.Dispatch(b, ch, conv.Customer, reply); err != nil {
		lg.Error("dispatch failed", sl.Err(err))
	}

	stored, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	err = s.repo.SaveMessage(entity.BufferedMessage{
		BotID:      b.ID.Hex(),
		Customer:   conv.Customer,
		Role:       entity.RoleAssistant,
		Kind:       entity.KindText,
		Text:       string(stored),
		Buffered:   false,
		ExternalID: "out-" + uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist reply: %w", err)
	}

	// Bookkeeping last, and never through the fencing row.
	if err := s.repo.UpsertBotState(b.ID.Hex(), conv.Customer, true, reply.Intent); err != nil {
		lg.Warn("bot state update failed", sl.Err(err))
	}

	return nil
}

// Turns renders durable history rows into prompt-ready turns. Assistant rows
// are stored as structured JSON and replayed through their human-readable
// rendering, never the raw form.
func Turns(history []entity.BufferedMessage) []gpt.Turn {
	turns := make([]gpt.Turn, 0, len(history))
	for i := range history {
		row := &history[i]
		text := row.Text
		if row.Role == entity.RoleAssistant {
			text = entity.HistoryText(row.Text)
		}
		turns = append(turns, gpt.Turn{Role: row.Role, Text: text})
	}
	return turns
}
