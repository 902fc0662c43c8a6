package dispatcher

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"VentaBot/bot"
	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
)

// Repository is the slice of storage the dispatcher mutates.
type Repository interface {
	MarkSold(botID, customer string) error
	ScheduleFollowUps(botID, customer string, at1, at2 time.Time) error
}

// Service paces and delivers a structured reply over the customer's
// channel, then applies the reply's scheduling consequence: a non-empty
// order report freezes the conversation, an empty one arms both follow-ups.
type Service struct {
	repo      Repository
	typingMin time.Duration
	typingMax time.Duration
	log       *slog.Logger
}

func New(repo Repository, typingMin, typingMax time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		typingMin: typingMin,
		typingMax: typingMax,
		log:       logger.With(sl.Module("dispatcher")),
	}
}

// Dispatch sends up to three text segments plus attached photos. Every send
// is individually best-effort: a failed segment is logged and the rest still
// go out. Only the storage mutations can fail the call.
func (s *Service) Dispatch(b *entity.Bot, ch bot.Channel, customer string, reply entity.AiReply) error {
	lg := s.log.With(
		slog.String("bot", b.ID.Hex()),
		slog.String("customer", customer),
	)

	segments := reply.Segments()
	for i, segment := range segments {
		s.typePause(ch, customer, segment)

		if err := ch.SendText(customer, segment); err != nil {
			lg.Warn("segment send failed", slog.Int("segment", i+1), sl.Err(err))
		}

		// Photos ride along with the first bubble.
		if i == 0 {
			for _, photo := range reply.Photos {
				if err := ch.SendImage(customer, photo); err != nil {
					lg.Warn("photo send failed", slog.String("url", photo), sl.Err(err))
				}
			}
		}
	}

	if reply.Closed() {
		if b.NotifyAddress != "" {
			if err := ch.SendText(b.NotifyAddress, reply.Report); err != nil {
				lg.Error("order report send failed", sl.Err(err))
			}
		}
		if err := s.repo.MarkSold(b.ID.Hex(), customer); err != nil {
			return fmt.Errorf("mark sold: %w", err)
		}
		lg.Info("deal closed")
		return nil
	}

	now := time.Now().UTC()
	err := s.repo.ScheduleFollowUps(b.ID.Hex(), customer,
		now.Add(b.FollowUp1Delay()), now.Add(b.FollowUp2Delay()))
	if err != nil {
		return fmt.Errorf("schedule follow-ups: %w", err)
	}

	return nil
}

// typePause simulates a human typing the segment: presence on, a jittered
// delay scaled a little by message length, presence off.
func (s *Service) typePause(ch bot.Channel, customer, segment string) {
	if s.typingMax <= 0 {
		return
	}

	delay := s.typingMin
	if spread := s.typingMax - s.typingMin; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	if len(segment) > 120 {
		delay += 500 * time.Millisecond
	}

	if err := ch.SetTyping(customer, true); err == nil {
		defer ch.SetTyping(customer, false)
	}

	time.Sleep(delay)
}
