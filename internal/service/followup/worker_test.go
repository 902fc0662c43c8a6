package followup

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"VentaBot/ai/gpt"
	"VentaBot/bot"
	"VentaBot/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeRepo struct {
	mu    sync.Mutex
	bot   *entity.Bot
	due1  []entity.Conversation
	due2  []entity.Conversation
	saved []entity.BufferedMessage

	marked1      []string
	rescheduled2 map[string]time.Time
}

func (r *fakeRepo) DueFollowUps(n int, _ time.Time) ([]entity.Conversation, error) {
	if n == 1 {
		return r.due1, nil
	}
	return r.due2, nil
}

func (r *fakeRepo) GetBot(string) (*entity.Bot, error) { return r.bot, nil }

func (r *fakeRepo) GetHistory(string, string, int) ([]entity.BufferedMessage, error) {
	return nil, nil
}

func (r *fakeRepo) SaveMessage(msg entity.BufferedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, msg)
	return nil
}

func (r *fakeRepo) MarkFollowUpSent(_, customer string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked1 = append(r.marked1, customer)
	return nil
}

func (r *fakeRepo) RescheduleFollowUp2(_, customer string, nextAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rescheduled2 == nil {
		r.rescheduled2 = map[string]time.Time{}
	}
	r.rescheduled2[customer] = nextAt
	return nil
}

type fakeGen struct {
	text string
	err  error
}

func (g *fakeGen) GenerateFollowUp(string, []gpt.Turn) (string, error) {
	return g.text, g.err
}

type fakeChannel struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	reads []string
}

func (c *fakeChannel) MarkRead(id string) error {
	c.reads = append(c.reads, id)
	return nil
}

func (c *fakeChannel) SendText(_, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("channel down")
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) SendImage(string, string) error { return nil }
func (c *fakeChannel) SetTyping(string, bool) error   { return nil }

func testWorker(repo *fakeRepo, gen *fakeGen, ch *fakeChannel) *Worker {
	resolver := func(*entity.Bot) (bot.Channel, error) { return ch, nil }
	return NewWorker(repo, gen, resolver, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dueConv(customer string) entity.Conversation {
	return entity.Conversation{BotID: primitive.NewObjectID().Hex(), Customer: customer, CustomerName: "Ana"}
}

func activeBot() *entity.Bot {
	return &entity.Bot{
		ID:               primitive.NewObjectID(),
		Status:           entity.BotStatusActive,
		FollowUp2Minutes: 4320,
	}
}

func TestShortFollowUpFiresOnce(t *testing.T) {
	repo := &fakeRepo{bot: activeBot(), due1: []entity.Conversation{dueConv("5215550001")}}
	gen := &fakeGen{text: "¿Sigues por ahí, Ana?"}
	ch := &fakeChannel{}

	testWorker(repo, gen, ch).Tick(time.Now().UTC())

	assert.Equal(t, []string{"¿Sigues por ahí, Ana?"}, ch.sent)
	assert.Equal(t, []string{"5215550001"}, repo.marked1, "short nudge is one-shot")
	assert.Empty(t, repo.rescheduled2)

	require.Len(t, repo.saved, 1)
	assert.Equal(t, entity.RoleAssistant, repo.saved[0].Role)
	assert.False(t, repo.saved[0].Buffered)
	assert.Contains(t, repo.saved[0].ExternalID, "fup-")
}

func TestLongFollowUpRecurs(t *testing.T) {
	repo := &fakeRepo{bot: activeBot(), due2: []entity.Conversation{dueConv("5215550002")}}
	gen := &fakeGen{text: "Aquí sigo si necesitas algo."}
	ch := &fakeChannel{}

	now := time.Now().UTC()
	testWorker(repo, gen, ch).Tick(now)

	assert.Empty(t, repo.marked1)
	require.Contains(t, repo.rescheduled2, "5215550002")
	assert.Equal(t, now.Add(4320*time.Minute), repo.rescheduled2["5215550002"],
		"long nudge reschedules itself a full delay out")
}

func TestSendFailureLeavesDueUntouched(t *testing.T) {
	repo := &fakeRepo{bot: activeBot(), due1: []entity.Conversation{dueConv("5215550003")}}
	gen := &fakeGen{text: "hola"}
	ch := &fakeChannel{fail: true}

	testWorker(repo, gen, ch).Tick(time.Now().UTC())

	assert.Empty(t, repo.marked1, "failed send must stay due for the next poll")
	assert.Empty(t, repo.saved)
}

func TestGenerationFailureLeavesDueUntouched(t *testing.T) {
	repo := &fakeRepo{bot: activeBot(), due2: []entity.Conversation{dueConv("5215550004")}}
	gen := &fakeGen{err: errors.New("model unavailable")}
	ch := &fakeChannel{}

	testWorker(repo, gen, ch).Tick(time.Now().UTC())

	assert.Empty(t, ch.sent)
	assert.Empty(t, repo.rescheduled2)
}

func TestPausedBotSkipped(t *testing.T) {
	b := activeBot()
	b.Status = entity.BotStatusPaused
	repo := &fakeRepo{bot: b, due1: []entity.Conversation{dueConv("5215550005")}}
	gen := &fakeGen{text: "hola"}
	ch := &fakeChannel{}

	testWorker(repo, gen, ch).Tick(time.Now().UTC())

	assert.Empty(t, ch.sent)
	assert.Empty(t, repo.marked1, "paused bots neither nudge nor consume the slot")
}

func TestNudgeInstructionSkipsNumericName(t *testing.T) {
	conv := dueConv("5215550006")
	conv.CustomerName = "5215550006"
	assert.NotContains(t, buildNudgeInstruction(&conv, 1), "5215550006")

	conv.CustomerName = "Ana"
	assert.Contains(t, buildNudgeInstruction(&conv, 1), "Address them as Ana")
}
