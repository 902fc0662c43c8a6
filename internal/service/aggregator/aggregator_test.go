package aggregator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"VentaBot/ai/gpt"
	"VentaBot/bot"
	"VentaBot/entity"
	"VentaBot/internal/service/normalizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeRepo struct {
	mu     sync.Mutex
	convs  map[string]*entity.Conversation
	msgs   []entity.BufferedMessage
	states map[string]*entity.BotState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		convs:  make(map[string]*entity.Conversation),
		states: make(map[string]*entity.BotState),
	}
}

func key(botID, customer string) string { return botID + "|" + customer }

func (r *fakeRepo) MessageExists(externalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) GetConversation(botID, customer string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[key(botID, customer)]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (r *fakeRepo) TouchConversation(botID, customer, name string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[key(botID, customer)]
	if !ok {
		conv = &entity.Conversation{BotID: botID, Customer: customer}
		r.convs[key(botID, customer)] = conv
	}
	if name != "" {
		conv.CustomerName = name
	}
	conv.UpdatedAt = time.Now().UTC()
	conv.FollowUp1At, conv.FollowUp2At = nil, nil
	conv.FollowUp1Sent, conv.FollowUp2Sent = false, false
	copied := *conv
	return &copied, nil
}

func (r *fakeRepo) ConversationUpdatedAt(botID, customer string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[key(botID, customer)]
	if !ok {
		return time.Time{}, errors.New("conversation not found")
	}
	return conv.UpdatedAt, nil
}

func (r *fakeRepo) SaveMessage(msg entity.BufferedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = primitive.NewObjectID()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *fakeRepo) CollapseBuffered(botID, customer string) (*entity.BufferedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buffered []entity.BufferedMessage
	var rest []entity.BufferedMessage
	for i := range r.msgs {
		m := r.msgs[i]
		if m.BotID == botID && m.Customer == customer && m.Role == entity.RoleCustomer && m.Buffered {
			buffered = append(buffered, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(buffered) == 0 {
		return nil, nil
	}
	sort.Slice(buffered, func(i, j int) bool {
		return buffered[i].CreatedAt.Before(buffered[j].CreatedAt)
	})

	text := ""
	for i := range buffered {
		if i > 0 {
			text += "\n"
		}
		text += buffered[i].TaggedLine()
	}
	merged := entity.BufferedMessage{
		ID:         primitive.NewObjectID(),
		BotID:      botID,
		Customer:   customer,
		Role:       entity.RoleCustomer,
		Kind:       entity.KindText,
		Text:       text,
		Buffered:   false,
		ExternalID: buffered[len(buffered)-1].ExternalID,
		CreatedAt:  buffered[0].CreatedAt,
	}
	r.msgs = append(rest, merged)
	copied := merged
	return &copied, nil
}

func (r *fakeRepo) GetHistory(botID, customer string, limit int) ([]entity.BufferedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var history []entity.BufferedMessage
	for i := range r.msgs {
		m := r.msgs[i]
		if m.BotID == botID && m.Customer == customer && !m.Buffered {
			history = append(history, m)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (r *fakeRepo) GetBotState(botID, customer string) (*entity.BotState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[key(botID, customer)]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (r *fakeRepo) UpsertBotState(botID, customer string, welcomeSent bool, lastIntent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[key(botID, customer)]
	if !ok {
		state = &entity.BotState{BotID: botID, Customer: customer}
		r.states[key(botID, customer)] = state
	}
	if welcomeSent {
		state.WelcomeSent = true
	}
	if lastIntent != "" {
		state.LastIntent = lastIntent
	}
	return nil
}

func (r *fakeRepo) GetActiveProducts(botID string) ([]entity.Product, error) {
	return nil, nil
}

func (r *fakeRepo) customerMessages(botID, customer string) []entity.BufferedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.BufferedMessage
	for i := range r.msgs {
		m := r.msgs[i]
		if m.BotID == botID && m.Customer == customer && m.Role == entity.RoleCustomer {
			out = append(out, m)
		}
	}
	return out
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	reply entity.AiReply
	err   error
}

func (g *fakeGenerator) Generate(instruction string, history []gpt.Turn) (entity.AiReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, g.err
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []entity.AiReply
}

func (d *fakeDispatcher) Dispatch(b *entity.Bot, ch bot.Channel, customer string, reply entity.AiReply) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, reply)
	return nil
}

type fakeChannel struct {
	mu      sync.Mutex
	readIDs []string
	sent    []string
}

func (c *fakeChannel) MarkRead(messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readIDs = append(c.readIDs, messageID)
	return nil
}

func (c *fakeChannel) SendText(to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) SendImage(to, url string) error         { return nil }
func (c *fakeChannel) SetTyping(to string, typing bool) error { return nil }

type fakeTranscriber struct{ text string }

func (t *fakeTranscriber) GetAudioText([]byte) (string, error) { return t.text, nil }

type fakeDescriber struct{}

func (d *fakeDescriber) DescribeImage(string, string) (string, error) { return "a product photo", nil }

func testService(t *testing.T, repo *fakeRepo, gen *fakeGenerator, disp *fakeDispatcher, ch *fakeChannel, debounce time.Duration) *Service {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	norm := normalizer.New(&fakeTranscriber{text: "quiero el producto X"}, &fakeDescriber{}, lg)
	resolver := func(*entity.Bot) (bot.Channel, error) { return ch, nil }
	return New(repo, norm, gen, disp, resolver, debounce, 20, 280, lg)
}

func testBot() *entity.Bot {
	return &entity.Bot{
		ID:      primitive.NewObjectID(),
		Status:  entity.BotStatusActive,
		Channel: entity.ChannelCloudAPI,
	}
}

func TestDebounceConvergence(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{reply: entity.AiReply{Message1: "claro!"}}
	disp := &fakeDispatcher{}
	ch := &fakeChannel{}
	svc := testService(t, repo, gen, disp, ch, 60*time.Millisecond)

	b := testBot()
	const n = 4

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			err := svc.HandleInbound(b, entity.InboundEvent{
				MessageID: fmt.Sprintf("wamid.%03d", i),
				From:      "5215550001",
				Kind:      entity.KindText,
				Text:      fmt.Sprintf("fragment %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := repo.customerMessages(b.ID.Hex(), "5215550001")
	require.Len(t, msgs, 1, "exactly one merged customer message")
	assert.False(t, msgs[0].Buffered)
	for i := 0; i < n; i++ {
		assert.Contains(t, msgs[0].Text, fmt.Sprintf("fragment %d", i))
	}
	// Fragments must appear in creation order.
	last := -1
	for i := 0; i < n; i++ {
		idx := indexOf(msgs[0].Text, fmt.Sprintf("fragment %d", i))
		assert.Greater(t, idx, last)
		last = idx
	}

	assert.Equal(t, 1, gen.callCount(), "one generation per burst")
	assert.Len(t, disp.calls, 1)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestDedupIdempotence(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{reply: entity.AiReply{Message1: "hola!"}}
	svc := testService(t, repo, gen, &fakeDispatcher{}, &fakeChannel{}, 10*time.Millisecond)

	b := testBot()
	ev := entity.InboundEvent{
		MessageID: "wamid.ABC",
		From:      "5215550001",
		Kind:      entity.KindText,
		Text:      "hola",
	}

	require.NoError(t, svc.HandleInbound(b, ev))
	require.NoError(t, svc.HandleInbound(b, ev))

	count := 0
	for _, m := range repo.customerMessages(b.ID.Hex(), "5215550001") {
		if m.ExternalID == "wamid.ABC" {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate message id must not produce a second row")
	assert.Equal(t, 1, gen.callCount())
}

func TestTerminalFreeze(t *testing.T) {
	repo := newFakeRepo()
	soldAt := time.Now().UTC().Add(-time.Hour)
	gen := &fakeGenerator{}
	ch := &fakeChannel{}
	svc := testService(t, repo, gen, &fakeDispatcher{}, ch, 10*time.Millisecond)

	b := testBot()
	repo.convs[key(b.ID.Hex(), "5215550001")] = &entity.Conversation{
		BotID:     b.ID.Hex(),
		Customer:  "5215550001",
		UpdatedAt: soldAt,
		Sold:      true,
		SoldAt:    &soldAt,
	}

	err := svc.HandleInbound(b, entity.InboundEvent{
		MessageID: "wamid.XYZ",
		From:      "5215550001",
		Kind:      entity.KindText,
		Text:      "hola?",
	})
	require.NoError(t, err)

	conv, _ := repo.GetConversation(b.ID.Hex(), "5215550001")
	assert.True(t, conv.Sold)
	assert.Equal(t, soldAt, conv.UpdatedAt, "fencing token untouched")
	assert.Empty(t, repo.customerMessages(b.ID.Hex(), "5215550001"))
	assert.Equal(t, 0, gen.callCount())
	assert.Empty(t, ch.readIDs, "sold conversations keep their unread indicator")
}

func TestEmptyTextDropped(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{}
	svc := testService(t, repo, gen, &fakeDispatcher{}, &fakeChannel{}, 10*time.Millisecond)

	b := testBot()
	err := svc.HandleInbound(b, entity.InboundEvent{
		MessageID: "wamid.EMPTY",
		From:      "5215550001",
		Kind:      entity.KindText,
		Text:      "   ",
	})
	require.NoError(t, err)

	assert.Empty(t, repo.customerMessages(b.ID.Hex(), "5215550001"))
	assert.Equal(t, 0, gen.callCount())
}

func TestTextThenVoiceNoteMergesTagged(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{reply: entity.AiReply{Message1: "va!"}}
	svc := testService(t, repo, gen, &fakeDispatcher{}, &fakeChannel{}, 80*time.Millisecond)

	b := testBot()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := svc.HandleInbound(b, entity.InboundEvent{
			MessageID: "wamid.T1",
			From:      "5215550001",
			Kind:      entity.KindText,
			Text:      "hola",
		})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		err := svc.HandleInbound(b, entity.InboundEvent{
			MessageID: "wamid.T2",
			From:      "5215550001",
			Kind:      entity.KindAudio,
			Audio:     []byte{0x01},
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	msgs := repo.customerMessages(b.ID.Hex(), "5215550001")
	require.Len(t, msgs, 1)
	assert.Equal(t,
		"📝 (text): hola\n🎙️ (transcribed audio): quiero el producto X",
		msgs[0].Text)
	assert.Equal(t, 1, gen.callCount())
}

func TestGenerationFailurePropagates(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{err: errors.New("service timeout")}
	disp := &fakeDispatcher{}
	svc := testService(t, repo, gen, disp, &fakeChannel{}, 10*time.Millisecond)

	b := testBot()
	err := svc.HandleInbound(b, entity.InboundEvent{
		MessageID: "wamid.FAIL",
		From:      "5215550001",
		Kind:      entity.KindText,
		Text:      "hola",
	})
	require.Error(t, err)
	assert.Empty(t, disp.calls, "no dispatch on generation failure")
}

func TestFollowUpsClearedOnNewMessage(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{reply: entity.AiReply{Message1: "hola!"}}
	svc := testService(t, repo, gen, &fakeDispatcher{}, &fakeChannel{}, 10*time.Millisecond)

	b := testBot()
	due := time.Now().UTC().Add(-time.Minute)
	repo.convs[key(b.ID.Hex(), "5215550001")] = &entity.Conversation{
		BotID:         b.ID.Hex(),
		Customer:      "5215550001",
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
		FollowUp1At:   &due,
		FollowUp1Sent: true,
		FollowUp2At:   &due,
	}

	err := svc.HandleInbound(b, entity.InboundEvent{
		MessageID: "wamid.NEW",
		From:      "5215550001",
		Kind:      entity.KindText,
		Text:      "sigo interesado",
	})
	require.NoError(t, err)

	conv, _ := repo.GetConversation(b.ID.Hex(), "5215550001")
	assert.Nil(t, conv.FollowUp1At)
	assert.Nil(t, conv.FollowUp2At)
	assert.False(t, conv.FollowUp1Sent)
	assert.False(t, conv.FollowUp2Sent)
}
