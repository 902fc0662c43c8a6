package dispatcher

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"VentaBot/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeRepo struct {
	mu        sync.Mutex
	soldKeys  []string
	schedules []schedule
}

type schedule struct {
	customer string
	at1, at2 time.Time
}

func (r *fakeRepo) MarkSold(botID, customer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.soldKeys = append(r.soldKeys, botID+"|"+customer)
	return nil
}

func (r *fakeRepo) ScheduleFollowUps(botID, customer string, at1, at2 time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = append(r.schedules, schedule{customer: customer, at1: at1, at2: at2})
	return nil
}

type sendRecord struct {
	to   string
	text string
	kind string // "text" | "image"
}

type fakeChannel struct {
	mu       sync.Mutex
	sends    []sendRecord
	failText map[string]bool // fail sends whose text matches
}

func (c *fakeChannel) MarkRead(string) error { return nil }

func (c *fakeChannel) SendText(to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failText[text] {
		return errors.New("send failed")
	}
	c.sends = append(c.sends, sendRecord{to: to, text: text, kind: "text"})
	return nil
}

func (c *fakeChannel) SendImage(to, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, sendRecord{to: to, text: url, kind: "image"})
	return nil
}

func (c *fakeChannel) SetTyping(string, bool) error { return nil }

func testBot() *entity.Bot {
	return &entity.Bot{
		ID:               primitive.NewObjectID(),
		Status:           entity.BotStatusActive,
		NotifyAddress:    "5215559999",
		FollowUp1Minutes: 15,
		FollowUp2Minutes: 4320,
	}
}

func newService(repo *fakeRepo) *Service {
	// Zero typing delays keep tests fast.
	return New(repo, 0, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchSegmentsAndPhotos(t *testing.T) {
	repo := &fakeRepo{}
	ch := &fakeChannel{}
	svc := newService(repo)

	reply := entity.AiReply{
		Message1: "¡Hola Ana!",
		Message2: "Te cuento del producto.",
		Photos:   []string{"https://cdn.example.com/p1.jpg"},
	}

	require.NoError(t, svc.Dispatch(testBot(), ch, "5215550001", reply))

	require.Len(t, ch.sends, 3)
	assert.Equal(t, "¡Hola Ana!", ch.sends[0].text)
	assert.Equal(t, "image", ch.sends[1].kind, "photos ride with the first bubble")
	assert.Equal(t, "Te cuento del producto.", ch.sends[2].text)
}

func TestDispatchSegmentFailureDoesNotAbortRest(t *testing.T) {
	repo := &fakeRepo{}
	ch := &fakeChannel{failText: map[string]bool{"segundo": true}}
	svc := newService(repo)

	reply := entity.AiReply{Message1: "primero", Message2: "segundo", Message3: "tercero"}

	require.NoError(t, svc.Dispatch(testBot(), ch, "5215550001", reply))

	var texts []string
	for _, s := range ch.sends {
		texts = append(texts, s.text)
	}
	assert.Equal(t, []string{"primero", "tercero"}, texts)
}

func TestDispatchReportClosesDeal(t *testing.T) {
	repo := &fakeRepo{}
	ch := &fakeChannel{}
	svc := newService(repo)
	b := testBot()

	reply := entity.AiReply{
		Message1: "¡Listo, gracias por tu compra!",
		Report:   "ORDER: 2x Faja Reductora, 798 MXN, Ana, Av. Juárez 10, 5215550001",
	}

	require.NoError(t, svc.Dispatch(b, ch, "5215550001", reply))

	require.Len(t, ch.sends, 2)
	assert.Equal(t, b.NotifyAddress, ch.sends[1].to, "report goes to the notify address")
	assert.Equal(t, reply.Report, ch.sends[1].text)

	assert.Equal(t, []string{b.ID.Hex() + "|5215550001"}, repo.soldKeys)
	assert.Empty(t, repo.schedules, "closed deals schedule no follow-ups")
}

func TestDispatchEmptyReportSchedulesFollowUps(t *testing.T) {
	repo := &fakeRepo{}
	ch := &fakeChannel{}
	svc := newService(repo)
	b := testBot()

	before := time.Now().UTC()
	require.NoError(t, svc.Dispatch(b, ch, "5215550001", entity.AiReply{Message1: "hola"}))
	after := time.Now().UTC()

	assert.Empty(t, repo.soldKeys)
	require.Len(t, repo.schedules, 1)
	s := repo.schedules[0]

	assert.WithinRange(t, s.at1, before.Add(15*time.Minute), after.Add(15*time.Minute))
	assert.WithinRange(t, s.at2, before.Add(4320*time.Minute), after.Add(4320*time.Minute))
}
