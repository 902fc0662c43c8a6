package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
)

// BotSource lists the bots whose sessions the manager supervises.
type BotSource interface {
	ListBotsByChannel(channel string) ([]entity.Bot, error)
	GetBot(botID string) (*entity.Bot, error)
}

// Manager owns one Session per persistent-channel bot.
type Manager struct {
	gatewayURL string
	reconnect  time.Duration
	creds      *CredStore
	bots       BotSource
	sink       Sink
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(gatewayURL string, reconnect time.Duration, creds *CredStore, bots BotSource, sink Sink, log *slog.Logger) *Manager {
	return &Manager{
		gatewayURL: gatewayURL,
		reconnect:  reconnect,
		creds:      creds,
		bots:       bots,
		sink:       sink,
		log:        log.With(sl.Module("session.manager")),
		sessions:   make(map[string]*Session),
	}
}

// StartAll brings up a session for every active persistent-channel bot.
func (m *Manager) StartAll() error {
	bots, err := m.bots.ListBotsByChannel(entity.ChannelSession)
	if err != nil {
		return fmt.Errorf("list session bots: %w", err)
	}

	for i := range bots {
		if _, err := m.Connect(bots[i].ID.Hex()); err != nil {
			m.log.Error("session start failed",
				slog.String("bot", bots[i].ID.Hex()), sl.Err(err))
		}
	}

	return nil
}

// Connect ensures a running session for the bot, creating one if needed.
func (m *Manager) Connect(botID string) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[botID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	b, err := m.bots.GetBot(botID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("bot %s not found", botID)
	}
	if b.Channel != entity.ChannelSession {
		return nil, fmt.Errorf("bot %s is not a session-channel bot", botID)
	}

	sess := NewSession(b, m.gatewayURL, m.reconnect, m.creds, m.sink, m.log)

	m.mu.Lock()
	if existing, ok := m.sessions[botID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[botID] = sess
	m.mu.Unlock()

	sess.Start()
	return sess, nil
}

// Session returns the live session for a bot, if any.
func (m *Manager) Session(botID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[botID]
	return sess, ok
}

// Disconnect unlinks the bot: destroys the session and its credentials.
func (m *Manager) Disconnect(botID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[botID]
	delete(m.sessions, botID)
	m.mu.Unlock()

	if !ok {
		// No live session; still wipe any stored credentials.
		return m.creds.Delete(botID)
	}

	return sess.Disconnect()
}
