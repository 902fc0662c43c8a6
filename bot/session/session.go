package session

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"VentaBot/entity"
	"VentaBot/internal/lib/sl"

	"github.com/gorilla/websocket"
)

// Session states. A session always moves disconnected → connecting →
// (qr_ready →) connected; any socket closure drops it back to disconnected
// and, unless the operator unlinked it, a reconnect is scheduled
// unconditionally.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateQRReady      = "qr_ready"
	StateConnected    = "connected"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Sink receives inbound socket messages, normalized to the same event shape
// the webhook channel produces.
type Sink func(b *entity.Bot, ev entity.InboundEvent)

// Session supervises one bot's persistent multi-device link. It implements
// the outbound channel port while connected.
type Session struct {
	bot        *entity.Bot
	gatewayURL string
	reconnect  time.Duration
	creds      *CredStore
	sink       Sink
	log        *slog.Logger

	mu      sync.Mutex
	state   string
	qrCode  string
	phone   string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool // voluntary unlink, suppresses auto-reconnect
}

func NewSession(b *entity.Bot, gatewayURL string, reconnect time.Duration, creds *CredStore, sink Sink, log *slog.Logger) *Session {
	return &Session{
		bot:        b,
		gatewayURL: gatewayURL,
		reconnect:  reconnect,
		creds:      creds,
		sink:       sink,
		log:        log.With(sl.Module("session"), slog.String("bot", b.ID.Hex())),
		state:      StateDisconnected,
	}
}

// Status is the operator-facing snapshot.
type Status struct {
	State  string `json:"state"`
	QRCode string `json:"qr_code,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Phone: s.phone}
	if s.state == StateQRReady {
		st.QRCode = s.qrCode
	}
	return st
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	s.state = state
	if state != StateQRReady {
		s.qrCode = ""
	}
	s.mu.Unlock()
	s.log.Info("session state", slog.String("state", state))
}

// Start brings the session up and keeps it up. Returns once the first
// connection attempt has been made; reconnection runs in the background.
func (s *Session) Start() {
	go s.run()
}

func (s *Session) run() {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if err := s.connectOnce(); err != nil {
			s.log.Warn("session connect failed", sl.Err(err))
		}

		s.setState(StateDisconnected)

		s.mu.Lock()
		stop := s.closed
		s.mu.Unlock()
		if stop {
			return
		}

		// Involuntary drop: credentials persist, reconnect is cheap.
		time.Sleep(s.reconnect)
	}
}

// connectOnce dials the gateway and pumps events until the socket closes.
func (s *Session) connectOnce() error {
	s.setState(StateConnecting)

	header := http.Header{}
	stored, err := s.creds.Load(s.bot.ID.Hex())
	if err != nil {
		s.log.Warn("creds load failed, pairing from scratch", sl.Err(err))
	}
	if stored != nil {
		header.Set("X-Session-ID", stored.SessionID)
		header.Set("X-Auth-Token", stored.AuthToken)
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.gatewayURL, header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.phone = ""
		s.mu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame gatewayFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("gateway read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		s.handleFrame(&frame)
	}
}

// gatewayFrame is one JSON event from the session gateway.
type gatewayFrame struct {
	Type    string          `json:"type"` // "qr" | "connected" | "message" | "logged_out"
	Code    string          `json:"code,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Creds   *Credentials    `json:"creds,omitempty"`
	Message *gatewayMessage `json:"message,omitempty"`
}

type gatewayMessage struct {
	ID          string  `json:"id"`
	From        string  `json:"from"`
	SenderName  string  `json:"sender_name"`
	Kind        string  `json:"kind"`
	Text        string  `json:"text"`
	MediaURL    string  `json:"media_url"`
	AudioBase64 string  `json:"audio_base64"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	HasCoords   bool    `json:"has_coords"`
	Filename    string  `json:"filename"`
}

func (s *Session) handleFrame(frame *gatewayFrame) {
	switch frame.Type {
	case "qr":
		// Each refresh replaces the rendered code.
		s.mu.Lock()
		s.qrCode = frame.Code
		s.state = StateQRReady
		s.mu.Unlock()
		s.log.Info("pairing code refreshed")

	case "connected":
		s.mu.Lock()
		s.phone = frame.Phone
		s.state = StateConnected
		s.qrCode = ""
		s.mu.Unlock()
		if frame.Creds != nil {
			if err := s.creds.Save(s.bot.ID.Hex(), frame.Creds); err != nil {
				s.log.Error("creds save failed", sl.Err(err))
			}
		}
		s.log.Info("session connected", slog.String("phone", frame.Phone))

	case "message":
		if frame.Message == nil {
			return
		}
		ev, ok := s.translate(frame.Message)
		if !ok {
			return
		}
		go s.sink(s.bot, ev)

	case "logged_out":
		// Remote unlink from the paired phone; treat like a voluntary
		// disconnect so we do not loop on dead credentials.
		s.log.Warn("remote logout")
		if err := s.creds.Delete(s.bot.ID.Hex()); err != nil {
			s.log.Error("creds delete failed", sl.Err(err))
		}
	}
}

func (s *Session) translate(msg *gatewayMessage) (entity.InboundEvent, bool) {
	ev := entity.InboundEvent{
		MessageID:  msg.ID,
		From:       msg.From,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		MediaURL:   msg.MediaURL,
		Latitude:   msg.Latitude,
		Longitude:  msg.Longitude,
		HasCoords:  msg.HasCoords,
		Filename:   msg.Filename,
	}

	switch msg.Kind {
	case entity.KindText, entity.KindAudio, entity.KindImage, entity.KindLocation, entity.KindDocument:
		ev.Kind = msg.Kind
	default:
		return ev, false
	}

	if msg.AudioBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
		if err != nil {
			s.log.Warn("audio decode failed", sl.Err(err))
		} else {
			ev.Audio = audio
		}
	}

	return ev, true
}

// Disconnect is the explicit, destructive unlink: log out at the gateway,
// drop in-memory state and delete the credential bundle. Distinct from an
// involuntary drop, which keeps credentials and auto-reconnects.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = s.writeFrame(outboundFrame{Type: "logout"})
		conn.Close()
	}

	s.setState(StateDisconnected)

	if err := s.creds.Delete(s.bot.ID.Hex()); err != nil {
		return fmt.Errorf("delete creds: %w", err)
	}

	return nil
}

type outboundFrame struct {
	Type   string `json:"type"` // "send_text" | "send_image" | "presence" | "read" | "logout"
	To     string `json:"to,omitempty"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	ID     string `json:"id,omitempty"`
	Typing bool   `json:"typing,omitempty"`
}

func (s *Session) writeFrame(frame outboundFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("session not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func (s *Session) SendText(to, text string) error {
	return s.writeFrame(outboundFrame{Type: "send_text", To: to, Text: text})
}

func (s *Session) SendImage(to, url string) error {
	return s.writeFrame(outboundFrame{Type: "send_image", To: to, URL: url})
}

func (s *Session) SetTyping(to string, typing bool) error {
	return s.writeFrame(outboundFrame{Type: "presence", To: to, Typing: typing})
}

func (s *Session) MarkRead(messageID string) error {
	return s.writeFrame(outboundFrame{Type: "read", ID: messageID})
}
