package cloudapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
)

// Sink receives every normalized inbound event. Wired to the aggregator at
// startup.
type Sink func(b *entity.Bot, ev entity.InboundEvent)

// BotResolver looks up the bot a webhook delivery belongs to.
type BotResolver interface {
	GetBot(botID string) (*entity.Bot, error)
}

// Gateway terminates the cloud-API webhook for all stateless bots and feeds
// the shared pipeline.
type Gateway struct {
	log  *slog.Logger
	bots BotResolver
	sink Sink
}

func NewGateway(bots BotResolver, sink Sink, log *slog.Logger) *Gateway {
	return &Gateway{
		log:  log.With(sl.Module("cloudapi.gateway")),
		bots: bots,
		sink: sink,
	}
}

// webhookPayload mirrors the Graph webhook message envelope, including the
// media message kinds.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Voice    bool   `json:"voice"`
	} `json:"audio,omitempty"`
	Image *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Caption  string `json:"caption"`
	} `json:"image,omitempty"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location,omitempty"`
	Document *struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Caption  string `json:"caption"`
	} `json:"document,omitempty"`
}

// HandleVerification answers the Graph webhook subscription handshake.
func (g *Gateway) HandleVerification(w http.ResponseWriter, r *http.Request, botID string) {
	b, err := g.bots.GetBot(botID)
	if err != nil || b == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == b.CloudAPI.VerifyToken {
		g.log.Info("webhook verified", slog.String("bot", botID))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	g.log.Warn("webhook verification failed",
		slog.String("bot", botID),
		slog.String("mode", mode),
	)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleWebhook acknowledges the delivery immediately and processes the
// payload asynchronously; the provider retries on anything but a 200.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request, botID string) {
	b, err := g.bots.GetBot(botID)
	if err != nil || b == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.log.Error("failed to read request body", sl.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if b.CloudAPI.AppSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, signature, b.CloudAPI.AppSecret) {
			g.log.Warn("invalid webhook signature", slog.String("bot", botID))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		g.log.Error("failed to parse webhook payload", sl.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)

	go g.processPayload(b, payload)
}

func (g *Gateway) processPayload(b *entity.Bot, payload webhookPayload) {
	if payload.Object != "whatsapp_business_account" {
		return
	}

	client := NewClient(b, g.log)

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, message := range change.Value.Messages {
				ev, ok := g.translate(client, message)
				if !ok {
					continue
				}
				ev.SenderName = names[message.From]
				g.sink(b, ev)
			}
		}
	}
}

// translate maps one webhook message onto the channel-agnostic event,
// resolving media eagerly so the pipeline never needs Graph credentials.
func (g *Gateway) translate(client *Client, msg webhookMessage) (entity.InboundEvent, bool) {
	ev := entity.InboundEvent{
		MessageID: msg.ID,
		From:      msg.From,
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return ev, false
		}
		ev.Kind = entity.KindText
		ev.Text = msg.Text.Body

	case "audio":
		if msg.Audio == nil {
			return ev, false
		}
		ev.Kind = entity.KindAudio
		audio, err := client.fetchAudio(msg.Audio.ID)
		if err != nil {
			g.log.Warn("audio download failed", sl.Err(err))
		}
		ev.Audio = audio

	case "image":
		if msg.Image == nil {
			return ev, false
		}
		ev.Kind = entity.KindImage
		ev.Text = msg.Image.Caption
		dataURL, err := client.fetchImageDataURL(msg.Image.ID)
		if err != nil {
			g.log.Warn("image download failed", sl.Err(err))
		}
		ev.MediaURL = dataURL

	case "location":
		if msg.Location == nil {
			return ev, false
		}
		ev.Kind = entity.KindLocation
		ev.Latitude = msg.Location.Latitude
		ev.Longitude = msg.Location.Longitude
		ev.HasCoords = true
		ev.Text = msg.Location.Name

	case "document":
		if msg.Document == nil {
			return ev, false
		}
		ev.Kind = entity.KindDocument
		ev.Text = msg.Document.Caption
		ev.Filename = msg.Document.Filename

	default:
		return ev, false
	}

	return ev, true
}

func verifySignature(body []byte, signature, appSecret string) bool {
	if len(signature) < 8 || signature[:7] != "sha256=" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature[7:]))
}
