package entity

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleCustomer  = "customer"
	RoleAssistant = "assistant"
)

const (
	KindText     = "text"
	KindAudio    = "audio"
	KindImage    = "image"
	KindLocation = "location"
	KindDocument = "document"
)

// BufferedMessage is one normalized fragment of a conversation.
//
// Customer fragments are written with Buffered=true and collapsed by the
// winning aggregator run into a single Buffered=false row; assistant replies
// are written Buffered=false directly. The Buffered=false rows are the
// durable history used for prompting.
type BufferedMessage struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	BotID      string             `json:"bot_id" bson:"bot_id"`
	Customer   string             `json:"customer" bson:"customer"`
	Role       string             `json:"role" bson:"role"` // "customer" | "assistant"
	Kind       string             `json:"kind" bson:"kind"`
	Text       string             `json:"text" bson:"text"`
	Buffered   bool               `json:"buffered" bson:"buffered"`
	ExternalID string             `json:"external_id" bson:"external_id"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
}

// TaggedLine renders the fragment as one merge line, keeping the modality
// visible to the model.
func (m *BufferedMessage) TaggedLine() string {
	return TagLine(m.Kind, m.Text)
}

func TagLine(kind, text string) string {
	switch kind {
	case KindAudio:
		return fmt.Sprintf("🎙️ (transcribed audio): %s", text)
	case KindImage:
		return fmt.Sprintf("📷 (image): %s", text)
	case KindLocation:
		return fmt.Sprintf("📍 (location): %s", text)
	case KindDocument:
		return fmt.Sprintf("📎 (document): %s", text)
	default:
		return fmt.Sprintf("📝 (text): %s", text)
	}
}
