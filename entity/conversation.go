package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is the coordination row for one bot/customer pair.
//
// UpdatedAt doubles as the fencing token for the debounce race: it is bumped
// only when a genuine customer message arrives, and every in-flight
// aggregator run compares it against its own arrival timestamp after the
// quiet window. No other write path may touch it.
type Conversation struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	BotID        string             `json:"bot_id" bson:"bot_id"`
	Customer     string             `json:"customer" bson:"customer"`
	CustomerName string             `json:"customer_name" bson:"customer_name"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`

	Sold   bool       `json:"sold" bson:"sold"`
	SoldAt *time.Time `json:"sold_at,omitempty" bson:"sold_at,omitempty"`

	FollowUp1At   *time.Time `json:"follow_up1_at,omitempty" bson:"follow_up1_at,omitempty"`
	FollowUp1Sent bool       `json:"follow_up1_sent" bson:"follow_up1_sent"`
	FollowUp2At   *time.Time `json:"follow_up2_at,omitempty" bson:"follow_up2_at,omitempty"`
	FollowUp2Sent bool       `json:"follow_up2_sent" bson:"follow_up2_sent"`
}

// BotState keeps per-conversation assistant bookkeeping outside the
// fencing row so updating it never disturbs UpdatedAt.
type BotState struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	BotID       string             `json:"bot_id" bson:"bot_id"`
	Customer    string             `json:"customer" bson:"customer"`
	WelcomeSent bool               `json:"welcome_sent" bson:"welcome_sent"`
	LastIntent  string             `json:"last_intent" bson:"last_intent"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}
