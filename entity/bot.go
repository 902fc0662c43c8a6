package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	BotStatusActive = "active"
	BotStatusPaused = "paused"
)

const (
	ChannelCloudAPI = "cloud-api"
	ChannelSession  = "session"
)

// Bot is one automated seller identity. Credentials are opaque to the
// pipeline; each channel adapter knows how to use its own.
type Bot struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name          string             `json:"name" bson:"name"`
	Status        string             `json:"status" bson:"status"`   // "active" | "paused"
	Channel       string             `json:"channel" bson:"channel"` // "cloud-api" | "session"
	Persona       string             `json:"persona" bson:"persona"`
	Welcome       string             `json:"welcome" bson:"welcome"`
	NotifyAddress string             `json:"notify_address" bson:"notify_address"`

	// Follow-up delays in minutes; short fires once, long recurs.
	FollowUp1Minutes int `json:"follow_up1_minutes" bson:"follow_up1_minutes"`
	FollowUp2Minutes int `json:"follow_up2_minutes" bson:"follow_up2_minutes"`

	CloudAPI CloudAPICredentials `json:"cloud_api" bson:"cloud_api"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// CloudAPICredentials holds the stateless-channel secrets.
type CloudAPICredentials struct {
	AccessToken   string `json:"access_token" bson:"access_token"`
	PhoneNumberID string `json:"phone_number_id" bson:"phone_number_id"`
	VerifyToken   string `json:"verify_token" bson:"verify_token"`
	AppSecret     string `json:"app_secret" bson:"app_secret"`
}

func (b *Bot) Active() bool {
	return b.Status == BotStatusActive
}

func (b *Bot) FollowUp1Delay() time.Duration {
	return time.Duration(b.FollowUp1Minutes) * time.Minute
}

func (b *Bot) FollowUp2Delay() time.Duration {
	return time.Duration(b.FollowUp2Minutes) * time.Minute
}
