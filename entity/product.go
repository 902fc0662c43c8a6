package entity

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ProductStatusActive   = "active"
	ProductStatusArchived = "archived"
)

// PriceTier is one quantity break: unit price when the customer orders at
// least MinQuantity units.
type PriceTier struct {
	MinQuantity int     `json:"min_quantity" bson:"min_quantity"`
	UnitPrice   float64 `json:"unit_price" bson:"unit_price"`
	Currency    string  `json:"currency" bson:"currency"`
}

// ImagePools splits a product's photos by when the bot may use them.
type ImagePools struct {
	FirstContact []string `json:"first_contact" bson:"first_contact"`
	Additional   []string `json:"additional" bson:"additional"`
	Testimonial  []string `json:"testimonial" bson:"testimonial"`
}

// Product is one catalog entry the prompt assembler can pitch.
type Product struct {
	ID       primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	BotID    string             `json:"bot_id" bson:"bot_id"`
	Name     string             `json:"name" bson:"name"`
	Status   string             `json:"status" bson:"status"`
	Benefits []string           `json:"benefits" bson:"benefits"`
	Pricing  []PriceTier        `json:"pricing" bson:"pricing"`
	Images   ImagePools         `json:"images" bson:"images"`
	Shipping string             `json:"shipping" bson:"shipping"`
}

func (p *Product) ActiveProduct() bool {
	return p.Status == ProductStatusActive
}
