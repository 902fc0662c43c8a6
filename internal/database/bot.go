package repository

import (
	"fmt"

	"VentaBot/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (m *MongoDB) GetBot(botID string) (*entity.Bot, error) {
	oid, err := primitive.ObjectIDFromHex(botID)
	if err != nil {
		return nil, fmt.Errorf("invalid bot id %q: %w", botID, err)
	}

	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(botsCollection)

	var bot entity.Bot
	err = collection.FindOne(m.ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&bot)
	if err != nil {
		return nil, m.findError(err)
	}

	return &bot, nil
}

// GetBotByPhoneNumberID resolves the owning bot of an inbound cloud-API
// webhook delivery.
func (m *MongoDB) GetBotByPhoneNumberID(phoneNumberID string) (*entity.Bot, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(botsCollection)

	var bot entity.Bot
	err = collection.FindOne(m.ctx,
		bson.D{{Key: "cloud_api.phone_number_id", Value: phoneNumberID}}).Decode(&bot)
	if err != nil {
		return nil, m.findError(err)
	}

	return &bot, nil
}

// ListBotsByChannel returns every active bot on the given channel type. The
// session supervisor uses it at startup to bring persistent sessions up.
func (m *MongoDB) ListBotsByChannel(channel string) ([]entity.Bot, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(botsCollection)

	cursor, err := collection.Find(m.ctx,
		bson.D{{Key: "channel", Value: channel}, {Key: "status", Value: entity.BotStatusActive}})
	if err != nil {
		return nil, fmt.Errorf("mongodb find bots: %w", err)
	}
	defer cursor.Close(m.ctx)

	var bots []entity.Bot
	if err = cursor.All(m.ctx, &bots); err != nil {
		return nil, fmt.Errorf("mongodb decode bots: %w", err)
	}

	return bots, nil
}
