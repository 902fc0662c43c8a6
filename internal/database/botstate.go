package repository

import (
	"fmt"

	"VentaBot/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (m *MongoDB) GetBotState(botID, customer string) (*entity.BotState, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(botStatesCollection)

	var state entity.BotState
	err = collection.FindOne(m.ctx, bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}).Decode(&state)
	if err != nil {
		return nil, m.findError(err)
	}

	return &state, nil
}

// UpsertBotState records per-conversation assistant bookkeeping after a
// reply. Lives in its own collection so it can never race the fencing row.
func (m *MongoDB) UpsertBotState(botID, customer string, welcomeSent bool, lastIntent string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(botStatesCollection)

	set := bson.D{{Key: "updated_at", Value: mongoNow()}}
	if welcomeSent {
		set = append(set, bson.E{Key: "welcome_sent", Value: true})
	}
	if lastIntent != "" {
		set = append(set, bson.E{Key: "last_intent", Value: lastIntent})
	}

	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}},
	}
	_, err = collection.UpdateOne(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert bot state: %w", err)
	}

	return nil
}
