package repository

import (
	"fmt"
	"strings"

	"VentaBot/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageExists reports whether a channel message id was already ingested.
// The first short-circuit of the pipeline: at-least-once delivery from the
// providers becomes at-most-once processing.
func (m *MongoDB) MessageExists(externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}

	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	count, err := collection.CountDocuments(m.ctx,
		bson.D{{Key: "external_id", Value: externalID}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongodb count by external id: %w", err)
	}

	return count > 0, nil
}

func (m *MongoDB) SaveMessage(msg entity.BufferedMessage) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	_, err = collection.InsertOne(m.ctx, msg)
	if err != nil {
		return fmt.Errorf("mongodb insert message: %w", err)
	}

	return nil
}

// CollapseBuffered atomically replaces every buffered customer fragment of a
// conversation with one merged row. The delete and the insert run in a
// single transaction so a crash can never leave both the fragments and a
// partial merge behind. Returns nil when another run already collapsed the
// buffer.
func (m *MongoDB) CollapseBuffered(botID, customer string) (*entity.BufferedMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	session, err := connection.StartSession()
	if err != nil {
		return nil, fmt.Errorf("mongodb start session: %w", err)
	}
	defer session.EndSession(m.ctx)

	result, err := session.WithTransaction(m.ctx, func(sc mongo.SessionContext) (interface{}, error) {
		filter := bson.D{
			{Key: "bot_id", Value: botID},
			{Key: "customer", Value: customer},
			{Key: "role", Value: entity.RoleCustomer},
			{Key: "buffered", Value: true},
		}

		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
		cursor, err := collection.Find(sc, filter, opts)
		if err != nil {
			return nil, fmt.Errorf("mongodb find buffered: %w", err)
		}

		var fragments []entity.BufferedMessage
		if err = cursor.All(sc, &fragments); err != nil {
			return nil, fmt.Errorf("mongodb decode buffered: %w", err)
		}
		if len(fragments) == 0 {
			return nil, nil
		}

		lines := make([]string, 0, len(fragments))
		ids := make([]interface{}, 0, len(fragments))
		for i := range fragments {
			lines = append(lines, fragments[i].TaggedLine())
			ids = append(ids, fragments[i].ID)
		}

		merged := entity.BufferedMessage{
			BotID:      botID,
			Customer:   customer,
			Role:       entity.RoleCustomer,
			Kind:       entity.KindText,
			Text:       strings.Join(lines, "\n"),
			Buffered:   false,
			ExternalID: fragments[len(fragments)-1].ExternalID,
			CreatedAt:  fragments[0].CreatedAt,
		}

		if _, err = collection.DeleteMany(sc, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}); err != nil {
			return nil, fmt.Errorf("mongodb delete buffered: %w", err)
		}

		if _, err = collection.InsertOne(sc, merged); err != nil {
			return nil, fmt.Errorf("mongodb insert merged: %w", err)
		}

		return &merged, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	return result.(*entity.BufferedMessage), nil
}

// GetHistory returns the last limit durable rows in chronological order.
func (m *MongoDB) GetHistory(botID, customer string, limit int) ([]entity.BufferedMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	filter := bson.D{
		{Key: "bot_id", Value: botID},
		{Key: "customer", Value: customer},
		{Key: "buffered", Value: false},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find history: %w", err)
	}
	defer cursor.Close(m.ctx)

	var newestFirst []entity.BufferedMessage
	if err = cursor.All(m.ctx, &newestFirst); err != nil {
		return nil, fmt.Errorf("mongodb decode history: %w", err)
	}

	history := make([]entity.BufferedMessage, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		history = append(history, newestFirst[i])
	}

	return history, nil
}
