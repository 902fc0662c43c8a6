package repository

import (
	"fmt"
	"time"

	"VentaBot/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo persists timestamps with millisecond precision; writing truncated
// values keeps the fencing comparison exact across a write/read round trip.
func mongoNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// TouchConversation registers a live customer signal: it upserts the
// conversation, bumps updated_at and clears both follow-up pairs, all in one
// statement. The returned document's UpdatedAt is the caller's arrival
// timestamp for the debounce fencing check.
//
// This is the only write path allowed to modify updated_at.
func (m *MongoDB) TouchConversation(botID, customer, name string) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	set := bson.D{
		{Key: "updated_at", Value: mongoNow()},
		{Key: "follow_up1_sent", Value: false},
		{Key: "follow_up2_sent", Value: false},
	}
	if name != "" {
		set = append(set, bson.E{Key: "customer_name", Value: name})
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$unset", Value: bson.D{{Key: "follow_up1_at", Value: ""}, {Key: "follow_up2_at", Value: ""}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}, {Key: "sold", Value: false}}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv entity.Conversation
	err = collection.FindOneAndUpdate(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}, update, opts).Decode(&conv)
	if err != nil {
		return nil, fmt.Errorf("mongodb touch conversation: %w", err)
	}

	return &conv, nil
}

func (m *MongoDB) GetConversation(botID, customer string) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	var conv entity.Conversation
	err = collection.FindOne(m.ctx, bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}).Decode(&conv)
	if err != nil {
		return nil, m.findError(err)
	}

	return &conv, nil
}

// ConversationUpdatedAt is the post-sleep fencing re-read.
func (m *MongoDB) ConversationUpdatedAt(botID, customer string) (time.Time, error) {
	connection, err := m.connect()
	if err != nil {
		return time.Time{}, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	var result struct {
		UpdatedAt time.Time `bson:"updated_at"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "updated_at", Value: 1}})
	err = collection.FindOne(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}, opts).Decode(&result)
	if err != nil {
		return time.Time{}, fmt.Errorf("mongodb read heartbeat: %w", err)
	}

	return result.UpdatedAt, nil
}

// MarkSold freezes the conversation. Deliberately leaves updated_at alone so
// a still-sleeping aggregator run keeps a truthful fencing token.
func (m *MongoDB) MarkSold(botID, customer string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "sold", Value: true}, {Key: "sold_at", Value: mongoNow()}}},
		{Key: "$unset", Value: bson.D{{Key: "follow_up1_at", Value: ""}, {Key: "follow_up2_at", Value: ""}}},
	}
	_, err = collection.UpdateOne(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}, update)
	if err != nil {
		return fmt.Errorf("mongodb mark sold: %w", err)
	}

	return nil
}

// ScheduleFollowUps writes both due-timestamps, unsent. Never touches
// updated_at.
func (m *MongoDB) ScheduleFollowUps(botID, customer string, at1, at2 time.Time) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "follow_up1_at", Value: at1.UTC().Truncate(time.Millisecond)},
		{Key: "follow_up1_sent", Value: false},
		{Key: "follow_up2_at", Value: at2.UTC().Truncate(time.Millisecond)},
		{Key: "follow_up2_sent", Value: false},
	}}}
	_, err = collection.UpdateOne(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}, update)
	if err != nil {
		return fmt.Errorf("mongodb schedule follow-ups: %w", err)
	}

	return nil
}

// DueFollowUps finds unsold conversations whose n-th follow-up is past due
// and not yet sent.
func (m *MongoDB) DueFollowUps(n int, now time.Time) ([]entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	atField := fmt.Sprintf("follow_up%d_at", n)
	sentField := fmt.Sprintf("follow_up%d_sent", n)

	filter := bson.D{
		{Key: "sold", Value: false},
		{Key: sentField, Value: false},
		{Key: atField, Value: bson.D{{Key: "$ne", Value: nil}, {Key: "$lte", Value: now.UTC()}}},
	}

	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb find due follow-ups: %w", err)
	}
	defer cursor.Close(m.ctx)

	var due []entity.Conversation
	if err = cursor.All(m.ctx, &due); err != nil {
		return nil, fmt.Errorf("mongodb decode due follow-ups: %w", err)
	}

	return due, nil
}

// MarkFollowUpSent flips the n-th sent flag. Used for the one-shot short
// follow-up.
func (m *MongoDB) MarkFollowUpSent(botID, customer string, n int) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	sentField := fmt.Sprintf("follow_up%d_sent", n)
	_, err = collection.UpdateOne(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}},
		bson.D{{Key: "$set", Value: bson.D{{Key: sentField, Value: true}}}})
	if err != nil {
		return fmt.Errorf("mongodb mark follow-up sent: %w", err)
	}

	return nil
}

// RescheduleFollowUp2 pushes the recurring long follow-up to its next slot
// with the sent flag reset, so it keeps nudging until the customer replies
// or the conversation closes.
func (m *MongoDB) RescheduleFollowUp2(botID, customer string, nextAt time.Time) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "follow_up2_at", Value: nextAt.UTC().Truncate(time.Millisecond)},
		{Key: "follow_up2_sent", Value: false},
	}}}
	_, err = collection.UpdateOne(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "customer", Value: customer}}, update)
	if err != nil {
		return fmt.Errorf("mongodb reschedule follow-up: %w", err)
	}

	return nil
}

// GetActiveConversations returns a bot's conversations, most recent first,
// for the operator chat list.
func (m *MongoDB) GetActiveConversations(botID string) ([]entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := collection.Find(m.ctx, bson.D{{Key: "bot_id", Value: botID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find conversations: %w", err)
	}
	defer cursor.Close(m.ctx)

	var conversations []entity.Conversation
	if err = cursor.All(m.ctx, &conversations); err != nil {
		return nil, fmt.Errorf("mongodb decode conversations: %w", err)
	}

	return conversations, nil
}
