package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"VentaBot/internal/config"
	"VentaBot/internal/lib/sl"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	botsCollection          = "bots"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	botStatesCollection     = "bot-states"
	productsCollection      = "products"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
	log           *slog.Logger
}

func NewMongoClient(conf *config.Config, logger *slog.Logger) (*MongoDB, error) {
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
		log:           logger.With(sl.Module("mongodb")),
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect error: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

func (m *MongoDB) findError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return fmt.Errorf("mongodb find error: %w", err)
}

// EnsureIndexes creates the indexes every pipeline query depends on.
func (m *MongoDB) EnsureIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)

	_, err = db.Collection(messagesCollection).Indexes().CreateMany(m.ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "external_id", Value: 1}}},
		{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "customer", Value: 1}, {Key: "buffered", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create message indexes: %w", err)
	}

	_, err = db.Collection(conversationsCollection).Indexes().CreateMany(m.ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "bot_id", Value: 1}, {Key: "customer", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "sold", Value: 1}, {Key: "follow_up1_at", Value: 1}, {Key: "follow_up1_sent", Value: 1}}},
		{Keys: bson.D{{Key: "sold", Value: 1}, {Key: "follow_up2_at", Value: 1}, {Key: "follow_up2_sent", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create conversation indexes: %w", err)
	}

	_, err = db.Collection(botStatesCollection).Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bot_id", Value: 1}, {Key: "customer", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongodb create bot-state index: %w", err)
	}

	return nil
}
