package repository

import (
	"fmt"

	"VentaBot/entity"

	"go.mongodb.org/mongo-driver/bson"
)

// GetActiveProducts loads the catalog the prompt assembler pitches. Read on
// every turn so operator edits take effect without a restart.
func (m *MongoDB) GetActiveProducts(botID string) ([]entity.Product, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(productsCollection)

	cursor, err := collection.Find(m.ctx,
		bson.D{{Key: "bot_id", Value: botID}, {Key: "status", Value: entity.ProductStatusActive}})
	if err != nil {
		return nil, fmt.Errorf("mongodb find products: %w", err)
	}
	defer cursor.Close(m.ctx)

	var products []entity.Product
	if err = cursor.All(m.ctx, &products); err != nil {
		return nil, fmt.Errorf("mongodb decode products: %w", err)
	}

	return products, nil
}
