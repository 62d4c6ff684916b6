// Package mongodb provides the MongoDB execution store.
package mongodb

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	defaultDatabase     = "metis"
	executionCollection = "executions"
)

// Persistence implements persistence.ExecutionStore on MongoDB.
type Persistence struct {
	client *mongo.Client
	logger *slog.Logger

	*ExecutionRepository
}

// NewPersistence connects to uri and ensures the execution indexes exist.
// The database name is taken from the URI path, falling back to "metis".
func NewPersistence(ctx context.Context, logger *slog.Logger, uri string) (*Persistence, error) {
	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := databaseName(uri)
	collection := client.Database(database).Collection(executionCollection)

	_, err = collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_date", Value: 1}}},
		{Keys: bson.D{{Key: "dataset_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution indexes: %w", err)
	}

	logger.InfoContext(ctx, "Connected to MongoDB", "database", database)

	return &Persistence{
		client:              client,
		logger:              logger,
		ExecutionRepository: NewExecutionRepository(collection, logger),
	}, nil
}

func (p *Persistence) Close(ctx context.Context) error {
	err := p.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx, readpref.Primary())
	if err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return nil
}
