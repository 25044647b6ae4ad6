// Package docstore persists reports as MongoDB documents, one per report,
// in the shape the mobile client writes to its document database.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"safereport/internal/config"
	"safereport/pkg/logger"
)

// MongoDB wraps a connected client and the reports collection
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *logger.Logger
}

// NewMongo connects, pings and ensures the report indexes exist
func NewMongo(ctx context.Context, cfg config.MongoConfig, log *logger.Logger) (*MongoDB, error) {
	log = log.WithComponent("mongo")
	log.Info().Str("uri", redactURI(cfg.URI)).Str("db", cfg.Database).Msg("connecting to MongoDB")

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(dctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(dctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	m := &MongoDB{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     log,
	}

	if err := m.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("index creation warnings")
	}

	log.Info().Msg("connected to MongoDB successfully")
	return m, nil
}

// Collection returns the reports collection
func (m *MongoDB) Collection() *mongo.Collection {
	return m.collection
}

// Ping checks the connection
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	m.logger.Info().Msg("closing MongoDB connection")
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) createIndexes(ctx context.Context) error {
	ctxIdx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []string
	if _, err := m.collection.Indexes().CreateOne(ctxIdx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	}); err != nil {
		errs = append(errs, "timestamp: "+err.Error())
	}
	if _, err := m.collection.Indexes().CreateOne(ctxIdx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "timestamp", Value: -1}},
	}); err != nil {
		errs = append(errs, "status,timestamp: "+err.Error())
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// redactURI masks credentials for logging
func redactURI(raw string) string {
	if raw == "" || !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.UserPassword("****", "****")
	return u.String()
}
