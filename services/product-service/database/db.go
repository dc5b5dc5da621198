package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Connections owns the store and cache client handles for the process.
// Clients dial lazily; a failed startup ping is logged, not fatal, and the
// driver reconnects on the next operation.
type Connections struct {
	Mongo *mongo.Client
	DB    *mongo.Database
	Redis *redis.Client
}

// ConnectMongo builds a Mongo client for uri and selects dbName.
func (c *Connections) ConnectMongo(ctx context.Context, uri, dbName string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(timeoutCtx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(timeoutCtx, nil); err != nil {
		zap.L().Warn("MongoDB not reachable yet, continuing", zap.Error(err))
	} else {
		zap.L().Info("connected to MongoDB", zap.String("database", dbName))
	}
	c.Mongo = client
	c.DB = client.Database(dbName)
	return nil
}

// ConnectRedis builds the cache client. The cache is optional: an
// unreachable Redis only degrades reads to the store.
func (c *Connections) ConnectRedis(ctx context.Context, addr, password string, db int) {
	c.Redis = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Redis.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("Redis not reachable, cache degraded", zap.String("addr", addr), zap.Error(err))
		return
	}
	zap.L().Info("connected to Redis", zap.String("addr", addr))
}

// Close disconnects every client that was opened.
func (c *Connections) Close(ctx context.Context) error {
	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.Mongo != nil {
		disconnectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Mongo.Disconnect(disconnectCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect from MongoDB: %w", err))
		}
	}
	return errors.Join(errs...)
}
