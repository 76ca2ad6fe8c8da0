package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	c "github.com/life-stream-dev/life-stream-go-chat-relay/internal/config"
	event2 "github.com/life-stream-dev/life-stream-go-chat-relay/internal/event"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Client *mongo.Client
var Database *mongo.Database
var OperationTimeout = 5 * time.Second

type DBCloseCallback struct {
}

func NewDBCloseCallback() *DBCloseCallback {
	return &DBCloseCallback{}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return Client.Disconnect(ctx)
}

func buildURI(config c.DatabaseConfig) string {
	if config.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", config.Host, config.Port)
	}
	// credentials may contain reserved characters
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(config.Username), url.QueryEscape(config.Password),
		config.Host,
		config.Port,
	)
}

func ConnectDatabase() error {
	logger.DebugF("Connecting to database...")
	config, err := c.GetConfig()
	if err != nil {
		return fmt.Errorf("error occured while connecting to database: %w", err)
	}

	OperationTimeout = utils.ParseStringTimeOr(config.Database.OperationTimeout, OperationTimeout)

	clientOptions := options.Client().ApplyURI(buildURI(config.Database)).SetAppName(config.AppName)
	clientOptions.SetMinPoolSize(config.Database.MinPoolSize)
	clientOptions.SetMaxPoolSize(config.Database.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTimeOr(config.Database.ConnectIdleTimeout, 5*time.Minute))
	clientOptions.SetConnectTimeout(utils.ParseStringTimeOr(config.Database.ConnectTimeout, 10*time.Second))
	clientOptions.SetSocketTimeout(utils.ParseStringTimeOr(config.Database.SocketTimeout, 30*time.Second))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTimeOr(config.Database.Heartbeat, 10*time.Second))
	if config.Database.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{InsecureSkipVerify: false})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s#%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s#%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	Client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = Client.Ping(ctx, nil); err != nil {
		_ = Client.Disconnect(ctx)
		return fmt.Errorf("error occured while pinging database: %w", err)
	}

	Database = Client.Database(config.Database.Database)

	if err = ensureIndexes(ctx, Database); err != nil {
		_ = Client.Disconnect(ctx)
		return err
	}

	event2.NewCleaner().Add(NewDBCloseCallback())
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(UserCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_username_unique"),
	})
	if err != nil {
		return fmt.Errorf("error occured while creating user indexes: %w", err)
	}

	_, err = db.Collection(MessageCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("messages_pair_created"),
		},
		{
			Keys:    bson.D{{Key: "recipient", Value: 1}},
			Options: options.Index().SetName("messages_recipient"),
		},
	})
	if err != nil {
		return fmt.Errorf("error occured while creating message indexes: %w", err)
	}
	return nil
}
