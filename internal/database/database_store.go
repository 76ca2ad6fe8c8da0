package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func mapError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("document does not exist: %w", err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

type DBMessageStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

func NewDBMessageStore(db *mongo.Database) *DBMessageStore {
	return &DBMessageStore{collection: db.Collection(MessageCollectionName), timeout: OperationTimeout}
}

func (ds *DBMessageStore) Create(ctx context.Context, message NewMessage) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if message.Sender == "" || message.Recipient == "" {
		return nil, ErrEmptyParticipant
	}

	document := newMessageDocument(message, time.Now())
	startTime := time.Now()
	if _, err := ds.collection.InsertOne(ctx, document); err != nil {
		return nil, mapError(err)
	}
	logger.DebugF("message insert cost: %v", time.Since(startTime))
	return document, nil
}

func (ds *DBMessageStore) FindByParticipants(ctx context.Context, a, b string) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if a == "" || b == "" {
		return nil, ErrEmptyParticipant
	}

	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "sender", Value: a}, {Key: "recipient", Value: b}},
		bson.D{{Key: "sender", Value: b}, {Key: "recipient", Value: a}},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := ds.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapError(err)
	}
	messages := make([]Message, 0)
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, mapError(err)
	}
	return messages, nil
}

func (ds *DBMessageStore) DeleteByParticipant(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if userID == "" {
		return 0, ErrEmptyParticipant
	}

	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "sender", Value: userID}},
		bson.D{{Key: "recipient", Value: userID}},
	}}}
	result, err := ds.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, mapError(err)
	}

	logger.InfoF("Messages deleted: participant=%s, deleted=%d", userID, result.DeletedCount)
	return result.DeletedCount, nil
}

type DBUserStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

func NewDBUserStore(db *mongo.Database) *DBUserStore {
	return &DBUserStore{collection: db.Collection(UserCollectionName), timeout: OperationTimeout}
}

func (ds *DBUserStore) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if username == "" {
		return nil, ErrEmptyUsername
	}

	document := newUserDocument(username, passwordHash, time.Now())
	if _, err := ds.collection.InsertOne(ctx, document); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %w", ErrUsernameTaken, err)
		}
		return nil, mapError(err)
	}

	logger.InfoF("User created: username=%s, id=%s", username, document.ID.Hex())
	return document, nil
}

func (ds *DBUserStore) findOne(ctx context.Context, filter bson.D) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	var user User
	startTime := time.Now()
	err := ds.collection.FindOne(ctx, filter).Decode(&user)
	logger.DebugF("user query cost: %v", time.Since(startTime))

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %w", ErrUserNotFound, err)
		}
		return nil, mapError(err)
	}
	return &user, nil
}

func (ds *DBUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}
	return ds.findOne(ctx, bson.D{{Key: "username", Value: username}})
}

func (ds *DBUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserNotFound, err)
	}
	return ds.findOne(ctx, bson.D{{Key: "_id", Value: objectID}})
}

func (ds *DBUserStore) List(ctx context.Context) ([]User, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	opts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}, {Key: "username", Value: 1}})
	cursor, err := ds.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	users := make([]User, 0)
	if err = cursor.All(ctx, &users); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}
