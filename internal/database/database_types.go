package database

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageCollectionName = "messages"
	UserCollectionName    = "users"
)

var (
	ErrEmptyParticipant = errors.New("participant id is empty")
	ErrEmptyUsername    = errors.New("username is empty")
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already taken")
)

// Message is one relayed message. It is never modified after creation.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Sender    string             `bson:"sender" json:"sender"`
	Recipient string             `bson:"recipient" json:"recipient"`
	Text      string             `bson:"text,omitempty" json:"text,omitempty"`
	File      string             `bson:"file,omitempty" json:"file,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type NewMessage struct {
	Sender    string
	Recipient string
	Text      string
	File      string
}

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Username  string             `bson:"username" json:"username"`
	Password  string             `bson:"password" json:"-"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type MessageStore interface {
	Create(ctx context.Context, message NewMessage) (*Message, error)
	// FindByParticipants returns every message exchanged between a and b, oldest first.
	FindByParticipants(ctx context.Context, a, b string) ([]Message, error)
	DeleteByParticipant(ctx context.Context, userID string) (int64, error)
}

type UserStore interface {
	Create(ctx context.Context, username, passwordHash string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
}

func newMessageDocument(message NewMessage, now time.Time) *Message {
	return &Message{
		ID:        primitive.NewObjectID(),
		Sender:    message.Sender,
		Recipient: message.Recipient,
		Text:      message.Text,
		File:      message.File,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newUserDocument(username, passwordHash string, now time.Time) *User {
	return &User{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Password:  passwordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
