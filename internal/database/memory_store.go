package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryMessageStore keeps messages in process memory, in insertion order.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages []Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

func (ms *MemoryMessageStore) Create(_ context.Context, message NewMessage) (*Message, error) {
	if message.Sender == "" || message.Recipient == "" {
		return nil, ErrEmptyParticipant
	}
	document := newMessageDocument(message, time.Now())

	ms.mu.Lock()
	ms.messages = append(ms.messages, *document)
	ms.mu.Unlock()
	return document, nil
}

func (ms *MemoryMessageStore) FindByParticipants(_ context.Context, a, b string) ([]Message, error) {
	if a == "" || b == "" {
		return nil, ErrEmptyParticipant
	}

	ms.mu.RLock()
	result := make([]Message, 0)
	for _, message := range ms.messages {
		if (message.Sender == a && message.Recipient == b) || (message.Sender == b && message.Recipient == a) {
			result = append(result, message)
		}
	}
	ms.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (ms *MemoryMessageStore) DeleteByParticipant(_ context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrEmptyParticipant
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	kept := ms.messages[:0]
	var deleted int64
	for _, message := range ms.messages {
		if message.Sender == userID || message.Recipient == userID {
			deleted++
			continue
		}
		kept = append(kept, message)
	}
	ms.messages = kept
	return deleted, nil
}

// Len reports how many messages are stored.
func (ms *MemoryMessageStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.messages)
}

type MemoryUserStore struct {
	mu         sync.RWMutex
	byID       map[primitive.ObjectID]*User
	byUsername map[string]*User
	order      []primitive.ObjectID
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       make(map[primitive.ObjectID]*User),
		byUsername: make(map[string]*User),
	}
}

func (ms *MemoryUserStore) Create(_ context.Context, username, passwordHash string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.byUsername[username]; ok {
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	user := newUserDocument(username, passwordHash, time.Now())
	ms.byID[user.ID] = user
	ms.byUsername[username] = user
	ms.order = append(ms.order, user.ID)
	copied := *user
	return &copied, nil
}

func (ms *MemoryUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	user, ok := ms.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (ms *MemoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserNotFound, err)
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	user, ok := ms.byID[objectID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (ms *MemoryUserStore) List(_ context.Context) ([]User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	users := make([]User, 0, len(ms.order))
	for _, id := range ms.order {
		user := ms.byID[id]
		users = append(users, User{ID: user.ID, Username: user.Username})
	}
	return users, nil
}

// Delete removes a user account; used for account-removal housekeeping.
func (ms *MemoryUserStore) Delete(id string) bool {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	user, ok := ms.byID[objectID]
	if !ok {
		return false
	}
	delete(ms.byID, objectID)
	delete(ms.byUsername, user.Username)
	for i, existing := range ms.order {
		if existing == objectID {
			ms.order = append(ms.order[:i], ms.order[i+1:]...)
			break
		}
	}
	return true
}
