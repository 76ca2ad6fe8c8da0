package database

import (
	c "github.com/life-stream-dev/life-stream-go-chat-relay/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

type Stores struct {
	Messages MessageStore
	Users    UserStore
}

// OpenStores connects to MongoDB, or returns in-memory stores when database.in_memory is set.
func OpenStores(config c.Config) (*Stores, error) {
	if config.Database.InMemory {
		logger.Warn("Using in-memory stores, data will not survive a restart")
		return &Stores{Messages: NewMemoryMessageStore(), Users: NewMemoryUserStore()}, nil
	}
	if err := ConnectDatabase(); err != nil {
		return nil, err
	}
	return &Stores{Messages: NewDBMessageStore(Database), Users: NewDBUserStore(Database)}, nil
}
