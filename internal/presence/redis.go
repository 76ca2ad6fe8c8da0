package presence

import (
	"context"
	"fmt"
	"time"

	c "github.com/life-stream-dev/life-stream-go-chat-relay/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
	"github.com/redis/go-redis/v9"
)

// RedisSink stores the online set as a hash of userId to username.
type RedisSink struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSink(ctx context.Context, config c.RedisConfig, ttl time.Duration) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error occured while pinging redis: %w", err)
	}
	key := config.Key
	if key == "" {
		key = "chat:online"
	}
	return &RedisSink{client: client, key: key, ttl: ttl}, nil
}

func (s *RedisSink) Publish(ctx context.Context, online []protocol.OnlineUser) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	if len(online) > 0 {
		values := make([]interface{}, 0, len(online)*2)
		for _, user := range online {
			values = append(values, user.UserID, user.Username)
		}
		pipe.HSet(ctx, s.key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis presence update failed: %w", err)
	}
	return nil
}

// Online reads the mirrored set back.
func (s *RedisSink) Online(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key).Result()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
