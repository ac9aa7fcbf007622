package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"slidesync-backend/internal/model"
)

// chatTTL Redis 채팅 캐시 보존 시간
const chatTTL = 24 * time.Hour

// RedisClient wraps the Redis client for bounded chat caching. The cache
// survives a gateway restart and warms the in-memory chat buffer; it is not
// an authoritative store.
type RedisClient struct {
	client  *redis.Client
	chatCap int64
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int, chatCap int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client, chatCap: int64(chatCap)}, nil
}

func chatKey(sessionID string) string {
	return "session:" + sessionID + ":chat"
}

// AddChatMessage appends a chat message to the session's list, trimming the
// list to the configured cap (oldest entries dropped first).
func (r *RedisClient) AddChatMessage(ctx context.Context, sessionID string, msg *model.ChatMessage) error {
	key := chatKey(sessionID)

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -r.chatCap, -1)
	pipe.Expire(ctx, key, chatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Redis] Failed to add chat message: %v", err)
		return err
	}

	return nil
}

// GetRecentChat retrieves the last count chat messages for a session,
// oldest first.
func (r *RedisClient) GetRecentChat(ctx context.Context, sessionID string, count int64) ([]model.ChatMessage, error) {
	results, err := r.client.LRange(ctx, chatKey(sessionID), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]model.ChatMessage, 0, len(results))
	for _, data := range results {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetChatCount returns the number of cached chat messages for a session
func (r *RedisClient) GetChatCount(ctx context.Context, sessionID string) (int64, error) {
	return r.client.LLen(ctx, chatKey(sessionID)).Result()
}

// DeleteSession removes all cached chat for a session
func (r *RedisClient) DeleteSession(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, chatKey(sessionID)).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
