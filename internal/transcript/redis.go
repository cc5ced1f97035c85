package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps per-session transcript lists in Redis with a TTL, so
// orphaned sessions whose completion never runs are eventually reclaimed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func messagesKey(sessionID string) string { return "parlo:msgs:" + sessionID }
func audioKey(sessionID string) string    { return "parlo:audio:" + sessionID }

func (s *RedisStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	return s.appendJSON(ctx, messagesKey(sessionID), msg)
}

func (s *RedisStore) AppendAudioSegment(ctx context.Context, sessionID string, seg AudioSegment) error {
	return s.appendJSON(ctx, audioKey(sessionID), seg)
}

func (s *RedisStore) appendJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	// Refresh the TTL on every append so a live session never expires
	// mid-conversation.
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) AudioSegments(ctx context.Context, sessionID string) ([]AudioSegment, error) {
	raw, err := s.client.LRange(ctx, audioKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audio segments: %w", err)
	}
	out := make([]AudioSegment, 0, len(raw))
	for _, item := range raw {
		var seg AudioSegment
		if err := json.Unmarshal([]byte(item), &seg); err != nil {
			return nil, fmt.Errorf("decode audio segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, messagesKey(sessionID), audioKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
