// Package memory keeps a bounded per-user conversation history in Redis.
// Each user holds at most the configured number of recent turns, so the
// composer prompt stays small no matter how long a conversation runs, and
// idle histories expire on their own.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agrichat-backend/internal/common/logger"
)

// Turn is one utterance in a conversation, either the user's message or the
// assistant's reply.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Store struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
	logger   logger.Logger
}

func NewStore(client *redis.Client, maxTurns int, ttl time.Duration, log logger.Logger) *Store {
	return &Store{
		client:   client,
		maxTurns: maxTurns,
		ttl:      ttl,
		logger:   log.With(map[string]interface{}{"component": "memory"}),
	}
}

func historyKey(userID string) string {
	return "chat:history:" + userID
}

// Append records one turn and trims the list to the newest maxTurns entries
// in the same pipeline, so the bound holds even under concurrent appends.
func (s *Store) Append(ctx context.Context, userID string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := historyKey(userID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.maxTurns-1))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the retained turns in chronological order. A user with no
// history gets an empty slice, not an error.
func (s *Store) History(ctx context.Context, userID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, historyKey(userID), 0, int64(s.maxTurns-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	// Stored newest-first; walk backwards to restore conversation order.
	turns := make([]Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var turn Turn
		if err := json.Unmarshal([]byte(raw[i]), &turn); err != nil {
			s.logger.Warn("skipping unreadable history entry", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear drops a user's history entirely.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, historyKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
