package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxLines = 500
	bufferTTL       = 24 * time.Hour
)

// LogBuffer keeps a capped Redis list of the most recent log lines per
// execution so a subscriber connecting mid-run gets immediate catch-up
// without a database round trip. It mirrors the persisted store and is
// never authoritative; every operation is best-effort.
type LogBuffer struct {
	client   *redis.Client
	maxLines int
}

func NewLogBuffer(client *redis.Client, maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	return &LogBuffer{client: client, maxLines: maxLines}
}

// BufferedLine is the wire shape stored in Redis. GroupID travels with the
// line so replay can apply the same scope filter as the live fan-out.
type BufferedLine struct {
	Content   string    `json:"content"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (b *LogBuffer) key(executionID string) string {
	return fmt.Sprintf("logs:recent:%s", executionID)
}

// Push appends a line and trims the list to the configured cap.
func (b *LogBuffer) Push(ctx context.Context, executionID string, line BufferedLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}

	key := b.key(executionID)
	pipe := b.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-b.maxLines), -1)
	pipe.Expire(ctx, key, bufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push: %w", err)
	}
	return nil
}

// Recent returns the buffered lines for an execution, oldest first. Lines
// that fail to decode are skipped.
func (b *LogBuffer) Recent(ctx context.Context, executionID string) ([]BufferedLine, error) {
	raw, err := b.client.LRange(ctx, b.key(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	lines := make([]BufferedLine, 0, len(raw))
	for _, item := range raw {
		var line BufferedLine
		if err := json.Unmarshal([]byte(item), &line); err != nil {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Drop removes the buffer for an execution.
func (b *LogBuffer) Drop(ctx context.Context, executionID string) error {
	return b.client.Del(ctx, b.key(executionID)).Err()
}
