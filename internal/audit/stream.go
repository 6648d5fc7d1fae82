// Package audit ships service audit entries to the process log and to a
// Redis stream consumed by compliance tooling.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"labcore/internal/core"
)

const (
	defaultStream = "labcore:audit"
	defaultBuffer = 256
)

// Options tunes a StreamPublisher.
type Options struct {
	Stream string
	// MaxLen caps the stream length (approximate trim). Zero disables trimming.
	MaxLen int64
	// Buffer is the number of entries queued before Record starts dropping.
	Buffer int
}

// StreamPublisher appends audit entries to a Redis stream. Record only
// enqueues; Run performs the writes.
type StreamPublisher struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	inbox   chan core.AuditEntry
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewStreamPublisher builds a publisher over client.
func NewStreamPublisher(client redis.UniversalClient, logger *zap.Logger, opts Options) *StreamPublisher {
	if opts.Stream == "" {
		opts.Stream = defaultStream
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamPublisher{
		client: client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		inbox:  make(chan core.AuditEntry, opts.Buffer),
		logger: logger,
	}
}

// Record enqueues entry. When the queue is full the entry is dropped and
// counted so the service never waits on Redis.
func (p *StreamPublisher) Record(_ context.Context, entry core.AuditEntry) {
	select {
	case p.inbox <- entry:
	default:
		p.dropped.Add(1)
		p.logger.Warn("audit queue full, entry dropped", zap.String("operation", entry.Operation), zap.String("entity_id", entry.EntityID))
	}
}

// Dropped is the number of entries discarded because the queue was full.
func (p *StreamPublisher) Dropped() int64 { return p.dropped.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left
// with a short grace period.
func (p *StreamPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case entry := <-p.inbox:
			if _, err := p.Publish(ctx, entry); err != nil {
				p.logger.Error("audit publish failed", zap.String("operation", entry.Operation), zap.Error(err))
			}
		}
	}
}

func (p *StreamPublisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case entry := <-p.inbox:
			if _, err := p.Publish(ctx, entry); err != nil {
				p.logger.Error("audit flush failed", zap.String("operation", entry.Operation), zap.Error(err))
			}
		default:
			return
		}
	}
}

// Publish writes entry synchronously and returns the stream id.
func (p *StreamPublisher) Publish(ctx context.Context, entry core.AuditEntry) (string, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"operation": entry.Operation,
			"entity":    string(entry.Entity),
			"entity_id": entry.EntityID,
			"actor":     entry.Actor.Label(),
			"status":    string(entry.Status),
			"data":      string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// StoredEntry is an audit entry read back from the stream.
type StoredEntry struct {
	ID string `json:"id"`
	core.AuditEntry
}

// Recent returns up to count entries, newest first.
func (p *StreamPublisher) Recent(ctx context.Context, count int64) ([]StoredEntry, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.stream, "+", "-", count).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xrevrange %s: %w", p.stream, err)
	}
	out := make([]StoredEntry, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values["data"].(string)
		var entry core.AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry %s: %w", msg.ID, err)
		}
		out = append(out, StoredEntry{ID: msg.ID, AuditEntry: entry})
	}
	return out, nil
}

// RedisConfig holds connection settings for NewRedisClient.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings. It returns nil, nil when Addr is empty.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
