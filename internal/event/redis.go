package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisQueue        = 128
	redisWriteTimeout = 3 * time.Second
	redisStreamMaxLen = 10000
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	KeyPrefix string
}

// RedisSink appends every bus event to a Redis stream and keeps the latest
// security state per owner in a hash at "<prefix>security:<owner>", which
// survives restarts and is shared between replicas.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	prefix string

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

var _ StatusReader = (*RedisSink)(nil)

// DialRedis connects to Redis, verifies the connection and starts the
// writer.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, errors.New("event: redis: addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("event: redis: ping %s: %w", cfg.Addr, err)
	}
	slog.Info("event: redis connected", "addr", cfg.Addr, "stream", cfg.Stream)
	return NewRedisSink(rdb, cfg), nil
}

// NewRedisSink wraps an existing client and starts the writer. The sink
// owns rdb and closes it in [RedisSink.Close].
func NewRedisSink(rdb *redis.Client, cfg RedisConfig) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = "ander:events"
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ander:"
	}
	s := &RedisSink{
		rdb:    rdb,
		stream: stream,
		prefix: prefix,
		queue:  make(chan Event, redisQueue),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Handle is a [Handler] queueing ev for the writer.
func (s *RedisSink) Handle(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		slog.Warn("event: redis queue full, dropping event", "kind", ev.Kind, "owner", ev.Owner)
	}
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SecurityStatus implements [StatusReader] from the Redis hash.
func (s *RedisSink) SecurityStatus(ctx context.Context, owner string) (SecurityState, error) {
	vals, err := s.rdb.HGetAll(ctx, s.securityKey(owner)).Result()
	if err != nil {
		return SecurityState{}, fmt.Errorf("event: redis: security status %q: %w", owner, err)
	}
	var st SecurityState
	st.Mode = vals["mode"]
	if v, ok := vals["locked"]; ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			st.Locked = &b
		}
	}
	if v, ok := vals["updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.UpdatedAt = t
		}
	}
	return st, nil
}

// Close flushes queued events and closes the client.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.rdb.Close()
}

func (s *RedisSink) securityKey(owner string) string {
	return s.prefix + "security:" + owner
}

func (s *RedisSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
		if err := s.write(ctx, ev); err != nil {
			slog.Warn("event: redis write failed", "kind", ev.Kind, "owner", ev.Owner, "err", err)
		}
		cancel()
	}
}

func (s *RedisSink) write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    string(ev.Kind),
			"owner":   ev.Owner,
			"payload": string(payload),
		},
	})

	at := ev.At.UTC().Format(time.RFC3339Nano)
	switch ev.Kind {
	case SecurityModeChanged:
		pipe.HSet(ctx, s.securityKey(ev.Owner), "mode", ev.Mode, "updated_at", at)
	case DoorLocked, DoorUnlocked:
		if ev.Locked != nil {
			pipe.HSet(ctx, s.securityKey(ev.Owner), "locked", strconv.FormatBool(*ev.Locked), "updated_at", at)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}
