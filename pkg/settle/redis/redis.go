// Package redis provides a settlement store backed by Redis. The
// idempotency gate is a single SET NX per UTI, so multiple till processes
// sharing one Redis agree on which of them settled a transaction.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"golocallink/pkg/txn"
)

// Config holds the Redis connection configuration.
type Config struct {
	// Addr is the Redis server address, e.g. "localhost:6379".
	Addr     string
	Username string
	Password string
	// DB is the Redis database number (0-15).
	DB        int
	KeyPrefix string
	// TTL bounds how long a settlement marker lives. Zero means no expiry;
	// set it only if replayed approvals are impossible past some horizon.
	TTL          time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default Redis settlement store configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DB:           0,
		KeyPrefix:    "golocallink:settled:",
		TTL:          0,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store records settled UTIs in Redis.
type Store struct {
	client rueidis.Client
	config Config
}

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(config Config) (*Store, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      []string{config.Addr},
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &Store{client: client, config: config}, nil
}

// MarkSettled records the snapshot with SET NX. Exactly one caller per UTI
// observes created == true across every process sharing this Redis.
func (s *Store) MarkSettled(ctx context.Context, snap txn.SettlementSnapshot) (bool, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("redis: failed to marshal settlement: %w", err)
	}

	key := s.config.KeyPrefix + snap.UTI
	var cmd rueidis.Completed
	if s.config.TTL > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Nx().Ex(s.config.TTL).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Nx().Build()
	}

	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		// SET NX answers nil when the key already exists.
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("redis: mark settled: %w", err)
	}
	return true, nil
}

// Get returns the recorded settlement for a UTI.
func (s *Store) Get(ctx context.Context, uti string) (txn.SettlementSnapshot, bool, error) {
	var snap txn.SettlementSnapshot

	resp := s.client.Do(ctx, s.client.B().Get().Key(s.config.KeyPrefix+uti).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return snap, false, nil
		}
		return snap, false, fmt.Errorf("redis: get settlement: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return snap, false, fmt.Errorf("redis: read settlement: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, false, fmt.Errorf("redis: unmarshal settlement: %w", err)
	}
	return snap, true, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
