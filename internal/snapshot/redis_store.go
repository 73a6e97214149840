// Package snapshot persists the last-known data point states so the read
// model survives process restarts.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"carbridge/internal/models"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient returns a configured go-redis client and validates the
// connection with PING.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("snapshot: redis addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// Store keeps one JSON snapshot of the full state map per vehicle.
type Store struct {
	client    *redis.Client
	vehicleID string
}

// NewStore returns a redis-backed snapshot store.
func NewStore(client *redis.Client, vehicleID string) *Store {
	return &Store{client: client, vehicleID: vehicleID}
}

func (s *Store) key() string {
	return fmt.Sprintf("carbridge:snapshot:%s", s.vehicleID)
}

// Save overwrites the persisted snapshot.
func (s *Store) Save(ctx context.Context, snapshot map[models.Key]models.DataPointState) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(), data, 0).Err()
}

// Load returns the persisted snapshot, or an empty map when none exists.
func (s *Store) Load(ctx context.Context) (map[models.Key]models.DataPointState, error) {
	result, err := s.client.Get(ctx, s.key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[models.Key]models.DataPointState{}, nil
		}
		return nil, err
	}
	return decodeSnapshot([]byte(result))
}

func encodeSnapshot(snapshot map[models.Key]models.DataPointState) ([]byte, error) {
	return json.Marshal(snapshot)
}

func decodeSnapshot(data []byte) (map[models.Key]models.DataPointState, error) {
	var snapshot map[models.Key]models.DataPointState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
