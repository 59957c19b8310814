package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graphgames/ttt/internal/models"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic retries when a watched pool key changes.
const maxTxRetries = 16

// ErrContention is returned when a pool transaction keeps losing its race.
var ErrContention = errors.New("pool update lost too many races")

type poolEntry struct {
	Generation string             `json:"generation"`
	CreatedAt  time.Time          `json:"created_at"`
	Members    []models.Candidate `json:"members"`
}

// PoolStore keeps matchmaking pools in Redis, one JSON key per game type.
// Every mutation runs in a WATCH/MULTI transaction.
type PoolStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewPoolStore returns a PoolStore backed by rdb.
func NewPoolStore(rdb *redis.Client) *PoolStore {
	return &PoolStore{rdb: rdb, now: time.Now}
}

func readPool(ctx context.Context, tx *redis.Tx, key string) (poolEntry, bool, error) {
	var p poolEntry
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return p, true, nil
}

func (s *PoolStore) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", key, ErrContention)
}

// Add implements matchmaking.PoolStore.
func (s *PoolStore) Add(ctx context.Context, gameTypeID int64, c models.Candidate) (string, bool, error) {
	key := poolKey(gameTypeID)
	var (
		created bool
		gen     string
	)
	err := s.transact(ctx, key, func(tx *redis.Tx) error {
		p, exists, err := readPool(ctx, tx, key)
		if err != nil {
			return err
		}
		created = !exists
		if !exists {
			p.Generation = uuid.NewString()
			p.CreatedAt = s.now()
		}
		gen = p.Generation
		for _, m := range p.Members {
			if m == c {
				return nil
			}
		}
		p.Members = append(p.Members, c)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	})
	return gen, created, err
}

// Remove implements matchmaking.PoolStore.
func (s *PoolStore) Remove(ctx context.Context, gameTypeID int64, c models.Candidate) error {
	key := poolKey(gameTypeID)
	return s.transact(ctx, key, func(tx *redis.Tx) error {
		p, exists, err := readPool(ctx, tx, key)
		if err != nil || !exists {
			return err
		}
		kept := p.Members[:0]
		for _, m := range p.Members {
			if m != c {
				kept = append(kept, m)
			}
		}
		p.Members = kept
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(p.Members) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	})
}

// Take implements matchmaking.PoolStore.
func (s *PoolStore) Take(ctx context.Context, gameTypeID int64) ([]models.Candidate, error) {
	key := poolKey(gameTypeID)
	var members []models.Candidate
	err := s.transact(ctx, key, func(tx *redis.Tx) error {
		p, exists, err := readPool(ctx, tx, key)
		if err != nil || !exists {
			members = nil
			return err
		}
		members = p.Members
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
	return members, err
}

// TakeIf implements matchmaking.PoolStore.
func (s *PoolStore) TakeIf(ctx context.Context, gameTypeID int64, gen string) ([]models.Candidate, bool, error) {
	key := poolKey(gameTypeID)
	var (
		members []models.Candidate
		ok      bool
	)
	err := s.transact(ctx, key, func(tx *redis.Tx) error {
		members, ok = nil, false
		p, exists, err := readPool(ctx, tx, key)
		if err != nil || !exists || p.Generation != gen {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			members, ok = p.Members, true
		}
		return err
	})
	return members, ok, err
}

// Sweep implements matchmaking.PoolStore.
func (s *PoolStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	iter := s.rdb.Scan(ctx, 0, poolKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, poolKeyPrefix) {
			continue
		}
		err := s.transact(ctx, key, func(tx *redis.Tx) error {
			p, exists, err := readPool(ctx, tx, key)
			if err != nil || !exists || !p.CreatedAt.Before(cutoff) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				n++
			}
			return err
		})
		if err != nil {
			return n, err
		}
	}
	return n, iter.Err()
}
