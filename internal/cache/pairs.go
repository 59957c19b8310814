package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/graphgames/ttt/internal/models"
	"github.com/redis/go-redis/v9"
)

// PairingStore keeps the pairing table in a Redis hash keyed by "uid:sid".
type PairingStore struct {
	rdb *redis.Client
}

// NewPairingStore returns a PairingStore backed by rdb.
func NewPairingStore(rdb *redis.Client) *PairingStore {
	return &PairingStore{rdb: rdb}
}

// SetPairing implements matchmaking.PairingStore.
func (s *PairingStore) SetPairing(ctx context.Context, c models.Candidate, p models.Pairing) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, pairsKey, c.Key(), data).Err()
}

// Pairing implements matchmaking.PairingStore.
func (s *PairingStore) Pairing(ctx context.Context, c models.Candidate) (models.Pairing, bool, error) {
	var p models.Pairing
	data, err := s.rdb.HGet(ctx, pairsKey, c.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, false, err
	}
	return p, true, nil
}

// Routes maps live session ids to the node holding their connection.
type Routes struct {
	rdb *redis.Client
}

// NewRoutes returns a Routes table backed by rdb.
func NewRoutes(rdb *redis.Client) *Routes {
	return &Routes{rdb: rdb}
}

// Set records that sessionID is served by nodeID.
func (r *Routes) Set(ctx context.Context, sessionID int64, nodeID string) error {
	return r.rdb.HSet(ctx, routesKey, strconv.FormatInt(sessionID, 10), nodeID).Err()
}

// Get returns the node serving sessionID.
func (r *Routes) Get(ctx context.Context, sessionID int64) (string, bool, error) {
	node, err := r.rdb.HGet(ctx, routesKey, strconv.FormatInt(sessionID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return node, true, nil
}

// Delete forgets sessionID.
func (r *Routes) Delete(ctx context.Context, sessionID int64) error {
	return r.rdb.HDel(ctx, routesKey, strconv.FormatInt(sessionID, 10)).Err()
}
