// Package matchmaking groups candidates waiting for the same game type.
package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/graphgames/ttt/internal/models"
)

// PoolStore holds the waiting candidates of every game type. Implementations
// must make each operation atomic across every process sharing the store.
type PoolStore interface {
	// Add appends c unless it is already waiting. created is true when this
	// call brought the pool into existence. gen identifies the pool's
	// generation: a pool deleted and recreated gets a new one.
	Add(ctx context.Context, gameTypeID int64, c models.Candidate) (gen string, created bool, err error)
	// Remove drops c. A pool left empty is deleted.
	Remove(ctx context.Context, gameTypeID int64, c models.Candidate) error
	// Take returns the pool in arrival order and deletes it.
	Take(ctx context.Context, gameTypeID int64) ([]models.Candidate, error)
	// TakeIf is Take restricted to generation gen. ok is false, and nothing
	// is deleted, when the current pool is missing or of another generation.
	TakeIf(ctx context.Context, gameTypeID int64, gen string) (members []models.Candidate, ok bool, err error)
	// Sweep deletes pools created before the cutoff and returns the number purged.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// PairingStore is the pairing table, keyed by candidate.
type PairingStore interface {
	SetPairing(ctx context.Context, c models.Candidate, p models.Pairing) error
	Pairing(ctx context.Context, c models.Candidate) (models.Pairing, bool, error)
}

type memPool struct {
	gen       string
	createdAt time.Time
	members   []models.Candidate
}

// MemoryPool is a process-local PoolStore and PairingStore.
type MemoryPool struct {
	mu    sync.Mutex
	pools map[int64]*memPool
	pairs map[string]models.Pairing
	now   func() time.Time
}

// NewMemoryPool returns an empty MemoryPool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		pools: make(map[int64]*memPool),
		pairs: make(map[string]models.Pairing),
		now:   time.Now,
	}
}

// Add implements PoolStore.
func (m *MemoryPool) Add(_ context.Context, gameTypeID int64, c models.Candidate) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[gameTypeID]
	if !ok {
		p = &memPool{gen: uuid.NewString(), createdAt: m.now(), members: []models.Candidate{c}}
		m.pools[gameTypeID] = p
		return p.gen, true, nil
	}
	for _, existing := range p.members {
		if existing == c {
			return p.gen, false, nil
		}
	}
	p.members = append(p.members, c)
	return p.gen, false, nil
}

// Remove implements PoolStore.
func (m *MemoryPool) Remove(_ context.Context, gameTypeID int64, c models.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[gameTypeID]
	if !ok {
		return nil
	}
	p.members = without(p.members, c)
	if len(p.members) == 0 {
		delete(m.pools, gameTypeID)
	}
	return nil
}

// Take implements PoolStore.
func (m *MemoryPool) Take(_ context.Context, gameTypeID int64) ([]models.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[gameTypeID]
	if !ok {
		return nil, nil
	}
	delete(m.pools, gameTypeID)
	return p.members, nil
}

// TakeIf implements PoolStore.
func (m *MemoryPool) TakeIf(_ context.Context, gameTypeID int64, gen string) ([]models.Candidate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[gameTypeID]
	if !ok || p.gen != gen {
		return nil, false, nil
	}
	delete(m.pools, gameTypeID)
	return p.members, true, nil
}

// Sweep implements PoolStore.
func (m *MemoryPool) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.pools {
		if p.createdAt.Before(cutoff) {
			delete(m.pools, id)
			n++
		}
	}
	return n, nil
}

// SetPairing implements PairingStore.
func (m *MemoryPool) SetPairing(_ context.Context, c models.Candidate, p models.Pairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[c.Key()] = p
	return nil
}

// Pairing implements PairingStore.
func (m *MemoryPool) Pairing(_ context.Context, c models.Candidate) (models.Pairing, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[c.Key()]
	return p, ok, nil
}

func without(list []models.Candidate, c models.Candidate) []models.Candidate {
	out := list[:0]
	for _, x := range list {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}
