// Package movelog defines the append-only store of session events.
//
// Records are keyed by session id and ordered by timestamp. The Postgres
// implementation lives in internal/database; Memory backs tests and
// single-process runs.
package movelog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/graphgames/ttt/internal/models"
)

// ErrSessionNotFound is returned by session stores for unknown ids.
var ErrSessionNotFound = errors.New("game session not found")

// Reader is the read-only view of the log. Replays only ever get a Reader.
type Reader interface {
	// List returns every record of the session in timestamp order.
	List(ctx context.Context, sessionID int64) ([]models.Move, error)
	// Recent returns up to limit records, most recent first.
	Recent(ctx context.Context, sessionID int64, limit int) ([]models.Move, error)
	// CountPlayed counts records that are not HAND snapshots.
	CountPlayed(ctx context.Context, sessionID int64) (int, error)
}

// Log is the full append-only store.
type Log interface {
	Reader
	// Append stamps and stores m, returning the stored record.
	Append(ctx context.Context, m models.Move) (models.Move, error)
}

// SessionStore persists GameSession rows.
type SessionStore interface {
	Create(ctx context.Context, userID, gameTypeID int64) (models.GameSession, error)
	Get(ctx context.Context, id int64) (models.GameSession, error)
	Close(ctx context.Context, id int64, end time.Time, score int) error
}

// Memory is an in-process Log and SessionStore.
type Memory struct {
	mu       sync.Mutex
	moves    map[int64][]models.Move
	sessions map[int64]models.GameSession
	lastID   int64
	lastSess int64
	now      func() time.Time
}

// NewMemory returns an empty in-memory store using the wall clock.
func NewMemory() *Memory {
	return &Memory{
		moves:    make(map[int64][]models.Move),
		sessions: make(map[int64]models.GameSession),
		now:      time.Now,
	}
}

// WithClock overrides the clock used to stamp records.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Append implements Log. Timestamps within a session are kept strictly
// increasing even when the clock does not advance between calls.
func (m *Memory) Append(_ context.Context, mv models.Move) (models.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	mv.ID = m.lastID
	if mv.Timestamp.IsZero() {
		mv.Timestamp = m.now()
	}
	list := m.moves[mv.SessionID]
	if n := len(list); n > 0 && !mv.Timestamp.After(list[n-1].Timestamp) {
		mv.Timestamp = list[n-1].Timestamp.Add(time.Microsecond)
	}
	m.moves[mv.SessionID] = append(list, mv)
	return mv, nil
}

// List implements Reader.
func (m *Memory) List(_ context.Context, sessionID int64) ([]models.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Move, len(m.moves[sessionID]))
	copy(out, m.moves[sessionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Recent implements Reader.
func (m *Memory) Recent(ctx context.Context, sessionID int64, limit int) ([]models.Move, error) {
	all, _ := m.List(ctx, sessionID)
	out := make([]models.Move, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// CountPlayed implements Reader.
func (m *Memory) CountPlayed(_ context.Context, sessionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mv := range m.moves[sessionID] {
		if !mv.Payload.IsHand() {
			n++
		}
	}
	return n, nil
}

// Create implements SessionStore.
func (m *Memory) Create(_ context.Context, userID, gameTypeID int64) (models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSess++
	s := models.GameSession{ID: m.lastSess, UserID: userID, GameTypeID: gameTypeID, Start: m.now()}
	m.sessions[s.ID] = s
	return s, nil
}

// Get implements SessionStore.
func (m *Memory) Get(_ context.Context, id int64) (models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.GameSession{}, ErrSessionNotFound
	}
	return s, nil
}

// Close implements SessionStore.
func (m *Memory) Close(_ context.Context, id int64, end time.Time, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.End = &end
	s.Score = &score
	m.sessions[id] = s
	return nil
}
