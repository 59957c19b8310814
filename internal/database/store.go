package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/graphgames/ttt/internal/models"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres implementation of the move log, the session store
// and the multiplayer audit recorder.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append implements movelog.Log. clock_timestamp() keeps records of one
// session strictly ordered even inside a single transaction.
func (s *Store) Append(ctx context.Context, m models.Move) (models.Move, error) {
	payload, err := m.MarshalPayload()
	if err != nil {
		return m, fmt.Errorf("encode move: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO moves (user_id, session_id, play_role, mv) VALUES ($1, $2, $3, $4) RETURNING id, ts`,
		m.UserID, m.SessionID, m.Role, payload,
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return m, fmt.Errorf("insert move for session %d: %w", m.SessionID, err)
	}
	return m, nil
}

// List implements movelog.Reader.
func (s *Store) List(ctx context.Context, sessionID int64) ([]models.Move, error) {
	return s.queryMoves(ctx,
		`SELECT id, user_id, session_id, play_role, mv, ts FROM moves WHERE session_id = $1 ORDER BY ts, id`,
		sessionID)
}

// Recent implements movelog.Reader.
func (s *Store) Recent(ctx context.Context, sessionID int64, limit int) ([]models.Move, error) {
	return s.queryMoves(ctx,
		`SELECT id, user_id, session_id, play_role, mv, ts FROM moves WHERE session_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		sessionID, limit)
}

// CountPlayed implements movelog.Reader.
func (s *Store) CountPlayed(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM moves WHERE session_id = $1 AND mv->>'move' <> $2`,
		sessionID, models.MoveHand,
	).Scan(&n)
	return n, err
}

func (s *Store) queryMoves(ctx context.Context, sql string, args ...any) ([]models.Move, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Move, error) {
		var (
			m   models.Move
			raw []byte
		)
		if err := row.Scan(&m.ID, &m.UserID, &m.SessionID, &m.Role, &raw, &m.Timestamp); err != nil {
			return m, err
		}
		if err := json.Unmarshal(raw, &m.Payload); err != nil {
			return m, fmt.Errorf("decode move %d: %w", m.ID, err)
		}
		return m, nil
	})
}

// Create implements movelog.SessionStore.
func (s *Store) Create(ctx context.Context, userID, gameTypeID int64) (models.GameSession, error) {
	gs := models.GameSession{UserID: userID, GameTypeID: gameTypeID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO game_sessions (user_id, game_type_id) VALUES ($1, $2) RETURNING id, start_time`,
		userID, gameTypeID,
	).Scan(&gs.ID, &gs.Start)
	if err != nil {
		return gs, fmt.Errorf("create session: %w", err)
	}
	return gs, nil
}

// Get implements movelog.SessionStore.
func (s *Store) Get(ctx context.Context, id int64) (models.GameSession, error) {
	gs := models.GameSession{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, game_type_id, start_time, end_time, score FROM game_sessions WHERE id = $1`, id,
	).Scan(&gs.UserID, &gs.GameTypeID, &gs.Start, &gs.End, &gs.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return gs, movelog.ErrSessionNotFound
	}
	return gs, err
}

// Close implements movelog.SessionStore.
func (s *Store) Close(ctx context.Context, id int64, end time.Time, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE game_sessions SET end_time = $2, score = $3 WHERE id = $1`, id, end, score)
	if err != nil {
		return fmt.Errorf("close session %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return movelog.ErrSessionNotFound
	}
	return nil
}

// RecordMultiplayer implements matchmaking.Recorder.
func (s *Store) RecordMultiplayer(ctx context.Context, mp models.MultiplayerSession) (models.MultiplayerSession, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO mp_sessions (game_type_id, sids, users) VALUES ($1, $2, $3) RETURNING id`,
		mp.GameTypeID, mp.SessionIDs, mp.UserIDs,
	).Scan(&mp.ID)
	if err != nil {
		return mp, fmt.Errorf("record multiplayer session: %w", err)
	}
	return mp, nil
}
