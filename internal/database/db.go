// internal/database/db.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL,
	game_type_id BIGINT NOT NULL,
	start_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
	end_time     TIMESTAMPTZ,
	score        INT
);

CREATE TABLE IF NOT EXISTS moves (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	session_id BIGINT NOT NULL REFERENCES game_sessions(id),
	play_role  TEXT NOT NULL DEFAULT '',
	mv         JSONB NOT NULL,
	ts         TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS moves_session_ts ON moves (session_id, ts);

CREATE TABLE IF NOT EXISTS mp_sessions (
	id           BIGSERIAL PRIMARY KEY,
	game_type_id BIGINT NOT NULL,
	sids         BIGINT[] NOT NULL,
	users        BIGINT[] NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Connect opens a pgx pool and applies the schema.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Println("Connected to Postgres")
	return pool, nil
}
