// Package replay plays a recorded session back to a spectator with its
// recorded pacing.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/graphgames/ttt/internal/models"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/graphgames/ttt/internal/tasks"
	log "github.com/sirupsen/logrus"
)

// EndComment is sent with the closing gameover event.
const EndComment = "Replay ended"

// EmitFunc delivers one event to the spectator.
type EmitFunc func(ev models.Event)

// Engine replays sessions from a read-only move log.
type Engine struct {
	moves    movelog.Reader
	trailing time.Duration
	sleep    tasks.SleepFunc
}

// New returns an Engine that waits trailing after the last record.
func New(moves movelog.Reader, trailing time.Duration) *Engine {
	return &Engine{moves: moves, trailing: trailing, sleep: tasks.Sleep}
}

// WithSleep swaps the delay function, for tests.
func (e *Engine) WithSleep(fn tasks.SleepFunc) *Engine {
	e.sleep = fn
	return e
}

// Replay emits every record of sessionID in order. Each record carries the
// delay until the next one in next_move_at and is followed by that delay.
// The last record uses the trailing interval, after which gameover is sent.
// Cancelling ctx stops the replay without a gameover.
func (e *Engine) Replay(ctx context.Context, sessionID int64, vis models.Visibility, emit EmitFunc) error {
	records, err := e.moves.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %d for replay: %w", sessionID, err)
	}
	log.WithFields(log.Fields{"sid": sessionID, "records": len(records)}).Info("Replay started")

	for i, mv := range records {
		delay := e.trailing
		if i+1 < len(records) {
			delay = records[i+1].Timestamp.Sub(mv.Timestamp)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(frame(mv, delay, vis))
		if err := e.sleep(ctx, delay); err != nil {
			log.WithField("sid", sessionID).Infof("Replay stopped after %d of %d records", i+1, len(records))
			return err
		}
	}
	if len(records) == 0 {
		if err := e.sleep(ctx, e.trailing); err != nil {
			return err
		}
	}
	emit(models.NewEvent(models.EventGameOver, map[string]interface{}{"comment": EndComment}))
	return nil
}

func frame(mv models.Move, delay time.Duration, vis models.Visibility) models.Event {
	var hand, move interface{}
	if mv.Payload.IsHand() {
		hand = mv.Payload.Panel
	} else {
		move = mv.Payload
	}
	return models.NewEvent(models.EventReplay, map[string]interface{}{
		"success":          "ok",
		"hand":             hand,
		"move":             move,
		"next_move_at":     delay.Seconds(),
		"covered":          vis.Covered,
		"opponent_covered": vis.OpponentCovered,
	})
}
