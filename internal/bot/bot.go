// Package bot plays one role of a hand on behalf of the server.
package bot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/graphgames/ttt/internal/models"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/graphgames/ttt/internal/rules"
	"github.com/graphgames/ttt/internal/tasks"
	log "github.com/sirupsen/logrus"
)

// Publisher delivers an event to the client attached to a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID int64, ev models.Event) error
}

// Config holds the agent's identity and pacing.
type Config struct {
	UserID   int64         // Owner of the bot's Move records.
	MinDelay time.Duration // Lower bound of the think time.
	MaxDelay time.Duration // Upper bound of the think time.
}

// Agent decides, records and announces bot moves.
type Agent struct {
	cfg    Config
	engine *rules.Engine
	moves  movelog.Log
	pub    Publisher
	sleep  tasks.SleepFunc

	mu  sync.Mutex // Guards rng.
	rng *rand.Rand
}

// New builds an Agent. A nil rng is seeded from the clock.
func New(cfg Config, engine *rules.Engine, moves movelog.Log, pub Publisher, rng *rand.Rand) *Agent {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Agent{cfg: cfg, engine: engine, moves: moves, pub: pub, sleep: tasks.Sleep, rng: rng}
}

// WithSleep swaps the delay function, for tests.
func (a *Agent) WithSleep(fn tasks.SleepFunc) *Agent {
	a.sleep = fn
	return a
}

// WithPublisher sets where external_move events go.
func (a *Agent) WithPublisher(pub Publisher) *Agent {
	a.pub = pub
	return a
}

// Decide picks, waits for, records and publishes the bot's move for role
// on the given board. The returned Move is already stored.
func (a *Agent) Decide(ctx context.Context, sessionID int64, panel models.Hand, role string, memorySize int) (models.Move, error) {
	started := time.Now()
	opponent, mine, err := a.histories(ctx, sessionID, role, memorySize)
	if err != nil {
		return models.Move{}, fmt.Errorf("bot history for session %d: %w", sessionID, err)
	}
	rule, err := a.engine.Match(panel[role], panel[models.PosU], panel[models.PosT], opponent, mine)
	if err != nil {
		return models.Move{}, fmt.Errorf("bot decision for session %d: %w", sessionID, err)
	}
	log.WithFields(log.Fields{
		"sid":     sessionID,
		"role":    role,
		"move":    rule.Move,
		"latency": time.Since(started),
	}).Debug("Bot decided")

	if err := a.sleep(ctx, a.delay()); err != nil {
		return models.Move{}, err
	}

	payload, _ := panel.ApplyMove(role, rule.Move)
	mv, err := a.moves.Append(ctx, models.Move{
		UserID:    a.cfg.UserID,
		SessionID: sessionID,
		Role:      role,
		Payload:   payload,
	})
	if err != nil {
		return models.Move{}, fmt.Errorf("store bot move for session %d: %w", sessionID, err)
	}

	ev := models.NewEvent(models.EventExternalMove, map[string]interface{}{
		"move":   rule.Move,
		"player": role,
	})
	if a.pub == nil {
		return mv, nil
	}
	if err := a.pub.Publish(ctx, sessionID, ev); err != nil {
		log.Printf("Session %d: failed to publish bot move: %v", sessionID, err)
	}
	return mv, nil
}

// histories splits the recent records into opponent and own entries, most
// recent first. Records older than the last dealt hand are not remembered.
func (a *Agent) histories(ctx context.Context, sessionID int64, role string, memorySize int) (opponent, mine []rules.HistoryEntry, err error) {
	if memorySize <= 0 {
		return nil, nil, nil
	}
	recent, err := a.moves.Recent(ctx, sessionID, memorySize*2)
	if err != nil {
		return nil, nil, err
	}
	for _, mv := range recent {
		if mv.Payload.IsHand() {
			break
		}
		e := rules.HistoryEntry{
			Move:   mv.Payload.Move,
			InHand: mv.Payload.InHand,
			Target: mv.Payload.Panel[models.PosT],
			Up:     mv.Payload.Panel[models.PosU],
		}
		if mv.Role == role {
			mine = append(mine, e)
		} else {
			opponent = append(opponent, e)
		}
	}
	return opponent, mine, nil
}

func (a *Agent) delay() time.Duration {
	span := a.cfg.MaxDelay - a.cfg.MinDelay
	if span <= 0 {
		return a.cfg.MinDelay
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.MinDelay + time.Duration(a.rng.Int63n(int64(span)))
}
