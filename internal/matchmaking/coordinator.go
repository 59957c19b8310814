package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graphgames/ttt/internal/models"
	log "github.com/sirupsen/logrus"
)

// ErrBadGroupSize is returned when a game type's group bounds cannot produce a group.
var ErrBadGroupSize = errors.New("invalid group size bounds")

// Scheduler arms the one-shot deadline timers.
type Scheduler interface {
	After(name string, d time.Duration, fn func()) error
}

// Recorder persists the audit record of a produced group.
type Recorder interface {
	RecordMultiplayer(ctx context.Context, s models.MultiplayerSession) (models.MultiplayerSession, error)
}

// PoolConfig is the matchmaking part of a game type.
type PoolConfig struct {
	GameTypeID int64
	MinUsers   int
	MaxUsers   int
	Deadline   time.Duration
}

// ResultFunc receives the outcome of every deadline.
type ResultFunc func(ctx context.Context, res models.MatchResult)

// Coordinator collects candidates per game type and groups them when the
// pool's deadline fires.
type Coordinator struct {
	pools    PoolStore
	pairs    PairingStore
	recorder Recorder
	sched    Scheduler
	onResult ResultFunc

	// ctx is handed to deadline callbacks, which outlive the enqueuing request.
	ctx context.Context
}

// NewCoordinator wires the coordinator. onResult may be nil.
func NewCoordinator(ctx context.Context, pools PoolStore, pairs PairingStore, recorder Recorder, sched Scheduler, onResult ResultFunc) *Coordinator {
	return &Coordinator{ctx: ctx, pools: pools, pairs: pairs, recorder: recorder, sched: sched, onResult: onResult}
}

// SetResultFunc replaces the result callback. Call before the first Enqueue.
func (c *Coordinator) SetResultFunc(fn ResultFunc) { c.onResult = fn }

// Enqueue adds cand to the pool of cfg's game type. The call that creates the
// pool arms its single deadline timer.
func (c *Coordinator) Enqueue(ctx context.Context, cfg PoolConfig, cand models.Candidate) error {
	gen, created, err := c.pools.Add(ctx, cfg.GameTypeID, cand)
	if err != nil {
		return fmt.Errorf("enqueue %s for game type %d: %w", cand.Key(), cfg.GameTypeID, err)
	}
	log.WithFields(log.Fields{"gid": cfg.GameTypeID, "candidate": cand.Key(), "created": created}).Info("Candidate enqueued")
	if !created {
		return nil
	}
	name := fmt.Sprintf("match-deadline-%d", cfg.GameTypeID)
	return c.sched.After(name, cfg.Deadline, func() {
		if _, err := c.deadline(c.ctx, cfg.GameTypeID, cfg.MaxUsers, cfg.MinUsers, gen); err != nil {
			log.WithField("gid", cfg.GameTypeID).Errorf("Match deadline failed: %v", err)
		}
	})
}

// PartnerOf reads the pairing written for cand when its group formed.
func (c *Coordinator) PartnerOf(ctx context.Context, cand models.Candidate) (models.Pairing, bool, error) {
	return c.pairs.Pairing(ctx, cand)
}

// Remove drops cand from the pool, typically on disconnect.
func (c *Coordinator) Remove(ctx context.Context, gameTypeID int64, cand models.Candidate) error {
	return c.pools.Remove(ctx, gameTypeID, cand)
}

// OnDeadline takes the pool, groups it and reports the result.
func (c *Coordinator) OnDeadline(ctx context.Context, gameTypeID int64, maxUsers, minUsers int) (models.MatchResult, error) {
	return c.deadline(ctx, gameTypeID, maxUsers, minUsers, "")
}

// deadline is OnDeadline for the pool generation gen. A timer armed by a
// pool that has since been emptied and recreated finds another generation
// and leaves the newer pool to its own timer. An empty gen takes any pool.
func (c *Coordinator) deadline(ctx context.Context, gameTypeID int64, maxUsers, minUsers int, gen string) (models.MatchResult, error) {
	if maxUsers < 1 || minUsers > maxUsers {
		return models.MatchResult{}, fmt.Errorf("%w: game type %d min=%d max=%d", ErrBadGroupSize, gameTypeID, minUsers, maxUsers)
	}
	var (
		pool []models.Candidate
		err  error
	)
	if gen == "" {
		pool, err = c.pools.Take(ctx, gameTypeID)
	} else {
		var ok bool
		pool, ok, err = c.pools.TakeIf(ctx, gameTypeID, gen)
		if err == nil && !ok {
			log.WithFields(log.Fields{"gid": gameTypeID, "gen": gen}).Debug("Deadline of a replaced pool, skipping")
			return models.MatchResult{GameTypeID: gameTypeID}, nil
		}
	}
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("take pool %d: %w", gameTypeID, err)
	}

	chunks, failed := Partition(pool, minUsers, maxUsers)
	res := models.MatchResult{GameTypeID: gameTypeID, Failed: failed}
	for _, members := range chunks {
		g := models.MatchGroup{ID: uuid.New(), GameTypeID: gameTypeID, Members: members}
		if err := c.persistGroup(ctx, g); err != nil {
			log.WithFields(log.Fields{"gid": gameTypeID, "group": g.ID}).Errorf("Failed to persist group: %v", err)
			res.Failed = append(res.Failed, members...)
			continue
		}
		res.Groups = append(res.Groups, g)
	}

	log.WithFields(log.Fields{
		"gid":    gameTypeID,
		"pool":   len(pool),
		"groups": len(res.Groups),
		"failed": len(res.Failed),
	}).Info("Match deadline reached")

	if c.onResult != nil {
		c.onResult(ctx, res)
	}
	return res, nil
}

func (c *Coordinator) persistGroup(ctx context.Context, g models.MatchGroup) error {
	mp := models.MultiplayerSession{GameTypeID: g.GameTypeID}
	for _, m := range g.Members {
		mp.SessionIDs = append(mp.SessionIDs, m.SessionID)
		mp.UserIDs = append(mp.UserIDs, m.UserID)
	}
	if c.recorder != nil {
		if _, err := c.recorder.RecordMultiplayer(ctx, mp); err != nil {
			return err
		}
	}
	for i, m := range g.Members {
		partner := g.Members[(i+1)%len(g.Members)]
		if err := c.pairs.SetPairing(ctx, m, models.Pairing{Partner: partner, GroupID: g.ID}); err != nil {
			return err
		}
	}
	return nil
}

// Sweep purges pools older than maxAge. Deadlines normally purge their own
// pool; this catches pools whose timer died with its process.
func (c *Coordinator) Sweep(ctx context.Context, maxAge time.Duration) {
	n, err := c.pools.Sweep(ctx, time.Now().Add(-maxAge))
	if err != nil {
		log.Errorf("Pool sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.WithField("purged", n).Warn("Purged stale matchmaking pools")
	}
}

// Partition splits pool into consecutive chunks of maxUsers. Chunks whose
// size lies within [minUsers, maxUsers] become groups; the rest fail.
func Partition(pool []models.Candidate, minUsers, maxUsers int) (groups [][]models.Candidate, failed []models.Candidate) {
	if maxUsers < 1 {
		return nil, append(failed, pool...)
	}
	for start := 0; start < len(pool); start += maxUsers {
		end := start + maxUsers
		if end > len(pool) {
			end = len(pool)
		}
		chunk := pool[start:end]
		if len(chunk) >= minUsers {
			groups = append(groups, append([]models.Candidate(nil), chunk...))
		} else {
			failed = append(failed, chunk...)
		}
	}
	return groups, failed
}
