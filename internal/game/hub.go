// internal/game/hub.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/graphgames/ttt/internal/bot"
	"github.com/graphgames/ttt/internal/config"
	"github.com/graphgames/ttt/internal/deck"
	"github.com/graphgames/ttt/internal/matchmaking"
	"github.com/graphgames/ttt/internal/models"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/graphgames/ttt/internal/replay"
	"github.com/graphgames/ttt/internal/tasks"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotYourSession is returned when a user attaches to someone else's session.
	ErrNotYourSession = errors.New("session belongs to another user")
	// ErrSessionClosed is returned when attaching to a finished session.
	ErrSessionClosed = errors.New("session already closed")
	// ErrSessionOpen is returned when replaying a session that is still in play.
	ErrSessionOpen = errors.New("session still in play, cannot replay")
	// ErrNotAttached is returned for commands on a session with no live connection.
	ErrNotAttached = errors.New("session not attached")
	// ErrNotMultiplayer is returned by MultiplayerReady on other game types.
	ErrNotMultiplayer = errors.New("game type is not multiplayer")
)

// SendFunc writes an event to an attached client.
type SendFunc func(ev models.Event)

// Bus carries envelopes and match results between nodes.
type Bus interface {
	Send(ctx context.Context, env models.Envelope) error
	PublishMatch(ctx context.Context, res models.MatchResult) error
}

// Router records which node serves a session.
type Router interface {
	Set(ctx context.Context, sessionID int64, nodeID string) error
	Delete(ctx context.Context, sessionID int64) error
}

// Deps are the collaborators of a Hub. Bus, Routes, Agent and Coordinator are optional.
type Deps struct {
	NodeID      string
	Moves       movelog.Log
	Sessions    movelog.SessionStore
	GameTypes   *config.GameTypes
	Agent       *bot.Agent
	Coordinator *matchmaking.Coordinator
	Replayer    *replay.Engine
	Runner      *tasks.Runner
	Bus         Bus
	Routes      Router
	VerifyWins  bool
	// MatchDeadline applies to game types without their own deadline.
	MatchDeadline time.Duration
}

type client struct {
	send         SendFunc
	replaySource int64 // Recorded session to replay, 0 when playing.
	cancelReplay func()
}

// Hub is the process-wide registry of live sessions and attached clients.
type Hub struct {
	nodeID     string
	moves      movelog.Log
	sessions   movelog.SessionStore
	gameTypes  *config.GameTypes
	agent      *bot.Agent
	coord      *matchmaking.Coordinator
	replayer   *replay.Engine
	runner     *tasks.Runner
	bus        Bus
	routes     Router
	verifyWins bool
	deadline   time.Duration

	mu      sync.Mutex
	live    map[int64]*Session
	clients map[int64]*client
	ctx     context.Context
}

// NewHub wires a Hub. ctx bounds every session goroutine.
func NewHub(ctx context.Context, d Deps) *Hub {
	h := &Hub{
		nodeID:     d.NodeID,
		moves:      d.Moves,
		sessions:   d.Sessions,
		gameTypes:  d.GameTypes,
		agent:      d.Agent,
		coord:      d.Coordinator,
		replayer:   d.Replayer,
		runner:     d.Runner,
		bus:        d.Bus,
		routes:     d.Routes,
		verifyWins: d.VerifyWins,
		deadline:   d.MatchDeadline,
		live:       make(map[int64]*Session),
		clients:    make(map[int64]*client),
		ctx:        ctx,
	}
	if h.runner == nil {
		h.runner = tasks.NewRunner(ctx)
	}
	if h.agent != nil {
		h.agent.WithPublisher(h)
	}
	if h.coord != nil {
		h.coord.SetResultFunc(h.onMatchResult)
	}
	return h
}

// Attach binds a client connection to sessionID. A non-zero replaySource
// makes the connection a spectator of that recorded session instead.
func (h *Hub) Attach(ctx context.Context, sessionID, userID, replaySource int64, send SendFunc) (*Session, error) {
	gs, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("attach session %d: %w", sessionID, err)
	}
	if gs.UserID != userID {
		return nil, ErrNotYourSession
	}
	gt, err := h.gameTypes.Get(gs.GameTypeID)
	if err != nil {
		return nil, err
	}
	// Game types flagged replay only ever show their recorded sessions.
	if gt.Replay && replaySource == 0 {
		replaySource = gs.ID
	}
	switch {
	case replaySource != 0 && !gs.Closed():
		return nil, ErrSessionOpen
	case replaySource == 0 && gs.Closed():
		return nil, ErrSessionClosed
	}

	mode := ModeSolo
	switch {
	case replaySource != 0:
		mode = ModeReplay
	case gt.EnableMultiplayer:
		mode = ModeMultiplayer
	case gt.EnableBot:
		mode = ModeBot
	}

	var d *deck.Deck
	if mode != ModeReplay {
		if d, err = deck.Load(gt.ShoeFile); err != nil {
			return nil, fmt.Errorf("game type %d: %w", gt.ID, err)
		}
	}

	s := newSession(h, gs.ID, userID, gt, mode, d)
	h.mu.Lock()
	if old, ok := h.live[gs.ID]; ok {
		h.mu.Unlock()
		old.shutdown()
		h.mu.Lock()
	}
	h.live[gs.ID] = s
	h.clients[gs.ID] = &client{send: send, replaySource: replaySource}
	h.mu.Unlock()
	s.start(h.ctx)

	if h.routes != nil {
		if err := h.routes.Set(ctx, gs.ID, h.nodeID); err != nil {
			log.WithField("sid", gs.ID).Errorf("Failed to record route: %v", err)
		}
	}
	log.WithFields(log.Fields{"sid": gs.ID, "uid": userID, "gid": gt.ID, "mode": mode}).Info("Client attached")
	return s, nil
}

// Detach drops the client of sessionID and everything it started.
func (h *Hub) Detach(ctx context.Context, sessionID int64) {
	h.detach(ctx, sessionID, nil)
}

// Release detaches s only if it is still the live session for its id, so a
// connection replaced by a reconnect does not tear down its successor.
func (h *Hub) Release(ctx context.Context, s *Session) {
	h.detach(ctx, s.ID, s)
}

func (h *Hub) detach(ctx context.Context, sessionID int64, want *Session) {
	h.mu.Lock()
	s := h.live[sessionID]
	if want != nil && s != want {
		h.mu.Unlock()
		return
	}
	c := h.clients[sessionID]
	delete(h.live, sessionID)
	delete(h.clients, sessionID)
	h.mu.Unlock()

	if c != nil && c.cancelReplay != nil {
		c.cancelReplay()
	}
	if s == nil {
		return
	}
	if s.Mode == ModeMultiplayer && h.coord != nil {
		cand := models.Candidate{UserID: s.UserID, SessionID: s.ID}
		if err := h.coord.Remove(ctx, s.GameType.ID, cand); err != nil {
			log.WithField("sid", s.ID).Errorf("Failed to leave pool: %v", err)
		}
	}
	if h.routes != nil {
		if err := h.routes.Delete(ctx, sessionID); err != nil {
			log.WithField("sid", sessionID).Errorf("Failed to delete route: %v", err)
		}
	}
	s.shutdown()
	log.WithField("sid", sessionID).Info("Client detached")
}

// Session returns the live session with the given id.
func (h *Hub) Session(sessionID int64) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.live[sessionID]
	return s, ok
}

// Login answers the client's login: replay and multiplayer clients are told
// to get ready, bot and solo sessions receive their first hand.
func (h *Hub) Login(ctx context.Context, sessionID int64) error {
	s, ok := h.Session(sessionID)
	if !ok {
		return ErrNotAttached
	}
	switch s.Mode {
	case ModeReplay:
		return h.Publish(ctx, sessionID, models.NewEvent(models.EventSetReplay, nil))
	case ModeMultiplayer:
		return h.Publish(ctx, sessionID, models.NewEvent(models.EventSetMultiplayer, nil))
	case ModeBot:
		s.PlayBot()
	default:
		s.Deal()
	}
	return nil
}

// MultiplayerReady puts the session's player in the matchmaking pool.
func (h *Hub) MultiplayerReady(ctx context.Context, sessionID int64) error {
	s, ok := h.Session(sessionID)
	if !ok {
		return ErrNotAttached
	}
	if s.Mode != ModeMultiplayer || h.coord == nil {
		return ErrNotMultiplayer
	}
	gt := s.GameType
	cfg := matchmaking.PoolConfig{
		GameTypeID: gt.ID,
		MinUsers:   gt.MinUsers,
		MaxUsers:   gt.MaxUsers,
		Deadline:   gt.Deadline(h.deadline),
	}
	return h.coord.Enqueue(ctx, cfg, models.Candidate{UserID: s.UserID, SessionID: s.ID})
}

// ReplayReady starts streaming the recorded session to a spectator.
func (h *Hub) ReplayReady(ctx context.Context, sessionID int64) error {
	h.mu.Lock()
	s := h.live[sessionID]
	c := h.clients[sessionID]
	h.mu.Unlock()
	if s == nil || c == nil {
		return ErrNotAttached
	}
	if c.replaySource == 0 || h.replayer == nil {
		return fmt.Errorf("session %d did not ask for a replay", sessionID)
	}
	source, send := c.replaySource, c.send
	vis := s.GameType.Visibility()
	cancel := h.runner.Go("replay", func(ctx context.Context) {
		if err := h.replayer.Replay(ctx, source, vis, replay.EmitFunc(send)); err != nil && ctx.Err() == nil {
			log.WithField("sid", source).Errorf("Replay failed: %v", err)
		}
	})
	h.mu.Lock()
	if c.cancelReplay != nil {
		c.cancelReplay()
	}
	c.cancelReplay = cancel
	h.mu.Unlock()
	return nil
}

// Publish delivers ev to the client of sessionID, wherever it is attached.
// It implements bot.Publisher.
func (h *Hub) Publish(ctx context.Context, sessionID int64, ev models.Event) error {
	h.mu.Lock()
	c := h.clients[sessionID]
	h.mu.Unlock()
	if c != nil {
		c.send(ev)
		return nil
	}
	if h.bus == nil {
		log.WithFields(log.Fields{"sid": sessionID, "event": ev.Type}).Debug("Dropping event for unknown session")
		return nil
	}
	return h.bus.Send(ctx, models.Envelope{SessionID: sessionID, Kind: models.KindClient, Event: &ev})
}

// sendPartner delivers env to a local session or through the bus.
func (h *Hub) sendPartner(ctx context.Context, env models.Envelope) {
	if _, ok := h.Session(env.SessionID); ok || h.bus == nil {
		h.HandleEnvelope(ctx, env)
		return
	}
	if err := h.bus.Send(ctx, env); err != nil {
		log.WithField("sid", env.SessionID).Errorf("Failed to reach partner: %v", err)
	}
}

// HandleEnvelope applies a message addressed to a local session.
func (h *Hub) HandleEnvelope(ctx context.Context, env models.Envelope) {
	switch env.Kind {
	case models.KindClient:
		h.mu.Lock()
		c := h.clients[env.SessionID]
		h.mu.Unlock()
		if c != nil && env.Event != nil {
			c.send(*env.Event)
		}
		return
	}
	s, ok := h.Session(env.SessionID)
	if !ok {
		log.WithFields(log.Fields{"sid": env.SessionID, "kind": env.Kind}).Debug("Envelope for detached session dropped")
		return
	}
	switch env.Kind {
	case models.KindPartnerMove:
		if env.Move != nil {
			s.partnerMove(*env.Move)
		}
	case models.KindPartnerDeal:
		s.partnerDeal()
	default:
		log.Warnf("Unknown envelope kind %q for session %d", env.Kind, env.SessionID)
	}
}

// onMatchResult fans a deadline's result out to every node.
func (h *Hub) onMatchResult(ctx context.Context, res models.MatchResult) {
	if h.bus != nil {
		if err := h.bus.PublishMatch(ctx, res); err != nil {
			log.WithField("gid", res.GameTypeID).Errorf("Failed to publish match result: %v", err)
		}
		return
	}
	h.HandleMatchResult(ctx, res)
}

// HandleMatchResult starts the locally attached members of each group and
// aborts the locally attached failed candidates. The first member of a
// group plays CK, the second NK.
func (h *Hub) HandleMatchResult(ctx context.Context, res models.MatchResult) {
	for _, g := range res.Groups {
		for i, m := range g.Members {
			s, ok := h.Session(m.SessionID)
			if !ok {
				continue
			}
			role := models.RoleCK
			if i%2 == 1 {
				role = models.RoleNK
			}
			s.JoinMatch(role, h.partnerOf(ctx, g, i))
		}
	}
	for _, m := range res.Failed {
		if _, ok := h.Session(m.SessionID); !ok {
			continue
		}
		if err := h.Publish(ctx, m.SessionID, models.NewEvent(models.EventAbortMultiplayer, nil)); err != nil {
			log.WithField("sid", m.SessionID).Errorf("Failed to abort multiplayer: %v", err)
		}
	}
}

// partnerOf returns the partner of member i from the pairing table, or the
// next member of g when the table has no entry for this group.
func (h *Hub) partnerOf(ctx context.Context, g models.MatchGroup, i int) models.Candidate {
	m := g.Members[i]
	fallback := g.Members[(i+1)%len(g.Members)]
	if h.coord == nil {
		return fallback
	}
	p, found, err := h.coord.PartnerOf(ctx, m)
	switch {
	case err != nil:
		log.WithFields(log.Fields{"sid": m.SessionID, "group": g.ID}).Warnf("Pairing lookup failed: %v", err)
	case !found || p.GroupID != g.ID:
		log.WithFields(log.Fields{"sid": m.SessionID, "group": g.ID}).Warn("No pairing recorded for this group")
	default:
		return p.Partner
	}
	return fallback
}

// Shutdown detaches every client and stops background tasks.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	ids := make([]int64, 0, len(h.live))
	for id := range h.live {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Detach(ctx, id)
	}
	h.runner.Shutdown()
}
