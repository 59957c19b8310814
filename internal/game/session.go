// internal/game/session.go
package game

import (
	"context"
	"sync"
	"time"

	"github.com/graphgames/ttt/internal/config"
	"github.com/graphgames/ttt/internal/deck"
	"github.com/graphgames/ttt/internal/models"
	log "github.com/sirupsen/logrus"
)

// State is the lifecycle position of a live session.
type State int

const (
	StateAwaitingHand State = iota // No hand on the table yet.
	StateInHand                    // A hand is being played; CurrentRole holds the turn.
	StateClosed                    // Terminal. Every later command is ignored.
)

func (s State) String() string {
	switch s {
	case StateAwaitingHand:
		return "awaiting_hand"
	case StateInHand:
		return "in_hand"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Mode selects who plays the roles of a session.
type Mode int

const (
	ModeSolo        Mode = iota // One human plays both roles.
	ModeBot                     // The human plays one role, the bot the other.
	ModeMultiplayer             // Two humans on separate sessions.
	ModeReplay                  // A spectator watching a recorded session.
)

// command runs on the session goroutine.
type command func(ctx context.Context)

// Snapshot is a consistent copy of a session's turn state.
type Snapshot struct {
	State       State
	CurrentRole string
	GoalCard    string
	PlayerRole  string
	Panel       models.Hand
	HandsDealt  int
	Partner     models.Candidate // Zero outside multiplayer.
}

// Session is the authoritative state of one GameSession. All fields below
// the channel block are owned by the run goroutine.
type Session struct {
	ID       int64
	UserID   int64
	GameType config.GameType
	Mode     Mode

	hub  *Hub
	deck *deck.Deck

	cmds   chan command
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
	cancel context.CancelFunc

	state       State
	currentRole string
	goalCard    string
	panel       models.Hand
	playerRole  string // Role of the attached human; empty in solo mode.
	partner     *models.Candidate
	turn        int // Bumped on every turn change; stale bot results compare against it.
	handsDealt  int
	cancelBot   context.CancelFunc
}

func newSession(hub *Hub, id, userID int64, gt config.GameType, mode Mode, d *deck.Deck) *Session {
	return &Session{
		ID:       id,
		UserID:   userID,
		GameType: gt,
		Mode:     mode,
		hub:      hub,
		deck:     d,
		cmds:     make(chan command, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateAwaitingHand,
	}
}

func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case cmd := <-s.cmds:
			cmd(ctx)
		}
	}
}

// enqueue hands cmd to the run goroutine. It reports false once the session is stopped.
func (s *Session) enqueue(cmd command) bool {
	select {
	case <-s.done:
		return false
	case s.cmds <- cmd:
		return true
	}
}

// call runs fn on the session goroutine and waits for it.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.enqueue(func(context.Context) { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		return false
	}
}

// shutdown stops the goroutine and waits for it.
func (s *Session) shutdown() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	if s.cancel != nil {
		s.cancel()
	}
}

// Snapshot returns the current turn state.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.call(func() {
		snap = Snapshot{
			State:       s.state,
			CurrentRole: s.currentRole,
			GoalCard:    s.goalCard,
			PlayerRole:  s.playerRole,
			Panel:       s.panel.Clone(),
			HandsDealt:  s.handsDealt,
		}
		if s.partner != nil {
			snap.Partner = *s.partner
		}
	})
	return snap
}

// Deal serves the first hand.
func (s *Session) Deal() {
	s.enqueue(func(ctx context.Context) {
		if s.state != StateAwaitingHand {
			return
		}
		s.dealNext(ctx)
	})
}

// Move applies a move reported by the client.
func (s *Session) Move(p models.MovePayload) {
	s.enqueue(func(ctx context.Context) { s.applyMove(ctx, p) })
}

// Expire closes the session when the client's timer runs out.
func (s *Session) Expire() {
	s.enqueue(func(ctx context.Context) {
		if s.state == StateClosed {
			return
		}
		s.logAction("session_expired", nil)
		s.closeSession(ctx)
	})
}

// PlayBot assigns the human role in bot mode and serves the first hand.
func (s *Session) PlayBot() {
	s.enqueue(func(ctx context.Context) {
		if s.state != StateAwaitingHand {
			return
		}
		s.playerRole = models.OtherRole(s.GameType.BotRole)
		s.emit(ctx, models.EventSetPlayerRole, map[string]interface{}{"player_role": s.playerRole})
		s.dealNext(ctx)
	})
}

// JoinMatch assigns the role and partner chosen by matchmaking and serves the first hand.
func (s *Session) JoinMatch(role string, partner models.Candidate) {
	s.enqueue(func(ctx context.Context) {
		if s.state != StateAwaitingHand {
			log.Printf("Session %d: match arrived in state %s, ignoring.", s.ID, s.state)
			return
		}
		s.playerRole = role
		s.partner = &partner
		s.logAction("match_joined", map[string]interface{}{"role": role, "partner": partner.Key()})
		s.emit(ctx, models.EventSetPlayerRole, map[string]interface{}{"player_role": role})
		s.dealNext(ctx)
	})
}

func (s *Session) partnerMove(p models.MovePayload) {
	s.enqueue(func(ctx context.Context) {
		if s.state != StateInHand {
			return
		}
		if s.panel != nil && models.IsPosition(p.Move) {
			_, s.panel = s.panel.ApplyMove(p.Player, p.Move)
		}
		s.emit(ctx, models.EventExternalMove, map[string]interface{}{
			"move":       p.Move,
			"player":     p.Player,
			"moved_card": p.MovedCard,
			"goal_card":  p.GoalCard,
			"in_hand":    p.InHand,
		})
		s.passTurn(p.Player)
	})
}

func (s *Session) partnerDeal() {
	s.enqueue(func(ctx context.Context) {
		if s.state == StateClosed {
			return
		}
		s.dealNext(ctx)
	})
}

// dealNext serves the next hand, or closes the session when the deck is exhausted.
func (s *Session) dealNext(ctx context.Context) {
	s.stopBot()
	hand, ok := s.deck.Next()
	if !ok {
		s.logAction("deck_exhausted", map[string]interface{}{"hands": s.handsDealt})
		s.closeSession(ctx)
		return
	}

	panel := map[string]string(hand.Clone())
	if _, err := s.hub.moves.Append(ctx, models.Move{
		UserID:    s.UserID,
		SessionID: s.ID,
		Payload:   models.MovePayload{Move: models.MoveHand, Panel: panel},
	}); err != nil {
		log.WithField("sid", s.ID).Errorf("Failed to store hand: %v", err)
	}

	s.state = StateInHand
	s.panel = hand
	s.currentRole = hand[models.PosPL]
	s.goalCard = hand[models.PosGC]
	s.handsDealt++
	s.turn++

	vis := s.GameType.Visibility()
	s.emit(ctx, models.EventHand, map[string]interface{}{
		"success":          "ok",
		"hand":             panel,
		"covered":          vis.Covered,
		"opponent_covered": vis.OpponentCovered,
		"card_flip":        vis.CardFlip,
		"timeout":          s.GameType.Timeout,
		"sid":              s.ID,
		"total_hands_num":  s.deck.Total(),
	})
	s.logAction("hand_dealt", map[string]interface{}{"hand": s.handsDealt, "first": s.currentRole})
	s.maybeRunBot(ctx)
}

// applyMove persists a client move and advances the turn.
func (s *Session) applyMove(ctx context.Context, p models.MovePayload) {
	if s.state == StateClosed {
		log.Printf("Session %d: move %q after close ignored.", s.ID, p.Move)
		return
	}
	if p.Player == "" {
		p.Player = s.currentRole
	}
	if _, err := s.hub.moves.Append(ctx, models.Move{
		UserID:    s.UserID,
		SessionID: s.ID,
		Role:      p.Player,
		Payload:   p,
	}); err != nil {
		log.WithField("sid", s.ID).Errorf("Failed to store move: %v", err)
	}
	// Stored for the record; there is no hand to play it on.
	if s.state != StateInHand {
		log.Warnf("Session %d: move %q in state %s recorded without effect.", s.ID, p.Move, s.state)
		return
	}
	if p.Player != s.currentRole {
		log.Warnf("Session %d: %s moved during %s's turn.", s.ID, p.Player, s.currentRole)
	}

	win := p.Wins()
	if s.panel != nil {
		computed, next := s.panel.ApplyMove(p.Player, p.Move)
		if computed.Wins() != win {
			log.WithFields(log.Fields{
				"sid":      s.ID,
				"move":     p.Move,
				"reported": win,
				"computed": computed.Wins(),
			}).Warn("Client win disagrees with server board")
			if s.hub.verifyWins {
				win = computed.Wins()
			}
		}
		s.panel = next
	}

	if win {
		s.logAction("hand_won", map[string]interface{}{"player": p.Player})
		s.dealNext(ctx)
		if s.Mode == ModeMultiplayer && s.partner != nil {
			s.hub.sendPartner(ctx, models.Envelope{SessionID: s.partner.SessionID, Kind: models.KindPartnerDeal, From: s.ID})
		}
		return
	}

	if s.Mode == ModeMultiplayer && s.partner != nil {
		mirrored := p
		s.hub.sendPartner(ctx, models.Envelope{SessionID: s.partner.SessionID, Kind: models.KindPartnerMove, From: s.ID, Move: &mirrored})
	}
	s.toggle(ctx, p.Player)
	s.maybeRunBot(ctx)
}

// applyBotMove advances the turn after the bot's stored move.
func (s *Session) applyBotMove(ctx context.Context, turn int, mv models.Move) {
	if s.state != StateInHand || turn != s.turn {
		log.Printf("Session %d: stale bot move %q dropped.", s.ID, mv.Payload.Move)
		return
	}
	if s.panel != nil {
		_, s.panel = s.panel.ApplyMove(mv.Role, mv.Payload.Move)
	}
	if mv.Payload.Wins() {
		s.logAction("hand_won", map[string]interface{}{"player": mv.Role, "bot": true})
		s.dealNext(ctx)
		return
	}
	s.passTurn(mv.Role)
}

// toggle hands the turn to the role opposite mover and tells the mover's client.
func (s *Session) toggle(ctx context.Context, mover string) {
	s.passTurn(mover)
	s.emit(ctx, models.EventTogglePlayers, map[string]interface{}{"player": s.currentRole})
}

// passTurn advances the turn silently. Clients flip the active player
// themselves when they receive external_move.
func (s *Session) passTurn(mover string) {
	s.currentRole = models.OtherRole(mover)
	s.turn++
}

func (s *Session) maybeRunBot(ctx context.Context) {
	if s.Mode != ModeBot || s.hub.agent == nil || s.state != StateInHand {
		return
	}
	if s.currentRole != s.GameType.BotRole {
		return
	}
	turn := s.turn
	panel := s.panel.Clone()
	role := s.currentRole
	memory := s.GameType.MemorySize
	s.cancelBot = s.hub.runner.Go("bot", func(botCtx context.Context) {
		mv, err := s.hub.agent.Decide(botCtx, s.ID, panel, role, memory)
		if err != nil {
			if botCtx.Err() == nil {
				log.WithField("sid", s.ID).Errorf("Bot failed: %v", err)
			}
			return
		}
		s.enqueue(func(ctx context.Context) { s.applyBotMove(ctx, turn, mv) })
	})
}

func (s *Session) stopBot() {
	if s.cancelBot != nil {
		s.cancelBot()
		s.cancelBot = nil
	}
}

// closeSession stamps the end, stores the score and tells the client.
func (s *Session) closeSession(ctx context.Context) {
	s.stopBot()
	s.state = StateClosed
	score, err := s.hub.moves.CountPlayed(ctx, s.ID)
	if err != nil {
		log.WithField("sid", s.ID).Errorf("Failed to count moves: %v", err)
	}
	if err := s.hub.sessions.Close(ctx, s.ID, time.Now(), score); err != nil {
		log.WithField("sid", s.ID).Errorf("Failed to close session: %v", err)
	}
	s.logAction("session_closed", map[string]interface{}{"score": score})
	s.emit(ctx, models.EventGameOver, nil)
}

func (s *Session) emit(ctx context.Context, t models.EventType, payload map[string]interface{}) {
	if err := s.hub.Publish(ctx, s.ID, models.NewEvent(t, payload)); err != nil {
		log.WithField("sid", s.ID).Errorf("Failed to publish %s: %v", t, err)
	}
}

// logAction records a structured trace line for the session.
func (s *Session) logAction(action string, fields map[string]interface{}) {
	entry := log.WithFields(log.Fields{"sid": s.ID, "uid": s.UserID, "gid": s.GameType.ID})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Debug(action)
}
