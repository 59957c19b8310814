// internal/models/models.go
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Player roles. Every hand is played by exactly these two roles.
const (
	RoleCK = "CK" // Colour keeper.
	RoleNK = "NK" // Number keeper.
)

// MoveHand is the move value of the synthetic record written whenever a hand is dealt.
const MoveHand = "HAND"

// MovePass is the move value of a pass.
const MovePass = "P"

// OtherRole returns the opposing role token.
func OtherRole(role string) string {
	if role == RoleCK {
		return RoleNK
	}
	return RoleCK
}

// Candidate is a player waiting in a matchmaking pool.
type Candidate struct {
	UserID    int64 `json:"uid"`
	SessionID int64 `json:"sid"`
}

// Key returns the "uid:sid" form used by the pairing table.
func (c Candidate) Key() string {
	return fmt.Sprintf("%d:%d", c.UserID, c.SessionID)
}

// MatchGroup is a set of candidates grouped for the same game type.
type MatchGroup struct {
	ID         uuid.UUID   `json:"id"`
	GameTypeID int64       `json:"gameTypeId"`
	Members    []Candidate `json:"members"`
}

// MatchResult is the outcome of a pool deadline.
type MatchResult struct {
	GameTypeID int64        `json:"gid"`
	Groups     []MatchGroup `json:"groups"`
	Failed     []Candidate  `json:"failed"`
}

// Pairing is the pairing-table entry for one grouped candidate.
type Pairing struct {
	Partner Candidate `json:"partner"`
	GroupID uuid.UUID `json:"groupId"`
}

// GameSession is the durable record of one play session.
type GameSession struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"uid"`
	GameTypeID int64      `json:"type"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end,omitempty"`
	Score      *int       `json:"score,omitempty"`
}

// Closed reports whether the session already has an end time.
func (s GameSession) Closed() bool { return s.End != nil }

// MultiplayerSession audits a produced MatchGroup.
type MultiplayerSession struct {
	ID         int64   `json:"id"`
	GameTypeID int64   `json:"gid"`
	SessionIDs []int64 `json:"sids"`
	UserIDs    []int64 `json:"users"`
}

// MovePayload is the JSON body of a Move record.
// A HAND payload carries the full board in Panel; a played move carries the
// position moved to, the cards involved and the panel as seen by the client.
type MovePayload struct {
	Move      string            `json:"move"`
	Player    string            `json:"player,omitempty"`
	MovedCard string            `json:"moved_card,omitempty"`
	GoalCard  string            `json:"goal_card,omitempty"`
	InHand    string            `json:"in_hand,omitempty"`
	Panel     map[string]string `json:"panel,omitempty"`
}

// IsHand reports whether the payload marks a dealt hand.
func (p MovePayload) IsHand() bool { return p.Move == MoveHand }

// Move is one append-only record of the move log.
type Move struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"uid"`
	SessionID int64       `json:"sid"`
	Role      string      `json:"play_role"`
	Payload   MovePayload `json:"mv"`
	Timestamp time.Time   `json:"ts"`
}

// MarshalPayload encodes the payload for storage.
func (m Move) MarshalPayload() ([]byte, error) {
	return json.Marshal(m.Payload)
}

// Visibility holds the per-game-type display flags sent along with hands.
type Visibility struct {
	Covered         map[string]bool `json:"covered"`
	OpponentCovered bool            `json:"opponent_covered"`
	CardFlip        bool            `json:"card_flip"`
}
