// internal/models/hand.go
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Canonical board positions, in deck-file order.
const (
	PosNK = "NK" // Number keeper's held card.
	PosN  = "N"
	PosU  = "U" // Up card.
	PosC  = "C"
	PosCK = "CK" // Colour keeper's held card.
	PosT  = "T"  // Target.
	PosGC = "GC" // Goal card.
	PosPL = "PL" // Role that plays first.
)

// Positions lists the eight canonical keys in the order deck lines are read.
var Positions = []string{PosNK, PosN, PosU, PosC, PosCK, PosT, PosGC, PosPL}

// ErrBadHand is returned when a deck line cannot be rendered into a Hand.
var ErrBadHand = errors.New("malformed hand")

// Hand maps each canonical position to a two-character card code.
type Hand map[string]string

// ParseHand upper-cases a deck line and zips it against Positions.
func ParseHand(line string) (Hand, error) {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) != len(Positions) {
		return nil, fmt.Errorf("%w: want %d cards, got %d in %q", ErrBadHand, len(Positions), len(fields), line)
	}
	h := make(Hand, len(Positions))
	for i, pos := range Positions {
		if len(fields[i]) != 2 {
			return nil, fmt.Errorf("%w: card %q at %s is not a two-character code", ErrBadHand, fields[i], pos)
		}
		h[pos] = fields[i]
	}
	if h[PosPL] != RoleCK && h[PosPL] != RoleNK {
		return nil, fmt.Errorf("%w: starting role %q", ErrBadHand, h[PosPL])
	}
	return h, nil
}

// Clone returns an independent copy.
func (h Hand) Clone() Hand {
	out := make(Hand, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Board returns the six card-holding positions (without GC and PL).
func (h Hand) Board() map[string]string {
	out := make(map[string]string, 6)
	for k, v := range h {
		if k == PosGC || k == PosPL {
			continue
		}
		out[k] = v
	}
	return out
}

// IsPosition reports whether move names a board position a player can swap with.
func IsPosition(move string) bool {
	switch move {
	case PosN, PosU, PosC, PosT:
		return true
	}
	return false
}

// ApplyMove plays move for role on h. The card held by role is swapped with
// the card at the chosen position; a pass leaves the board untouched.
// The returned payload records the cards involved and the resulting panel.
func (h Hand) ApplyMove(role, move string) (MovePayload, Hand) {
	next := h.Clone()
	p := MovePayload{
		Move:      move,
		Player:    role,
		MovedCard: h[role],
		GoalCard:  h[PosGC],
		InHand:    h[role],
	}
	if IsPosition(move) {
		p.InHand = h[move]
		next[move] = p.MovedCard
		next[role] = p.InHand
	}
	p.Panel = next.Board()
	return p, next
}

// Wins reports whether p drops the goal card on the target.
func (p MovePayload) Wins() bool {
	return p.Move == PosT && p.MovedCard != "" && p.MovedCard == p.GoalCard
}
