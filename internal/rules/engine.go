package rules

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoMatch means every loaded rule was disqualified for the observation.
// With a well-formed rule file this cannot happen and signals a configuration error.
var ErrNoMatch = errors.New("no rule matches the observation")

// PositionalWeights is the bonus for an exact match at each observation index.
// Indexes past the end score a flat 1.
var PositionalWeights = []int{100, 100, 100, 15, 15, 15, 15, 5, 5, 5, 3, 3, 3, 1, 1, 1, 1}

// HistoryEntry is one remembered move, reduced to what the matcher compares.
type HistoryEntry struct {
	Move   string // Position moved to, or "P".
	InHand string // Card held by the mover after the move.
	Target string // Card on T.
	Up     string // Card on U.
}

// opponentTokens omits the held card, which is covered for the opponent.
func (h HistoryEntry) opponentTokens() []string { return []string{h.Move, h.Target, h.Up} }

func (h HistoryEntry) ownTokens() []string { return []string{h.Move, h.InHand, h.Target, h.Up} }

// Engine scores rules against observations. Safe for concurrent use.
type Engine struct {
	rules *RuleSet

	mu  sync.Mutex // Guards rng.
	rng *rand.Rand
}

// NewEngine constructs an Engine with the provided rng or a time-seeded default.
func NewEngine(rs *RuleSet, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{rules: rs, rng: rng}
}

// Observation builds the flat vector compared against rule patterns:
// own, up and target cards, then history entries alternating opponent and
// own (most recent first). Interleaving stops at the first exhausted list.
func Observation(own, up, target string, opponent, mine []HistoryEntry) []string {
	obs := []string{own, up, target}
	for i := 0; ; i++ {
		if i >= len(opponent) {
			break
		}
		obs = append(obs, opponent[i].opponentTokens()...)
		if i >= len(mine) {
			break
		}
		obs = append(obs, mine[i].ownTokens()...)
	}
	return obs
}

// Score compares pattern against obs. It returns -1 when any literal token
// mismatches; otherwise each exact match adds 1 plus the positional weight
// and each wildcard adds nothing.
func Score(pattern, obs []string) int {
	score := 0
	for i, tok := range pattern {
		if i >= len(obs) {
			return -1
		}
		switch {
		case tok == obs[i]:
			score++
			if i < len(PositionalWeights) {
				score += PositionalWeights[i]
			}
		case tok == Wildcard:
		default:
			return -1
		}
	}
	return score
}

// Ranked returns the best score and every rule that reached it.
func (e *Engine) Ranked(obs []string) (int, []Rule) {
	best := -1
	var tied []Rule
	for _, r := range e.rules.rules {
		if len(r.Pattern) > len(obs) {
			continue
		}
		s := Score(r.Pattern, obs)
		if s < 0 {
			continue
		}
		s += r.Weight
		switch {
		case s > best:
			best = s
			tied = []Rule{r}
		case s == best:
			tied = append(tied, r)
		}
	}
	return best, tied
}

// Match picks the highest scoring rule for the current board and history.
// Ties are broken uniformly at random.
func (e *Engine) Match(own, up, target string, opponent, mine []HistoryEntry) (Rule, error) {
	obs := Observation(own, up, target, opponent, mine)
	_, tied := e.Ranked(obs)
	switch len(tied) {
	case 0:
		return Rule{}, ErrNoMatch
	case 1:
		return tied[0], nil
	}
	e.mu.Lock()
	i := e.rng.Intn(len(tied))
	e.mu.Unlock()
	return tied[i], nil
}
