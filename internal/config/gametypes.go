package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/graphgames/ttt/internal/models"
)

// ErrUnknownGameType is returned for ids missing from the game type file.
var ErrUnknownGameType = errors.New("unknown game type")

// ErrBadGameType is returned for inconsistent game type parameters.
var ErrBadGameType = errors.New("invalid game type")

// GameType holds the parameters of one configured game.
type GameType struct {
	ID                int64           `json:"id"`
	Info              string          `json:"info"`
	ShoeFile          string          `json:"shoe_file"`
	Timeout           int             `json:"timeout"` // Seconds the client allows per session.
	Replay            bool            `json:"replay"`
	EnableMultiplayer bool            `json:"enable_multiplayer"`
	EnableBot         bool            `json:"enable_bot"`
	BotRole           string          `json:"bot_role"`
	MemorySize        int             `json:"memory_size"`
	MinUsers          int             `json:"min_users"`
	MaxUsers          int             `json:"max_users"`
	MatchDeadline     int             `json:"match_deadline"` // Seconds; 0 uses the service default.
	CardFlip          bool            `json:"card_flip"`
	OpponentCovered   bool            `json:"opponent_covered"`
	Covered           map[string]bool `json:"covered"`
}

// Visibility returns the display flags sent with every hand.
func (g GameType) Visibility() models.Visibility {
	covered := make(map[string]bool, len(g.Covered))
	for k, v := range g.Covered {
		covered[k] = v
	}
	return models.Visibility{Covered: covered, OpponentCovered: g.OpponentCovered, CardFlip: g.CardFlip}
}

// Deadline returns the matchmaking deadline, falling back to def.
func (g GameType) Deadline(def time.Duration) time.Duration {
	if g.MatchDeadline > 0 {
		return time.Duration(g.MatchDeadline) * time.Second
	}
	return def
}

func (g *GameType) validate() error {
	if g.ShoeFile == "" {
		return fmt.Errorf("%w %d: shoe_file is empty", ErrBadGameType, g.ID)
	}
	if g.Timeout == 0 {
		g.Timeout = 900
	}
	if g.EnableBot {
		if g.BotRole == "" {
			g.BotRole = models.RoleNK
		}
		if g.BotRole != models.RoleCK && g.BotRole != models.RoleNK {
			return fmt.Errorf("%w %d: bot_role %q", ErrBadGameType, g.ID, g.BotRole)
		}
		if g.MemorySize == 0 {
			g.MemorySize = 2
		}
	}
	if g.EnableMultiplayer {
		if g.MinUsers == 0 {
			g.MinUsers = 2
		}
		if g.MaxUsers == 0 {
			g.MaxUsers = 2
		}
		if g.MaxUsers < 1 || g.MinUsers > g.MaxUsers {
			return fmt.Errorf("%w %d: min_users %d, max_users %d", ErrBadGameType, g.ID, g.MinUsers, g.MaxUsers)
		}
	}
	return nil
}

// GameTypes indexes the configured game types by id.
type GameTypes struct {
	byID map[int64]GameType
}

// NewGameTypes validates and indexes types. Relative shoe files are resolved against deckDir.
func NewGameTypes(deckDir string, types ...GameType) (*GameTypes, error) {
	gt := &GameTypes{byID: make(map[int64]GameType, len(types))}
	for _, t := range types {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if deckDir != "" && !filepath.IsAbs(t.ShoeFile) {
			t.ShoeFile = filepath.Join(deckDir, t.ShoeFile)
		}
		if _, dup := gt.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w %d: duplicate id", ErrBadGameType, t.ID)
		}
		gt.byID[t.ID] = t
	}
	return gt, nil
}

// LoadGameTypes reads a JSON array of game types.
func LoadGameTypes(path, deckDir string) (*GameTypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read game types: %w", err)
	}
	var types []GameType
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("parse game types %s: %w", path, err)
	}
	return NewGameTypes(deckDir, types...)
}

// Get returns the game type with the given id.
func (g *GameTypes) Get(id int64) (GameType, error) {
	t, ok := g.byID[id]
	if !ok {
		return GameType{}, fmt.Errorf("%w %d", ErrUnknownGameType, id)
	}
	return t, nil
}
