package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/graphgames/ttt/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BOT_MAX_DELAY", "3s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("VERIFY_WINS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, int64(-1), cfg.BotUserID)
	assert.Equal(t, 500*time.Millisecond, cfg.BotMinDelay)
	assert.Equal(t, 3*time.Second, cfg.BotMaxDelay)
	assert.Equal(t, 5*time.Second, cfg.ReplayTrailing)
	assert.Equal(t, log.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.VerifyWins)
	assert.NotEmpty(t, cfg.NodeID)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=fromfile\nNODE_ID=node-1\n"), 0o600))
	// Registered first so the values godotenv sets are restored afterwards.
	t.Setenv("JWT_SECRET", "")
	t.Setenv("NODE_ID", "")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("NODE_ID")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.JWTSecret)
	assert.Equal(t, "node-1", cfg.NodeID)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BOT_MIN_DELAY", "5s")
	t.Setenv("BOT_MAX_DELAY", "1s")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("BOT_MIN_DELAY", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "BOT_MIN_DELAY")
}

func TestGameTypesLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "types.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": 1, "shoe_file": "solo.txt"},
		{"id": 7, "shoe_file": "/abs/mp.txt", "enable_multiplayer": true, "opponent_covered": true, "covered": {"NK": true}},
		{"id": 9, "shoe_file": "bot.txt", "enable_bot": true, "timeout": 60}
	]`), 0o600))

	gts, err := LoadGameTypes(path, "decks")
	require.NoError(t, err)

	solo, err := gts.Get(1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("decks", "solo.txt"), solo.ShoeFile)
	assert.Equal(t, 900, solo.Timeout)

	mp, err := gts.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "/abs/mp.txt", mp.ShoeFile)
	assert.Equal(t, 2, mp.MinUsers)
	assert.Equal(t, 2, mp.MaxUsers)
	assert.Equal(t, 5*time.Second, mp.Deadline(5*time.Second))
	vis := mp.Visibility()
	assert.True(t, vis.OpponentCovered)
	assert.True(t, vis.Covered["NK"])

	bot, err := gts.Get(9)
	require.NoError(t, err)
	assert.Equal(t, models.RoleNK, bot.BotRole)
	assert.Equal(t, 2, bot.MemorySize)
	assert.Equal(t, 60, bot.Timeout)

	_, err = gts.Get(42)
	assert.ErrorIs(t, err, ErrUnknownGameType)
}

func TestGameTypesRejectInconsistentParams(t *testing.T) {
	_, err := NewGameTypes("", GameType{ID: 1, ShoeFile: "x", EnableMultiplayer: true, MinUsers: 3, MaxUsers: 2})
	assert.ErrorIs(t, err, ErrBadGameType)

	_, err = NewGameTypes("", GameType{ID: 1})
	assert.ErrorIs(t, err, ErrBadGameType)

	_, err = NewGameTypes("", GameType{ID: 1, ShoeFile: "x", EnableBot: true, BotRole: "XX"})
	assert.ErrorIs(t, err, ErrBadGameType)

	_, err = NewGameTypes("", GameType{ID: 1, ShoeFile: "x"}, GameType{ID: 1, ShoeFile: "y"})
	assert.ErrorIs(t, err, ErrBadGameType)
}
