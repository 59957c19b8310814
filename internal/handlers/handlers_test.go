// internal/handlers/handlers_test.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/graphgames/ttt/internal/config"
	"github.com/graphgames/ttt/internal/game"
	"github.com/graphgames/ttt/internal/models"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fixture struct {
	srv   *httptest.Server
	auth  *Auth
	store *movelog.Memory
}

func setup(t *testing.T) *fixture {
	t.Helper()
	shoe := filepath.Join(t.TempDir(), "shoe.txt")
	require.NoError(t, os.WriteFile(shoe, []byte("3C 4H 2H 3H 2C 4C 2H CK\n"), 0o600))
	types, err := config.NewGameTypes("", config.GameType{ID: 1, Info: "solo", ShoeFile: shoe, Timeout: 30})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	store := movelog.NewMemory()
	hub := game.NewHub(ctx, game.Deps{NodeID: "test", Moves: store, Sessions: store, GameTypes: types})
	auth := NewAuth(testSecret)
	srv := httptest.NewServer(New(hub, store, types, auth))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown(context.Background())
		cancel()
	})
	return &fixture{srv: srv, auth: auth, store: store}
}

func (f *fixture) token(t *testing.T, uid int64) string {
	t.Helper()
	tok, err := f.auth.Sign(uid, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) post(t *testing.T, path, tok string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want models.EventType) models.Event {
	t.Helper()
	for {
		var ev models.Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestAuthRequired(t *testing.T) {
	f := setup(t)

	resp, _ := f.post(t, "/api/games/1/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.post(t, "/api/games/1/sessions", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := NewAuth("other-secret")
	tok, err := other.Sign(5, time.Hour)
	require.NoError(t, err)
	resp, _ = f.post(t, "/api/games/1/sessions", tok)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	h.Body.Close()
	assert.Equal(t, http.StatusOK, h.StatusCode)
}

func TestCreateSessionAndReplayIntent(t *testing.T) {
	f := setup(t)
	tok := f.token(t, 42)

	resp, body := f.post(t, "/api/games/1/sessions", tok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sid := int64(body["sid"].(float64))
	assert.Equal(t, fmt.Sprintf("/ws?sid=%d", sid), body["ws"])
	assert.Equal(t, "solo", body["info"])

	resp, _ = f.post(t, "/api/games/99/sessions", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.post(t, fmt.Sprintf("/api/sessions/%d/replay", sid), tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("/ws?sid=%d&replay=1", sid), body["ws"])

	resp, _ = f.post(t, fmt.Sprintf("/api/sessions/%d/replay", sid), f.token(t, 7))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketPlaysSoloSession(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gs, err := f.store.Create(ctx, 42, 1)
	require.NoError(t, err)

	url := strings.Replace(f.srv.URL, "http", "ws", 1) + fmt.Sprintf("/ws?sid=%d", gs.ID)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + f.token(t, 42)}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{"event": "login"}))
	hand := readUntil(t, ctx, conn, models.EventHand)
	assert.Equal(t, "ok", hand.Payload["success"])
	assert.Equal(t, float64(gs.ID), hand.Payload["sid"])
	assert.Equal(t, float64(1), hand.Payload["total_hands_num"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"event": "move",
		"data":  map[string]string{"move": "U", "player": "CK", "moved_card": "2C", "goal_card": "2H"},
	}))
	toggle := readUntil(t, ctx, conn, models.EventTogglePlayers)
	assert.Equal(t, "NK", toggle.Payload["player"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{"event": "expired"}))
	readUntil(t, ctx, conn, models.EventGameOver)

	got, err := f.store.Get(ctx, gs.ID)
	require.NoError(t, err)
	require.True(t, got.Closed())
	assert.Equal(t, 1, *got.Score)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWebsocketRefusesForeignSession(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gs, err := f.store.Create(ctx, 42, 1)
	require.NoError(t, err)

	url := strings.Replace(f.srv.URL, "http", "ws", 1) + fmt.Sprintf("/ws?sid=%d&token=%s", gs.ID, f.token(t, 7))
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var ev models.Event
	err = wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
