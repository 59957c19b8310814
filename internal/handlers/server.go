// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/graphgames/ttt/internal/config"
	"github.com/graphgames/ttt/internal/game"
	"github.com/graphgames/ttt/internal/movelog"
	log "github.com/sirupsen/logrus"
)

// Server bundles the router and what the handlers need.
type Server struct {
	r         *chi.Mux
	hub       *game.Hub
	sessions  movelog.SessionStore
	gameTypes *config.GameTypes
	auth      *Auth
}

// New constructs a Server and registers its routes.
func New(hub *game.Hub, sessions movelog.SessionStore, gameTypes *config.GameTypes, auth *Auth) *Server {
	s := &Server{r: chi.NewRouter(), hub: hub, sessions: sessions, gameTypes: gameTypes, auth: auth}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	s.r.Group(func(r chi.Router) {
		r.Use(auth.Require)
		r.With(chimw.Timeout(10*time.Second)).Post("/api/games/{gameTypeID}/sessions", s.handleCreateSession)
		r.With(chimw.Timeout(10*time.Second)).Post("/api/sessions/{sid}/replay", s.handleReplayIntent)
		r.Get("/ws", s.handleWS)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.r.ServeHTTP(w, r) }

type sessionResponse struct {
	SessionID  int64  `json:"sid"`
	GameTypeID int64  `json:"gid"`
	Info       string `json:"info,omitempty"`
	WS         string `json:"ws"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	gid, err := strconv.ParseInt(chi.URLParam(r, "gameTypeID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad game type id"))
		return
	}
	gt, err := s.gameTypes.Get(gid)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	gs, err := s.sessions.Create(r.Context(), uid, gt.ID)
	if err != nil {
		log.Errorf("Create session for user %d: %v", uid, err)
		writeError(w, http.StatusInternalServerError, errors.New("could not create session"))
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:  gs.ID,
		GameTypeID: gt.ID,
		Info:       gt.Info,
		WS:         fmt.Sprintf("/ws?sid=%d", gs.ID),
	})
}

// handleReplayIntent checks that a recorded session can be replayed by the
// caller and returns where to connect.
func (s *Server) handleReplayIntent(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	sid, err := strconv.ParseInt(chi.URLParam(r, "sid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad session id"))
		return
	}
	gs, err := s.sessions.Get(r.Context(), sid)
	if errors.Is(err, movelog.ErrSessionNotFound) || (err == nil && gs.UserID != uid) {
		writeError(w, http.StatusNotFound, movelog.ErrSessionNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:  gs.ID,
		GameTypeID: gs.GameTypeID,
		WS:         fmt.Sprintf("/ws?sid=%d&replay=1", gs.ID),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
