// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/graphgames/ttt/internal/game"
	"github.com/graphgames/ttt/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	outboxSize   = 256
	writeTimeout = 5 * time.Second
)

// inbound is a client frame; data is decoded per event.
type inbound struct {
	Type models.EventType `json:"event"`
	Data json.RawMessage  `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	uid, err := currentUser(r)
	if err != nil {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	sid, err := strconv.ParseInt(r.URL.Query().Get("sid"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"bad sid"}`, http.StatusBadRequest)
		return
	}
	var replaySource int64
	if r.URL.Query().Get("replay") == "1" {
		replaySource = sid
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("WS accept for session %d failed: %v", sid, err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbox := make(chan models.Event, outboxSize)
	send := func(ev models.Event) {
		select {
		case outbox <- ev:
		default:
			log.WithField("sid", sid).Warn("Client outbox full, closing connection")
			cancel()
		}
	}

	sess, err := s.hub.Attach(ctx, sid, uid, replaySource, send)
	if err != nil {
		log.WithFields(log.Fields{"sid": sid, "uid": uid}).Warnf("Attach refused: %v", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.hub.Release(context.Background(), sess)

	go writeLoop(ctx, cancel, conn, outbox)

	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.WithField("sid", sid).Infof("Connection closed: %v", err)
			}
			return
		}
		if err := s.dispatch(ctx, sess, msg); err != nil {
			log.WithFields(log.Fields{"sid": sid, "event": msg.Type}).Warnf("Rejected client event: %v", err)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *game.Session, msg inbound) error {
	switch msg.Type {
	case models.EventLogin:
		return s.hub.Login(ctx, sess.ID)
	case models.EventMove:
		var p models.MovePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return err
		}
		if p.Move == "" {
			return errors.New("move without a position")
		}
		sess.Move(p)
	case models.EventReplayReady:
		return s.hub.ReplayReady(ctx, sess.ID)
	case models.EventMultiplayerReady:
		return s.hub.MultiplayerReady(ctx, sess.ID)
	case models.EventExpired:
		sess.Expire()
	default:
		return errors.New("unknown event")
	}
	return nil
}

func writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbox <-chan models.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-outbox:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}
