package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/graphgames/ttt/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Bus carries envelopes between nodes over Redis pub/sub. Each node listens
// on its own channel plus the shared match result channel.
type Bus struct {
	rdb    *redis.Client
	routes *Routes
	nodeID string
}

// NewBus returns a Bus for the local node.
func NewBus(rdb *redis.Client, routes *Routes, nodeID string) *Bus {
	return &Bus{rdb: rdb, routes: routes, nodeID: nodeID}
}

// NodeID returns the local node id.
func (b *Bus) NodeID() string { return b.nodeID }

// Send publishes env to the node owning env.SessionID. A session with no
// route is gone; the envelope is dropped.
func (b *Bus) Send(ctx context.Context, env models.Envelope) error {
	node, ok, err := b.routes.Get(ctx, env.SessionID)
	if err != nil {
		return fmt.Errorf("route session %d: %w", env.SessionID, err)
	}
	if !ok {
		log.WithFields(log.Fields{"sid": env.SessionID, "kind": env.Kind}).Debug("Dropping envelope for unrouted session")
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, nodeChannel(node), data).Err()
}

// PublishMatch announces a match result to every node.
func (b *Bus) PublishMatch(ctx context.Context, res models.MatchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, matchesChannel, data).Err()
}

// Listener is a confirmed subscription of the local node.
type Listener struct {
	sub *redis.PubSub
}

// Subscribe joins the node and match channels and waits for confirmation.
func (b *Bus) Subscribe(ctx context.Context) (*Listener, error) {
	sub := b.rdb.Subscribe(ctx, nodeChannel(b.nodeID), matchesChannel)
	for i := 0; i < 2; i++ {
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return nil, fmt.Errorf("subscribe node %s: %w", b.nodeID, err)
		}
	}
	return &Listener{sub: sub}, nil
}

// Run dispatches messages until ctx is done or the subscription closes.
func (l *Listener) Run(ctx context.Context, onEnvelope func(context.Context, models.Envelope), onMatch func(context.Context, models.MatchResult)) {
	defer l.sub.Close()
	ch := l.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Channel == matchesChannel {
				var res models.MatchResult
				if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
					log.Errorf("Bad match result on bus: %v", err)
					continue
				}
				onMatch(ctx, res)
				continue
			}
			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Errorf("Bad envelope on bus: %v", err)
				continue
			}
			onEnvelope(ctx, env)
		}
	}
}
