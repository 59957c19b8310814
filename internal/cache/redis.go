// internal/cache/redis.go
package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Key layout shared by every node.
const (
	poolKeyPrefix  = "ttt:pool:"
	routesKey      = "ttt:routes"
	pairsKey       = "ttt:pairs"
	nodeChanPrefix = "ttt:node:"
	matchesChannel = "ttt:matches"
)

func poolKey(gameTypeID int64) string { return poolKeyPrefix + strconv.FormatInt(gameTypeID, 10) }

func nodeChannel(nodeID string) string { return nodeChanPrefix + nodeID }

// Connect parses a redis:// URL, dials and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("Connected to Redis at %s", opts.Addr)
	return rdb, nil
}
