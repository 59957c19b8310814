package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graphgames/ttt/internal/bot"
	"github.com/graphgames/ttt/internal/cache"
	"github.com/graphgames/ttt/internal/config"
	"github.com/graphgames/ttt/internal/database"
	"github.com/graphgames/ttt/internal/game"
	"github.com/graphgames/ttt/internal/handlers"
	"github.com/graphgames/ttt/internal/matchmaking"
	"github.com/graphgames/ttt/internal/movelog"
	"github.com/graphgames/ttt/internal/replay"
	"github.com/graphgames/ttt/internal/rules"
	"github.com/graphgames/ttt/internal/tasks"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
	log.Println("Server stopped.")
}

func run(ctx context.Context, cfg config.Config) error {
	var (
		moves    movelog.Log
		sessions movelog.SessionStore
		recorder matchmaking.Recorder
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := database.NewStore(pool)
		moves, sessions, recorder = store, store, store
	} else {
		log.Warn("DATABASE_URL not set, game records are kept in memory only")
		mem := movelog.NewMemory()
		moves, sessions = mem, mem
	}

	gameTypes, err := config.LoadGameTypes(cfg.GameTypesFile, cfg.DeckDir)
	if err != nil {
		return err
	}
	ruleSet, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return err
	}

	sched, err := tasks.NewScheduler()
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Warnf("Scheduler shutdown: %v", err)
		}
	}()
	runner := tasks.NewRunner(ctx)

	deps := game.Deps{
		NodeID:        cfg.NodeID,
		Moves:         moves,
		Sessions:      sessions,
		GameTypes:     gameTypes,
		Runner:        runner,
		VerifyWins:    cfg.VerifyWins,
		MatchDeadline: cfg.MatchDeadline,
		Replayer:      replay.New(moves, cfg.ReplayTrailing),
		Agent: bot.New(bot.Config{
			UserID:   cfg.BotUserID,
			MinDelay: cfg.BotMinDelay,
			MaxDelay: cfg.BotMaxDelay,
		}, rules.NewEngine(ruleSet, nil), moves, nil, nil),
	}

	var listener *cache.Listener
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		routes := cache.NewRoutes(rdb)
		bus := cache.NewBus(rdb, routes, cfg.NodeID)
		if listener, err = bus.Subscribe(ctx); err != nil {
			return err
		}
		deps.Bus, deps.Routes = bus, routes
		deps.Coordinator = matchmaking.NewCoordinator(ctx, cache.NewPoolStore(rdb), cache.NewPairingStore(rdb), recorder, sched, nil)
	} else {
		log.Warn("REDIS_URL not set, matchmaking is limited to this node")
		pool := matchmaking.NewMemoryPool()
		deps.Coordinator = matchmaking.NewCoordinator(ctx, pool, pool, recorder, sched, nil)
	}

	hub := game.NewHub(ctx, deps)
	defer runner.Shutdown()
	defer hub.Shutdown(context.Background())

	if err := sched.Every("pool-sweep", cfg.SweepInterval, func() {
		deps.Coordinator.Sweep(ctx, cfg.PoolMaxAge)
	}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.New(hub, sessions, gameTypes, handlers.NewAuth(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if listener != nil {
		g.Go(func() error {
			listener.Run(gctx, hub.HandleEnvelope, hub.HandleMatchResult)
			return nil
		})
	}
	g.Go(func() error {
		log.WithFields(log.Fields{"addr": cfg.HTTPAddr, "node": cfg.NodeID}).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
