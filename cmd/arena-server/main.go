package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/clock"
	appcfg "github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/server"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/syncchan"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis connect error: %v", err)
	}
	cancel()

	// Durable store: Postgres when configured, in-memory otherwise. Without a
	// database ratings and finished games do not survive a restart.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("store init error: %v", err)
		}
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pg.EnsureSchema(schemaCtx); err != nil {
			cancel()
			log.Fatalf("store schema error: %v", err)
		}
		cancel()
		st = pg
	} else {
		obslog.L().Warn("no DATABASE_URL set, using in-memory store")
		st = store.NewMemory()
	}

	matches := match.NewManager(rdb)
	matches.AttachRecorder(st)
	hub := syncchan.NewHub(rdb, matches)
	matches.AttachBroadcaster(hub)
	clocks := clock.NewManager(matches, time.Duration(cfg.ClockTickMs)*time.Millisecond)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := matchmaking.NewQueue(&matchCreator{
		matches:        matches,
		clocks:         clocks,
		watchCtx:       rootCtx,
		timeControlSec: cfg.TimeControlSec,
	}, cfg.RatingWindow)

	srv := server.New(cfg, matches, hub, queue, st)
	if err := srv.Run(rootCtx); err != nil {
		obslog.L().Error("http_server_exit", zap.Error(err))
	}

	clocks.Stop()
	_ = st.Close()
	_ = rdb.Close()
}

// matchCreator wires the matchmaker to match creation and clock watching.
type matchCreator struct {
	matches        *match.Manager
	clocks         *clock.Manager
	watchCtx       context.Context
	timeControlSec int
}

func (mc *matchCreator) CreateMatch(ctx context.Context, whiteID, blackID string) (string, error) {
	m, err := mc.matches.Create(ctx, whiteID, blackID, mc.timeControlSec)
	if err != nil {
		return "", err
	}
	// Watchers live past the request; bind them to process lifetime.
	mc.clocks.Watch(mc.watchCtx, m.ID)
	return m.ID, nil
}
