package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"pastekv/cfg"
	"pastekv/metrics"
	"pastekv/pkg/secrets"
	"pastekv/pkg/token"
	"pastekv/svc/api"
	"pastekv/svc/cache"
	"pastekv/svc/db"
	"pastekv/svc/exp"
	"pastekv/svc/lim"
	"pastekv/svc/svc"
	"pastekv/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		dbPath := os.Getenv("DATABASE_PATH")
		if dbPath == "" {
			dbPath = "pastekv.db"
		}
		table, err := db.Open(dbPath)
		if err != nil {
			os.Exit(1)
		}
		defer table.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := table.Ping(ctx); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting pastekv API")
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var magic []byte
	if c.MagicFromStore {
		adapter, err := secrets.NewAdapter(ctx)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize secrets adapter")
			os.Exit(1)
		}
		value, err := adapter.GetSecret(ctx, "MAGIC")
		if err != nil {
			util.Fatal().Err(err).Msg("failed to load magic from secrets store")
			os.Exit(1)
		}
		magic = []byte(value)
	} else {
		magic = []byte(c.Magic.Value())
	}
	codec, err := token.NewCodec(magic)
	if err != nil {
		util.Wipe(magic)
		util.Fatal().Err(err).Msg("failed to initialize token codec")
		os.Exit(1)
	}
	util.Wipe(magic)

	table, err := db.Open(c.DatabasePath)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer table.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database opened")

	idx := exp.NewIndex()
	tracked, err := exp.Rebuild(table, idx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to rebuild expiration index")
		os.Exit(1)
	}
	util.Info().Int("tracked", tracked).Msg("expiration index rebuilt")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}

	pasteSvc := svc.NewPaste(table, idx, codec, lruCache, c)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, table, rdb)

	reaper := exp.NewReaper(table, idx, c.ReapInterval)
	reaper.Start(ctx)
	util.Info().Dur("interval", c.ReapInterval).Msg("reaper started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-gctx.Done():
			return gctx.Err()
		}
		util.Info().Msg("shutting down gracefully")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		util.Error().Err(err).Msg("server error")
	}
	reaper.Stop()
	cancel()
	util.Info().Msg("shutdown complete")
}
