package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mdbin/cfg"
	"mdbin/pkg/secrets"
	"mdbin/svc/api"
	"mdbin/svc/auth"
	"mdbin/svc/cache"
	"mdbin/svc/db"
	"mdbin/svc/lim"
	"mdbin/svc/svc"
	"mdbin/svc/util"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		healthCheck()
		return
	}

	_ = godotenv.Load()

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
	util.Info().Msg("starting mdbin API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := secrets.NewAdapter(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secrets provider")
		os.Exit(1)
	}
	adminPassword := c.AdminPassword.Value()
	if adminPassword == "" {
		if v, err := provider.GetSecret(ctx, "ADMIN_PASSWORD"); err == nil {
			adminPassword = v
		}
	}
	if adminPassword == "" {
		util.Warn().Msg("no admin password configured, moderation surface is disabled")
	}
	sessionKey := []byte(nil)
	if v := c.SessionKey.Value(); v != "" {
		sessionKey = []byte(v)[:32]
	} else if v, err := provider.GetSecret(ctx, "SESSION_KEY"); err == nil && len(v) >= 32 {
		sessionKey = []byte(v)[:32]
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

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
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}

	var revoker auth.Revoker
	if rdb != nil {
		revoker = rdb
	}
	guard, err := auth.NewGuard(adminPassword, sessionKey, c.SessionTTL, revoker)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize session guard")
		os.Exit(1)
	}

	pasteSvc := svc.NewPaste(sqlDB, lruCache, rdb, hasher, c)
	modSvc := svc.NewModeration(sqlDB, lruCache, rdb, guard)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, modSvc, limiter, sqlDB, rdb)

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(sqlDB.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	if c.CleanupInterval > 0 {
		if err := svc.StartCleaner(ctx, sqlDB, c.CleanupInterval); err != nil {
			util.Error().Err(err).Msg("failed to start cleaner")
		} else {
			util.Info().Dur("interval", c.CleanupInterval).Msg("expired paste cleanup worker started")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
		return server.Start()
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			util.Info().Msg("shutting down gracefully...")
		case <-gctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		close(quitWAL)
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}

func healthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "mdbin.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		os.Exit(1)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
