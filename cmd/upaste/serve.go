package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"upaste/cfg"
	"upaste/pkg/kms"
	"upaste/pkg/seal"
	"upaste/svc/api"
	"upaste/svc/db"
	"upaste/svc/lim"
	"upaste/svc/svc"
	"upaste/svc/util"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and WAL maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.Load()
			if err != nil {
				return errors.Wrap(err, "load configuration")
			}
			if err := cfg.Validate(c); err != nil {
				return errors.Wrap(err, "invalid configuration")
			}
			defer c.Wipe()
			if c.Version == "unknown" {
				c.Version = version
			}
			util.InitLog(c.LogLevel, c.Environment == "development")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cfg.Cfg) error {
	util.Info().Str("version", c.Version).Str("environment", c.Environment).Msg("starting upaste")

	signingKey, err := resolveSigningKey(ctx, c)
	if err != nil {
		return errors.Wrap(err, "resolve signing key")
	}
	defer util.Wipe(signingKey)

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	var counter lim.Counter
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(ctx, db.RedisOptions{
			URL:        c.RedisURL,
			Username:   c.RedisUsername,
			Password:   c.RedisPassword.Value(),
			TLS:        c.RedisTLS,
			ServerName: c.RedisHostname,
			CACertPath: c.RedisCACert,
			Timeout:    c.RedisTimeout,
		})
		if err != nil {
			if c.IsProduction() {
				return errors.Wrap(err, "redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable, throttling is per instance")
		} else {
			defer rdb.Close()
			counter = rdb
			util.Info().Msg("redis connected")
		}
	}

	hasher, err := util.NewClientHasher([]byte(seal.Sign("client-hash", signingKey)), c.RateLimit.RotationInterval, nil)
	if err != nil {
		return errors.Wrap(err, "client hasher")
	}
	defer hasher.Stop()
	limiter, err := lim.New(lim.Options{
		RPM:            c.RateLimit.RPM,
		Burst:          c.RateLimit.Burst,
		CacheSize:      c.RateLimit.CacheSize,
		TrustedProxies: c.TrustedProxies,
	}, counter, hasher)
	if err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	clock := util.SystemClock{}
	repo := svc.NewPastes(sqlDB, signingKey, clock)
	sweeper := svc.NewSweeper(repo, c.SweepInterval, c.MaxPasteAge, clock)
	wal := db.NewWALMaintainer(sqlDB, c.WALCheckpoint)
	server := api.NewServer(c, repo, limiter, sqlDB, rdb)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return wal.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("shutdown with error")
		return err
	}
	util.Info().Msg("shutdown complete")
	return nil
}

// resolveSigningKey returns a private copy of the signing key, taken from
// SIGNING_KEY or resolved through the KMS.
func resolveSigningKey(ctx context.Context, c *cfg.Cfg) ([]byte, error) {
	if c.SigningKeyFromEnv() {
		key := make([]byte, len(c.SigningKey.Bytes()))
		copy(key, c.SigningKey.Bytes())
		return key, nil
	}
	a, err := kms.NewAdapter(ctx)
	if err != nil {
		return nil, err
	}
	util.Info().Str("provider", a.Provider()).Msg("kms adapter initialized")
	if c.SigningKeyFromKMS {
		return kms.FetchSigningKey(ctx, a, c.SigningKeySecretName)
	}
	return kms.UnwrapSigningKey(ctx, a, c.SigningKeyCiphertext)
}
