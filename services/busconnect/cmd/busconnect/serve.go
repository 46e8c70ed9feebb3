package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"busconnect/internal/util"
	"busconnect/pkg/storage"
	"busconnect/pkg/store"
	"busconnect/services/busconnect/internal/app"
	"busconnect/services/busconnect/internal/config"
	"busconnect/services/busconnect/internal/server"
)

func serveCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and serve the frontend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), r.configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return err
	}
	logger := util.InitLogger(cfg.LogLevel)
	logger.Info("starting busconnect", "config", cfg.String())
	if cfg.GeneratedJWTSecret {
		logger.Warn("JWT_SECRET not set, using a generated development secret; sessions end on restart")
	}

	st, err := store.Open(ctx, store.Options{
		Driver:         cfg.DatabaseDriver,
		DSN:            cfg.DatabaseURL,
		ConnectTimeout: 30 * time.Second,
		MaxOpenConns:   10,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var rdb redis.UniversalClient
	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		rdb = client
		revoker = store.NewRedisTokenRevoker(client)
	} else {
		logger.Warn("REDIS_ADDR not set: rate limiting disabled, token revocation kept in memory")
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{})
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	var images storage.ObjectStore
	if cfg.ObjectStore.Enabled() {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:      cfg.ObjectStore.Endpoint,
			AccessKey:     cfg.ObjectStore.AccessKey,
			SecretKey:     cfg.ObjectStore.SecretKey,
			Bucket:        cfg.ObjectStore.Bucket,
			UseSSL:        cfg.ObjectStore.UseSSL,
			PublicBaseURL: cfg.ObjectStore.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("init object store: %w", err)
		}
		images = minioStore
	}

	appCore, err := app.New(app.Config{Store: st, Sessions: sessions, Images: images})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	trusted, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}
	httpServer, err := server.New(server.Config{
		App:                      appCore,
		AllowedOrigins:           cfg.CORSAllowedOrigins,
		StaticDir:                cfg.StaticDir,
		MaxBodyBytes:             cfg.MaxBodyBytes,
		EnableInit:               cfg.InitEndpointEnabled(),
		TrustedProxies:           trusted,
		Redis:                    rdb,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("busconnect server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
