package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authapi/internal/db"
	"github.com/nkiryanov/authapi/internal/handlers"
	"github.com/nkiryanov/authapi/internal/logger"
	"github.com/nkiryanov/authapi/internal/repository"
	"github.com/nkiryanov/authapi/internal/repository/postgres"
	"github.com/nkiryanov/authapi/internal/repository/redisstore"
	"github.com/nkiryanov/authapi/internal/service/admin"
	"github.com/nkiryanov/authapi/internal/service/auth"
	"github.com/nkiryanov/authapi/internal/service/auth/federated"
	"github.com/nkiryanov/authapi/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authapi/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger

	// Release connections when server stopped
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		Logger:     logger,
		closers:    []func(){pool.Close},
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)
	if c.RefreshStore == RefreshStoreRedis {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, func() { _ = client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		storage = repository.Compose(storage.User(), redisstore.NewRefreshTokenRepo(client, redisstore.DefaultPrefix))
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		Issuer:     c.Issuer,
		Audience:   c.Audience,
		AccessTTL:  time.Duration(c.AccessTTLMinutes) * time.Minute,
		RefreshTTL: time.Duration(c.RefreshTTLDays) * 24 * time.Hour,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authCfg := auth.Config{Logger: logger}
	if len(c.GoogleClientIDs) > 0 {
		verifier, err := federated.NewGoogle(ctx, c.GoogleClientIDs)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("error while creating google verifier. Err: %w", err)
		}
		authCfg.Federated = verifier
	} else {
		logger.Warn("google client ids are not configured, federated login is disabled")
	}

	authService, err := auth.NewService(authCfg, tokenManager, storage)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	userService := user.NewService(storage)
	adminService := admin.NewService(admin.Config{Logger: logger}, storage)

	app.Handler = handlers.NewRouter(authService, userService, adminService, logger, c.CORSOrigins)
	return app, nil
}

func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
