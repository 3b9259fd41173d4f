// Package server initializes and runs the broker. It wires storage, the
// cipher store, the token ledger, trust evaluation, audit logging, and
// the HTTP API, and handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/cryptox"
	"github.com/contractorvault/broker/internal/logging"
	"github.com/contractorvault/broker/internal/server/artifacts"
	"github.com/contractorvault/broker/internal/server/audit"
	"github.com/contractorvault/broker/internal/server/broker"
	"github.com/contractorvault/broker/internal/server/config"
	"github.com/contractorvault/broker/internal/server/httpapi"
	"github.com/contractorvault/broker/internal/server/ratelimit"
	"github.com/contractorvault/broker/internal/server/storage"
	"github.com/contractorvault/broker/internal/server/tokens"
	"github.com/contractorvault/broker/internal/server/trust"
	"github.com/contractorvault/broker/internal/timex"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	manager  storage.RepositoryManager
	recorder *audit.Recorder
	api      *httpapi.Server
	redis    *redis.Client
}

func NewApp(cfg *config.Config) (*App, error) {

	logger := logging.NewJSONLogger()
	clock := timex.RealClock{}

	manager, err := storage.NewPostgresRepositoryManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	var key []byte
	if cfg.CipherPassphrase != "" {
		key = cryptox.DeriveKey([]byte(cfg.CipherPassphrase), []byte(cfg.CipherKeySalt))
	} else {
		key, err = cryptox.LoadOrBootstrapKey(cfg.CipherKeyHex, cfg.CipherKeyFile)
		if err != nil {
			return nil, fmt.Errorf("cipher key error: %w", err)
		}
	}
	cipher, err := cryptox.New(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init error: %w", err)
	}
	// The AEAD holds its own key schedule; drop the raw key from memory.
	common.WipeByteArray(key)

	recorder := audit.NewRecorder(manager.Audit(), logger, clock, audit.RecorderOptions{})

	archiver := audit.NewArchiver(manager.Audit(), audit.S3Config{
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})

	b := broker.New(
		artifacts.NewService(manager.Artifacts(), cipher),
		tokens.NewService(manager.Tokens(), clock, cfg.MaxTokenTTL),
		trust.NewService(manager.Trust(), clock, trust.Policy{BlockBelowScore: cfg.TrustBlockBelowScore}),
		recorder,
		logger,
	)

	app := &App{
		config:   cfg,
		logger:   logger,
		manager:  manager,
		recorder: recorder,
	}

	limiter := app.initLimiter(cfg, clock)

	app.api = httpapi.NewServer(b, manager.Audit(), archiver, limiter, logger, httpapi.Options{
		JWTSecret:   []byte(cfg.SecretKey),
		PublicLimit: cfg.RateLimitPerWindow,
	})

	return app, nil
}

// initLimiter prefers Redis so the limit holds across replicas, and
// falls back to the in-memory limiter when Redis is absent or down.
func (app *App) initLimiter(cfg *config.Config, clock timex.Clock) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewInMemory(cfg.RateLimitWindow, clock)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		app.logger.Error(pingCtx, "redis unavailable, falling back to in-memory rate limit", "error", err.Error())
		_ = client.Close()
		return ratelimit.NewInMemory(cfg.RateLimitWindow, clock)
	}

	app.redis = client
	return ratelimit.NewRedis(client, cfg.RateLimitWindow)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.api.Run(ctx, app.config.EndpointAddr); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	// Flush queued audit entries before letting go of the database.
	app.recorder.Close()

	if app.redis != nil {
		_ = app.redis.Close()
	}
	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
