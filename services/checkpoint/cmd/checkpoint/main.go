package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"checkpoint/internal/metrics"
	"checkpoint/internal/ratelimit"
	"checkpoint/internal/util"
	"checkpoint/pkg/events"
	"checkpoint/pkg/storage"
	"checkpoint/pkg/store"
	"checkpoint/services/checkpoint/internal/app"
	"checkpoint/services/checkpoint/internal/config"
	"checkpoint/services/checkpoint/internal/server"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to reach redis: %v", err)
		}
	}

	dataStore, gormStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if gormStore != nil {
		defer gormStore.Close()
	}

	tokens, err := openTokens(cfg, gormStore, rdb)
	if err != nil {
		log.Fatalf("failed to init token store: %v", err)
	}

	objects, mediaDir, err := openObjects(cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	publisher, err := openEvents(cfg, rdb)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}
	defer publisher.Close()

	appCore, err := app.New(app.Config{
		Store:   dataStore,
		Tokens:  tokens,
		Objects: objects,
		Events:  publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if rdb != nil && cfg.LoginLimit() > 0 {
		loginLimiter, err = ratelimit.NewFixedWindowLimiter(rdb, "checkpoint:ratelimit:login", cfg.LoginLimit(), time.Minute)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
	} else {
		logger.Warn("login throttling disabled", "redis_configured", rdb != nil)
	}

	httpServer, err := server.New(server.Config{
		App:                appCore,
		Metrics:            metrics.New(),
		LoginLimiter:       loginLimiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		APIPrefix:          cfg.APIPrefix,
		RequireAuth:        cfg.RequireAuth,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MediaDir:           mediaDir,
		Health: func(ctx context.Context) error {
			if gormStore != nil {
				if err := gormStore.Ping(ctx); err != nil {
					return fmt.Errorf("database: %w", err)
				}
			}
			if rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("checkpoint server listening", "addr", addr, "store", cfg.DatabaseDriver, "tokens", cfg.TokenBackend, "storage", cfg.StorageBackend, "events", cfg.EventsBackend)
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
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("checkpoint server stopped")
}

func openStore(cfg config.FileConfig) (store.Store, *store.GormStore, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		slog.Warn("using in-memory record store; data is lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
	level := gormlogger.Warn
	if util.ParseLevel(cfg.LogLevel) == slog.LevelDebug {
		level = gormlogger.Info
	}
	gs, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(cfg.DatabaseDriver), store.WithLogLevel(level))
	if err != nil {
		return nil, nil, err
	}
	return gs, gs, nil
}

func openTokens(cfg config.FileConfig, gs *store.GormStore, rdb *redis.Client) (store.TokenStore, error) {
	switch cfg.TokenBackend {
	case config.TokensDatabase:
		if gs == nil {
			return nil, errors.New("database token backend needs a sql store")
		}
		return store.NewGormTokenStore(gs.DB()), nil
	case config.TokensRedis:
		return store.NewRedisTokenStore(rdb, cfg.TokenLifetime()), nil
	case config.TokensJWT:
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if rdb != nil {
			revoker = store.NewRedisTokenRevoker(rdb)
		}
		return store.NewJWTTokenStore(cfg.TokenSecret, cfg.TokenLifetime(), revoker)
	case config.TokensMemory:
		return store.NewMemoryTokenStore(), nil
	default:
		return nil, fmt.Errorf("unknown token backend %q", cfg.TokenBackend)
	}
}

// openObjects returns the blob store and, for local storage, the directory the
// server should expose under /media/.
func openObjects(cfg config.FileConfig) (storage.ObjectStore, string, error) {
	switch cfg.StorageBackend {
	case config.StorageMinio:
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
			PresignExpiry: cfg.PresignExpiry(),
		})
		if err != nil {
			return nil, "", err
		}
		return ms, "", nil
	default:
		fs, err := storage.NewFileStore(cfg.MediaDir, strings.TrimRight(cfg.PublicBaseURL, "/")+"/media")
		if err != nil {
			return nil, "", err
		}
		return fs, fs.Root(), nil
	}
}

func openEvents(cfg config.FileConfig, rdb *redis.Client) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsRedis:
		return events.NewRedisStreamPublisher(rdb, events.RedisStreamConfig{Stream: cfg.EventsStream})
	case config.EventsAMQP:
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return events.Noop{}, nil
	}
}
