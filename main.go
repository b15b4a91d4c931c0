// Command tennismatch runs the dev backend: decks, decisions, matches and chat.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tennismatch/config"
	"tennismatch/logger"
	"tennismatch/routes"
	"tennismatch/services"
	"tennismatch/socket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewForEnvironment(os.Getenv("TM_APP_ENV")).Fatal("failed to load config", zap.Error(err))
	}
	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	if n, err := services.Seed(ctx, store, cfg.Seed.Candidates, 0); err != nil {
		log.Fatal("failed to seed players", zap.Error(err))
	} else if n > 0 {
		log.Info("seeded players", zap.Int("count", n))
	}

	var (
		sessions services.DeckSessionStore = services.NewMemoryDeckSessionStore()
		idem     services.IdempotencyStore = services.NewMemoryIdempotencyStore()
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		sessions = services.NewRedisDeckSessionStore(rdb, "")
		idem = services.NewRedisIdempotencyStore(rdb, "")
		log.Info("deck sessions in redis", zap.String("addr", cfg.Redis.Addr()))
	}

	var (
		photos   services.PhotoResolver = services.StaticPhotoResolver{BaseURL: cfg.Photos.BaseURL, Placeholder: cfg.Photos.PlaceholderURL}
		uploader services.PhotoUploader
	)
	if cfg.Photos.S3Bucket != "" {
		s3Photos, err := services.NewS3PhotoResolver(ctx, cfg.Store.AWSRegion, cfg.Photos.S3Bucket, cfg.Photos.PresignTTL, cfg.Photos.PlaceholderURL, log)
		if err != nil {
			log.Fatal("failed to initialize S3", zap.Error(err))
		}
		photos, uploader = s3Photos, s3Photos
	}

	auth := services.NewAuthService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.DeckTTL)
	deckService := services.NewDeckService(store, sessions, auth, photos, services.DefaultDeckSize, log)
	decisionService := services.NewDecisionService(store, sessions, idem, auth, photos, log)
	chatService := services.NewChatService(store, photos, log)
	profileService := services.NewUserProfileService(store, uploader, log)

	hub := socket.NewHub(chatService, auth, socket.Options{
		SendRate:  cfg.HTTP.SendRatePerSec,
		SendBurst: cfg.HTTP.SendBurst,
		Logger:    log,
	})
	chatService.SetBroadcaster(hub)

	handler := routes.NewRouter(routes.Deps{
		Auth:           auth,
		Deck:           deckService,
		Decisions:      decisionService,
		Chat:           chatService,
		Profiles:       profileService,
		Socket:         hub,
		Metrics:        routes.NewMetrics(hub.Connections),
		Logger:         log,
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		DevLogin:       cfg.App.Env != "production",
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.App.Port), zap.String("env", cfg.App.Env), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (services.Store, error) {
	if cfg.Store.Driver != "dynamodb" {
		return services.NewMemoryStore(), nil
	}
	log.Info("initializing DynamoDB client", zap.String("region", cfg.Store.AWSRegion), zap.String("endpoint", cfg.Store.Endpoint))
	client, err := services.InitializeDynamoDBClient(ctx, cfg.Store.AWSRegion, cfg.Store.Endpoint)
	if err != nil {
		return nil, err
	}
	return services.NewDynamoStore(services.NewDynamoService(client, log), cfg.Store.TablePrefix), nil
}
