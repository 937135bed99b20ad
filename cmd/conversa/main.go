package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/conversa/config"
	"github.com/mossy-p/conversa/internal/auth"
	"github.com/mossy-p/conversa/internal/bot"
	"github.com/mossy-p/conversa/internal/events"
	"github.com/mossy-p/conversa/internal/handlers"
	"github.com/mossy-p/conversa/internal/logging"
	"github.com/mossy-p/conversa/internal/media"
	"github.com/mossy-p/conversa/internal/metrics"
	"github.com/mossy-p/conversa/internal/middleware"
	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/mossy-p/conversa/internal/redis"
	"github.com/mossy-p/conversa/internal/repository"
	"github.com/mossy-p/conversa/internal/server"
	"github.com/mossy-p/conversa/internal/service"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var (
		store     *repository.Store
		broker    realtime.Broker
		directory realtime.Directory
		presence  realtime.Presence    = realtime.NewLocalPresence()
		calls     realtime.CallTracker = realtime.NewLocalCalls()
	)

	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart and instances do not share state")
		store = repository.NewMemoryStore()
	} else {
		mongoClient, err := repository.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer disconnectMongo(mongoClient, logger)

		db := mongoClient.Database(cfg.Mongo.Database)
		if err := repository.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		store = repository.NewMongoStore(db)
		logger.Info("MongoDB connection established", zap.String("database", cfg.Mongo.Database))

		// Connect to Redis
		redisClient, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("Redis connection established")

		broker = redis.NewBroker(redisClient, cfg.Redis.Channel, logger)
		directory = redis.NewDirectory(redisClient)
		presence = redis.NewPresence(redisClient)
		calls = redis.NewCalls(redisClient)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("publishing chat events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}()

	mediaStore, uploadsDir, err := newMediaStore(ctx, cfg.Media)
	if err != nil {
		return err
	}
	uploader := media.NewUploader(mediaStore, cfg.Media.MaxUploadBytes, cfg.Media.MaxImageWidth, logger)

	var responder bot.Responder = bot.Disabled{}
	if cfg.Bot.APIKey != "" {
		gemini, err := bot.NewGemini(ctx, cfg.Bot, logger)
		if err != nil {
			return err
		}
		responder = gemini
	} else {
		logger.Info("chatbot disabled, no API key configured")
	}

	hub := realtime.NewHub(logger, broker, directory)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("hub stopped", zap.Error(err))
		}
	}()

	tokens := auth.NewTokens(cfg.JWT.Secret, cfg.JWT.TTL)
	users := service.NewUserService(store, presence, logger)
	convs := service.NewConversationService(store, publisher, logger)
	msgs := service.NewMessageService(store, publisher, logger)
	fanout := handlers.NewFanout(hub, logger)

	api := &handlers.API{
		Auth:          service.NewAuthService(store.Users, tokens, logger),
		Users:         users,
		Conversations: convs,
		Messages:      msgs,
		Uploads:       uploader,
		Fanout:        fanout,
		Log:           logger.Named("api"),
	}
	socket := handlers.NewSocketHandler(handlers.SocketDeps{
		Hub:           hub,
		Users:         users,
		Conversations: convs,
		Messages:      msgs,
		Bot:           service.NewBotService(store, responder, cfg.Bot.HistoryLimit, publisher, logger),
		Presence:      presence,
		Calls:         calls,
		Fanout:        fanout,
		Config: realtime.ClientConfig{
			PingInterval:    cfg.WS.PingInterval,
			PongWait:        cfg.WS.PongWait,
			WriteWait:       cfg.WS.WriteWait,
			MaxMessageBytes: cfg.WS.MaxMessageBytes,
			SendBuffer:      cfg.WS.SendBuffer,
			EventsPerSecond: cfg.WS.EventsPerSecond,
			EventBurst:      cfg.WS.EventBurst,
		},
	}, logger)

	limiter := middleware.NewIPRateLimiter(cfg.HTTP.AuthRequestsPerMinute, logger.Named("ratelimit"))
	go limiter.Run(ctx.Done())

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(api, socket, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Tokens:         tokens,
		AuthLimiter:    limiter,
		UploadsDir:     uploadsDir,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting chat server", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	// Sockets are hijacked connections that srv.Shutdown does not wait for.
	// Their presence cleanup must finish before the stores close.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("socket shutdown incomplete", zap.Error(err))
	}
	return nil
}

// newMediaStore returns the configured store and, for local storage, the
// directory to serve under /uploads.
func newMediaStore(ctx context.Context, cfg config.MediaConfig) (media.Store, string, error) {
	if cfg.Driver == "s3" {
		s, err := media.NewS3Store(ctx, cfg.Region, cfg.Bucket, cfg.PublicRead)
		return s, "", err
	}
	s, err := media.NewLocalStore(cfg.Dir, cfg.BaseURL)
	if err != nil {
		return nil, "", err
	}
	return s, s.Dir(), nil
}

func disconnectMongo(client *mongo.Client, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("failed to disconnect from MongoDB", zap.Error(err))
	}
}
