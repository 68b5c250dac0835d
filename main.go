package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
)

// tokenTTL is how long issued bearer tokens stay valid.
const tokenTTL = 30 * 24 * time.Hour

func main() {
	// .env is optional in production; real env vars win.
	_ = godotenv.Load()

	logger, err := logging.New(logging.Options{
		Level:   os.Getenv("LOG_LEVEL"),
		File:    os.Getenv("LOG_FILE"),
		Console: true,
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	initMetrics()

	logger.Info("starting_application")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal("jwt_secret_missing")
	}

	ctx := context.Background()
	pool, err := getDBPool(ctx, os.Getenv("DB_URL"))
	if err != nil {
		logger.Fatal("database_connect_failed", zap.Error(err))
	}
	defer pool.Close()

	openAIBaseURL := os.Getenv("OPENAI_BASE_URL")
	if openAIBaseURL == "" {
		openAIBaseURL = "https://api.openai.com"
	}

	h := &Handler{
		db:            pool,
		logger:        logger,
		clock:         clockwork.NewRealClock(),
		jwtSecret:     []byte(secret),
		tokenTTL:      tokenTTL,
		botToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		openAIBaseURL: openAIBaseURL,
		foods:         newFoodSearcher(os.Getenv("OFF_BASE_URL"), connectRedis(ctx, logger), logger),
	}
	if tz := os.Getenv("TZ_NAME"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Fatal("timezone_invalid", zap.String("tz", tz), zap.Error(err))
		}
		h.loc = loc
	}
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		store, err := newPhotoStore(ctx, s3Config{
			Bucket:    bucket,
			Region:    os.Getenv("S3_REGION"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			PublicURL: os.Getenv("S3_PUBLIC_URL"),
		})
		if err != nil {
			logger.Fatal("photo_store_failed", zap.Error(err))
		}
		h.photos = store
		logger.Info("photo_store_enabled", zap.String("bucket", bucket))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(recovery(logger))
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(os.Getenv("CORS_ORIGINS")),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.registerRoutes(router)

	startServer(router, logger)
}

// connectRedis returns nil when REDIS_ADDR is unset or unreachable; search
// then runs uncached.
func connectRedis(ctx context.Context, logger *zap.Logger) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis_unavailable", zap.String("addr", addr), zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("redis_connected", zap.String("addr", addr))
	return client
}

func corsOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func startServer(router *gin.Engine, logger *zap.Logger) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting_http_server", zap.String("port", port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_server_failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting_down_server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server_forced_shutdown", zap.Error(err))
	}

	logger.Info("server_stopped")
}
