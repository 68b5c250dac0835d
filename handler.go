package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// Handler holds shared dependencies (db pool, config) for all route handlers.
type Handler struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	clock  clockwork.Clock
	loc    *time.Location

	jwtSecret []byte
	tokenTTL  time.Duration
	botToken  string

	openAIBaseURL string // Base URL for OpenAI API (overridable for tests)
	foods         *foodSearcher
	photos        photoUploader
}

func (h *Handler) log() *zap.Logger { return logging.OrNop(h.logger) }

func (h *Handler) now() time.Time {
	var t time.Time
	if h.clock != nil {
		t = h.clock.Now()
	} else {
		t = time.Now()
	}
	if h.loc != nil {
		t = t.In(h.loc)
	}
	return t
}

// today is the authority's calendar day. Streaks, bonuses and default log
// dates all use it.
func (h *Handler) today() time.Time {
	y, m, d := h.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

/* ─── Database helpers ────────────────────────────────────────────────── */

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the helpers work
// inside and outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// queryOne runs a query and scans the first row into T using RowToStructByName.
func queryOne[T any](ctx context.Context, q querier, sql string, args pgx.NamedArgs) (T, error) {
	rows, err := q.Query(ctx, sql, args)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("query: %w", err)
	}
	return pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
}

// queryMany runs a query and scans all rows into []T using RowToStructByName.
// It never returns a nil slice on success.
func queryMany[T any](ctx context.Context, q querier, sql string, args pgx.NamedArgs) ([]T, error) {
	rows, err := q.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []T{}
	}
	return results, nil
}

// apiError returns a consistent JSON error response: {"error": "message"}.
func apiError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// fail logs err against the route and replies with message.
func (h *Handler) fail(c *gin.Context, status int, message string, err error) {
	route := c.FullPath()
	h.log().Error("request_failed",
		zap.String("route", route),
		zap.Int("status", status),
		zap.Error(err),
	)
	errorCount.WithLabelValues(route, errorType(err)).Inc()
	apiError(c, status, message)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, pgx.ErrNoRows):
		return "not_found"
	default:
		return "internal"
	}
}

func userID(c *gin.Context) string { return c.GetString("user_id") }

// parseDay validates a YYYY-MM-DD query or body value; empty means today.
func (h *Handler) parseDay(s string) (time.Time, error) {
	if s == "" {
		return h.today(), nil
	}
	return time.Parse(nutrition.DateLayout, s)
}

/* ─── Validation ──────────────────────────────────────────────────────── */

var registerValidatorsOnce sync.Once

// registerValidators adds the domain tags to gin's validator and makes
// validation errors report JSON field names.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("meal", func(fl validator.FieldLevel) bool {
			return nutrition.Meal(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("source", func(fl validator.FieldLevel) bool {
			return nutrition.Source(fl.Field().String()).Valid()
		})
	})
}

// bindError turns a ShouldBindJSON failure into the message sent to clients.
func bindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "meal":
		return "meal_type must be one of: breakfast, lunch, dinner, snack"
	case "source":
		return "source must be one of: manual, search, ai_photo"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

/* ─── Server setup ────────────────────────────────────────────────────── */

// getDBPool creates a connection pool. We use a pool (not a single conn) because
// managed Postgres closes idle connections.
func getDBPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse DB URL: %w", err)
	}
	// Use simple query protocol to avoid "cached plan must not change result type"
	// errors from server-side prepared statement caches after schema changes.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// registerRoutes registers all API routes on the router.
func (h *Handler) registerRoutes(router *gin.Engine) {
	registerValidators()

	// Public routes
	router.POST("/api/login", h.login)
	router.POST("/api/auth/telegram", h.loginTelegram)

	// Authenticated routes
	api := router.Group("/api", h.authMiddleware())
	api.GET("/me", h.getMe)
	api.PUT("/profile", h.updateProfile)

	api.GET("/food/log", h.getDayLog)
	api.POST("/food/log", h.createFoodEntry)
	api.PUT("/food/log/:id", h.updateFoodEntry)
	api.DELETE("/food/log/:id", h.deleteFoodEntry)
	api.GET("/food/recent", h.getRecentFoods)
	api.GET("/food/stats", h.getFoodStats)
	api.GET("/food/search", h.searchFoods)
	api.POST("/food/analyze-photo", h.analyzePhoto)

	api.GET("/gamification/profile", h.getGamificationProfile)
	api.POST("/gamification/daily-bonus", h.claimDailyBonus)

	api.GET("/workouts", h.getWorkouts)
	api.POST("/workouts", h.logWorkout)
	api.GET("/workouts/stats", h.getWorkoutStats)

	api.POST("/weight/log", h.logWeight)
	api.GET("/weight/history", h.getWeightHistory)
	api.DELETE("/weight/log/:id", h.deleteWeightEntry)
}

// ping reports database reachability for /health.
func (h *Handler) ping(ctx context.Context) error {
	if h.db == nil {
		return errors.New("no database")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.db.Ping(ctx)
}

func (h *Handler) health(c *gin.Context) {
	status, db := http.StatusOK, "connected"
	if err := h.ping(c.Request.Context()); err != nil {
		status, db = http.StatusServiceUnavailable, "unavailable"
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "timestamp": h.now(), "database": db})
}
