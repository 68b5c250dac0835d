package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a pre-computed bcrypt hash used when a login username isn't found.
// Running bcrypt against it (instead of returning early) keeps response time
// constant, preventing timing-based username enumeration.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)

// initDataMaxAge bounds how old a Telegram auth_date may be.
const initDataMaxAge = 5 * time.Minute

var errInvalidToken = errors.New("invalid token")

/* ─── Tokens ─────────────────────────────────────────────────────────── */

// claims are the bearer token contents: the registered claims plus the user id.
type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

func issueToken(userID string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	})
	return token.SignedString(secret)
}

func parseToken(tokenString string, secret []byte) (string, error) {
	cl := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, cl, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errInvalidToken
	}
	if _, err := uuid.Parse(cl.UserID); err != nil {
		return "", errInvalidToken
	}
	return cl.UserID, nil
}

func (h *Handler) respondToken(c *gin.Context, u user) {
	token, err := issueToken(u.ID.String(), h.jwtSecret, h.tokenTTL, h.now())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to issue token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": u.ID.String()})
}

/* ─── Password login ─────────────────────────────────────────────────── */

// login verifies username/password and returns a bearer token.
// POST /api/login (public, no auth required).
func (h *Handler) login(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	u, lookupErr := queryOne[user](c, h.db,
		"SELECT * FROM users WHERE username = @username AND password IS NOT NULL",
		pgx.NamedArgs{"username": body.Username})

	// bcrypt runs whether or not the username was found so response time is constant.
	hashToCheck := string(dummyHash)
	if lookupErr == nil && u.Password != nil {
		hashToCheck = *u.Password
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCheck), []byte(body.Password))

	if lookupErr != nil || compareErr != nil {
		apiError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.respondToken(c, u)
}

/* ─── Telegram login ─────────────────────────────────────────────────── */

// telegramUser is the signed user of mini-app initData.
type telegramUser struct {
	ID        int64
	Username  string
	FirstName string
}

// validateInitData checks the initData signature against the bot token and
// returns the signed user. auth_date must lie within initDataMaxAge of now in
// either direction.
func validateInitData(raw, botToken string, now time.Time) (telegramUser, error) {
	// expiry is checked against now below so the handler's clock governs it
	if err := initdata.Validate(raw, botToken, 0); err != nil {
		return telegramUser{}, fmt.Errorf("validate initData: %w", err)
	}
	data, err := initdata.Parse(raw)
	if err != nil {
		return telegramUser{}, fmt.Errorf("parse initData: %w", err)
	}
	age := now.Sub(data.AuthDate())
	if age > initDataMaxAge || age < -initDataMaxAge {
		return telegramUser{}, fmt.Errorf("validate initData: %w", initdata.ErrExpired)
	}
	if data.User.ID == 0 {
		return telegramUser{}, errors.New("missing telegram user id")
	}
	return telegramUser{ID: data.User.ID, Username: data.User.Username, FirstName: data.User.FirstName}, nil
}

// loginTelegram validates mini-app initData, creates the user on first sight
// and returns a bearer token.
// POST /api/auth/telegram (public). Body: { "init_data": "..." }.
func (h *Handler) loginTelegram(c *gin.Context) {
	var body struct {
		InitData string `json:"init_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, bindError(err))
		return
	}
	if h.botToken == "" {
		apiError(c, http.StatusServiceUnavailable, "telegram login is not configured")
		return
	}

	tu, err := validateInitData(body.InitData, h.botToken, h.now())
	if err != nil {
		h.log().Warn("telegram_auth_rejected", zap.Error(err))
		apiError(c, http.StatusUnauthorized, "invalid initData")
		return
	}

	u, err := queryOne[user](c, h.db,
		`INSERT INTO users (telegram_id, username, first_name)
		 VALUES (@telegramID, @username, @firstName)
		 ON CONFLICT (telegram_id) DO UPDATE
			SET username = EXCLUDED.username, first_name = EXCLUDED.first_name
		 RETURNING *`,
		pgx.NamedArgs{"telegramID": tu.ID, "username": tu.Username, "firstName": tu.FirstName})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to sign in", err)
		return
	}

	h.respondToken(c, u)
}

/* ─── Middleware ─────────────────────────────────────────────────────── */

// authMiddleware validates the Bearer token and sets user_id on the context.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apiError(c, http.StatusUnauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		id, err := parseToken(token, h.jwtSecret)
		if err != nil {
			apiError(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set("user_id", id)
		c.Next()
	}
}
