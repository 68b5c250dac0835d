package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"
)

const testBotToken = "123456:TEST-TOKEN"

// signInitData builds a mini-app initData string signed the way Telegram
// signs it.
func signInitData(fields map[string]string, botToken string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + fields[k]
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func initDataFields(authDate time.Time) map[string]string {
	return map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"query_id":  "AAF1",
		"user":      `{"id":424242,"first_name":"Лена","username":"lena"}`,
	}
}

/* ─── initData validation ────────────────────────────────────────────── */

func TestValidateInitData_Valid(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	initData := signInitData(initDataFields(now.Add(-time.Minute)), testBotToken)

	tu, err := validateInitData(initData, testBotToken, now)
	if err != nil {
		t.Fatalf("expected valid initData, got %v", err)
	}
	if tu.ID != 424242 {
		t.Errorf("expected id 424242, got %d", tu.ID)
	}
	if tu.FirstName != "Лена" || tu.Username != "lena" {
		t.Errorf("unexpected user %+v", tu)
	}
}

func TestValidateInitData_Rejects(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	noUser := initDataFields(now)
	delete(noUser, "user")

	cases := []struct {
		name     string
		initData string
	}{
		{"wrong bot token", signInitData(initDataFields(now), "999:OTHER")},
		{"expired", signInitData(initDataFields(now.Add(-10*time.Minute)), testBotToken)},
		{"from the future", signInitData(initDataFields(now.Add(10*time.Minute)), testBotToken)},
		{"missing hash", "auth_date=1&user=%7B%22id%22%3A1%7D"},
		{"missing user", signInitData(noUser, testBotToken)},
		{"tampered", strings.Replace(signInitData(initDataFields(now), testBotToken), "AAF1", "AAF2", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := validateInitData(tc.initData, testBotToken, now); err == nil {
				t.Errorf("expected %s initData to be rejected", tc.name)
			}
		})
	}
}

func TestValidateInitData_ReportsCause(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	_, err := validateInitData(signInitData(initDataFields(now), "999:OTHER"), testBotToken, now)
	if !errors.Is(err, initdata.ErrSignInvalid) {
		t.Errorf("expected a signature error, got %v", err)
	}
	_, err = validateInitData(signInitData(initDataFields(now.Add(-10*time.Minute)), testBotToken), testBotToken, now)
	if !errors.Is(err, initdata.ErrExpired) {
		t.Errorf("expected an expiry error, got %v", err)
	}
}

/* ─── Tokens ─────────────────────────────────────────────────────────── */

const testUserID = "7d9f4c2e-0000-4000-8000-000000000001"

func TestToken_RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	token, err := issueToken(testUserID, secret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	id, err := parseToken(token, secret)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if id != testUserID {
		t.Errorf("expected user id %s, got %s", testUserID, id)
	}
}

func TestToken_WrongSecret(t *testing.T) {
	token, _ := issueToken(testUserID, []byte("one"), time.Hour, time.Now())
	if _, err := parseToken(token, []byte("two")); err == nil {
		t.Errorf("expected token signed with another secret to be rejected")
	}
}

func TestToken_Expired(t *testing.T) {
	secret := []byte("s3cret")
	token, _ := issueToken(testUserID, secret, time.Hour, time.Now().Add(-2*time.Hour))
	if _, err := parseToken(token, secret); err == nil {
		t.Errorf("expected expired token to be rejected")
	}
}

func TestToken_NonUUIDSubject(t *testing.T) {
	secret := []byte("s3cret")
	token, _ := issueToken("42", secret, time.Hour, time.Now())
	if _, err := parseToken(token, secret); err == nil {
		t.Errorf("expected non-uuid user id to be rejected")
	}
}

/* ─── Middleware ─────────────────────────────────────────────────────── */

func setupAuthTest() (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	h := &Handler{jwtSecret: []byte("s3cret"), tokenTTL: time.Hour}
	router := gin.New()
	router.GET("/api/whoami", h.authMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, userID(c))
	})
	return router, h
}

func doWhoami(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, h := setupAuthTest()
	token, _ := issueToken(testUserID, h.jwtSecret, h.tokenTTL, time.Now())

	w := doWhoami(router, "Bearer "+token)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != testUserID {
		t.Errorf("expected user_id %s on context, got %s", testUserID, w.Body.String())
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	router, _ := setupAuthTest()

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		w := doWhoami(router, header)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestLoginTelegram_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{}
	router := gin.New()
	router.POST("/api/auth/telegram", h.loginTelegram)

	req := httptest.NewRequest("POST", "/api/auth/telegram", strings.NewReader(`{"init_data":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginTelegram_BadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{botToken: testBotToken}
	router := gin.New()
	router.POST("/api/auth/telegram", h.loginTelegram)

	initData := signInitData(initDataFields(time.Now()), "999:OTHER")
	body := `{"init_data":"` + initData + `"}`
	req := httptest.NewRequest("POST", "/api/auth/telegram", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}
