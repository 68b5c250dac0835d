// Package apiclient talks to the nutribot authority over HTTP/JSON.
//
// Every call carries the stored bearer token. Failures are mapped onto the
// nutrition error taxonomy: 400/404/409/422 become a *nutrition.ValidationError
// with the server's reason, 401/403 clear the stored token and return
// nutrition.ErrUnauthenticated, and anything else (network errors, timeouts,
// 5xx, undecodable bodies) wraps nutrition.ErrTransport.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialStore
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// New creates a client for the authority at baseURL.
func New(baseURL string, creds CredentialStore, opts ...Option) *Client {
	if creds == nil {
		creds = NewMemoryCredentials("")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		creds:   creds,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

/* ─── Auth ────────────────────────────────────────────────────────────── */

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges a username and password for a token and stores it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var out tokenResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", nil, body, &out); err != nil {
		return err
	}
	return c.saveToken(out.Token)
}

// LoginTelegram exchanges signed mini-app initData for a token and stores it.
func (c *Client) LoginTelegram(ctx context.Context, initData string) error {
	var out tokenResponse
	body := map[string]string{"init_data": initData}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/telegram", nil, body, &out); err != nil {
		return err
	}
	return c.saveToken(out.Token)
}

// Logout forgets the stored token.
func (c *Client) Logout() error {
	return c.creds.Clear()
}

func (c *Client) saveToken(token string) error {
	if token == "" {
		return fmt.Errorf("login: %w", nutrition.Rejected("empty token in response"))
	}
	return c.creds.Save(token)
}

func (c *Client) Me(ctx context.Context) (nutrition.User, error) {
	var out nutrition.User
	err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, nil, &out)
	return out, err
}

// UpdateProfile stores body metrics; the authority recomputes the targets.
func (c *Client) UpdateProfile(ctx context.Context, p nutrition.BodyProfile) (nutrition.User, error) {
	var out nutrition.User
	err := c.doJSON(ctx, http.MethodPut, "/api/profile", nil, p, &out)
	return out, err
}

/* ─── Food log ────────────────────────────────────────────────────────── */

func (c *Client) FetchDay(ctx context.Context, date string) (nutrition.DayLog, error) {
	var out nutrition.DayLog
	if err := c.doJSON(ctx, http.MethodGet, "/api/food/log", url.Values{"date": {date}}, nil, &out); err != nil {
		return nutrition.DayLog{}, err
	}
	if out.Date == "" {
		out.Date = date
	}
	return out, nil
}

func (c *Client) CreateEntry(ctx context.Context, d nutrition.EntryDraft) (nutrition.CreateResult, error) {
	var out nutrition.CreateResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/food/log", nil, d, &out); err != nil {
		return nutrition.CreateResult{}, err
	}
	if err := out.Entry.Validate(); err != nil {
		return nutrition.CreateResult{}, err
	}
	return out, nil
}

// UpdateEntry replaces an entry's fields. It grants no XP.
func (c *Client) UpdateEntry(ctx context.Context, id string, d nutrition.EntryDraft) (nutrition.FoodEntry, error) {
	var out nutrition.CreateResult
	if err := c.doJSON(ctx, http.MethodPut, "/api/food/log/"+url.PathEscape(id), nil, d, &out); err != nil {
		return nutrition.FoodEntry{}, err
	}
	return out.Entry, out.Entry.Validate()
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/food/log/"+url.PathEscape(id), nil, nil, nil)
}

// RecentFoods returns the user's last distinct foods, newest first.
func (c *Client) RecentFoods(ctx context.Context) ([]nutrition.FoodItem, error) {
	var out struct {
		Items []nutrition.FoodItem `json:"items"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/food/recent", nil, nil, &out)
	return out.Items, err
}

// SearchFoods implements search.Fetcher.
func (c *Client) SearchFoods(ctx context.Context, query string, limit int) ([]nutrition.FoodItem, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []nutrition.FoodItem `json:"results"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/food/search", q, nil, &out)
	return out.Results, err
}

// Stats returns daily sums and averages for period ("7d" or "30d").
func (c *Client) Stats(ctx context.Context, period string) (nutrition.Stats, error) {
	var out nutrition.Stats
	err := c.doJSON(ctx, http.MethodGet, "/api/food/stats", url.Values{"period": {period}}, nil, &out)
	return out, err
}

// AnalyzePhoto uploads an image to the recognition oracle.
func (c *Client) AnalyzePhoto(ctx context.Context, filename string, image []byte) (nutrition.PhotoResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, filename))
	h.Set("Content-Type", http.DetectContentType(image))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nutrition.PhotoResult{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nutrition.PhotoResult{}, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nutrition.PhotoResult{}, fmt.Errorf("build upload: %w", err)
	}

	var out nutrition.PhotoResult
	if err := c.do(ctx, http.MethodPost, "/api/food/analyze-photo", nil, &buf, mw.FormDataContentType(), &out); err != nil {
		return nutrition.PhotoResult{}, err
	}
	if conf := out.Estimate.Confidence; conf < 0 || conf > 1 {
		return nutrition.PhotoResult{}, nutrition.Rejected("confidence %.2f outside [0,1]", conf)
	}
	return out, nil
}

/* ─── Gamification & workouts ─────────────────────────────────────────── */

func (c *Client) FetchProfile(ctx context.Context) (nutrition.Profile, error) {
	var out nutrition.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/gamification/profile", nil, nil, &out); err != nil {
		return nutrition.Profile{}, err
	}
	return out, out.Validate()
}

func (c *Client) ClaimDailyBonus(ctx context.Context) (nutrition.BonusResult, error) {
	var out nutrition.BonusResult
	err := c.doJSON(ctx, http.MethodPost, "/api/gamification/daily-bonus", nil, nil, &out)
	return out, err
}

func (c *Client) LogWorkout(ctx context.Context, d nutrition.WorkoutDraft) (nutrition.WorkoutResult, error) {
	var out nutrition.WorkoutResult
	err := c.doJSON(ctx, http.MethodPost, "/api/workouts", nil, d, &out)
	return out, err
}

// Workouts lists a month ("YYYY-MM"); empty month means the current one.
func (c *Client) Workouts(ctx context.Context, month string) ([]nutrition.Workout, error) {
	var q url.Values
	if month != "" {
		q = url.Values{"month": {month}}
	}
	var out struct {
		Workouts []nutrition.Workout `json:"workouts"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/workouts", q, nil, &out)
	return out.Workouts, err
}

func (c *Client) WorkoutStats(ctx context.Context) (nutrition.WorkoutStats, error) {
	var out nutrition.WorkoutStats
	err := c.doJSON(ctx, http.MethodGet, "/api/workouts/stats", nil, nil, &out)
	return out, err
}

// LogWeight records a weigh-in; one per day, a repeat overwrites.
func (c *Client) LogWeight(ctx context.Context, d nutrition.WeightDraft) (nutrition.WeightResult, error) {
	var out nutrition.WeightResult
	err := c.doJSON(ctx, http.MethodPost, "/api/weight/log", nil, d, &out)
	return out, err
}

// WeightHistory lists weigh-ins for period ("30d", "90d" or "all").
func (c *Client) WeightHistory(ctx context.Context, period string) ([]nutrition.WeightEntry, error) {
	var out struct {
		Entries []nutrition.WeightEntry `json:"entries"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/weight/history", url.Values{"period": {period}}, nil, &out)
	return out.Entries, err
}

/* ─── Transport ───────────────────────────────────────────────────────── */

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.creds.Load()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api_request_failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w: %w", method, path, nutrition.ErrTransport, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return c.mapError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w: %w", method, path, nutrition.ErrTransport, err)
	}
	return nil
}

// mapError turns a non-2xx response into the error taxonomy.
func (c *Client) mapError(method, path string, resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}
	if payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return &nutrition.ValidationError{Reason: payload.Error}
	case http.StatusUnauthorized, http.StatusForbidden:
		if err := c.creds.Clear(); err != nil {
			c.logger.Warn("credential_clear_failed", zap.Error(err))
		}
		c.logger.Info("credential_rejected", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%s %s: %w: %s", method, path, nutrition.ErrUnauthenticated, payload.Error)
	default:
		return fmt.Errorf("%s %s: %w: status %d: %s", method, path, nutrition.ErrTransport, resp.StatusCode, payload.Error)
	}
}
