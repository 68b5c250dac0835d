package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// maxPhotoBytes caps uploads accepted by analyze-photo.
const maxPhotoBytes = 10 << 20

/* ─── OpenAI prompt constants ────────────────────────────────────────── */

const photoSystemPrompt = `You are a nutrition expert. Analyze the food image and return ONLY valid JSON, no explanations.
Response format:
{
  "dish_name": "string (in Russian)",
  "calories_per_100g": number,
  "protein_g_per_100g": number,
  "fat_g_per_100g": number,
  "carbs_g_per_100g": number,
  "estimated_weight_g": number,
  "confidence": number (0.0 to 1.0)
}
If confidence < 0.6, still return your best guess but with the low confidence value.`

const photoUserPrompt = "Analyze this food image and provide nutritional information."

// unrecognizedDish is returned when the model's answer cannot be parsed.
var unrecognizedDish = nutrition.PhotoEstimate{
	DishName:         "Не удалось распознать",
	EstimatedWeightG: 100,
	Confidence:       0,
}

/* ─── OpenAI HTTP client ─────────────────────────────────────────────── */

// openAIMessage is a single message in the OpenAI chat completions request.
// Content is a string or a list of typed parts (text, image_url).
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// openAIRequest is the request body for the OpenAI chat completions API.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// callOpenAI sends a chat completions request and returns the raw content string
// from the first choice. Uses raw net/http to avoid pulling in the OpenAI SDK.
func callOpenAI(ctx context.Context, req openAIRequest, baseURL string) (string, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	// Parse the response to extract choices[0].message.content
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return result.Choices[0].Message.Content, nil
}

// visionRequest builds the recognition request for one image.
func visionRequest(mimeType string, image []byte) openAIRequest {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return openAIRequest{
		Model: "gpt-4o",
		Messages: []openAIMessage{
			{Role: "system", Content: photoSystemPrompt},
			{Role: "user", Content: []openAIPart{
				{Type: "text", Text: photoUserPrompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL, Detail: "low"}},
			}},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	}
}

// stripFences removes a surrounding markdown code block, with or without a
// "json" language tag.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if i := strings.Index(content, "```"); i >= 0 {
		content = content[:i]
	}
	content = strings.TrimPrefix(content, "json")
	return strings.TrimSpace(content)
}

// parseEstimate decodes the model's answer. Anything unparseable becomes the
// zero-confidence placeholder; confidence is clamped to [0, 1].
func parseEstimate(content string) nutrition.PhotoEstimate {
	var est nutrition.PhotoEstimate
	if err := json.Unmarshal([]byte(stripFences(content)), &est); err != nil || est.DishName == "" {
		return unrecognizedDish
	}
	switch {
	case est.Confidence < 0:
		est.Confidence = 0
	case est.Confidence > 1:
		est.Confidence = 1
	}
	if est.EstimatedWeightG <= 0 {
		est.EstimatedWeightG = 100
	}
	return est
}

/* ─── Photo storage ──────────────────────────────────────────────────── */

type photoUploader interface {
	Put(ctx context.Context, userID string, data []byte, contentType string) (string, error)
}

type s3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PublicURL string
}

// photoStore keeps uploaded meal photos in an S3-compatible bucket.
type photoStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
	now       func() time.Time
}

func newPhotoStore(ctx context.Context, c s3Config) (*photoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	public := c.PublicURL
	if public == "" {
		public = strings.TrimRight(c.Endpoint, "/") + "/" + c.Bucket
	}
	return &photoStore{client: client, bucket: c.Bucket, publicURL: strings.TrimRight(public, "/"), now: time.Now}, nil
}

// photoKey spreads objects by user and upload day.
func photoKey(userID string, t time.Time) string {
	return fmt.Sprintf("photos/%s/%d/%02d/%02d/%s", userID, t.Year(), t.Month(), t.Day(), uuid.New())
}

// Put uploads a photo and returns its public URL.
func (s *photoStore) Put(ctx context.Context, userID string, data []byte, contentType string) (string, error) {
	key := photoKey(userID, s.now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

/* ─── Handler ────────────────────────────────────────────────────────── */

// analyzePhoto handles POST /api/food/analyze-photo (multipart field "photo").
// The photo is sent to the vision model and, when storage is configured, kept
// so a later food entry can reference it. Analysis grants XP and first_photo.
func (h *Handler) analyzePhoto(c *gin.Context) {
	file, err := c.FormFile("photo")
	if err != nil {
		apiError(c, http.StatusBadRequest, "photo is required")
		return
	}
	if file.Size > maxPhotoBytes {
		apiError(c, http.StatusBadRequest, "photo is too large")
		return
	}
	f, err := file.Open()
	if err != nil {
		apiError(c, http.StatusBadRequest, "photo is unreadable")
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes))
	f.Close()
	if err != nil || len(data) == 0 {
		apiError(c, http.StatusBadRequest, "photo is empty")
		return
	}
	mimeType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}

	content, err := callOpenAI(c.Request.Context(), visionRequest(mimeType, data), h.openAIBaseURL)
	if err != nil {
		h.fail(c, http.StatusBadGateway, "photo recognition failed", err)
		return
	}
	est := parseEstimate(content)

	if h.photos != nil {
		url, err := h.photos.Put(c.Request.Context(), userID(c), data, mimeType)
		if err != nil {
			h.log().Warn("photo_store_failed", zap.Error(err))
		} else {
			est.PhotoURL = url
		}
	}

	out := nutrition.PhotoResult{Estimate: est}
	if h.db != nil {
		err = pgx.BeginFunc(c, h.db, func(tx pgx.Tx) error {
			u, err := lockUser(c, tx, userID(c))
			if err != nil {
				return err
			}
			g := newGrant(tx, "photo", u)
			g.award(photoXP)
			if err := g.unlock(c, "first_photo"); err != nil {
				return err
			}
			out.ActionResult, err = g.finish(c)
			return err
		})
		if err != nil {
			h.fail(c, http.StatusInternalServerError, "failed to record photo analysis", err)
			return
		}
	}

	h.log().Info("photo_analyzed",
		zap.String("dish", est.DishName),
		zap.Float64("confidence", est.Confidence),
		zap.Bool("stored", est.PhotoURL != ""),
	)
	c.JSON(http.StatusOK, out)
}
