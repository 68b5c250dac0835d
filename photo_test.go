package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// setupPhotoTest creates a Gin engine with a mock OpenAI server and returns
// the router and a function to set the mock response. No DB needed: the
// handler skips the XP grant without one.
func setupPhotoTest(photos photoUploader) (*gin.Engine, *httptest.Server, func(int, interface{})) {
	var mockStatus int
	var mockBody interface{}

	mockOpenAI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(mockStatus)
		json.NewEncoder(w).Encode(mockBody)
	}))

	gin.SetMode(gin.TestMode)
	h := Handler{openAIBaseURL: mockOpenAI.URL, photos: photos}
	router := gin.New()
	// Skip auth middleware for tests and set a dummy user_id
	router.POST("/api/food/analyze-photo", func(c *gin.Context) {
		c.Set("user_id", "7d9f4c2e-0000-4000-8000-000000000001")
		c.Next()
	}, h.analyzePhoto)

	setMock := func(status int, body interface{}) {
		mockStatus = status
		mockBody = body
	}

	return router, mockOpenAI, setMock
}

// doPhotoRequest posts image as the "photo" multipart field. A nil image
// sends a form without the field.
func doPhotoRequest(router *gin.Engine, image []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		fw, _ := mw.CreateFormFile("photo", "meal.png")
		fw.Write(image)
	} else {
		mw.WriteField("note", "no photo")
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/food/analyze-photo", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// openAIChatResponse wraps a content string in the OpenAI chat completions
// response shape (choices[0].message.content).
func openAIChatResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{
				"message": map[string]interface{}{
					"content": content,
				},
			},
		},
	}
}

type fakeUploader struct {
	url  string
	err  error
	got  []byte
	mime string
}

func (f *fakeUploader) Put(_ context.Context, _ string, data []byte, contentType string) (string, error) {
	f.got, f.mime = data, contentType
	return f.url, f.err
}

func decodePhotoResult(t *testing.T, w *httptest.ResponseRecorder) nutrition.PhotoResult {
	t.Helper()
	var resp nutrition.PhotoResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return resp
}

func TestAnalyzePhoto_Success(t *testing.T) {
	router, mockServer, setMock := setupPhotoTest(nil)
	defer mockServer.Close()

	estimate := `{"dish_name":"Борщ","calories_per_100g":57,"protein_g_per_100g":2.9,"fat_g_per_100g":2.2,"carbs_g_per_100g":6.7,"estimated_weight_g":350,"confidence":0.82}`
	setMock(http.StatusOK, openAIChatResponse(estimate))
	t.Setenv("OPENAI_API_KEY", "test-key")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodePhotoResult(t, w)
	if resp.Estimate.DishName != "Борщ" {
		t.Errorf("expected dish_name 'Борщ', got '%s'", resp.Estimate.DishName)
	}
	if resp.Estimate.EstimatedWeightG != 350 {
		t.Errorf("expected estimated_weight_g 350, got %v", resp.Estimate.EstimatedWeightG)
	}
	if resp.Estimate.LowConfidence() {
		t.Errorf("confidence 0.82 should not be low")
	}
}

func TestAnalyzePhoto_FencedJSON(t *testing.T) {
	router, mockServer, setMock := setupPhotoTest(nil)
	defer mockServer.Close()

	fenced := "```json\n{\"dish_name\":\"Салат\",\"calories_per_100g\":40,\"estimated_weight_g\":200,\"confidence\":0.4}\n```"
	setMock(http.StatusOK, openAIChatResponse(fenced))
	t.Setenv("OPENAI_API_KEY", "test-key")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodePhotoResult(t, w)
	if resp.Estimate.DishName != "Салат" {
		t.Errorf("expected dish_name 'Салат', got '%s'", resp.Estimate.DishName)
	}
	if !resp.Estimate.LowConfidence() {
		t.Errorf("confidence 0.4 should be low")
	}
}

func TestAnalyzePhoto_Unparseable(t *testing.T) {
	router, mockServer, setMock := setupPhotoTest(nil)
	defer mockServer.Close()

	// The model answers with prose instead of JSON
	setMock(http.StatusOK, openAIChatResponse(`I think this is soup.`))
	t.Setenv("OPENAI_API_KEY", "test-key")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodePhotoResult(t, w)
	if resp.Estimate.DishName != unrecognizedDish.DishName {
		t.Errorf("expected fallback dish name, got '%s'", resp.Estimate.DishName)
	}
	if resp.Estimate.Confidence != 0 {
		t.Errorf("expected confidence 0, got %v", resp.Estimate.Confidence)
	}
}

func TestAnalyzePhoto_OpenAIError500(t *testing.T) {
	router, mockServer, setMock := setupPhotoTest(nil)
	defer mockServer.Close()

	setMock(http.StatusInternalServerError, map[string]string{"error": "server error"})
	t.Setenv("OPENAI_API_KEY", "test-key")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "photo recognition failed" {
		t.Errorf("expected error 'photo recognition failed', got '%s'", resp["error"])
	}
}

func TestAnalyzePhoto_NoAPIKey(t *testing.T) {
	router, mockServer, _ := setupPhotoTest(nil)
	defer mockServer.Close()
	t.Setenv("OPENAI_API_KEY", "")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyzePhoto_MissingPhoto(t *testing.T) {
	router, mockServer, _ := setupPhotoTest(nil)
	defer mockServer.Close()

	w := doPhotoRequest(router, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyzePhoto_StoresPhoto(t *testing.T) {
	up := &fakeUploader{url: "https://cdn.example.com/photos/x.png"}
	router, mockServer, setMock := setupPhotoTest(up)
	defer mockServer.Close()

	setMock(http.StatusOK, openAIChatResponse(`{"dish_name":"Омлет","estimated_weight_g":150,"confidence":0.9}`))
	t.Setenv("OPENAI_API_KEY", "test-key")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodePhotoResult(t, w)
	if resp.Estimate.PhotoURL != up.url {
		t.Errorf("expected photo_url %q, got %q", up.url, resp.Estimate.PhotoURL)
	}
	if !bytes.Equal(up.got, pngHeader) {
		t.Errorf("uploader received %d bytes, want the posted image", len(up.got))
	}
	if up.mime != "image/png" {
		t.Errorf("expected sniffed mime image/png, got %q", up.mime)
	}
}

func TestAnalyzePhoto_StoreFailureKeepsEstimate(t *testing.T) {
	up := &fakeUploader{err: errors.New("bucket unreachable")}
	router, mockServer, setMock := setupPhotoTest(up)
	defer mockServer.Close()

	setMock(http.StatusOK, openAIChatResponse(`{"dish_name":"Омлет","estimated_weight_g":150,"confidence":0.9}`))
	t.Setenv("OPENAI_API_KEY", "test-key")

	w := doPhotoRequest(router, pngHeader)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodePhotoResult(t, w)
	if resp.Estimate.PhotoURL != "" {
		t.Errorf("expected no photo_url, got %q", resp.Estimate.PhotoURL)
	}
	if resp.Estimate.DishName != "Омлет" {
		t.Errorf("expected dish_name 'Омлет', got '%s'", resp.Estimate.DishName)
	}
}

/* ─── Parsing helpers ────────────────────────────────────────────────── */

func TestStripFences(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n```json {\"a\":1} ```  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripFences(tc.in); got != tc.want {
				t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseEstimate_Clamps(t *testing.T) {
	est := parseEstimate(`{"dish_name":"Каша","confidence":1.7,"estimated_weight_g":0}`)
	if est.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %v", est.Confidence)
	}
	if est.EstimatedWeightG != 100 {
		t.Errorf("expected default weight 100, got %v", est.EstimatedWeightG)
	}

	est = parseEstimate(`{"dish_name":"Каша","confidence":-0.2,"estimated_weight_g":80}`)
	if est.Confidence != 0 {
		t.Errorf("expected confidence clamped to 0, got %v", est.Confidence)
	}
	if est.EstimatedWeightG != 80 {
		t.Errorf("expected weight 80, got %v", est.EstimatedWeightG)
	}
}

func TestParseEstimate_MissingName(t *testing.T) {
	est := parseEstimate(`{"calories_per_100g":120}`)
	if est != unrecognizedDish {
		t.Errorf("expected fallback estimate, got %+v", est)
	}
}

func TestVisionRequest(t *testing.T) {
	req := visionRequest("image/jpeg", []byte("abc"))
	if req.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", req.Model)
	}
	parts, ok := req.Messages[1].Content.([]openAIPart)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected two user parts, got %#v", req.Messages[1].Content)
	}
	if got := parts[1].ImageURL.URL; got != "data:image/jpeg;base64,YWJj" {
		t.Errorf("unexpected data URL %q", got)
	}
}

func TestPhotoKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	key := photoKey("u1", at)
	if !strings.HasPrefix(key, "photos/u1/2026/03/07/") {
		t.Errorf("unexpected key %q", key)
	}
	if key == photoKey("u1", at) {
		t.Errorf("keys for separate uploads should differ")
	}
}
