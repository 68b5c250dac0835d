package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

const (
	searchMinQuery     = 2
	searchDefaultLimit = 20
	searchMaxLimit     = 50

	offTimeout     = 5 * time.Second
	searchCacheTTL = time.Hour

	defaultOFFBaseURL = "https://world.openfoodfacts.org"
)

// localFoods is the built-in catalogue searched before Open Food Facts.
// Values are per 100 g.
var localFoods = []nutrition.FoodItem{
	{Name: "Куриная грудка", Calories: 165, Protein: 31, Fat: 3.6, Carbs: 0},
	{Name: "Гречка варёная", Calories: 110, Protein: 4.2, Fat: 1.1, Carbs: 21.3},
	{Name: "Рис белый варёный", Calories: 130, Protein: 2.7, Fat: 0.3, Carbs: 28},
	{Name: "Яйцо куриное", Calories: 155, Protein: 12.6, Fat: 10.6, Carbs: 1.1},
	{Name: "Овсянка на воде", Calories: 68, Protein: 2.4, Fat: 1.4, Carbs: 12},
	{Name: "Банан", Calories: 89, Protein: 1.1, Fat: 0.3, Carbs: 22.8},
	{Name: "Яблоко", Calories: 52, Protein: 0.3, Fat: 0.2, Carbs: 14},
	{Name: "Творог 5%", Calories: 121, Protein: 17.2, Fat: 5, Carbs: 1.8},
	{Name: "Творог 0%", Calories: 71, Protein: 18, Fat: 0.6, Carbs: 1.8},
	{Name: "Молоко 2.5%", Calories: 52, Protein: 2.8, Fat: 2.5, Carbs: 4.7},
	{Name: "Кефир 1%", Calories: 40, Protein: 3, Fat: 1, Carbs: 4},
	{Name: "Говядина", Calories: 250, Protein: 26, Fat: 16, Carbs: 0},
	{Name: "Свинина", Calories: 242, Protein: 16, Fat: 21.2, Carbs: 0},
	{Name: "Лосось", Calories: 208, Protein: 20, Fat: 13, Carbs: 0},
	{Name: "Тунец консервированный", Calories: 116, Protein: 25.5, Fat: 0.8, Carbs: 0},
	{Name: "Макароны варёные", Calories: 131, Protein: 5, Fat: 1.1, Carbs: 27.4},
	{Name: "Хлеб белый", Calories: 265, Protein: 9, Fat: 3.2, Carbs: 49},
	{Name: "Хлеб ржаной", Calories: 259, Protein: 8.5, Fat: 3.3, Carbs: 48.3},
	{Name: "Картофель варёный", Calories: 86, Protein: 1.9, Fat: 0.1, Carbs: 20},
	{Name: "Огурец", Calories: 15, Protein: 0.7, Fat: 0.1, Carbs: 3.6},
	{Name: "Помидор", Calories: 18, Protein: 0.9, Fat: 0.2, Carbs: 3.9},
	{Name: "Морковь", Calories: 41, Protein: 0.9, Fat: 0.2, Carbs: 10},
	{Name: "Капуста белокочанная", Calories: 27, Protein: 1.8, Fat: 0.1, Carbs: 4.7},
	{Name: "Брокколи", Calories: 34, Protein: 2.8, Fat: 0.4, Carbs: 7},
	{Name: "Авокадо", Calories: 160, Protein: 2, Fat: 15, Carbs: 8.5},
	{Name: "Миндаль", Calories: 579, Protein: 21, Fat: 50, Carbs: 22},
	{Name: "Грецкий орех", Calories: 654, Protein: 15, Fat: 65, Carbs: 14},
	{Name: "Арахис", Calories: 567, Protein: 26, Fat: 49, Carbs: 16},
	{Name: "Мёд", Calories: 304, Protein: 0.3, Fat: 0, Carbs: 82},
	{Name: "Сахар", Calories: 387, Protein: 0, Fat: 0, Carbs: 100},
	{Name: "Масло сливочное", Calories: 717, Protein: 0.9, Fat: 81, Carbs: 0.1},
	{Name: "Масло подсолнечное", Calories: 884, Protein: 0, Fat: 100, Carbs: 0},
	{Name: "Оливковое масло", Calories: 884, Protein: 0, Fat: 100, Carbs: 0},
	{Name: "Сыр Российский", Calories: 363, Protein: 24.1, Fat: 29.5, Carbs: 0},
	{Name: "Сыр Моцарелла", Calories: 280, Protein: 28, Fat: 17, Carbs: 3.1},
	{Name: "Йогурт натуральный", Calories: 59, Protein: 3.5, Fat: 3.3, Carbs: 3.5},
	{Name: "Сметана 15%", Calories: 162, Protein: 2.6, Fat: 15, Carbs: 3.6},
	{Name: "Шоколад молочный", Calories: 535, Protein: 7.5, Fat: 30, Carbs: 59},
	{Name: "Шоколад тёмный", Calories: 539, Protein: 6.2, Fat: 35, Carbs: 48},
	{Name: "Протеиновый батончик", Calories: 350, Protein: 20, Fat: 12, Carbs: 40},
	{Name: "Протеин сывороточный (порция)", Calories: 120, Protein: 24, Fat: 1, Carbs: 3},
	{Name: "Индейка грудка", Calories: 135, Protein: 30, Fat: 1, Carbs: 0},
	{Name: "Креветки", Calories: 99, Protein: 24, Fat: 0.2, Carbs: 0.2},
	{Name: "Кальмар", Calories: 92, Protein: 15.6, Fat: 1.4, Carbs: 3.1},
	{Name: "Фасоль варёная", Calories: 127, Protein: 8.7, Fat: 0.5, Carbs: 22.8},
	{Name: "Чечевица варёная", Calories: 116, Protein: 9, Fat: 0.4, Carbs: 20},
	{Name: "Нут варёный", Calories: 164, Protein: 8.9, Fat: 2.6, Carbs: 27.4},
	{Name: "Булгур варёный", Calories: 83, Protein: 3.1, Fat: 0.2, Carbs: 18.6},
	{Name: "Кускус варёный", Calories: 112, Protein: 3.8, Fat: 0.2, Carbs: 23.2},
	{Name: "Киноа варёная", Calories: 120, Protein: 4.4, Fat: 1.9, Carbs: 21.3},
}

// searchLocal matches the catalogue by case-insensitive substring.
func searchLocal(query string, limit int) []nutrition.FoodItem {
	q := strings.ToLower(query)
	var out []nutrition.FoodItem
	for _, f := range localFoods {
		if strings.Contains(strings.ToLower(f.Name), q) {
			out = append(out, f)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// foodSearcher combines the local catalogue with Open Food Facts and caches
// combined results in redis when a client is configured.
type foodSearcher struct {
	baseURL string
	client  *http.Client
	cache   *redis.Client
	logger  *zap.Logger
}

func newFoodSearcher(baseURL string, cache *redis.Client, logger *zap.Logger) *foodSearcher {
	if baseURL == "" {
		baseURL = defaultOFFBaseURL
	}
	return &foodSearcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: offTimeout},
		cache:   cache,
		logger:  logging.OrNop(logger),
	}
}

func cacheKey(query string, limit int) string {
	return fmt.Sprintf("food_search:%s:%d", strings.ToLower(query), limit)
}

// Search returns local hits first, then Open Food Facts products whose names
// are not already listed. Open Food Facts failures only shorten the result.
func (s *foodSearcher) Search(ctx context.Context, query string, limit int) []nutrition.FoodItem {
	key := cacheKey(query, limit)
	if cached, ok := s.cached(ctx, key); ok {
		return cached
	}

	results := searchLocal(query, limit)
	if len(results) < limit {
		remote, err := s.searchOFF(ctx, query, limit-len(results))
		if err != nil {
			s.logger.Warn("off_search_failed", zap.String("query", query), zap.Error(err))
		}
		results = mergeByName(results, remote, limit)
	}
	if results == nil {
		results = []nutrition.FoodItem{}
	}

	s.store(ctx, key, results)
	return results
}

// mergeByName appends extra items whose lowercase name is not yet present.
func mergeByName(base, extra []nutrition.FoodItem, limit int) []nutrition.FoodItem {
	seen := make(map[string]bool, len(base)+len(extra))
	for _, f := range base {
		seen[strings.ToLower(f.Name)] = true
	}
	for _, f := range extra {
		if len(base) >= limit {
			break
		}
		name := strings.ToLower(f.Name)
		if seen[name] {
			continue
		}
		seen[name] = true
		base = append(base, f)
	}
	return base
}

type offResponse struct {
	Products []struct {
		Code        string `json:"code"`
		ProductName string `json:"product_name"`
		Nutriments  struct {
			Energy  float64 `json:"energy-kcal_100g"`
			Protein float64 `json:"proteins_100g"`
			Fat     float64 `json:"fat_100g"`
			Carbs   float64 `json:"carbohydrates_100g"`
		} `json:"nutriments"`
	} `json:"products"`
}

func (s *foodSearcher) searchOFF(ctx context.Context, query string, limit int) ([]nutrition.FoodItem, error) {
	params := url.Values{
		"search_terms":  {query},
		"search_simple": {"1"},
		"action":        {"process"},
		"json":          {"1"},
		"page_size":     {strconv.Itoa(limit)},
		"lc":            {"ru"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/cgi/search.pl?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open food facts returned status %d", resp.StatusCode)
	}

	var body offResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := make([]nutrition.FoodItem, 0, len(body.Products))
	for _, p := range body.Products {
		name := strings.TrimSpace(p.ProductName)
		if name == "" {
			continue
		}
		out = append(out, nutrition.FoodItem{
			Name:     name,
			Calories: math.Round(p.Nutriments.Energy),
			Protein:  nutrition.RoundTenth(p.Nutriments.Protein),
			Fat:      nutrition.RoundTenth(p.Nutriments.Fat),
			Carbs:    nutrition.RoundTenth(p.Nutriments.Carbs),
			Barcode:  p.Code,
		})
	}
	return out, nil
}

func (s *foodSearcher) cached(ctx context.Context, key string) ([]nutrition.FoodItem, bool) {
	if s.cache == nil {
		return nil, false
	}
	val, err := s.cache.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		searchCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		s.logger.Warn("search_cache_get_failed", zap.Error(err))
		return nil, false
	}
	var items []nutrition.FoodItem
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		s.logger.Warn("search_cache_corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	searchCache.WithLabelValues("hit").Inc()
	return items, true
}

func (s *foodSearcher) store(ctx context.Context, key string, items []nutrition.FoodItem) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, searchCacheTTL).Err(); err != nil {
		s.logger.Warn("search_cache_set_failed", zap.Error(err))
	}
}

// searchFoods handles GET /api/food/search?q=...&limit=N.
func (h *Handler) searchFoods(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if utf8.RuneCountInString(q) < searchMinQuery {
		apiError(c, http.StatusBadRequest, "q must be at least 2 characters")
		return
	}
	limit := searchDefaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > searchMaxLimit {
			apiError(c, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, gin.H{"results": h.foods.Search(c.Request.Context(), q, limit)})
}
