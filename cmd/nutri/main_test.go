package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gpttwilight-hash/nutribot/internal/coordinator"
	"github.com/gpttwilight-hash/nutribot/internal/gamify"
	"github.com/gpttwilight-hash/nutribot/internal/ledger"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

// runCLI executes the root command against srv with a stored token.
func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("test-token\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env", "", "--api", srv.URL, "--token-file", tokenPath))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDescribeAddsHints(t *testing.T) {
	err := fmt.Errorf("GET /api/me: %w", nutrition.ErrUnauthenticated)
	if got := describe(err); !strings.Contains(got, "nutri login") {
		t.Fatalf("expected login hint, got %q", got)
	}
	err = fmt.Errorf("GET /api/me: %w", nutrition.ErrTransport)
	if got := describe(err); !strings.Contains(got, "NUTRI_API_URL") {
		t.Fatalf("expected server hint, got %q", got)
	}
	if got := describe(errors.New("plain")); got != "plain" {
		t.Fatalf("expected error unchanged, got %q", got)
	}
}

func TestResolveEntryID(t *testing.T) {
	entries := []nutrition.FoodEntry{
		{ID: "3f1c0a52-aaaa"},
		{ID: "3f1c9999-bbbb"},
		{ID: "77aa0000-cccc"},
	}
	if id, err := resolveEntryID(entries, "77"); err != nil || id != "77aa0000-cccc" {
		t.Fatalf("expected unique prefix to resolve, got %q, %v", id, err)
	}
	if _, err := resolveEntryID(entries, "3f1c"); err == nil {
		t.Fatalf("expected ambiguous prefix to fail")
	}
	if _, err := resolveEntryID(entries, "ff"); err == nil {
		t.Fatalf("expected unknown prefix to fail")
	}
}

func TestBar(t *testing.T) {
	cases := []struct {
		n, total int
		want     string
	}{
		{0, 500, "[..........]"},
		{250, 500, "[#####.....]"},
		{900, 500, "[##########]"},
		{5, 0, "[..........]"},
	}
	for _, tc := range cases {
		if got := bar(tc.n, tc.total, 10); got != tc.want {
			t.Errorf("bar(%d, %d) = %s, want %s", tc.n, tc.total, got, tc.want)
		}
	}
}

func TestPrintOutcomeOrder(t *testing.T) {
	var out bytes.Buffer
	printOutcome(&out, coordinator.Outcome{
		Result: nutrition.ActionResult{Streak: &nutrition.Streak{Days: 3, Updated: true}},
		Celebrations: []gamify.Celebration{
			{Kind: gamify.KindXPGain, Amount: 10},
			{Kind: gamify.KindLevelUp, Level: 2},
			{Kind: gamify.KindAchievement, Achievement: &nutrition.Achievement{Name: "Первый шаг", Icon: "*", Description: "Log your first meal"}},
		},
	})
	got := out.String()
	xp := strings.Index(got, "+10 XP")
	lvl := strings.Index(got, "level 2")
	ach := strings.Index(got, "Первый шаг")
	if xp < 0 || lvl < xp || ach < lvl {
		t.Fatalf("expected XP, level-up, achievement in order, got:\n%s", got)
	}
	if !strings.Contains(got, "Streak: 3 days") {
		t.Fatalf("expected streak line, got:\n%s", got)
	}
}

func TestPrintDayGroupsByMeal(t *testing.T) {
	var out bytes.Buffer
	day := ledger.Day{
		Date: "2026-04-10",
		Entries: []nutrition.FoodEntry{
			{ID: "e2", Name: "Суп", Calories: 300, Meal: nutrition.Lunch},
			{ID: "e1", Name: "Каша", Calories: 250, Meal: nutrition.Breakfast},
		},
		Totals:  nutrition.Macros{Calories: 550},
		Targets: nutrition.Macros{Calories: 2000},
	}
	printDay(&out, day, day.Targets.Sub(day.Totals))

	got := out.String()
	if strings.Index(got, "BREAKFAST") > strings.Index(got, "LUNCH") {
		t.Fatalf("expected breakfast before lunch, got:\n%s", got)
	}
	if !containsAll(got, []string{"Date: 2026-04-10", "Каша", "Суп", "1450 kcal"}) {
		t.Fatalf("unexpected day output:\n%s", got)
	}
}

func TestTodayCommand(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/food/log" || r.URL.Query().Get("date") != "2026-04-10" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"date":"2026-04-10",
			"entries":[{"id":"3f1c0a52-1111","food_name":"Гречка варёная","calories":220,"protein_g":8.4,"fat_g":2.2,"carbs_g":42.6,"weight_g":200,"meal_type":"lunch","source":"search","logged_at":"2026-04-10T12:00:00Z"}],
			"totals":{"calories":220,"protein_g":8.4,"fat_g":2.2,"carbs_g":42.6},
			"goal":{"calories":2000,"protein_g":150,"fat_g":65,"carbs_g":250}}`)
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "today", "--date", "2026-04-10")
	if err != nil {
		t.Fatalf("today: %v\n%s", err, out)
	}
	if auth != "Bearer test-token" {
		t.Errorf("expected stored token to be sent, got %q", auth)
	}
	if !containsAll(out, []string{"LUNCH", "3f1c0a52", "Гречка варёная", "1780 kcal"}) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestBonusCommandAlreadyClaimed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/gamification/daily-bonus" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"already_claimed":true}`)
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "bonus")
	if err != nil {
		t.Fatalf("bonus: %v", err)
	}
	if !strings.Contains(out, "already claimed") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestBonusCommandShowsUnlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/gamification/daily-bonus" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"already_claimed":false,"xp_awarded":310,"level_up":true,`+
			`"achievements_unlocked":[{"code":"level_10","name":"Про","description":"Достиг 10 уровня","icon":"⭐"}],`+
			`"progress":{"level":10,"xp":305,"xp_to_next":256000}}`)
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "bonus")
	if err != nil {
		t.Fatalf("bonus: %v", err)
	}
	for _, want := range []string{"+310 XP", "level 10", "Achievement unlocked: Про"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWeightLogRejectsNonNumber(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := runCLI(t, srv, "weight", "log", "heavy"); err == nil {
		t.Fatalf("expected an error for a non-numeric weight")
	}
}
