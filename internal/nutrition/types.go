package nutrition

import (
	"math"
	"strings"
	"time"
)

// Meal is the slot an entry is logged under.
type Meal string

const (
	Breakfast Meal = "breakfast"
	Lunch     Meal = "lunch"
	Dinner    Meal = "dinner"
	Snack     Meal = "snack"
)

// Valid reports whether m is one of the four known slots.
func (m Meal) Valid() bool {
	switch m {
	case Breakfast, Lunch, Dinner, Snack:
		return true
	}
	return false
}

// Source records how an entry's composition was obtained.
type Source string

const (
	SourcePhoto  Source = "ai_photo"
	SourceManual Source = "manual"
	SourceSearch Source = "search"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePhoto, SourceManual, SourceSearch:
		return true
	}
	return false
}

// DateLayout is the wire format of calendar days.
const DateLayout = "2006-01-02"

// Macros is the shape shared by daily totals and daily targets.
type Macros struct {
	Calories int     `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	FatG     float64 `json:"fat_g"`
	CarbsG   float64 `json:"carbs_g"`
}

// Sub returns m - o, field by field.
func (m Macros) Sub(o Macros) Macros {
	return Macros{
		Calories: m.Calories - o.Calories,
		ProteinG: RoundTenth(m.ProteinG - o.ProteinG),
		FatG:     RoundTenth(m.FatG - o.FatG),
		CarbsG:   RoundTenth(m.CarbsG - o.CarbsG),
	}
}

// FoodEntry is one persisted row of a day's log. Entries are replaced, never
// edited in place.
type FoodEntry struct {
	ID       string    `json:"id"`
	Name     string    `json:"food_name"`
	Calories int       `json:"calories"`
	ProteinG float64   `json:"protein_g"`
	FatG     float64   `json:"fat_g"`
	CarbsG   float64   `json:"carbs_g"`
	WeightG  float64   `json:"weight_g"`
	Meal     Meal      `json:"meal_type"`
	Source   Source    `json:"source"`
	PhotoURL string    `json:"photo_url,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// Validate checks the shape of an entry received from the authority.
func (e FoodEntry) Validate() error {
	switch {
	case e.ID == "":
		return Rejected("entry without id")
	case e.Calories < 0:
		return Rejected("entry %s: negative calories", e.ID)
	case e.ProteinG < 0 || e.FatG < 0 || e.CarbsG < 0:
		return Rejected("entry %s: negative macro", e.ID)
	case !e.Meal.Valid():
		return Rejected("entry %s: unknown meal_type %q", e.ID, e.Meal)
	}
	return nil
}

// EntryDraft is the candidate sent to the authority when logging food. Date is
// the ledger day the entry belongs to (YYYY-MM-DD).
type EntryDraft struct {
	Date     string  `json:"date,omitempty"`
	Name     string  `json:"food_name"`
	Calories int     `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	FatG     float64 `json:"fat_g"`
	CarbsG   float64 `json:"carbs_g"`
	WeightG  float64 `json:"weight_g"`
	Meal     Meal    `json:"meal_type"`
	Source   Source  `json:"source"`
	PhotoURL string  `json:"photo_url,omitempty"`
}

// CheckLocal validates only the preconditions that are obvious client-side.
// Range checks on macros are the authority's job.
func (d EntryDraft) CheckLocal() error {
	if strings.TrimSpace(d.Name) == "" {
		return Rejected("food_name is required")
	}
	if d.Meal != "" && !d.Meal.Valid() {
		return Rejected("meal_type must be one of: breakfast, lunch, dinner, snack")
	}
	return nil
}

// DayLog is the authority's view of one calendar day.
type DayLog struct {
	Date    string      `json:"date"`
	Entries []FoodEntry `json:"entries"`
	Totals  Macros      `json:"totals"`
	Targets Macros      `json:"goal"`
}

// SumEntries recomputes the totals of a set of entries. Macros are kept at one
// decimal so the sum is stable regardless of summation order.
func SumEntries(entries []FoodEntry) Macros {
	var t Macros
	for _, e := range entries {
		t.Calories += e.Calories
		t.ProteinG += e.ProteinG
		t.FatG += e.FatG
		t.CarbsG += e.CarbsG
	}
	t.ProteinG = RoundTenth(t.ProteinG)
	t.FatG = RoundTenth(t.FatG)
	t.CarbsG = RoundTenth(t.CarbsG)
	return t
}

// RoundTenth rounds to one decimal place.
func RoundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// Achievement is keyed by Code. Once Earned it stays earned.
type Achievement struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Earned      bool       `json:"earned"`
	EarnedAt    *time.Time `json:"achieved_at"`
}

// Streak is the authority's streak delta for an action.
type Streak struct {
	Days    int  `json:"streak_days"`
	Updated bool `json:"streak_updated"`
}

// Progress is the authoritative level position after an XP-granting action.
type Progress struct {
	Level    int `json:"level"`
	XP       int `json:"xp"`
	XPToNext int `json:"xp_to_next"`
}

// ActionResult carries the gamification deltas of one XP-granting action.
type ActionResult struct {
	XPAwarded            int           `json:"xp_awarded"`
	LevelUp              bool          `json:"level_up"`
	Streak               *Streak       `json:"streak,omitempty"`
	AchievementsUnlocked []Achievement `json:"achievements_unlocked"`
	Progress             *Progress     `json:"progress,omitempty"`
}

// CreateResult is the authority's answer to a food log write.
type CreateResult struct {
	Entry FoodEntry `json:"entry"`
	ActionResult
}

// Profile is the gamification state as reported by the authority.
type Profile struct {
	Level        int           `json:"level"`
	XP           int           `json:"xp"`
	XPToNext     int           `json:"xp_to_next"`
	StreakDays   int           `json:"streak_days"`
	MaxStreak    int           `json:"max_streak"`
	Achievements []Achievement `json:"achievements"`
}

// Validate checks the shape of a profile payload.
func (p Profile) Validate() error {
	switch {
	case p.Level < 1:
		return Rejected("profile level %d < 1", p.Level)
	case p.XP < 0 || p.XPToNext < 0:
		return Rejected("profile has negative xp")
	case p.StreakDays < 0 || p.MaxStreak < 0:
		return Rejected("profile has negative streak")
	}
	for _, a := range p.Achievements {
		if a.Code == "" {
			return Rejected("achievement without code")
		}
	}
	return nil
}

// BonusResult is the authority's answer to a daily-bonus claim.
type BonusResult struct {
	AlreadyClaimed       bool          `json:"already_claimed"`
	XPAwarded            int           `json:"xp_awarded"`
	LevelUp              bool          `json:"level_up"`
	AchievementsUnlocked []Achievement `json:"achievements_unlocked"`
	Progress             *Progress     `json:"progress,omitempty"`
}

// Workout marks a training day.
type Workout struct {
	ID        string `json:"id"`
	Date      string `json:"workout_date"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
	XPAwarded int    `json:"xp_awarded"`
}

// WorkoutDraft is the candidate for logging a workout day.
type WorkoutDraft struct {
	Date      string `json:"workout_date"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
}

// WorkoutResult is the authority's answer to a workout write.
type WorkoutResult struct {
	Workout Workout `json:"workout"`
	ActionResult
}

// LowConfidenceThreshold is the confidence under which a photo estimate must
// be flagged to the user.
const LowConfidenceThreshold = 0.6

// PhotoEstimate is the photo-recognition oracle's output, per 100 g.
type PhotoEstimate struct {
	DishName         string  `json:"dish_name"`
	CaloriesPer100g  float64 `json:"calories_per_100g"`
	ProteinPer100g   float64 `json:"protein_g_per_100g"`
	FatPer100g       float64 `json:"fat_g_per_100g"`
	CarbsPer100g     float64 `json:"carbs_g_per_100g"`
	EstimatedWeightG float64 `json:"estimated_weight_g"`
	Confidence       float64 `json:"confidence"`
	PhotoURL         string  `json:"photo_url,omitempty"`
}

// LowConfidence reports whether the estimate should carry a warning. The
// values remain usable either way.
func (p PhotoEstimate) LowConfidence() bool {
	return p.Confidence < LowConfidenceThreshold
}

// Draft scales the estimate to weightG grams (the estimated weight when
// weightG <= 0) and returns an entry candidate for meal.
func (p PhotoEstimate) Draft(meal Meal, weightG float64) EntryDraft {
	if weightG <= 0 {
		weightG = p.EstimatedWeightG
	}
	if weightG <= 0 {
		weightG = 100
	}
	f := weightG / 100
	return EntryDraft{
		Name:     p.DishName,
		Calories: int(math.Round(p.CaloriesPer100g * f)),
		ProteinG: RoundTenth(p.ProteinPer100g * f),
		FatG:     RoundTenth(p.FatPer100g * f),
		CarbsG:   RoundTenth(p.CarbsPer100g * f),
		WeightG:  weightG,
		Meal:     meal,
		Source:   SourcePhoto,
		PhotoURL: p.PhotoURL,
	}
}

// PhotoResult is the photo analysis plus the XP it granted.
type PhotoResult struct {
	Estimate PhotoEstimate `json:"estimate"`
	ActionResult
}

// FoodItem is a search or "recent foods" hit, per 100 g unless WeightG says
// otherwise.
type FoodItem struct {
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
	WeightG  float64 `json:"weight_g,omitempty"`
	Barcode  string  `json:"barcode,omitempty"`
}

// Draft scales a per-100 g item to weightG grams.
func (f FoodItem) Draft(meal Meal, weightG float64, source Source) EntryDraft {
	if weightG <= 0 {
		weightG = f.WeightG
	}
	if weightG <= 0 {
		weightG = 100
	}
	m := weightG / 100
	return EntryDraft{
		Name:     f.Name,
		Calories: int(math.Round(f.Calories * m)),
		ProteinG: RoundTenth(f.Protein * m),
		FatG:     RoundTenth(f.Fat * m),
		CarbsG:   RoundTenth(f.Carbs * m),
		WeightG:  weightG,
		Meal:     meal,
		Source:   source,
	}
}
