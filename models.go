package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// DateOnly wraps time.Time to serialize as "YYYY-MM-DD" in JSON.
type DateOnly struct{ time.Time }

func (d DateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.Format(nutrition.DateLayout) + `"`), nil
}

func (d *DateOnly) UnmarshalJSON(b []byte) error {
	t, err := time.Parse(`"`+nutrition.DateLayout+`"`, string(b))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ScanDate implements pgtype.DateScanner so pgx can scan PostgreSQL date
// columns (OID 1082) into DateOnly. NULL values zero the time and return nil
// so that *DateOnly pointer fields can be set to nil by pgx's NULL handling.
func (d *DateOnly) ScanDate(v pgtype.Date) error {
	if !v.Valid {
		d.Time = time.Time{}
		return nil
	}
	d.Time = v.Time
	return nil
}

func (d DateOnly) String() string { return d.Time.Format(nutrition.DateLayout) }

// dateArg turns an optional date into a query argument (NULL when nil).
func dateArg(d *DateOnly) *string {
	if d == nil || d.Time.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}

/* ─── Domain structs ─────────────────────────────────────────────────── */

// user maps to the users table. Password is hidden from JSON responses and is
// NULL for accounts created through Telegram.
type user struct {
	ID                  uuid.UUID `db:"id"`
	TelegramID          *int64    `db:"telegram_id"`
	Username            string    `db:"username"`
	Password            *string   `db:"password"`
	FirstName           string    `db:"first_name"`
	Goal                string    `db:"goal"`
	Gender              *string   `db:"gender"`
	Age                 *int      `db:"age"`
	WeightKG            *float64  `db:"weight_kg"`
	HeightCM            *float64  `db:"height_cm"`
	TargetWeightKG      *float64  `db:"target_weight_kg"`
	ActivityLevel       *string   `db:"activity_level"`
	DailyCalories       int       `db:"daily_calories"`
	DailyProteinG       int       `db:"daily_protein_g"`
	DailyFatG           int       `db:"daily_fat_g"`
	DailyCarbsG         int       `db:"daily_carbs_g"`
	OnboardingCompleted bool      `db:"onboarding_completed"`

	// Gamification
	Level          int       `db:"level"`
	XP             int       `db:"xp"`
	XPToNext       int       `db:"xp_to_next"`
	StreakDays     int       `db:"streak_days"`
	MaxStreakDays  int       `db:"max_streak_days"`
	LastStreakDate *DateOnly `db:"last_streak_date"`
	LastBonusDate  *DateOnly `db:"last_bonus_date"`

	CreatedAt time.Time `db:"created_at"`
}

func (u user) targets() nutrition.Macros {
	return nutrition.Macros{
		Calories: u.DailyCalories,
		ProteinG: float64(u.DailyProteinG),
		FatG:     float64(u.DailyFatG),
		CarbsG:   float64(u.DailyCarbsG),
	}
}

func (u user) progress() *nutrition.Progress {
	return &nutrition.Progress{Level: u.Level, XP: u.XP, XPToNext: u.XPToNext}
}

// toAPI converts the row into the GET /api/me shape.
func (u user) toAPI() nutrition.User {
	out := nutrition.User{
		ID:        u.ID.String(),
		Username:  u.Username,
		FirstName: u.FirstName,
		Goal:      u.Goal,
		Targets:   u.targets(),
		Onboarded: u.OnboardingCompleted,
	}
	if u.Gender != nil {
		out.Gender = *u.Gender
	}
	if u.Age != nil {
		out.AgeYears = *u.Age
	}
	if u.HeightCM != nil {
		out.HeightCM = *u.HeightCM
	}
	if u.WeightKG != nil {
		out.WeightKG = *u.WeightKG
	}
	if u.TargetWeightKG != nil {
		out.TargetWeightKG = *u.TargetWeightKG
	}
	if u.ActivityLevel != nil {
		out.ActivityLevel = *u.ActivityLevel
	}
	return out
}

// foodLogRow maps to food_log. Every entry belongs to exactly one calendar day
// (log_date) regardless of when it was written.
type foodLogRow struct {
	ID       uuid.UUID `db:"id"`
	UserID   uuid.UUID `db:"user_id"`
	LogDate  DateOnly  `db:"log_date"`
	FoodName string    `db:"food_name"`
	Calories int       `db:"calories"`
	ProteinG float64   `db:"protein_g"`
	FatG     float64   `db:"fat_g"`
	CarbsG   float64   `db:"carbs_g"`
	WeightG  float64   `db:"weight_g"`
	MealType string    `db:"meal_type"`
	Source   string    `db:"source"`
	PhotoURL *string   `db:"photo_url"`
	LoggedAt time.Time `db:"logged_at"`
}

func (r foodLogRow) toEntry() nutrition.FoodEntry {
	e := nutrition.FoodEntry{
		ID:       r.ID.String(),
		Name:     r.FoodName,
		Calories: r.Calories,
		ProteinG: r.ProteinG,
		FatG:     r.FatG,
		CarbsG:   r.CarbsG,
		WeightG:  r.WeightG,
		Meal:     nutrition.Meal(r.MealType),
		Source:   nutrition.Source(r.Source),
		LoggedAt: r.LoggedAt,
	}
	if r.PhotoURL != nil {
		e.PhotoURL = *r.PhotoURL
	}
	return e
}

// dayTotalRow is the shape of each row returned by the stats GROUP BY query.
type dayTotalRow struct {
	Date     DateOnly `db:"date"`
	Calories int      `db:"calories"`
	ProteinG float64  `db:"protein_g"`
	FatG     float64  `db:"fat_g"`
	CarbsG   float64  `db:"carbs_g"`
}

// workoutRow maps to workouts. One row per user and day.
type workoutRow struct {
	ID          uuid.UUID `db:"id"`
	UserID      uuid.UUID `db:"user_id"`
	WorkoutDate DateOnly  `db:"workout_date"`
	Completed   bool      `db:"completed"`
	Notes       *string   `db:"notes"`
	XPAwarded   int       `db:"xp_awarded"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r workoutRow) toWorkout() nutrition.Workout {
	w := nutrition.Workout{
		ID:        r.ID.String(),
		Date:      r.WorkoutDate.String(),
		Completed: r.Completed,
		XPAwarded: r.XPAwarded,
	}
	if r.Notes != nil {
		w.Notes = *r.Notes
	}
	return w
}

// weightRow maps to weight_log. The UNIQUE(user_id, logged_date) constraint
// keeps one weigh-in per day.
type weightRow struct {
	ID         uuid.UUID `db:"id"`
	UserID     uuid.UUID `db:"user_id"`
	LoggedDate DateOnly  `db:"logged_date"`
	WeightKG   float64   `db:"weight_kg"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r weightRow) toEntry() nutrition.WeightEntry {
	return nutrition.WeightEntry{ID: r.ID.String(), Date: r.LoggedDate.String(), WeightKG: r.WeightKG}
}

// achievementRow is an earned achievement.
type achievementRow struct {
	Code       string    `db:"code"`
	AchievedAt time.Time `db:"achieved_at"`
}

/* ─── Requests ───────────────────────────────────────────────────────── */

// createFoodRequest is the request body for POST /api/food/log. Missing meal
// and source default to snack and manual, a missing weight to 100 g.
type createFoodRequest struct {
	Date     string           `json:"date"`
	Name     string           `json:"food_name" binding:"required,max=200"`
	Calories int              `json:"calories" binding:"gte=0,lte=10000"`
	ProteinG float64          `json:"protein_g" binding:"gte=0,lte=1000"`
	FatG     float64          `json:"fat_g" binding:"gte=0,lte=1000"`
	CarbsG   float64          `json:"carbs_g" binding:"gte=0,lte=1000"`
	WeightG  float64          `json:"weight_g" binding:"gte=0,lte=5000"`
	Meal     nutrition.Meal   `json:"meal_type" binding:"omitempty,meal"`
	Source   nutrition.Source `json:"source" binding:"omitempty,source"`
	PhotoURL string           `json:"photo_url" binding:"omitempty,max=1000"`
}

// updateFoodRequest is the request body for PUT /api/food/log/:id.
// All fields are pointers; only non-nil fields get written to the database.
type updateFoodRequest struct {
	Date     *string         `json:"date"`
	Name     *string         `json:"food_name" binding:"omitempty,min=1,max=200"`
	Calories *int            `json:"calories" binding:"omitempty,gte=0,lte=10000"`
	ProteinG *float64        `json:"protein_g" binding:"omitempty,gte=0,lte=1000"`
	FatG     *float64        `json:"fat_g" binding:"omitempty,gte=0,lte=1000"`
	CarbsG   *float64        `json:"carbs_g" binding:"omitempty,gte=0,lte=1000"`
	WeightG  *float64        `json:"weight_g" binding:"omitempty,gte=0,lte=5000"`
	Meal     *nutrition.Meal `json:"meal_type" binding:"omitempty,meal"`
}

// profileRequest is the request body for PUT /api/profile.
type profileRequest struct {
	Gender         string   `json:"gender" binding:"required,oneof=male female"`
	AgeYears       int      `json:"age" binding:"required,gte=10,lte=120"`
	HeightCM       float64  `json:"height_cm" binding:"required,gt=0,lte=300"`
	WeightKG       float64  `json:"weight_kg" binding:"required,gt=0,lte=500"`
	TargetWeightKG *float64 `json:"target_weight_kg" binding:"omitempty,gt=0,lte=500"`
	ActivityLevel  string   `json:"activity_level" binding:"required,oneof=sedentary moderate active athlete"`
	Goal           string   `json:"goal" binding:"required,oneof=cut maintain bulk"`
}

// workoutRequest is the request body for POST /api/workouts.
type workoutRequest struct {
	Date      string  `json:"workout_date" binding:"required"`
	Completed *bool   `json:"completed"`
	Notes     *string `json:"notes" binding:"omitempty,max=300"`
}

// weightRequest is the request body for POST /api/weight/log.
type weightRequest struct {
	Date     string  `json:"logged_date"`
	WeightKG float64 `json:"weight_kg" binding:"gt=0,lte=500"`
}
