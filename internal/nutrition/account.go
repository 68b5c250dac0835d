package nutrition

// User is the account as reported by GET /api/me.
type User struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	FirstName      string  `json:"first_name"`
	Gender         string  `json:"gender,omitempty"`
	AgeYears       int     `json:"age,omitempty"`
	HeightCM       float64 `json:"height_cm,omitempty"`
	WeightKG       float64 `json:"weight_kg,omitempty"`
	TargetWeightKG float64 `json:"target_weight_kg,omitempty"`
	ActivityLevel  string  `json:"activity_level,omitempty"`
	Goal           string  `json:"goal"`
	Targets        Macros  `json:"targets"`
	Onboarded      bool    `json:"onboarding_completed"`
}

// BodyProfile is the onboarding / profile-edit payload. The authority
// derives the daily targets from it.
type BodyProfile struct {
	Gender         string  `json:"gender"`
	AgeYears       int     `json:"age"`
	HeightCM       float64 `json:"height_cm"`
	WeightKG       float64 `json:"weight_kg"`
	TargetWeightKG float64 `json:"target_weight_kg,omitempty"`
	ActivityLevel  string  `json:"activity_level"`
	Goal           string  `json:"goal"`
}

// DayTotal is one day of a stats period.
type DayTotal struct {
	Date string `json:"date"`
	Macros
}

// Stats summarizes the food log over a period ("7d" or "30d").
type Stats struct {
	Daily   []DayTotal `json:"daily"`
	Average Macros     `json:"average"`
}

// WorkoutStats counts completed workout days.
type WorkoutStats struct {
	Last7Days  int `json:"last_7_days"`
	Last30Days int `json:"last_30_days"`
	BestStreak int `json:"best_streak"`
	Total      int `json:"total"`
}

// WeightEntry is one day's body weight.
type WeightEntry struct {
	ID       string  `json:"id"`
	Date     string  `json:"logged_date"`
	WeightKG float64 `json:"weight_kg"`
}

// WeightDraft is the candidate for logging a weigh-in. An empty Date means
// today on the authority's calendar.
type WeightDraft struct {
	Date     string  `json:"logged_date,omitempty"`
	WeightKG float64 `json:"weight_kg"`
}

// WeightResult is the authority's answer to a weigh-in.
type WeightResult struct {
	Entry WeightEntry `json:"entry"`
	ActionResult
}
