// Package norms computes daily calorie and macro targets from body metrics.
//
// Everything here is pure. Unknown activity levels and goals do not fail:
// they fall back to "sedentary" and "maintain" respectively, so onboarding
// input that slipped past validation still yields usable targets. Callers
// that want to reject such input use IsKnownActivity / IsKnownGoal first.
package norms

import (
	"math"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// Gender selects the Mifflin-St Jeor constant. Only Male and Female are
// defined; anything else is treated as Female.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// activityMultipliers maps activity levels to their TEE multiplier.
var activityMultipliers = map[string]float64{
	"sedentary": 1.2,
	"moderate":  1.375,
	"active":    1.55,
	"athlete":   1.725,
}

// goalFactors maps goals to the adjustment applied to TEE.
var goalFactors = map[string]float64{
	"cut":      0.8,
	"maintain": 1.0,
	"bulk":     1.15,
}

const (
	defaultActivity = 1.2
	defaultGoal     = 1.0

	proteinPerKG  = 2.0
	fatShare      = 0.25
	kcalPerGramPC = 4.0 // protein and carbs
	kcalPerGramF  = 9.0
)

// Metrics are the body inputs to ComputeTargets.
type Metrics struct {
	Gender        Gender
	WeightKG      float64
	HeightCM      float64
	AgeYears      int
	ActivityLevel string
	Goal          string
}

// BMR returns the Mifflin-St Jeor basal metabolic rate in kcal/day.
func BMR(m Metrics) float64 {
	bmr := 10*m.WeightKG + 6.25*m.HeightCM - 5*float64(m.AgeYears)
	if m.Gender == Male {
		return bmr + 5
	}
	return bmr - 161
}

// ActivityMultiplier returns the multiplier for level, or the sedentary one.
func ActivityMultiplier(level string) float64 {
	if mult, ok := activityMultipliers[level]; ok {
		return mult
	}
	return defaultActivity
}

// GoalFactor returns the calorie adjustment for goal, or the maintain one.
func GoalFactor(goal string) float64 {
	if f, ok := goalFactors[goal]; ok {
		return f
	}
	return defaultGoal
}

func IsKnownActivity(level string) bool {
	_, ok := activityMultipliers[level]
	return ok
}

func IsKnownGoal(goal string) bool {
	_, ok := goalFactors[goal]
	return ok
}

// ComputeTargets derives the daily targets. All four outputs are whole
// numbers; carbs are floored at zero when protein and fat already exceed the
// calorie budget.
func ComputeTargets(m Metrics) nutrition.Macros {
	tee := BMR(m) * ActivityMultiplier(m.ActivityLevel)
	calories := int(math.Round(tee * GoalFactor(m.Goal)))

	protein := math.Round(m.WeightKG * proteinPerKG)
	fat := math.Round(float64(calories) * fatShare / kcalPerGramF)
	carbs := math.Round((float64(calories) - protein*kcalPerGramPC - fat*kcalPerGramF) / kcalPerGramPC)
	if carbs < 0 {
		carbs = 0
	}

	return nutrition.Macros{
		Calories: calories,
		ProteinG: protein,
		FatG:     fat,
		CarbsG:   carbs,
	}
}
