package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/norms"
)

// getMe returns the authenticated user's account and daily targets.
// GET /api/me
func (h *Handler) getMe(c *gin.Context) {
	u, err := queryOne[user](c, h.db, "SELECT * FROM users WHERE id = @userID",
		pgx.NamedArgs{"userID": userID(c)})
	if err != nil {
		h.fail(c, http.StatusNotFound, "user not found", err)
		return
	}
	c.JSON(http.StatusOK, u.toAPI())
}

// updateProfile stores body metrics, recomputes the daily targets from them
// and marks onboarding complete.
// PUT /api/profile
func (h *Handler) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, bindError(err))
		return
	}

	t := norms.ComputeTargets(norms.Metrics{
		Gender:        norms.Gender(req.Gender),
		WeightKG:      req.WeightKG,
		HeightCM:      req.HeightCM,
		AgeYears:      req.AgeYears,
		ActivityLevel: req.ActivityLevel,
		Goal:          req.Goal,
	})

	u, err := queryOne[user](c, h.db,
		`UPDATE users SET
			gender               = @gender,
			age                  = @age,
			height_cm            = @heightCM,
			weight_kg            = @weightKG,
			target_weight_kg     = @targetWeightKG,
			activity_level       = @activityLevel,
			goal                 = @goal,
			daily_calories       = @calories,
			daily_protein_g      = @protein,
			daily_fat_g          = @fat,
			daily_carbs_g        = @carbs,
			onboarding_completed = TRUE
		 WHERE id = @userID
		 RETURNING *`,
		pgx.NamedArgs{
			"userID":         userID(c),
			"gender":         req.Gender,
			"age":            req.AgeYears,
			"heightCM":       req.HeightCM,
			"weightKG":       req.WeightKG,
			"targetWeightKG": req.TargetWeightKG,
			"activityLevel":  req.ActivityLevel,
			"goal":           req.Goal,
			"calories":       t.Calories,
			"protein":        int(t.ProteinG),
			"fat":            int(t.FatG),
			"carbs":          int(t.CarbsG),
		})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to update profile", err)
		return
	}

	h.log().Info("profile_updated",
		zap.String("user_id", userID(c)),
		zap.Int("daily_calories", t.Calories),
	)
	c.JSON(http.StatusOK, u.toAPI())
}
