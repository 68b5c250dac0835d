package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// weightPeriods maps history periods to their length in days; "all" is ten years.
var weightPeriods = map[string]int{"30d": 30, "90d": 90, "all": 3650}

// historyStart returns the first day included in period, or false for an
// unknown period.
func historyStart(period string, today time.Time) (time.Time, bool) {
	days, ok := weightPeriods[period]
	if !ok {
		return time.Time{}, false
	}
	return today.AddDate(0, 0, -days), true
}

// getWeightHistory returns weigh-ins for a period, oldest first.
// GET /api/weight/history?period=30d|90d|all (defaults to 30d).
// Returns an empty array (not null) if no entries exist in the range.
func (h *Handler) getWeightHistory(c *gin.Context) {
	start, ok := historyStart(c.DefaultQuery("period", "30d"), h.today())
	if !ok {
		apiError(c, http.StatusBadRequest, "period must be one of: 30d, 90d, all")
		return
	}

	rows, err := queryMany[weightRow](c, h.db,
		`SELECT * FROM weight_log
		 WHERE user_id = @userID AND logged_date >= @start
		 ORDER BY logged_date ASC`,
		pgx.NamedArgs{"userID": userID(c), "start": start.Format(nutrition.DateLayout)})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch weight log", err)
		return
	}

	entries := make([]nutrition.WeightEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// logWeight creates or updates the weigh-in for a date, updates the profile
// weight, grants XP and checks goal_reached.
// POST /api/weight/log. Body: { "logged_date"?: "YYYY-MM-DD", "weight_kg": 80.5 }.
// The UNIQUE(user_id, logged_date) constraint means posting the same date updates in place.
func (h *Handler) logWeight(c *gin.Context) {
	var req weightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, bindError(err))
		return
	}
	day, err := h.parseDay(req.Date)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid logged_date, expected YYYY-MM-DD")
		return
	}

	var out nutrition.WeightResult
	err = pgx.BeginFunc(c, h.db, func(tx pgx.Tx) error {
		u, err := lockUser(c, tx, userID(c))
		if err != nil {
			return err
		}
		row, err := queryOne[weightRow](c, tx,
			`INSERT INTO weight_log (user_id, logged_date, weight_kg)
			 VALUES (@userID, @date, @weightKG)
			 ON CONFLICT (user_id, logged_date) DO UPDATE SET weight_kg = EXCLUDED.weight_kg
			 RETURNING *`,
			pgx.NamedArgs{"userID": u.ID, "date": day.Format(nutrition.DateLayout), "weightKG": req.WeightKG})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(c, "UPDATE users SET weight_kg = @weightKG WHERE id = @userID",
			pgx.NamedArgs{"userID": u.ID, "weightKG": req.WeightKG}); err != nil {
			return err
		}

		g := newGrant(tx, "weight_log", u)
		g.award(weightXP)
		if goalReached(req.WeightKG, u.TargetWeightKG) {
			if err := g.unlock(c, "goal_reached"); err != nil {
				return err
			}
		}
		res, err := g.finish(c)
		if err != nil {
			return err
		}
		out = nutrition.WeightResult{Entry: row.toEntry(), ActionResult: res}
		return nil
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to log weight", err)
		return
	}

	h.log().Info("weight_logged",
		zap.String("user_id", userID(c)),
		zap.String("date", out.Entry.Date),
		zap.Float64("weight_kg", out.Entry.WeightKG),
	)
	c.JSON(http.StatusCreated, out)
}

// deleteWeightEntry removes a weigh-in by ID.
// DELETE /api/weight/log/:id. Returns 204 on success, 404 if not found.
// Ownership is enforced by requiring both id and user_id to match.
func (h *Handler) deleteWeightEntry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusNotFound, "weight entry not found")
		return
	}

	result, err := h.db.Exec(c,
		"DELETE FROM weight_log WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": id, "userID": userID(c)})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to delete weight entry", err)
		return
	}
	if result.RowsAffected() == 0 {
		apiError(c, http.StatusNotFound, "weight entry not found")
		return
	}

	c.Status(http.StatusNoContent)
}
