package main

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

const recentFoodsLimit = 20

// statsPeriods maps the accepted stats periods to their length in days.
var statsPeriods = map[string]int{"7d": 7, "30d": 30}

// getDayLog returns the day's entries, their totals and the user's targets.
// GET /api/food/log?date=YYYY-MM-DD (defaults to today).
func (h *Handler) getDayLog(c *gin.Context) {
	uid := userID(c)
	day, err := h.parseDay(c.Query("date"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	rows, err := queryMany[foodLogRow](c, h.db,
		`SELECT * FROM food_log
		 WHERE user_id = @userID AND log_date = @date
		 ORDER BY logged_at`,
		pgx.NamedArgs{"userID": uid, "date": day.Format(nutrition.DateLayout)})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch entries", err)
		return
	}
	u, err := queryOne[user](c, h.db, "SELECT * FROM users WHERE id = @userID", pgx.NamedArgs{"userID": uid})
	if err != nil {
		h.fail(c, http.StatusNotFound, "user not found", err)
		return
	}

	entries := make([]nutrition.FoodEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	c.JSON(http.StatusOK, nutrition.DayLog{
		Date:    day.Format(nutrition.DateLayout),
		Entries: entries,
		Totals:  nutrition.SumEntries(entries),
		Targets: u.targets(),
	})
}

// createFoodEntry logs a food entry and applies its rewards: meal XP, the
// streak, the main-meals bonus and first_week.
// POST /api/food/log
func (h *Handler) createFoodEntry(c *gin.Context) {
	var req createFoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, bindError(err))
		return
	}
	day, err := h.parseDay(req.Date)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	if req.Meal == "" {
		req.Meal = nutrition.Snack
	}
	if req.Source == "" {
		req.Source = nutrition.SourceManual
	}
	if req.WeightG == 0 {
		req.WeightG = 100
	}
	var photoURL *string
	if req.PhotoURL != "" {
		photoURL = &req.PhotoURL
	}

	var out nutrition.CreateResult
	err = pgx.BeginFunc(c, h.db, func(tx pgx.Tx) error {
		u, err := lockUser(c, tx, userID(c))
		if err != nil {
			return err
		}
		row, err := queryOne[foodLogRow](c, tx,
			`INSERT INTO food_log (user_id, log_date, food_name, calories, protein_g, fat_g, carbs_g, weight_g, meal_type, source, photo_url)
			 VALUES (@userID, @date, @name, @calories, @proteinG, @fatG, @carbsG, @weightG, @meal, @source, @photoURL)
			 RETURNING *`,
			pgx.NamedArgs{
				"userID":   u.ID,
				"date":     day.Format(nutrition.DateLayout),
				"name":     req.Name,
				"calories": req.Calories,
				"proteinG": req.ProteinG,
				"fatG":     req.FatG,
				"carbsG":   req.CarbsG,
				"weightG":  req.WeightG,
				"meal":     string(req.Meal),
				"source":   string(req.Source),
				"photoURL": photoURL,
			})
		if err != nil {
			return err
		}

		g := newGrant(tx, "food_log", u)
		g.award(mealXP[req.Meal])
		if err := g.touchStreak(c, h.today()); err != nil {
			return err
		}

		logged, err := mealsLogged(c, tx, u.ID, day, row.ID)
		if err != nil {
			return err
		}
		if completesMainMeals(req.Meal, logged) {
			g.award(mainMealsBonusXP)
		}

		var days int
		if err := tx.QueryRow(c,
			"SELECT COUNT(DISTINCT log_date) FROM food_log WHERE user_id = @userID",
			pgx.NamedArgs{"userID": u.ID}).Scan(&days); err != nil {
			return err
		}
		if days >= firstWeekDays {
			if err := g.unlock(c, "first_week"); err != nil {
				return err
			}
		}

		res, err := g.finish(c)
		if err != nil {
			return err
		}
		out = nutrition.CreateResult{Entry: row.toEntry(), ActionResult: res}
		return nil
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to create entry", err)
		return
	}

	h.log().Info("food_logged",
		zap.String("user_id", userID(c)),
		zap.String("meal", string(req.Meal)),
		zap.Int("xp_awarded", out.XPAwarded),
		zap.Bool("level_up", out.LevelUp),
	)
	c.JSON(http.StatusCreated, out)
}

// mealsLogged returns the distinct meals of day, excluding entry except.
func mealsLogged(c *gin.Context, tx pgx.Tx, uid uuid.UUID, day time.Time, except uuid.UUID) ([]nutrition.Meal, error) {
	rows, err := tx.Query(c,
		`SELECT DISTINCT meal_type FROM food_log
		 WHERE user_id = @userID AND log_date = @date AND id <> @except`,
		pgx.NamedArgs{"userID": uid, "date": day.Format(nutrition.DateLayout), "except": except})
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	meals := make([]nutrition.Meal, len(names))
	for i, n := range names {
		meals[i] = nutrition.Meal(n)
	}
	return meals, nil
}

// updateFoodEntry partially updates an entry. It grants nothing.
// PUT /api/food/log/:id. Uses COALESCE so omitted fields keep their current value.
func (h *Handler) updateFoodEntry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusNotFound, "entry not found")
		return
	}
	var req updateFoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, bindError(err))
		return
	}
	if req.Date != nil && *req.Date == "" {
		req.Date = nil
	}
	if req.Date != nil {
		if _, err := time.Parse(nutrition.DateLayout, *req.Date); err != nil {
			apiError(c, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
	}
	var meal *string
	if req.Meal != nil {
		m := string(*req.Meal)
		meal = &m
	}

	row, err := queryOne[foodLogRow](c, h.db,
		`UPDATE food_log SET
			log_date  = COALESCE(@date, log_date),
			food_name = COALESCE(@name, food_name),
			calories  = COALESCE(@calories, calories),
			protein_g = COALESCE(@proteinG, protein_g),
			fat_g     = COALESCE(@fatG, fat_g),
			carbs_g   = COALESCE(@carbsG, carbs_g),
			weight_g  = COALESCE(@weightG, weight_g),
			meal_type = COALESCE(@meal, meal_type)
		 WHERE id = @id AND user_id = @userID
		 RETURNING *`,
		pgx.NamedArgs{
			"id":       id,
			"userID":   userID(c),
			"date":     req.Date,
			"name":     req.Name,
			"calories": req.Calories,
			"proteinG": req.ProteinG,
			"fatG":     req.FatG,
			"carbsG":   req.CarbsG,
			"weightG":  req.WeightG,
			"meal":     meal,
		})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			apiError(c, http.StatusNotFound, "entry not found")
		} else {
			h.fail(c, http.StatusInternalServerError, "failed to update entry", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": row.toEntry()})
}

// deleteFoodEntry removes an entry by ID.
// DELETE /api/food/log/:id. Returns 204 on success, 404 if not found.
// Ownership is enforced by requiring both id and user_id to match.
func (h *Handler) deleteFoodEntry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusNotFound, "entry not found")
		return
	}

	result, err := h.db.Exec(c,
		"DELETE FROM food_log WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": id, "userID": userID(c)})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to delete entry", err)
		return
	}
	if result.RowsAffected() == 0 {
		apiError(c, http.StatusNotFound, "entry not found")
		return
	}

	c.Status(http.StatusNoContent)
}

// getRecentFoods returns the user's last distinct foods, newest first.
// GET /api/food/recent
func (h *Handler) getRecentFoods(c *gin.Context) {
	rows, err := queryMany[foodLogRow](c, h.db,
		`SELECT * FROM food_log WHERE user_id = @userID
		 ORDER BY logged_at DESC LIMIT @limit`,
		pgx.NamedArgs{"userID": userID(c), "limit": recentFoodsLimit})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch recent foods", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recentItems(rows)})
}

// recentItems keeps the first row of every food name.
func recentItems(rows []foodLogRow) []nutrition.FoodItem {
	seen := make(map[string]bool, len(rows))
	items := []nutrition.FoodItem{}
	for _, r := range rows {
		if seen[r.FoodName] {
			continue
		}
		seen[r.FoodName] = true
		items = append(items, nutrition.FoodItem{
			Name:     r.FoodName,
			Calories: float64(r.Calories),
			Protein:  r.ProteinG,
			Fat:      r.FatG,
			Carbs:    r.CarbsG,
			WeightG:  r.WeightG,
		})
	}
	return items
}

// getFoodStats returns per-day sums and their averages over a period.
// GET /api/food/stats?period=7d|30d (defaults to 7d).
func (h *Handler) getFoodStats(c *gin.Context) {
	period := c.DefaultQuery("period", "7d")
	days, ok := statsPeriods[period]
	if !ok {
		apiError(c, http.StatusBadRequest, "period must be one of: 7d, 30d")
		return
	}
	start := h.today().AddDate(0, 0, -days)

	rows, err := queryMany[dayTotalRow](c, h.db,
		`SELECT
			log_date                        AS date,
			COALESCE(SUM(calories), 0)::int AS calories,
			COALESCE(SUM(protein_g), 0)     AS protein_g,
			COALESCE(SUM(fat_g),     0)     AS fat_g,
			COALESCE(SUM(carbs_g),   0)     AS carbs_g
		 FROM food_log
		 WHERE user_id = @userID AND log_date >= @start
		 GROUP BY log_date
		 ORDER BY log_date`,
		pgx.NamedArgs{"userID": userID(c), "start": start.Format(nutrition.DateLayout)})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch stats", err)
		return
	}
	c.JSON(http.StatusOK, summarize(rows))
}

// summarize rounds each day to one decimal and averages over the days that
// have entries.
func summarize(rows []dayTotalRow) nutrition.Stats {
	out := nutrition.Stats{Daily: make([]nutrition.DayTotal, 0, len(rows))}
	if len(rows) == 0 {
		return out
	}
	var sum nutrition.Macros
	for _, r := range rows {
		m := nutrition.Macros{
			Calories: r.Calories,
			ProteinG: nutrition.RoundTenth(r.ProteinG),
			FatG:     nutrition.RoundTenth(r.FatG),
			CarbsG:   nutrition.RoundTenth(r.CarbsG),
		}
		out.Daily = append(out.Daily, nutrition.DayTotal{Date: r.Date.String(), Macros: m})
		sum.Calories += m.Calories
		sum.ProteinG += m.ProteinG
		sum.FatG += m.FatG
		sum.CarbsG += m.CarbsG
	}
	n := float64(len(rows))
	out.Average = nutrition.Macros{
		Calories: int(math.Round(float64(sum.Calories) / n)),
		ProteinG: nutrition.RoundTenth(sum.ProteinG / n),
		FatG:     nutrition.RoundTenth(sum.FatG / n),
		CarbsG:   nutrition.RoundTenth(sum.CarbsG / n),
	}
	return out
}
