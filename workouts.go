package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// monthRange returns [start, end) for a "YYYY-MM" month; empty means the
// month containing today.
func monthRange(month string, today time.Time) (time.Time, time.Time, error) {
	var start time.Time
	if month == "" {
		start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", month)
		}
		start = t
	}
	return start, start.AddDate(0, 1, 0), nil
}

// bestStreak is the longest run of consecutive days in dates, which must be
// sorted ascending and distinct.
func bestStreak(dates []time.Time) int {
	best, run := 0, 0
	for i, d := range dates {
		if i > 0 && d.Sub(dates[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// getWorkouts lists a month of workout days.
// GET /api/workouts?month=YYYY-MM (defaults to the current month).
func (h *Handler) getWorkouts(c *gin.Context) {
	start, end, err := monthRange(c.Query("month"), h.today())
	if err != nil {
		apiError(c, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := queryMany[workoutRow](c, h.db,
		`SELECT * FROM workouts
		 WHERE user_id = @userID AND workout_date >= @start AND workout_date < @end
		 ORDER BY workout_date`,
		pgx.NamedArgs{
			"userID": userID(c),
			"start":  start.Format(nutrition.DateLayout),
			"end":    end.Format(nutrition.DateLayout),
		})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch workouts", err)
		return
	}

	workouts := make([]nutrition.Workout, len(rows))
	for i, r := range rows {
		workouts[i] = r.toWorkout()
	}
	c.JSON(http.StatusOK, gin.H{"workouts": workouts})
}

// logWorkout creates or updates the workout for a date. Only a newly created
// completed day earns XP and counts towards the workout achievements.
// POST /api/workouts. The UNIQUE(user_id, workout_date) constraint means posting
// the same date updates in place.
func (h *Handler) logWorkout(c *gin.Context) {
	var req workoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, bindError(err))
		return
	}
	day, err := time.Parse(nutrition.DateLayout, req.Date)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid workout_date, expected YYYY-MM-DD")
		return
	}
	completed := req.Completed == nil || *req.Completed

	var out nutrition.WorkoutResult
	err = pgx.BeginFunc(c, h.db, func(tx pgx.Tx) error {
		u, err := lockUser(c, tx, userID(c))
		if err != nil {
			return err
		}
		args := pgx.NamedArgs{
			"userID":    u.ID,
			"date":      day.Format(nutrition.DateLayout),
			"completed": completed,
			"notes":     req.Notes,
			"xp":        0,
		}
		if completed {
			args["xp"] = workoutXP
		}

		created := true
		row, err := queryOne[workoutRow](c, tx,
			`INSERT INTO workouts (user_id, workout_date, completed, notes, xp_awarded)
			 VALUES (@userID, @date, @completed, @notes, @xp)
			 ON CONFLICT (user_id, workout_date) DO NOTHING
			 RETURNING *`, args)
		if errors.Is(err, pgx.ErrNoRows) {
			created = false
			row, err = queryOne[workoutRow](c, tx,
				`UPDATE workouts SET completed = @completed, notes = @notes
				 WHERE user_id = @userID AND workout_date = @date
				 RETURNING *`, args)
		}
		if err != nil {
			return err
		}

		g := newGrant(tx, "workout", u)
		if created && completed {
			g.award(workoutXP)
			var total int
			if err := tx.QueryRow(c,
				"SELECT COUNT(*) FROM workouts WHERE user_id = @userID AND completed",
				pgx.NamedArgs{"userID": u.ID}).Scan(&total); err != nil {
				return err
			}
			for _, t := range workoutThresholds {
				if total >= t.count {
					if err := g.unlock(c, t.code); err != nil {
						return err
					}
				}
			}
		}
		res, err := g.finish(c)
		if err != nil {
			return err
		}
		out = nutrition.WorkoutResult{Workout: row.toWorkout(), ActionResult: res}
		return nil
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to log workout", err)
		return
	}

	h.log().Info("workout_logged",
		zap.String("user_id", userID(c)),
		zap.String("date", out.Workout.Date),
		zap.Int("xp_awarded", out.XPAwarded),
	)
	c.JSON(http.StatusCreated, out)
}

// getWorkoutStats counts completed days over the last week and month, the
// best run of consecutive days and the total.
// GET /api/workouts/stats
func (h *Handler) getWorkoutStats(c *gin.Context) {
	rows, err := h.db.Query(c,
		`SELECT workout_date FROM workouts
		 WHERE user_id = @userID AND completed
		 ORDER BY workout_date`,
		pgx.NamedArgs{"userID": userID(c)})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch workout stats", err)
		return
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[DateOnly])
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch workout stats", err)
		return
	}
	dates := make([]time.Time, len(days))
	for i, d := range days {
		dates[i] = d.Time
	}
	c.JSON(http.StatusOK, workoutStats(dates, h.today()))
}

// workoutStats derives the stats from the sorted completed dates.
func workoutStats(dates []time.Time, today time.Time) nutrition.WorkoutStats {
	week, month := today.AddDate(0, 0, -7), today.AddDate(0, 0, -30)
	s := nutrition.WorkoutStats{Total: len(dates), BestStreak: bestStreak(dates)}
	for _, d := range dates {
		if !d.Before(week) {
			s.Last7Days++
		}
		if !d.Before(month) {
			s.Last30Days++
		}
	}
	return s
}
