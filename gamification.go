package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/leveling"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

/* ─── Rules ──────────────────────────────────────────────────────────── */

const (
	mainMealsBonusXP = 50
	workoutXP        = 40
	photoXP          = 15
	weightXP         = 10
	dailyBonusXP     = 10

	// goalTolerance is how close (kg) a weigh-in must be to the target weight.
	goalTolerance = 0.5
	// firstWeekDays is the number of distinct logging days for first_week.
	firstWeekDays = 7
)

// mealXP is granted for every food entry.
var mealXP = map[nutrition.Meal]int{
	nutrition.Breakfast: 15,
	nutrition.Lunch:     15,
	nutrition.Dinner:    15,
	nutrition.Snack:     10,
}

var mainMeals = []nutrition.Meal{nutrition.Breakfast, nutrition.Lunch, nutrition.Dinner}

type achievementDef struct {
	Code        string
	Name        string
	Description string
	Icon        string
	XP          int
}

// achievementDefs is the catalogue, in display order.
var achievementDefs = []achievementDef{
	{"streak_7", "Неделя без пропусков", "Стрик 7 дней", "🔥", 100},
	{"streak_30", "Месяц дисциплины", "Стрик 30 дней", "💪", 300},
	{"streak_100", "Легенда", "Стрик 100 дней", "🏆", 500},
	{"first_photo", "ИИ-фотограф", "Первый анализ фото", "📸", 100},
	{"first_week", "Первая неделя", "7 дней логирования питания", "📅", 100},
	{"workouts_10", "Начинающий атлет", "10 тренировок", "🏃", 100},
	{"workouts_50", "Спортсмен", "50 тренировок", "🏋️", 200},
	{"workouts_100", "Железный человек", "100 тренировок", "🦾", 300},
	{"goal_reached", "Цель достигнута", "Достиг целевого веса", "🎯", 500},
	{"level_10", "Про", "Достиг 10 уровня", "⭐", 300},
}

func findAchievement(code string) (achievementDef, bool) {
	for _, d := range achievementDefs {
		if d.Code == code {
			return d, true
		}
	}
	return achievementDef{}, false
}

func (d achievementDef) earned(at time.Time) nutrition.Achievement {
	return nutrition.Achievement{
		Code:        d.Code,
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.Icon,
		Earned:      true,
		EarnedAt:    &at,
	}
}

var streakThresholds = []struct {
	days int
	code string
}{{7, "streak_7"}, {30, "streak_30"}, {100, "streak_100"}}

var workoutThresholds = []struct {
	count int
	code  string
}{{10, "workouts_10"}, {50, "workouts_50"}, {100, "workouts_100"}}

// nextStreak applies a qualifying action on today to a streak last counted on
// last (zero when never). The streak grows by one after yesterday, restarts at
// one after a gap and is left alone when today was already counted.
func nextStreak(current int, last, today time.Time) (days int, updated bool) {
	if !last.IsZero() {
		switch today.Sub(last) {
		case 0:
			return current, false
		case 24 * time.Hour:
			return current + 1, true
		}
	}
	return 1, true
}

// completesMainMeals reports whether logging meal makes the day's set of main
// meals complete for the first time. logged holds the meals already present
// that day before this entry.
func completesMainMeals(meal nutrition.Meal, logged []nutrition.Meal) bool {
	have := make(map[nutrition.Meal]bool, len(logged))
	for _, m := range logged {
		have[m] = true
	}
	if have[meal] {
		return false
	}
	have[meal] = true
	for _, m := range mainMeals {
		if !have[m] {
			return false
		}
	}
	return true
}

func goalReached(weightKG float64, target *float64) bool {
	if target == nil || *target <= 0 {
		return false
	}
	diff := weightKG - *target
	return diff <= goalTolerance && diff >= -goalTolerance
}

/* ─── Grant ──────────────────────────────────────────────────────────── */

// grant accumulates the gamification effects of one action inside a
// transaction that holds the user row lock. finish persists them.
type grant struct {
	tx     pgx.Tx
	action string
	u      user

	awarded  int
	levelUp  bool
	streak   *nutrition.Streak
	unlocked []nutrition.Achievement
}

// lockUser loads the user row FOR UPDATE so concurrent actions serialize.
func lockUser(ctx context.Context, tx pgx.Tx, id string) (user, error) {
	return queryOne[user](ctx, tx,
		"SELECT * FROM users WHERE id = @userID FOR UPDATE",
		pgx.NamedArgs{"userID": id})
}

func newGrant(tx pgx.Tx, action string, u user) *grant {
	return &grant{tx: tx, action: action, u: u}
}

// award adds XP, carrying it across level thresholds.
func (g *grant) award(amount int) {
	if amount <= 0 {
		return
	}
	var up bool
	g.u.Level, g.u.XP, g.u.XPToNext, up = leveling.Apply(g.u.Level, g.u.XP, amount)
	g.awarded += amount
	g.levelUp = g.levelUp || up
}

// unlock records code once. An achievement the user already has is a no-op.
func (g *grant) unlock(ctx context.Context, code string) error {
	def, ok := findAchievement(code)
	if !ok {
		return fmt.Errorf("unknown achievement %q", code)
	}
	var at time.Time
	err := g.tx.QueryRow(ctx,
		`INSERT INTO achievements (user_id, code) VALUES (@userID, @code)
		 ON CONFLICT (user_id, code) DO NOTHING
		 RETURNING achieved_at`,
		pgx.NamedArgs{"userID": g.u.ID, "code": code}).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unlock %s: %w", code, err)
	}
	g.unlocked = append(g.unlocked, def.earned(at))
	g.award(def.XP)
	achievementsUnlocked.WithLabelValues(code).Inc()
	return nil
}

// touchStreak counts today towards the streak.
func (g *grant) touchStreak(ctx context.Context, today time.Time) error {
	var last time.Time
	if g.u.LastStreakDate != nil {
		last = g.u.LastStreakDate.Time
	}
	days, updated := nextStreak(g.u.StreakDays, last, today)
	g.streak = &nutrition.Streak{Days: days, Updated: updated}
	if !updated {
		return nil
	}
	g.u.StreakDays = days
	g.u.LastStreakDate = &DateOnly{today}
	if days > g.u.MaxStreakDays {
		g.u.MaxStreakDays = days
	}
	for _, t := range streakThresholds {
		if days >= t.days {
			if err := g.unlock(ctx, t.code); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish checks the level achievement, writes the user row and returns the
// action's deltas.
func (g *grant) finish(ctx context.Context) (nutrition.ActionResult, error) {
	if g.u.Level >= 10 {
		if err := g.unlock(ctx, "level_10"); err != nil {
			return nutrition.ActionResult{}, err
		}
	}
	_, err := g.tx.Exec(ctx,
		`UPDATE users SET
			level            = @level,
			xp               = @xp,
			xp_to_next       = @xpToNext,
			streak_days      = @streakDays,
			max_streak_days  = @maxStreakDays,
			last_streak_date = @lastStreakDate,
			last_bonus_date  = @lastBonusDate
		 WHERE id = @userID`,
		pgx.NamedArgs{
			"userID":         g.u.ID,
			"level":          g.u.Level,
			"xp":             g.u.XP,
			"xpToNext":       g.u.XPToNext,
			"streakDays":     g.u.StreakDays,
			"maxStreakDays":  g.u.MaxStreakDays,
			"lastStreakDate": dateArg(g.u.LastStreakDate),
			"lastBonusDate":  dateArg(g.u.LastBonusDate),
		})
	if err != nil {
		return nutrition.ActionResult{}, fmt.Errorf("save progress: %w", err)
	}
	if g.awarded > 0 {
		xpAwarded.WithLabelValues(g.action).Add(float64(g.awarded))
	}
	unlocked := g.unlocked
	if unlocked == nil {
		unlocked = []nutrition.Achievement{}
	}
	return nutrition.ActionResult{
		XPAwarded:            g.awarded,
		LevelUp:              g.levelUp,
		Streak:               g.streak,
		AchievementsUnlocked: unlocked,
		Progress:             g.u.progress(),
	}, nil
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

// getGamificationProfile returns level, XP, streak and the full achievement
// catalogue with earned flags.
// GET /api/gamification/profile
func (h *Handler) getGamificationProfile(c *gin.Context) {
	uid := userID(c)
	u, err := queryOne[user](c, h.db, "SELECT * FROM users WHERE id = @userID", pgx.NamedArgs{"userID": uid})
	if err != nil {
		h.fail(c, http.StatusNotFound, "user not found", err)
		return
	}
	earned, err := queryMany[achievementRow](c, h.db,
		"SELECT code, achieved_at FROM achievements WHERE user_id = @userID",
		pgx.NamedArgs{"userID": uid})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to fetch achievements", err)
		return
	}

	c.JSON(http.StatusOK, nutrition.Profile{
		Level:        u.Level,
		XP:           u.XP,
		XPToNext:     u.XPToNext,
		StreakDays:   u.StreakDays,
		MaxStreak:    u.MaxStreakDays,
		Achievements: achievementCatalogue(earned),
	})
}

// achievementCatalogue lists every defined achievement, marking the earned ones.
func achievementCatalogue(earned []achievementRow) []nutrition.Achievement {
	at := make(map[string]time.Time, len(earned))
	for _, r := range earned {
		at[r.Code] = r.AchievedAt
	}
	out := make([]nutrition.Achievement, 0, len(achievementDefs))
	for _, d := range achievementDefs {
		if t, ok := at[d.Code]; ok {
			out = append(out, d.earned(t))
			continue
		}
		out = append(out, nutrition.Achievement{
			Code:        d.Code,
			Name:        d.Name,
			Description: d.Description,
			Icon:        d.Icon,
		})
	}
	return out
}

// bonusResult reports a granted bonus. XPAwarded covers everything the grant
// awarded, so it includes the XP of any achievement the bonus unlocked and
// those achievements are listed alongside it.
func bonusResult(res nutrition.ActionResult) nutrition.BonusResult {
	return nutrition.BonusResult{
		XPAwarded:            res.XPAwarded,
		LevelUp:              res.LevelUp,
		AchievementsUnlocked: res.AchievementsUnlocked,
		Progress:             res.Progress,
	}
}

// claimDailyBonus grants the once-per-day bonus. A repeat claim on the same
// day succeeds with already_claimed and no XP.
// POST /api/gamification/daily-bonus
func (h *Handler) claimDailyBonus(c *gin.Context) {
	today := h.today()
	var out nutrition.BonusResult
	err := pgx.BeginFunc(c, h.db, func(tx pgx.Tx) error {
		u, err := lockUser(c, tx, userID(c))
		if err != nil {
			return err
		}
		if u.LastBonusDate != nil && u.LastBonusDate.Time.Equal(today) {
			out = nutrition.BonusResult{
				AlreadyClaimed:       true,
				AchievementsUnlocked: []nutrition.Achievement{},
				Progress:             u.progress(),
			}
			return nil
		}
		u.LastBonusDate = &DateOnly{today}
		g := newGrant(tx, "daily_bonus", u)
		g.award(dailyBonusXP)
		res, err := g.finish(c)
		if err != nil {
			return err
		}
		out = bonusResult(res)
		return nil
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to claim daily bonus", err)
		return
	}
	h.log().Info("daily_bonus",
		zap.String("user_id", userID(c)),
		zap.Bool("already_claimed", out.AlreadyClaimed),
		zap.Int("xp_awarded", out.XPAwarded),
	)
	c.JSON(http.StatusOK, out)
}
