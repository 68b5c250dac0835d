// Package gamify mirrors the player's progression (level, XP, streak, daily
// bonus, achievements) as reported by the authority and turns action results
// into a non-overlapping sequence of celebrations.
//
// The engine never awards anything on its own. It reflects the authority's
// answers and only falls back to the local XP curve when a response carries
// no progress snapshot.
package gamify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/leveling"
	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// DailyBonusXP is shown when the authority accepts a bonus claim without
// reporting the amount.
const DailyBonusXP = 10

// ProfileSource is the part of the authority the engine talks to.
type ProfileSource interface {
	FetchProfile(ctx context.Context) (nutrition.Profile, error)
	ClaimDailyBonus(ctx context.Context) (nutrition.BonusResult, error)
}

// State is a read-only snapshot of the engine.
type State struct {
	Level             int
	XP                int
	XPToNext          int
	StreakDays        int
	MaxStreak         int
	DailyBonusClaimed bool
	Achievements      []nutrition.Achievement
}

// Earned reports whether the achievement with code has been unlocked.
func (s State) Earned(code string) bool {
	for _, a := range s.Achievements {
		if a.Code == code {
			return a.Earned
		}
	}
	return false
}

// Engine is the gamification state machine. It is safe for concurrent use.
type Engine struct {
	src    ProfileSource
	sched  *Scheduler
	clock  clockwork.Clock
	loc    *time.Location
	logger *zap.Logger

	mu           sync.Mutex
	level        int
	xp           int
	xpToNext     int
	streak       int
	maxStreak    int
	bonusDay     string
	achievements []nutrition.Achievement
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the clock used for day rollover and earned_at stamps.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocation sets the time zone in which the daily bonus resets.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// NewEngine creates an engine at level 1 with no progress. Call FetchProfile
// to load the authority's view.
func NewEngine(src ProfileSource, sched *Scheduler, opts ...Option) *Engine {
	e := &Engine{
		src:      src,
		sched:    sched,
		clock:    clockwork.NewRealClock(),
		loc:      time.Local,
		logger:   zap.NewNop(),
		level:    1,
		xpToNext: leveling.XPThreshold(1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scheduler returns the celebration timeline the engine feeds.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Level:             e.level,
		XP:                e.xp,
		XPToNext:          e.xpToNext,
		StreakDays:        e.streak,
		MaxStreak:         e.maxStreak,
		DailyBonusClaimed: e.bonusDay != "" && e.bonusDay == e.todayLocked(),
		Achievements:      append([]nutrition.Achievement(nil), e.achievements...),
	}
}

// FetchProfile replaces the mirrored state with the authority's. It never
// schedules celebrations. Achievements already earned locally stay earned and
// max_streak never decreases.
func (e *Engine) FetchProfile(ctx context.Context) error {
	p, err := e.src.FetchProfile(ctx)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = p.Level
	e.xp = p.XP
	e.xpToNext = p.XPToNext
	if e.xpToNext == 0 {
		e.xpToNext = leveling.XPThreshold(p.Level)
	}
	e.streak = p.StreakDays
	e.maxStreak = max(e.maxStreak, p.MaxStreak, p.StreakDays)

	earned := make(map[string]nutrition.Achievement)
	for _, a := range e.achievements {
		if a.Earned {
			earned[a.Code] = a
		}
	}
	e.achievements = e.achievements[:0]
	for _, a := range p.Achievements {
		if prev, ok := earned[a.Code]; ok && !a.Earned {
			a.Earned, a.EarnedAt = true, prev.EarnedAt
		}
		delete(earned, a.Code)
		e.achievements = append(e.achievements, a)
	}
	for _, a := range earned {
		e.achievements = append(e.achievements, a)
	}

	e.logger.Debug("profile_loaded",
		zap.Int("level", e.level),
		zap.Int("xp", e.xp),
		zap.Int("streak_days", e.streak),
	)
	return nil
}

// ClaimDailyBonus asks the authority for today's bonus. A repeat claim marks
// the flag and schedules nothing. Achievements the grant unlocked celebrate
// after the XP gain and the level-up. On failure the state is unchanged.
func (e *Engine) ClaimDailyBonus(ctx context.Context) (nutrition.BonusResult, error) {
	res, err := e.src.ClaimDailyBonus(ctx)
	if err != nil {
		return nutrition.BonusResult{}, fmt.Errorf("claim daily bonus: %w", err)
	}

	e.mu.Lock()
	e.bonusDay = e.todayLocked()
	if res.AlreadyClaimed {
		e.mu.Unlock()
		e.logger.Debug("daily_bonus_already_claimed")
		return res, nil
	}
	amount := res.XPAwarded
	if amount <= 0 {
		amount = DailyBonusXP
	}
	e.advanceLocked(amount, res.Progress)
	items := []Item{{Kind: KindXPGain, Amount: amount}}
	if res.LevelUp {
		items = append(items, Item{Kind: KindLevelUp, Level: e.level})
	}
	for _, a := range res.AchievementsUnlocked {
		if merged, fresh := e.unlockLocked(a); fresh {
			items = append(items, Item{Kind: KindAchievement, Achievement: &merged})
		}
	}
	e.mu.Unlock()

	e.sched.Enqueue(items...)
	e.logger.Info("daily_bonus_claimed",
		zap.Int("xp", amount),
		zap.Bool("level_up", res.LevelUp),
		zap.Int("achievements", len(res.AchievementsUnlocked)),
	)
	return res, nil
}

// ApplyActionResult merges the deltas of an XP-granting action and schedules
// its celebrations: the XP gain first, then the level-up, then one toast per
// newly unlocked achievement.
func (e *Engine) ApplyActionResult(r nutrition.ActionResult) []Celebration {
	e.mu.Lock()
	if r.XPAwarded > 0 || r.Progress != nil {
		e.advanceLocked(r.XPAwarded, r.Progress)
	}
	if r.Streak != nil {
		e.streak = r.Streak.Days
		e.maxStreak = max(e.maxStreak, e.streak)
	}

	var items []Item
	if r.XPAwarded > 0 {
		items = append(items, Item{Kind: KindXPGain, Amount: r.XPAwarded})
	}
	if r.LevelUp {
		items = append(items, Item{Kind: KindLevelUp, Level: e.level})
	}
	for _, a := range r.AchievementsUnlocked {
		if merged, fresh := e.unlockLocked(a); fresh {
			items = append(items, Item{Kind: KindAchievement, Achievement: &merged})
		}
	}
	e.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	return e.sched.Enqueue(items...)
}

// Close tears down the celebration timeline.
func (e *Engine) Close() {
	e.sched.Close()
}

// advanceLocked mirrors the authority's progress snapshot, or runs the XP
// curve locally when there is none.
func (e *Engine) advanceLocked(amount int, p *nutrition.Progress) {
	if p != nil {
		e.level, e.xp, e.xpToNext = p.Level, p.XP, p.XPToNext
		if e.xpToNext == 0 {
			e.xpToNext = leveling.XPThreshold(p.Level)
		}
		return
	}
	e.level, e.xp, e.xpToNext, _ = leveling.Apply(e.level, e.xp, amount)
}

// unlockLocked marks a as earned. It reports false when the code was
// already earned, so the same unlock never celebrates twice.
func (e *Engine) unlockLocked(a nutrition.Achievement) (nutrition.Achievement, bool) {
	a.Earned = true
	if a.EarnedAt == nil {
		now := e.clock.Now()
		a.EarnedAt = &now
	}
	for i, have := range e.achievements {
		if have.Code != a.Code {
			continue
		}
		if have.Earned {
			return have, false
		}
		e.achievements[i] = a
		return a, true
	}
	e.achievements = append(e.achievements, a)
	return a, true
}

func (e *Engine) todayLocked() string {
	return e.clock.Now().In(e.loc).Format(nutrition.DateLayout)
}
