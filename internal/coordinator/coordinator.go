// Package coordinator runs every user action that changes nutrition or
// progression state. Each action checks only the obvious local
// preconditions, calls the authority, and on success settles the ledger and
// the gamification engine concurrently. An action returns once both merges
// are done; on failure neither is touched.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gpttwilight-hash/nutribot/internal/gamify"
	"github.com/gpttwilight-hash/nutribot/internal/ledger"
	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// Authority covers the XP-granting calls that do not go through the ledger.
type Authority interface {
	LogWorkout(ctx context.Context, d nutrition.WorkoutDraft) (nutrition.WorkoutResult, error)
	AnalyzePhoto(ctx context.Context, filename string, image []byte) (nutrition.PhotoResult, error)
	LogWeight(ctx context.Context, d nutrition.WeightDraft) (nutrition.WeightResult, error)
}

// Outcome is a settled action: what the authority returned and which
// celebrations it produced.
type Outcome struct {
	Result       nutrition.ActionResult
	Celebrations []gamify.Celebration
}

type Coordinator struct {
	ledger *ledger.Ledger
	engine *gamify.Engine
	auth   Authority
	logger *zap.Logger
}

func New(l *ledger.Ledger, e *gamify.Engine, auth Authority, logger *zap.Logger) *Coordinator {
	return &Coordinator{ledger: l, engine: e, auth: auth, logger: logging.OrNop(logger)}
}

// Ledger returns the day ledger the coordinator drives.
func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

// Engine returns the gamification engine the coordinator drives.
func (c *Coordinator) Engine() *gamify.Engine { return c.engine }

// SelectDay switches the ledger to date and loads it.
func (c *Coordinator) SelectDay(ctx context.Context, date string) error {
	if _, err := time.Parse(nutrition.DateLayout, date); err != nil {
		return nutrition.Rejected("date %q is not YYYY-MM-DD", date)
	}
	return c.ledger.LoadDay(ctx, date)
}

// LogFood creates a food entry. When the create succeeds but the refresh
// fails, the entry and its celebrations are still returned with the refresh
// error.
func (c *Coordinator) LogFood(ctx context.Context, draft nutrition.EntryDraft) (nutrition.FoodEntry, Outcome, error) {
	res, err := c.ledger.Create(ctx, draft)
	if err != nil {
		return nutrition.FoodEntry{}, Outcome{}, err
	}
	out, err := c.settle(ctx, res.ActionResult, true)
	c.logger.Info("food_logged",
		zap.String("id", res.Entry.ID),
		zap.String("meal", string(res.Entry.Meal)),
		zap.Int("calories", res.Entry.Calories),
		zap.Int("xp_awarded", res.XPAwarded),
	)
	return res.Entry, out, err
}

// DeleteFood removes an entry. Deletes grant nothing, so only the ledger
// settles.
func (c *Coordinator) DeleteFood(ctx context.Context, id string) error {
	if id == "" {
		return nutrition.Rejected("entry id is required")
	}
	if err := c.ledger.DeleteEntry(ctx, id); err != nil {
		return err
	}
	c.logger.Info("food_deleted", zap.String("id", id))
	return nil
}

// LogWorkout records a training day. Workouts are not part of the food log,
// so only the gamification engine settles.
func (c *Coordinator) LogWorkout(ctx context.Context, d nutrition.WorkoutDraft) (nutrition.Workout, Outcome, error) {
	if _, err := time.Parse(nutrition.DateLayout, d.Date); err != nil {
		return nutrition.Workout{}, Outcome{}, nutrition.Rejected("workout date %q is not YYYY-MM-DD", d.Date)
	}
	res, err := c.auth.LogWorkout(ctx, d)
	if err != nil {
		return nutrition.Workout{}, Outcome{}, fmt.Errorf("log workout: %w", err)
	}
	out, err := c.settle(ctx, res.ActionResult, false)
	c.logger.Info("workout_logged",
		zap.String("date", res.Workout.Date),
		zap.Bool("completed", res.Workout.Completed),
		zap.Int("xp_awarded", res.XPAwarded),
	)
	return res.Workout, out, err
}

// LogWeight records a weigh-in. Like workouts it only settles the engine.
func (c *Coordinator) LogWeight(ctx context.Context, d nutrition.WeightDraft) (nutrition.WeightEntry, Outcome, error) {
	if d.WeightKG <= 0 {
		return nutrition.WeightEntry{}, Outcome{}, nutrition.Rejected("weight_kg must be positive")
	}
	if d.Date != "" {
		if _, err := time.Parse(nutrition.DateLayout, d.Date); err != nil {
			return nutrition.WeightEntry{}, Outcome{}, nutrition.Rejected("weigh-in date %q is not YYYY-MM-DD", d.Date)
		}
	}
	res, err := c.auth.LogWeight(ctx, d)
	if err != nil {
		return nutrition.WeightEntry{}, Outcome{}, fmt.Errorf("log weight: %w", err)
	}
	out, err := c.settle(ctx, res.ActionResult, false)
	c.logger.Info("weight_logged", zap.String("date", res.Entry.Date), zap.Float64("weight_kg", res.Entry.WeightKG))
	return res.Entry, out, err
}

// AnalyzePhoto sends a meal photo for recognition. The estimate is returned
// as is, low confidence included; callers check LowConfidence and turn it
// into an entry with LogFood.
func (c *Coordinator) AnalyzePhoto(ctx context.Context, filename string, image []byte) (nutrition.PhotoEstimate, Outcome, error) {
	if len(image) == 0 {
		return nutrition.PhotoEstimate{}, Outcome{}, nutrition.Rejected("photo is empty")
	}
	res, err := c.auth.AnalyzePhoto(ctx, filename, image)
	if err != nil {
		return nutrition.PhotoEstimate{}, Outcome{}, fmt.Errorf("analyze photo: %w", err)
	}
	out, err := c.settle(ctx, res.ActionResult, false)
	if res.Estimate.LowConfidence() {
		c.logger.Warn("photo_low_confidence",
			zap.String("dish", res.Estimate.DishName),
			zap.Float64("confidence", res.Estimate.Confidence),
		)
	}
	return res.Estimate, out, err
}

// ClaimDailyBonus claims today's bonus through the engine.
func (c *Coordinator) ClaimDailyBonus(ctx context.Context) (nutrition.BonusResult, error) {
	return c.engine.ClaimDailyBonus(ctx)
}

// Close tears down the celebration timeline.
func (c *Coordinator) Close() {
	c.engine.Close()
}

// settle merges r into the engine and, when refresh is set, re-fetches the
// selected day at the same time. It waits for both.
func (c *Coordinator) settle(ctx context.Context, r nutrition.ActionResult, refresh bool) (Outcome, error) {
	out := Outcome{Result: r}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.Celebrations = c.engine.ApplyActionResult(r)
		return nil
	})
	if refresh {
		g.Go(func() error {
			if err := c.ledger.Refresh(gctx); err != nil {
				return fmt.Errorf("refresh day: %w", err)
			}
			return nil
		})
	}
	err := g.Wait()
	return out, err
}
