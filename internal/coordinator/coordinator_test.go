package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpttwilight-hash/nutribot/internal/gamify"
	"github.com/gpttwilight-hash/nutribot/internal/ledger"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

const day = "2025-03-10"

var t0 = time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

// fakeAuthority keeps entries per day and answers every authority call the
// coordinator, ledger and engine make.
type fakeAuthority struct {
	mu        sync.Mutex
	days      map[string][]nutrition.FoodEntry
	nextID    int
	fetchGate chan struct{}
	fetches   int
	createErr error
	fetchErr  error
	deleteErr error
	result    nutrition.ActionResult
	workouts  []nutrition.WorkoutDraft
	photo     nutrition.PhotoResult
	photoErr  error
	bonus     nutrition.BonusResult
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{days: make(map[string][]nutrition.FoodEntry)}
}

func (f *fakeAuthority) FetchDay(ctx context.Context, date string) (nutrition.DayLog, error) {
	f.mu.Lock()
	gate := f.fetchGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nutrition.DayLog{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nutrition.DayLog{}, f.fetchErr
	}
	entries := append([]nutrition.FoodEntry(nil), f.days[date]...)
	return nutrition.DayLog{
		Date:    date,
		Entries: entries,
		Totals:  nutrition.SumEntries(entries),
		Targets: nutrition.Macros{Calories: 2000, ProteinG: 150, FatG: 65, CarbsG: 250},
	}, nil
}

func (f *fakeAuthority) CreateEntry(_ context.Context, d nutrition.EntryDraft) (nutrition.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nutrition.CreateResult{}, f.createErr
	}
	f.nextID++
	e := nutrition.FoodEntry{
		ID:       strconv.Itoa(f.nextID),
		Name:     d.Name,
		Calories: d.Calories,
		ProteinG: d.ProteinG,
		FatG:     d.FatG,
		CarbsG:   d.CarbsG,
		WeightG:  d.WeightG,
		Meal:     d.Meal,
		Source:   d.Source,
		LoggedAt: t0,
	}
	f.days[d.Date] = append(f.days[d.Date], e)
	return nutrition.CreateResult{Entry: e, ActionResult: f.result}, nil
}

func (f *fakeAuthority) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for date, entries := range f.days {
		for i, e := range entries {
			if e.ID == id {
				f.days[date] = append(entries[:i:i], entries[i+1:]...)
				return nil
			}
		}
	}
	return &nutrition.ValidationError{Reason: "entry not found"}
}

func (f *fakeAuthority) FetchProfile(context.Context) (nutrition.Profile, error) {
	return nutrition.Profile{Level: 1, XPToNext: 500}, nil
}

func (f *fakeAuthority) ClaimDailyBonus(context.Context) (nutrition.BonusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.bonus
	f.bonus = nutrition.BonusResult{AlreadyClaimed: true}
	return res, nil
}

func (f *fakeAuthority) LogWorkout(_ context.Context, d nutrition.WorkoutDraft) (nutrition.WorkoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workouts = append(f.workouts, d)
	return nutrition.WorkoutResult{
		Workout:      nutrition.Workout{ID: "w1", Date: d.Date, Completed: d.Completed, XPAwarded: f.result.XPAwarded},
		ActionResult: f.result,
	}, nil
}

func (f *fakeAuthority) LogWeight(_ context.Context, d nutrition.WeightDraft) (nutrition.WeightResult, error) {
	date := d.Date
	if date == "" {
		date = day
	}
	return nutrition.WeightResult{
		Entry:        nutrition.WeightEntry{ID: "wt1", Date: date, WeightKG: d.WeightKG},
		ActionResult: f.result,
	}, nil
}

func (f *fakeAuthority) AnalyzePhoto(context.Context, string, []byte) (nutrition.PhotoResult, error) {
	if f.photoErr != nil {
		return nutrition.PhotoResult{}, f.photoErr
	}
	return f.photo, nil
}

func newTestCoordinator(t *testing.T, auth *fakeAuthority) (*Coordinator, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	sched := gamify.NewScheduler(clk, nil, nil)
	engine := gamify.NewEngine(auth, sched, gamify.WithClock(clk), gamify.WithLocation(time.UTC))
	c := New(ledger.New(auth, day, nil), engine, auth, nil)
	t.Cleanup(c.Close)
	return c, clk
}

func oatmeal() nutrition.EntryDraft {
	return nutrition.EntryDraft{
		Name: "Овсянка", Calories: 350, ProteinG: 12.5, FatG: 6, CarbsG: 60,
		WeightG: 250, Meal: nutrition.Breakfast, Source: nutrition.SourceManual,
	}
}

/* ─── LogFood ─────────────────────────────────────────────────────────── */

func TestLogFood_SettlesLedgerAndEngine(t *testing.T) {
	auth := newFakeAuthority()
	auth.result = nutrition.ActionResult{
		XPAwarded:            15,
		Streak:               &nutrition.Streak{Days: 1, Updated: true},
		AchievementsUnlocked: []nutrition.Achievement{{Code: "first_meal", Name: "Первый шаг"}},
	}
	c, _ := newTestCoordinator(t, auth)

	entry, out, err := c.LogFood(context.Background(), oatmeal())
	require.NoError(t, err)

	assert.Equal(t, "1", entry.ID)
	require.Len(t, out.Celebrations, 2)
	assert.Equal(t, gamify.KindXPGain, out.Celebrations[0].Kind)
	assert.Equal(t, gamify.KindAchievement, out.Celebrations[1].Kind)

	snap := c.Ledger().Snapshot()
	assert.Equal(t, day, snap.Date)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, 350, snap.Totals.Calories)

	st := c.Engine().State()
	assert.Equal(t, 15, st.XP)
	assert.Equal(t, 1, st.StreakDays)
	assert.True(t, st.Earned("first_meal"))
}

func TestLogFood_WaitsForRefresh(t *testing.T) {
	auth := newFakeAuthority()
	auth.result = nutrition.ActionResult{XPAwarded: 10}
	auth.fetchGate = make(chan struct{})
	c, _ := newTestCoordinator(t, auth)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.LogFood(context.Background(), oatmeal())
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("action settled before the refresh finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(auth.fetchGate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("action never settled")
	}
	assert.Len(t, c.Ledger().Snapshot().Entries, 1)
	assert.Equal(t, 10, c.Engine().State().XP)
}

func TestLogFood_LocalPreconditionFails(t *testing.T) {
	auth := newFakeAuthority()
	c, _ := newTestCoordinator(t, auth)

	d := oatmeal()
	d.Name = "  "
	_, _, err := c.LogFood(context.Background(), d)

	assert.ErrorIs(t, err, nutrition.ErrValidation)
	assert.Empty(t, auth.days)
	assert.Zero(t, auth.fetches)
}

func TestLogFood_FailureLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", &nutrition.ValidationError{Reason: "calories must be >= 0"}, nutrition.ErrValidation},
		{"transport", fmt.Errorf("dial tcp: %w", nutrition.ErrTransport), nutrition.ErrTransport},
		{"unauthenticated", nutrition.ErrUnauthenticated, nutrition.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := newFakeAuthority()
			auth.createErr = tt.err
			c, _ := newTestCoordinator(t, auth)

			_, out, err := c.LogFood(context.Background(), oatmeal())

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, out.Celebrations)
			assert.False(t, c.Ledger().Snapshot().Loaded)
			assert.Zero(t, c.Engine().State().XP)
			assert.Empty(t, c.Engine().Scheduler().Pending())
		})
	}
}

func TestLogFood_RefreshFailureStillReportsResult(t *testing.T) {
	auth := newFakeAuthority()
	auth.result = nutrition.ActionResult{XPAwarded: 15}
	c, _ := newTestCoordinator(t, auth)
	auth.fetchErr = fmt.Errorf("timeout: %w", nutrition.ErrTransport)

	entry, out, err := c.LogFood(context.Background(), oatmeal())

	assert.ErrorIs(t, err, nutrition.ErrTransport)
	assert.Equal(t, "1", entry.ID)
	assert.Len(t, out.Celebrations, 1)
	assert.Equal(t, 15, c.Engine().State().XP)
}

/* ─── DeleteFood / SelectDay ──────────────────────────────────────────── */

func TestDeleteFood(t *testing.T) {
	auth := newFakeAuthority()
	c, _ := newTestCoordinator(t, auth)
	entry, _, err := c.LogFood(context.Background(), oatmeal())
	require.NoError(t, err)

	require.NoError(t, c.DeleteFood(context.Background(), entry.ID))
	snap := c.Ledger().Snapshot()
	assert.Empty(t, snap.Entries)
	assert.Zero(t, snap.Totals.Calories)

	assert.ErrorIs(t, c.DeleteFood(context.Background(), ""), nutrition.ErrValidation)
}

func TestDeleteFood_FailureSurfaces(t *testing.T) {
	auth := newFakeAuthority()
	c, _ := newTestCoordinator(t, auth)
	entry, _, err := c.LogFood(context.Background(), oatmeal())
	require.NoError(t, err)

	auth.deleteErr = fmt.Errorf("reset: %w", nutrition.ErrTransport)
	err = c.DeleteFood(context.Background(), entry.ID)

	assert.ErrorIs(t, err, nutrition.ErrTransport)
	assert.Len(t, c.Ledger().Snapshot().Entries, 1, "refresh reconciles the failed delete")
}

func TestSelectDay(t *testing.T) {
	auth := newFakeAuthority()
	auth.days["2025-03-09"] = []nutrition.FoodEntry{{ID: "a", Name: "Гречка", Calories: 330, WeightG: 100, Meal: nutrition.Lunch}}
	c, _ := newTestCoordinator(t, auth)

	require.NoError(t, c.SelectDay(context.Background(), "2025-03-09"))
	snap := c.Ledger().Snapshot()
	assert.Equal(t, "2025-03-09", snap.Date)
	assert.Equal(t, 330, snap.Totals.Calories)

	assert.ErrorIs(t, c.SelectDay(context.Background(), "09.03.2025"), nutrition.ErrValidation)
	assert.Equal(t, "2025-03-09", c.Ledger().Selected())
}

/* ─── Other actions ───────────────────────────────────────────────────── */

func TestLogWorkout(t *testing.T) {
	auth := newFakeAuthority()
	auth.result = nutrition.ActionResult{
		XPAwarded: 40,
		LevelUp:   true,
		Progress:  &nutrition.Progress{Level: 2, XP: 5, XPToNext: 1000},
	}
	c, _ := newTestCoordinator(t, auth)

	w, out, err := c.LogWorkout(context.Background(), nutrition.WorkoutDraft{Date: day, Completed: true})
	require.NoError(t, err)

	assert.Equal(t, 40, w.XPAwarded)
	require.Len(t, out.Celebrations, 2)
	assert.Equal(t, gamify.KindLevelUp, out.Celebrations[1].Kind)
	assert.Equal(t, out.Celebrations[0].EndAt, out.Celebrations[1].StartAt)
	assert.Equal(t, 2, c.Engine().State().Level)
	assert.Zero(t, auth.fetches, "workouts do not touch the food log")

	_, _, err = c.LogWorkout(context.Background(), nutrition.WorkoutDraft{Date: "tomorrow"})
	assert.ErrorIs(t, err, nutrition.ErrValidation)
	assert.Len(t, auth.workouts, 1)
}

func TestLogWeight(t *testing.T) {
	auth := newFakeAuthority()
	auth.result = nutrition.ActionResult{
		XPAwarded:            510,
		AchievementsUnlocked: []nutrition.Achievement{{Code: "goal_reached"}},
	}
	c, _ := newTestCoordinator(t, auth)

	entry, out, err := c.LogWeight(context.Background(), nutrition.WeightDraft{WeightKG: 80.2})
	require.NoError(t, err)
	assert.Equal(t, day, entry.Date)
	assert.Len(t, out.Celebrations, 2)
	assert.True(t, c.Engine().State().Earned("goal_reached"))

	_, _, err = c.LogWeight(context.Background(), nutrition.WeightDraft{WeightKG: 0})
	assert.ErrorIs(t, err, nutrition.ErrValidation)
	_, _, err = c.LogWeight(context.Background(), nutrition.WeightDraft{WeightKG: 80, Date: "10/03"})
	assert.ErrorIs(t, err, nutrition.ErrValidation)
}

func TestAnalyzePhoto(t *testing.T) {
	auth := newFakeAuthority()
	auth.photo = nutrition.PhotoResult{
		Estimate: nutrition.PhotoEstimate{DishName: "Борщ", CaloriesPer100g: 50, EstimatedWeightG: 300, Confidence: 0.45},
		ActionResult: nutrition.ActionResult{
			XPAwarded:            15,
			AchievementsUnlocked: []nutrition.Achievement{{Code: "first_photo"}},
		},
	}
	c, _ := newTestCoordinator(t, auth)

	est, out, err := c.AnalyzePhoto(context.Background(), "borscht.jpg", []byte{0xff, 0xd8})
	require.NoError(t, err)

	assert.True(t, est.LowConfidence())
	assert.Equal(t, "Борщ", est.DishName)
	assert.Len(t, out.Celebrations, 2)
	assert.True(t, c.Engine().State().Earned("first_photo"))

	_, _, err = c.AnalyzePhoto(context.Background(), "empty.jpg", nil)
	assert.ErrorIs(t, err, nutrition.ErrValidation)
}

func TestClaimDailyBonus_Once(t *testing.T) {
	auth := newFakeAuthority()
	auth.bonus = nutrition.BonusResult{XPAwarded: 10}
	c, clk := newTestCoordinator(t, auth)

	_, err := c.ClaimDailyBonus(context.Background())
	require.NoError(t, err)
	clk.Advance(5 * time.Second)

	res, err := c.ClaimDailyBonus(context.Background())
	require.NoError(t, err)
	assert.True(t, res.AlreadyClaimed)
	assert.Equal(t, 10, c.Engine().State().XP)
	assert.Empty(t, c.Engine().Scheduler().Pending())
}
