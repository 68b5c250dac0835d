package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	queries []string
	limits  []int
	ctxErrs map[string]error
	gates   map[string]chan struct{}
	started chan string
	err     error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		ctxErrs: make(map[string]error),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 8),
	}
}

func (f *fakeFetcher) SearchFoods(ctx context.Context, q string, limit int) ([]nutrition.FoodItem, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.limits = append(f.limits, limit)
	gate := f.gates[q]
	err := f.err
	f.mu.Unlock()

	f.started <- q
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.ctxErrs[q] = ctx.Err()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []nutrition.FoodItem{{Name: q, Calories: 155}}, nil
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func newTestDebouncer(f *fakeFetcher) (*Debouncer, *clockwork.FakeClock, chan Result) {
	clk := clockwork.NewFakeClockAt(t0)
	out := make(chan Result, 8)
	d := New(f, func(r Result) { out <- r }, WithClock(clk))
	return d, clk, out
}

func requireNoTimers(t *testing.T, clk *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntilContext(ctx, 0))
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
		return Result{}
	}
}

func waitStarted(t *testing.T, f *fakeFetcher) string {
	t.Helper()
	select {
	case q := <-f.started:
		return q
	case <-time.After(2 * time.Second):
		t.Fatal("fetch not started")
		return ""
	}
}

/* ─── Debounce ────────────────────────────────────────────────────────── */

func TestType_DebouncesKeystrokes(t *testing.T) {
	f := newFakeFetcher()
	d, clk, out := newTestDebouncer(f)
	defer d.Close()

	d.Type("egg")
	clk.Advance(100 * time.Millisecond)
	d.Type("eggs")
	clk.Advance(299 * time.Millisecond)
	assert.Empty(t, f.calls(), "still inside the quiet period")

	clk.Advance(time.Millisecond)
	res := waitResult(t, out)

	assert.Equal(t, []string{"eggs"}, f.calls())
	assert.Equal(t, "eggs", res.Query)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "eggs", res.Items[0].Name)
	assert.Equal(t, res, d.Current())
	assert.Equal(t, []int{DefaultLimit}, f.limits)
}

func TestType_ShortQueryClearsWithoutRequest(t *testing.T) {
	f := newFakeFetcher()
	d, clk, out := newTestDebouncer(f)
	defer d.Close()

	d.Type("рис")
	clk.Advance(QuietPeriod)
	require.Len(t, waitResult(t, out).Items, 1)

	d.Type("р")
	res := waitResult(t, out)
	assert.Equal(t, "р", res.Query)
	assert.Empty(t, res.Items)
	assert.Empty(t, d.Current().Items)

	clk.Advance(time.Second)
	assert.Equal(t, []string{"рис"}, f.calls())
}

func TestType_ShortQueryCancelsPending(t *testing.T) {
	f := newFakeFetcher()
	d, clk, out := newTestDebouncer(f)
	defer d.Close()

	d.Type("eg")
	clk.Advance(200 * time.Millisecond)
	d.Type("")
	waitResult(t, out)

	clk.Advance(time.Second)
	assert.Empty(t, f.calls())
	requireNoTimers(t, clk)
}

/* ─── Ordering ────────────────────────────────────────────────────────── */

func TestStaleResponseDropped(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["egg"] = gate
	d, clk, out := newTestDebouncer(f)

	d.Type("egg")
	clk.Advance(QuietPeriod)
	assert.Equal(t, "egg", waitStarted(t, f))

	d.Type("eggs")
	clk.Advance(QuietPeriod)
	assert.Equal(t, "eggs", waitStarted(t, f))
	res := waitResult(t, out)
	assert.Equal(t, "eggs", res.Query)

	// the slow response for "egg" lands after "eggs" was shown
	close(gate)
	d.Close()

	select {
	case r := <-out:
		t.Fatalf("stale result published: %+v", r)
	default:
	}
	assert.Equal(t, "eggs", d.Current().Query)
	f.mu.Lock()
	assert.ErrorIs(t, f.ctxErrs["egg"], context.Canceled)
	assert.NoError(t, f.ctxErrs["eggs"])
	f.mu.Unlock()
}

// TestClearWinsOverSlowPublish clears the query while the previous result is
// still being handed to the subscriber. The clear must reach the subscriber
// last and stay current.
func TestClearWinsOverSlowPublish(t *testing.T) {
	f := newFakeFetcher()
	clk := clockwork.NewFakeClockAt(t0)
	out := make(chan Result, 8)
	var typed sync.WaitGroup
	var d *Debouncer
	d = New(f, func(r Result) {
		if r.Query == "eggs" {
			typed.Add(1)
			go func() {
				defer typed.Done()
				d.Type("я")
			}()
			time.Sleep(20 * time.Millisecond)
		}
		out <- r
	}, WithClock(clk))
	defer d.Close()

	d.Type("eggs")
	clk.Advance(QuietPeriod)

	first := waitResult(t, out)
	assert.Equal(t, "eggs", first.Query)
	typed.Wait()
	last := waitResult(t, out)
	assert.Equal(t, "я", last.Query)
	assert.Empty(t, last.Items)
	assert.Empty(t, out)
	assert.Equal(t, last, d.Current())
}

func TestFetchErrorPublished(t *testing.T) {
	f := newFakeFetcher()
	f.err = errors.Join(nutrition.ErrTransport, errors.New("connection reset"))
	d, clk, out := newTestDebouncer(f)
	defer d.Close()

	d.Type("гречка")
	clk.Advance(QuietPeriod)

	res := waitResult(t, out)
	assert.ErrorIs(t, res.Err, nutrition.ErrTransport)
	assert.Empty(t, res.Items)
}

/* ─── Teardown ────────────────────────────────────────────────────────── */

func TestClose_StopsPendingDispatch(t *testing.T) {
	f := newFakeFetcher()
	d, clk, out := newTestDebouncer(f)

	d.Type("banana")
	d.Close()
	requireNoTimers(t, clk)

	clk.Advance(time.Second)
	d.Type("bananas")
	clk.Advance(time.Second)

	assert.Empty(t, f.calls())
	assert.Empty(t, out)
}
