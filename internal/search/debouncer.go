// Package search implements search-as-you-type over the authority's food
// search. Keystrokes are debounced; only the query that survives a quiet
// period is sent, and a response that has been superseded by a newer query is
// thrown away.
package search

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

const (
	// QuietPeriod is how long typing must pause before a query is sent.
	QuietPeriod = 300 * time.Millisecond
	// MinQueryLen is the shortest query, in runes, worth sending.
	MinQueryLen = 2
	// DefaultLimit caps the number of results requested.
	DefaultLimit = 20
)

// Fetcher runs one search against the authority.
type Fetcher interface {
	SearchFoods(ctx context.Context, query string, limit int) ([]nutrition.FoodItem, error)
}

// Result is what the debouncer publishes. Query is the query that produced
// Items; Err is set when that query failed.
type Result struct {
	Query string
	Items []nutrition.FoodItem
	Err   error
}

// Debouncer is safe for concurrent use.
type Debouncer struct {
	fetcher Fetcher
	clock   clockwork.Clock
	publish func(Result)
	limit   int
	logger  *zap.Logger

	// pubMu is taken before mu and held across publish, so results reach
	// the subscriber in the order they became current.
	pubMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	timer   clockwork.Timer
	cancel  context.CancelFunc
	current Result
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Debouncer)

func WithClock(c clockwork.Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

func WithLimit(n int) Option {
	return func(d *Debouncer) { d.limit = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Debouncer) { d.logger = logging.OrNop(l) }
}

// New creates a debouncer. publish is called with every fresh result,
// including the empty result of a cleared query. Calls never overlap. It runs
// on a background goroutine or inside Type, must not block and must not call
// back into the Debouncer synchronously.
func New(fetcher Fetcher, publish func(Result), opts ...Option) *Debouncer {
	if publish == nil {
		publish = func(Result) {}
	}
	d := &Debouncer{
		fetcher: fetcher,
		clock:   clockwork.NewRealClock(),
		publish: publish,
		limit:   DefaultLimit,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type records a keystroke. It cancels any pending dispatch and restarts the
// quiet period. A query shorter than MinQueryLen clears the results at once
// and sends nothing.
func (d *Debouncer) Type(query string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	if utf8.RuneCountInString(query) < MinQueryLen {
		d.cancelInFlightLocked()
		d.mu.Unlock()
		d.emit(seq, Result{Query: query})
		return
	}

	d.timer = d.clock.AfterFunc(QuietPeriod, func() { d.dispatch(seq, query) })
	d.mu.Unlock()
}

// Current returns the freshest published result.
func (d *Debouncer) Current() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Close stops the pending timer, cancels any in-flight request and waits
// for it to return. Nothing is published afterwards.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.cancelInFlightLocked()
	d.mu.Unlock()
	d.wg.Wait()

	// wait out a publish that was already under way
	d.pubMu.Lock()
	d.pubMu.Unlock()
}

func (d *Debouncer) dispatch(seq uint64, query string) {
	d.mu.Lock()
	if d.closed || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.cancelInFlightLocked()
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	d.logger.Debug("search_dispatched", zap.String("query", query), zap.Uint64("seq", seq))
	go func() {
		defer d.wg.Done()
		defer cancel()
		items, err := d.fetcher.SearchFoods(ctx, query, d.limit)
		d.emit(seq, Result{Query: query, Items: items, Err: err})
	}()
}

// emit makes res current and publishes it, unless a newer keystroke or
// Close got there first. The check is repeated under pubMu so a result that
// lost the race to a later one is never published after it.
func (d *Debouncer) emit(seq uint64, res Result) {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	d.mu.Lock()
	if d.closed || seq != d.seq {
		d.mu.Unlock()
		d.logger.Debug("stale_response_dropped",
			zap.String("query", res.Query),
			zap.Uint64("seq", seq),
			zap.NamedError("reason", nutrition.ErrStaleResponse),
		)
		return
	}
	d.current = res
	d.cancel = nil
	d.mu.Unlock()
	d.publish(res)
}

func (d *Debouncer) cancelInFlightLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
