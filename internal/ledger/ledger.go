// Package ledger keeps one day's food log in memory, mirroring the authority.
//
// Every mutation round-trips through the authority and is followed by a full
// re-fetch of the day, so totals are always the exact sum of the entries the
// authority holds. Fetches are tagged with a sequence number; a response older
// than the one already applied, or for a day that is no longer selected, is
// dropped without error.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// Store is the part of the authority the ledger reads from and writes to.
type Store interface {
	FetchDay(ctx context.Context, date string) (nutrition.DayLog, error)
	CreateEntry(ctx context.Context, draft nutrition.EntryDraft) (nutrition.CreateResult, error)
	DeleteEntry(ctx context.Context, id string) error
}

// Day is a read-only snapshot of the ledger.
type Day struct {
	// Date is the day the entries belong to. It lags the selected day until
	// the first fetch for the new day lands.
	Date    string
	Entries []nutrition.FoodEntry
	Totals  nutrition.Macros
	Targets nutrition.Macros
	Loaded  bool
}

// Ledger is safe for concurrent use. The mutex is never held across a call
// to the Store.
type Ledger struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	selected string
	issued   uint64
	applied  uint64
	date     string
	entries  []nutrition.FoodEntry
	targets  nutrition.Macros
}

// New creates a ledger with date selected and nothing loaded.
func New(store Store, date string, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:    store,
		selected: date,
		logger:   logging.OrNop(logger),
	}
}

// Selected returns the day the ledger tracks.
func (l *Ledger) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// LoadDay selects date and replaces the in-memory set with the authority's
// view of it. The previous data stays readable until the response lands.
// Transport and validation errors propagate; a superseded response is
// dropped, malformed or not, and LoadDay returns nil.
func (l *Ledger) LoadDay(ctx context.Context, date string) error {
	l.mu.Lock()
	l.selected = date
	l.issued++
	seq := l.issued
	l.mu.Unlock()

	day, err := l.store.FetchDay(ctx, date)
	if err != nil {
		return fmt.Errorf("load day %s: %w", date, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq <= l.applied || date != l.selected {
		l.logger.Debug("stale_response_dropped",
			zap.String("date", date),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", l.applied),
			zap.String("selected", l.selected),
			zap.NamedError("reason", nutrition.ErrStaleResponse),
		)
		return nil
	}
	for _, e := range day.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("load day %s: %w", date, err)
		}
	}
	l.applied = seq
	l.date = date
	l.entries = append([]nutrition.FoodEntry(nil), day.Entries...)
	l.targets = day.Targets
	l.logger.Debug("day_loaded",
		zap.String("date", date),
		zap.Uint64("seq", seq),
		zap.Int("entries", len(l.entries)),
	)
	return nil
}

// Refresh re-fetches the selected day.
func (l *Ledger) Refresh(ctx context.Context) error {
	return l.LoadDay(ctx, l.Selected())
}

// Create sends draft to the authority without touching local state. Drafts
// without a date are logged against the selected day.
func (l *Ledger) Create(ctx context.Context, draft nutrition.EntryDraft) (nutrition.CreateResult, error) {
	if err := draft.CheckLocal(); err != nil {
		return nutrition.CreateResult{}, err
	}
	if draft.Date == "" {
		draft.Date = l.Selected()
	}
	res, err := l.store.CreateEntry(ctx, draft)
	if err != nil {
		return nutrition.CreateResult{}, fmt.Errorf("create entry: %w", err)
	}
	return res, nil
}

// AddEntry creates the entry and then re-fetches the day. On rejection the
// local state is unchanged. If the create succeeds but the refresh fails, the
// result is still returned alongside the refresh error.
func (l *Ledger) AddEntry(ctx context.Context, draft nutrition.EntryDraft) (nutrition.CreateResult, error) {
	res, err := l.Create(ctx, draft)
	if err != nil {
		return res, err
	}
	if err := l.Refresh(ctx); err != nil {
		return res, fmt.Errorf("refresh after add: %w", err)
	}
	return res, nil
}

// DeleteEntry removes id locally right away, asks the authority to delete
// it and then re-fetches the day whatever the outcome. A failed delete is
// returned unless the authority rejected it and the re-fetched day no longer
// holds the entry. If the re-fetch also fails and nothing newer has been applied,
// the entry is put back so local state does not claim a deletion the
// authority never made.
func (l *Ledger) DeleteEntry(ctx context.Context, id string) error {
	l.mu.Lock()
	removedAt := -1
	var removed nutrition.FoodEntry
	for i, e := range l.entries {
		if e.ID == id {
			removedAt, removed = i, e
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			break
		}
	}
	appliedAtRemoval := l.applied
	l.mu.Unlock()

	deleteErr := l.store.DeleteEntry(ctx, id)
	refreshErr := l.Refresh(ctx)

	if deleteErr == nil {
		if refreshErr != nil {
			return fmt.Errorf("refresh after delete: %w", refreshErr)
		}
		return nil
	}

	// A rejected delete of an entry the refreshed day no longer has was
	// already done by someone else.
	if refreshErr == nil && errors.Is(deleteErr, nutrition.ErrValidation) && !l.has(id) {
		l.logger.Debug("delete_entry_already_gone", zap.String("id", id), zap.Error(deleteErr))
		return nil
	}

	if refreshErr != nil && removedAt >= 0 {
		l.mu.Lock()
		if l.applied == appliedAtRemoval {
			at := min(removedAt, len(l.entries))
			l.entries = append(l.entries[:at], append([]nutrition.FoodEntry{removed}, l.entries[at:]...)...)
		}
		l.mu.Unlock()
	}
	l.logger.Warn("delete_entry_failed", zap.String("id", id), zap.Error(deleteErr))
	return errors.Join(fmt.Errorf("delete entry %s: %w", id, deleteErr), refreshErr)
}

func (l *Ledger) has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current day. Totals are recomputed from
// the entries on every call.
func (l *Ledger) Snapshot() Day {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := append([]nutrition.FoodEntry(nil), l.entries...)
	return Day{
		Date:    l.date,
		Entries: entries,
		Totals:  nutrition.SumEntries(entries),
		Targets: l.targets,
		Loaded:  l.applied > 0,
	}
}

// Totals returns the sum of the current entries.
func (l *Ledger) Totals() nutrition.Macros {
	return l.Snapshot().Totals
}

// Remaining returns targets minus totals. Values go negative once a target
// is exceeded.
func (l *Ledger) Remaining() nutrition.Macros {
	d := l.Snapshot()
	return d.Targets.Sub(d.Totals)
}
