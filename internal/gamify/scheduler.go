package gamify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/gpttwilight-hash/nutribot/internal/logging"
	"github.com/gpttwilight-hash/nutribot/internal/nutrition"
)

// Kind is the type of a celebration.
type Kind string

const (
	KindXPGain      Kind = "xp_gain"
	KindLevelUp     Kind = "level_up"
	KindAchievement Kind = "achievement"
)

// Display lifetimes. A celebration occupies its window for the full lifetime
// even when dismissed early.
const (
	XPGainLifetime      = 1500 * time.Millisecond
	LevelUpLifetime     = 3 * time.Second
	AchievementLifetime = 3 * time.Second
)

// Lifetime returns the fixed display lifetime of k.
func (k Kind) Lifetime() time.Duration {
	switch k {
	case KindXPGain:
		return XPGainLifetime
	case KindLevelUp:
		return LevelUpLifetime
	case KindAchievement:
		return AchievementLifetime
	}
	return 0
}

// Celebration is a transient presentation event with a fixed window.
type Celebration struct {
	ID          string
	Kind        Kind
	Amount      int                    // XP for KindXPGain
	Level       int                    // new level for KindLevelUp
	Achievement *nutrition.Achievement // for KindAchievement
	StartAt     time.Time
	EndAt       time.Time
}

// EventType describes a celebration state change.
type EventType string

const (
	EventStarted   EventType = "started"
	EventDismissed EventType = "dismissed"
	EventEnded     EventType = "ended"
)

type Event struct {
	Type        EventType
	Celebration Celebration
}

// Observer receives scheduler events in timeline order. It runs on timer
// goroutines or on the caller's goroutine and must not call back into the
// Scheduler.
type Observer func(Event)

type slotState int

const (
	slotQueued slotState = iota
	slotActive
)

type slot struct {
	c     Celebration
	state slotState
	start clockwork.Timer
	end   clockwork.Timer
}

// Scheduler lays celebrations out on a single timeline so that no two
// windows overlap. Each new celebration starts at the later of now and the
// end of the last scheduled window.
//
// Timers only prompt the scheduler to bring the timeline up to the clock.
// Every call that reads or changes the timeline does the same first, so the
// state never lags the clock and events come out in timeline order however
// the timer goroutines interleave.
type Scheduler struct {
	clock    clockwork.Clock
	observer Observer
	logger   *zap.Logger

	// emitMu is taken before mu and held while events are delivered.
	emitMu sync.Mutex

	mu     sync.Mutex
	tail   time.Time
	slots  map[string]*slot
	order  []string
	closed bool
}

// NewScheduler creates a scheduler. A nil clock means the wall clock; a nil
// observer discards events.
func NewScheduler(clk clockwork.Clock, observer Observer, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if observer == nil {
		observer = func(Event) {}
	}
	return &Scheduler{
		clock:    clk,
		observer: observer,
		logger:   logging.OrNop(logger),
		slots:    make(map[string]*slot),
	}
}

// Item is a celebration request before it is placed on the timeline.
type Item struct {
	Kind        Kind
	Amount      int
	Level       int
	Achievement *nutrition.Achievement
}

// Enqueue places items on the timeline back to back, in order, and returns
// the scheduled celebrations. After Close it schedules nothing.
func (s *Scheduler) Enqueue(items ...Item) []Celebration {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	now := s.clock.Now()
	events := s.advanceLocked(now)
	var out []Celebration
	for _, it := range items {
		startAt := now
		if s.tail.After(startAt) {
			startAt = s.tail
		}
		c := Celebration{
			ID:          uuid.NewString(),
			Kind:        it.Kind,
			Amount:      it.Amount,
			Level:       it.Level,
			Achievement: it.Achievement,
			StartAt:     startAt,
			EndAt:       startAt.Add(it.Kind.Lifetime()),
		}
		s.tail = c.EndAt

		sl := &slot{c: c}
		s.slots[c.ID] = sl
		s.order = append(s.order, c.ID)
		if startAt.After(now) {
			sl.start = s.clock.AfterFunc(startAt.Sub(now), s.tick)
		}
		sl.end = s.clock.AfterFunc(c.EndAt.Sub(now), s.tick)

		s.logger.Debug("celebration_scheduled",
			zap.String("id", c.ID),
			zap.String("kind", string(c.Kind)),
			zap.Time("start_at", c.StartAt),
			zap.Time("end_at", c.EndAt),
		)
		out = append(out, c)
	}
	events = append(events, s.advanceLocked(now)...)
	s.mu.Unlock()

	s.deliver(events)
	return out
}

// Dismiss hides a queued or visible celebration early. Its window stays
// reserved, so the next celebration still waits for the full lifetime.
// Dismissing an unknown, ended or already dismissed celebration is a no-op
// and returns false.
func (s *Scheduler) Dismiss(id string) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	events := s.advanceLocked(s.clock.Now())
	sl, ok := s.slots[id]
	if ok {
		s.dropLocked(id)
		events = append(events, Event{Type: EventDismissed, Celebration: sl.c})
	}
	s.mu.Unlock()

	s.deliver(events)
	return ok
}

// Active returns the celebrations currently on screen.
func (s *Scheduler) Active() []Celebration {
	var out []Celebration
	s.sync(func() {
		for _, id := range s.order {
			if sl := s.slots[id]; sl.state == slotActive {
				out = append(out, sl.c)
			}
		}
	})
	return out
}

// Pending returns every celebration that has not ended or been dismissed,
// in timeline order.
func (s *Scheduler) Pending() []Celebration {
	out := []Celebration{}
	s.sync(func() {
		for _, id := range s.order {
			out = append(out, s.slots[id].c)
		}
	})
	return out
}

// Close cancels every pending timer. No event is delivered once Close
// returns.
func (s *Scheduler) Close() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, id := range append([]string(nil), s.order...) {
		s.dropLocked(id)
	}
	s.logger.Debug("celebration_scheduler_closed")
}

func (s *Scheduler) tick() { s.sync(nil) }

// sync brings the timeline up to the clock, delivers the resulting events
// and then runs read, if any, against the settled state.
func (s *Scheduler) sync(read func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	var events []Event
	if !s.closed {
		events = s.advanceLocked(s.clock.Now())
	}
	if read != nil {
		read()
	}
	s.mu.Unlock()

	s.deliver(events)
}

// advanceLocked starts and ends every celebration whose time has come, in
// timeline order. A celebration whose whole window has passed still
// reports its start before its end.
func (s *Scheduler) advanceLocked(now time.Time) []Event {
	var events []Event
	for _, id := range append([]string(nil), s.order...) {
		sl := s.slots[id]
		if sl.c.StartAt.After(now) {
			break
		}
		if sl.state == slotQueued {
			sl.state = slotActive
			events = append(events, Event{Type: EventStarted, Celebration: sl.c})
		}
		if !sl.c.EndAt.After(now) {
			s.dropLocked(id)
			events = append(events, Event{Type: EventEnded, Celebration: sl.c})
		}
	}
	return events
}

func (s *Scheduler) dropLocked(id string) {
	sl := s.slots[id]
	if sl.start != nil {
		sl.start.Stop()
	}
	if sl.end != nil {
		sl.end.Stop()
	}
	delete(s.slots, id)
	for i, x := range s.order {
		if x == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// deliver runs with emitMu held.
func (s *Scheduler) deliver(events []Event) {
	for _, ev := range events {
		s.observer(ev)
	}
}
