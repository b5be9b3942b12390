package quest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChangeKind names what a store mutation did.
type ChangeKind string

const (
	ChangeNone      ChangeKind = "none"
	ChangeStarted   ChangeKind = "quest_started"
	ChangeCompleted ChangeKind = "quest_completed"
	ChangeRepeated  ChangeKind = "quest_repeated"
)

// Change describes one store mutation and the state it produced.
type Change struct {
	Kind    ChangeKind
	QuestID string
	At      time.Time
	// Version increases by one with every applied mutation. Consumers that
	// receive changes out of order keep the highest version.
	Version uint64
	// Passed reports whether the completion payload met the criteria.
	Passed        bool
	Unlocked      []string
	Granted       []string
	PointsAwarded int64
	State         PlayerState
}

// Observer receives every applied change. It runs synchronously on the
// mutating goroutine after the store has released its lock; it must not
// block for long.
type Observer func(Change)

// Persister writes a change to external storage before the store commits
// it. A persister error aborts the mutation.
type Persister interface {
	Persist(ctx context.Context, c Change) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, c Change) error

func (f PersisterFunc) Persist(ctx context.Context, c Change) error {
	return f(ctx, c)
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPersister makes every mutation persist before it is committed.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithVersion resumes the version counter of a state loaded from storage.
func WithVersion(v uint64) Option {
	return func(s *Store) { s.version = v }
}

// WithLogger sets the logger used for observer failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store owns one PlayerState and is the only code that mutates it.
type Store struct {
	reg       *Registry
	now       func() time.Time
	persister Persister
	logger    *zap.Logger

	mu        sync.Mutex
	state     PlayerState
	version   uint64
	closed    bool
	nextSubID int
	observers []subscription
}

type subscription struct {
	id  int
	obs Observer
}

// NewStore creates a store over initial, which must only reference quests
// declared in reg. Use Restore first for state loaded from storage.
func NewStore(reg *Registry, initial PlayerState, opts ...Option) (*Store, error) {
	for id, rec := range initial.Quests {
		if !reg.Has(id) {
			return nil, unknownQuest(id)
		}
		if !rec.Status.Valid() {
			return nil, fmt.Errorf("quest %q: invalid status %q", id, rec.Status)
		}
	}
	s := &Store{
		reg:    reg,
		now:    time.Now,
		logger: zap.NewNop(),
		state:  initial.Clone(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, q := range reg.quests {
		if _, ok := s.state.Quests[q.ID]; !ok {
			s.state.Quests[q.ID] = ProgressRecord{Status: StatusLocked}
		}
	}
	s.state.applyUnlocks(Unlockable(reg, s.state))
	return s, nil
}

// Registry returns the registry the store evaluates against.
func (s *Store) Registry() *Registry {
	return s.reg
}

// CurrentState returns a snapshot of the current state.
func (s *Store) CurrentState() PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Version returns the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Subscribe registers an observer and returns a function that removes it.
// Observers are notified in registration order.
func (s *Store) Subscribe(obs Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.observers = append(s.observers, subscription{id: id, obs: obs})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.observers {
			if sub.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Close ends the store's lifecycle: observers are dropped and further
// mutations fail with ErrStoreClosed. Reading the state stays possible.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observers = nil
}

// StartQuest moves an available quest to in_progress.
func (s *Store) StartQuest(ctx context.Context, questID string) (Change, error) {
	return s.mutate(ctx, questID, func(next *PlayerState, q Quest, now time.Time) (Change, error) {
		rec := next.Quests[q.ID]
		if rec.Status != StatusAvailable {
			return Change{}, &TransitionError{QuestID: q.ID, Op: "start", From: rec.Status}
		}
		rec.Status = StatusInProgress
		rec.StartedAt = &now
		next.Quests[q.ID] = rec
		return Change{Kind: ChangeStarted}, nil
	})
}

// RecordCompletion judges payload against the quest's criteria. An
// in-progress quest whose criteria pass becomes completed and its rewards
// are granted. A failing payload changes nothing. On a completed quest the
// call is a no-op unless the quest is repeatable, in which case a passing
// payload awards the currency rewards again. An invalid payload is rejected
// with ErrInvalidPayload.
func (s *Store) RecordCompletion(ctx context.Context, questID string, payload Payload) (Change, error) {
	if err := payload.Validate(); err != nil {
		return Change{}, err
	}
	return s.mutate(ctx, questID, func(next *PlayerState, q Quest, now time.Time) (Change, error) {
		rec := next.Quests[q.ID]
		switch rec.Status {
		case StatusInProgress:
		case StatusCompleted:
			if !q.Repeatable || !q.Criteria.Satisfied(payload) {
				return Change{Kind: ChangeNone, Passed: q.Criteria.Satisfied(payload)}, nil
			}
			c := Change{Kind: ChangeRepeated, Passed: true}
			c.PointsAwarded = s.grantCurrency(next, q)
			rec.Completions++
			p := payload.clone()
			rec.Payload = &p
			next.Quests[q.ID] = rec
			return c, nil
		default:
			return Change{}, &TransitionError{QuestID: q.ID, Op: "complete", From: rec.Status}
		}

		if !q.Criteria.Satisfied(payload) {
			return Change{Kind: ChangeNone}, nil
		}

		c := Change{Kind: ChangeCompleted, Passed: true}
		rec.Status = StatusCompleted
		rec.CompletedAt = &now
		rec.Completions++
		p := payload.clone()
		rec.Payload = &p
		next.Quests[q.ID] = rec

		for _, rid := range q.Rewards {
			rw, _ := s.reg.Reward(rid)
			if rw.Category == RewardCurrency {
				continue
			}
			if next.addReward(rid) {
				c.Granted = append(c.Granted, rid)
			}
		}
		c.PointsAwarded = s.grantCurrency(next, q)
		return c, nil
	})
}

func (s *Store) grantCurrency(next *PlayerState, q Quest) int64 {
	var total int64
	for _, rid := range q.Rewards {
		if rw, _ := s.reg.Reward(rid); rw.Category == RewardCurrency {
			total += rw.Amount
		}
	}
	next.Points += total
	return total
}

type mutation func(next *PlayerState, q Quest, now time.Time) (Change, error)

// mutate applies fn to a copy of the state, runs the unlock evaluator,
// persists, commits and notifies. Any error leaves the state untouched.
func (s *Store) mutate(ctx context.Context, questID string, fn mutation) (Change, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return Change{}, ErrStoreClosed
	}
	q, ok := s.reg.Quest(questID)
	if !ok {
		s.mu.Unlock()
		return Change{}, unknownQuest(questID)
	}

	now := s.now().UTC()
	next := s.state.Clone()
	c, err := fn(&next, q, now)
	if err != nil {
		s.mu.Unlock()
		return Change{}, err
	}
	c.QuestID = questID
	c.At = now

	if c.Kind == ChangeNone {
		c.Version = s.version
		c.State = s.state.Clone()
		s.mu.Unlock()
		return c, nil
	}

	c.Unlocked = Unlockable(s.reg, next)
	next.applyUnlocks(c.Unlocked)
	c.Version = s.version + 1
	c.State = next.Clone()

	if s.persister != nil {
		if err := s.persister.Persist(ctx, c); err != nil {
			s.mu.Unlock()
			return Change{}, fmt.Errorf("persist %s for quest %q: %w", c.Kind, questID, err)
		}
	}

	s.state = next
	s.version = c.Version
	observers := append([]subscription(nil), s.observers...)
	s.mu.Unlock()

	for _, sub := range observers {
		s.notify(sub.obs, c)
	}
	return c, nil
}

func (s *Store) notify(obs Observer, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("progress observer panicked",
				zap.String("quest_id", c.QuestID),
				zap.String("change", string(c.Kind)),
				zap.Any("panic", r))
		}
	}()
	c.State = c.State.Clone()
	obs(c)
}
