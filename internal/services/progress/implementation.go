package progress

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"treasure-map/server/internal/db"
	"treasure-map/server/internal/quest"
	"treasure-map/server/internal/services/session"
	"treasure-map/server/pkg/config"
)

type progressService struct {
	config   config.Config
	logger   *zap.Logger
	dbConn   db.DBTX
	queries  *db.Queries
	registry *quest.Registry
	sessions session.Service

	now func() time.Time

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession guards the loading and release of one session's store.
// The service mutex is never held while a liveSession is locked.
type liveSession struct {
	mu        sync.Mutex
	store     *quest.Store
	expiresAt time.Time
}

func NewProgressService(cfg config.Config, logger *zap.Logger, dbConn db.DBTX, registry *quest.Registry, sessions session.Service) Service {
	return &progressService{
		config:   cfg,
		logger:   logger,
		dbConn:   dbConn,
		queries:  db.New(),
		registry: registry,
		sessions: sessions,
		now:      time.Now,
		live:     make(map[string]*liveSession),
	}
}

func (s *progressService) Registry() *quest.Registry {
	return s.registry
}

func (s *progressService) GetState(ctx context.Context, sessionID string) (*Snapshot, error) {
	store, err := s.store(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		SessionID: sessionID,
		Version:   store.Version(),
		State:     store.CurrentState(),
	}, nil
}

func (s *progressService) StartQuest(ctx context.Context, sessionID, questID string) (quest.Change, error) {
	store, err := s.store(ctx, sessionID)
	if err != nil {
		return quest.Change{}, err
	}
	return store.StartQuest(ctx, questID)
}

func (s *progressService) RecordCompletion(ctx context.Context, sessionID, questID string, payload quest.Payload) (quest.Change, error) {
	store, err := s.store(ctx, sessionID)
	if err != nil {
		return quest.Change{}, err
	}
	c, err := store.RecordCompletion(ctx, questID, payload)
	if err != nil {
		return quest.Change{}, err
	}
	if c.Kind == quest.ChangeNone {
		s.logger.Debug("completion did not change progress",
			zap.String("session_id", sessionID),
			zap.String("quest_id", questID),
			zap.Bool("passed", c.Passed))
	}
	return c, nil
}

func (s *progressService) ListEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultEventLimit
	case limit > MaxEventLimit:
		limit = MaxEventLimit
	}

	rows, err := s.queries.ListProgressEvents(ctx, s.dbConn, &db.ListProgressEventsParams{
		SessionID: sessionID,
		Limit:     int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list progress events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		unlocked, err := db.DecodeIDs(row.Unlocked)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", row.EventID, err)
		}
		granted, err := db.DecodeIDs(row.Granted)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", row.EventID, err)
		}
		events = append(events, Event{
			ID:            row.EventID,
			Version:       uint64(row.Version),
			Kind:          quest.ChangeKind(row.Kind),
			QuestID:       row.QuestID,
			Unlocked:      unlocked,
			Granted:       granted,
			PointsAwarded: row.PointsAwarded,
			At:            row.CreatedAt.Time,
		})
	}
	return events, nil
}

func (s *progressService) CloseSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.EndSession(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	live, ok := s.live[sessionID]
	delete(s.live, sessionID)
	s.mu.Unlock()

	if ok {
		live.release()
	}
	return nil
}

func (s *progressService) Shutdown() {
	s.mu.Lock()
	live := s.live
	s.live = make(map[string]*liveSession)
	s.mu.Unlock()

	for _, l := range live {
		l.release()
	}
	s.logger.Info("progress stores released", zap.Int("count", len(live)))
}

// release closes the store, waiting for a load in flight. Callers waiting
// on the entry retry with a fresh one.
func (l *liveSession) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		l.store.Close()
		l.store = nil
	}
}

// store returns the live store of a session, loading it from the database
// on first use. A cached store is released once the session expires.
func (s *progressService) store(ctx context.Context, sessionID string) (*quest.Store, error) {
	for {
		store, stale, err := s.open(ctx, sessionID, s.entry(sessionID))
		if !stale {
			return store, err
		}
	}
}

func (s *progressService) entry(sessionID string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.live[sessionID]
	if !ok {
		live = &liveSession{}
		s.live[sessionID] = live
	}
	return live
}

// open reports stale when live was evicted while the caller waited for it.
func (s *progressService) open(ctx context.Context, sessionID string, live *liveSession) (*quest.Store, bool, error) {
	live.mu.Lock()
	defer live.mu.Unlock()

	s.mu.Lock()
	current := s.live[sessionID] == live
	s.mu.Unlock()
	if !current {
		return nil, true, nil
	}

	if live.store != nil {
		if live.expiresAt.After(s.now()) {
			return live.store, false, nil
		}
		s.evict(sessionID, live)
		live.store.Close()
		live.store = nil
		s.logger.Info("progress store released for expired session", zap.String("session_id", sessionID))
		return nil, false, ErrSessionExpired
	}

	store, expiresAt, err := s.load(ctx, sessionID)
	if err != nil {
		s.evict(sessionID, live)
		return nil, false, err
	}
	live.store = store
	live.expiresAt = expiresAt
	return store, false, nil
}

// evict drops the map entry if it still belongs to live.
func (s *progressService) evict(sessionID string, live *liveSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[sessionID] == live {
		delete(s.live, sessionID)
	}
}

func (s *progressService) load(ctx context.Context, sessionID string) (*quest.Store, time.Time, error) {
	sess, err := s.sessions.RequireActive(ctx, sessionID)
	if err != nil {
		return nil, time.Time{}, err
	}

	persisted, version, err := db.LoadState(ctx, s.dbConn, sessionID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load progress: %w", err)
	}
	state, dropped, err := quest.Restore(s.registry, persisted)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to restore progress: %w", err)
	}
	if len(dropped) > 0 {
		s.logger.Warn("dropped progress for quests no longer in the registry",
			zap.String("session_id", sessionID),
			zap.Strings("quest_ids", dropped))
	}

	logger := s.logger.With(zap.String("session_id", sessionID))
	store, err := quest.NewStore(s.registry, state,
		quest.WithVersion(version),
		quest.WithLogger(logger),
		quest.WithPersister(s.persister(sessionID)),
	)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to create progress store: %w", err)
	}
	store.Subscribe(logChanges(logger))

	return store, sess.ExpiresAt.Time, nil
}

// persister writes each change and its ledger entry in one transaction.
func (s *progressService) persister(sessionID string) quest.Persister {
	return quest.PersisterFunc(func(ctx context.Context, c quest.Change) error {
		var dbTx db.DBTX
		var tx *sql.Tx
		var err error

		if conn, ok := s.dbConn.(*sql.DB); ok {
			tx, err = conn.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			defer tx.Rollback()
			dbTx = tx
		} else {
			dbTx = s.dbConn
		}

		if err := db.RecordChange(ctx, dbTx, sessionID, c); err != nil {
			return err
		}

		if tx != nil {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit transaction: %w", err)
			}
		}
		return nil
	})
}

func logChanges(logger *zap.Logger) quest.Observer {
	return func(c quest.Change) {
		logger.Info("quest progress changed",
			zap.String("change", string(c.Kind)),
			zap.String("quest_id", c.QuestID),
			zap.Uint64("version", c.Version),
			zap.Strings("unlocked", c.Unlocked),
			zap.Strings("granted", c.Granted),
			zap.Int64("points_awarded", c.PointsAwarded))
	}
}
