package progress

import (
	"context"
	"time"

	"treasure-map/server/internal/quest"
	"treasure-map/server/internal/services/session"
)

var (
	ErrSessionNotFound = session.ErrSessionNotFound
	ErrSessionEnded    = session.ErrSessionEnded
	ErrSessionExpired  = session.ErrSessionExpired
)

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 200
)

// Snapshot is a session's state together with the store version that
// produced it.
type Snapshot struct {
	SessionID string
	Version   uint64
	State     quest.PlayerState
}

// Event is one entry of a session's progress ledger.
type Event struct {
	ID            int64
	Version       uint64
	Kind          quest.ChangeKind
	QuestID       string
	Unlocked      []string
	Granted       []string
	PointsAwarded int64
	At            time.Time
}

type Service interface {
	Registry() *quest.Registry
	GetState(ctx context.Context, sessionID string) (*Snapshot, error)
	StartQuest(ctx context.Context, sessionID, questID string) (quest.Change, error)
	RecordCompletion(ctx context.Context, sessionID, questID string, payload quest.Payload) (quest.Change, error)
	// ListEvents returns the newest ledger entries first. A limit outside
	// 1..MaxEventLimit falls back to DefaultEventLimit or MaxEventLimit.
	ListEvents(ctx context.Context, sessionID string, limit int) ([]Event, error)
	// CloseSession ends the session and releases its store. Stores of
	// expired sessions are released on their next use.
	CloseSession(ctx context.Context, sessionID string) error
	// Shutdown releases every live store.
	Shutdown()
}
