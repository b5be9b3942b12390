package session

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"treasure-map/server/internal/db"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrSessionExpired  = errors.New("session has expired")
	ErrInvalidToken    = errors.New("invalid session token")
)

// Service manages anonymous learner sessions. A session is the lifetime of
// one learner's progress; its token carries the session id as subject.
type Service interface {
	CreateSession(ctx context.Context, displayName string) (*db.LearnerSession, error)
	GetSession(ctx context.Context, sessionID string) (*db.LearnerSession, error)
	// RequireActive returns the session, or ErrSessionEnded/ErrSessionExpired
	// when it can no longer make progress.
	RequireActive(ctx context.Context, sessionID string) (*db.LearnerSession, error)
	EndSession(ctx context.Context, sessionID string) error
	GenerateToken(session *db.LearnerSession) (string, error)
	ValidateToken(tokenString string) (*jwt.RegisteredClaims, error)
}
