package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"treasure-map/server/internal/db"
	"treasure-map/server/internal/db/types"
	"treasure-map/server/pkg/config"
)

const maxDisplayNameLength = 40

type sessionService struct {
	config  config.Config
	logger  *zap.Logger
	dbConn  db.DBTX
	queries *db.Queries
	now     func() time.Time
}

func NewSessionService(cfg config.Config, logger *zap.Logger, dbConn db.DBTX) Service {
	return &sessionService{
		config:  cfg,
		logger:  logger,
		dbConn:  dbConn,
		queries: db.New(),
		now:     time.Now,
	}
}

func (s *sessionService) CreateSession(ctx context.Context, displayName string) (*db.LearnerSession, error) {
	now := s.now().UTC()
	params := &db.CreateLearnerSessionParams{
		SessionID: uuid.NewString(),
		CreatedAt: types.Timestamp{Time: now},
		ExpiresAt: types.Timestamp{Time: now.Add(s.config.JWT.SessionExpiration)},
	}
	if name := strings.TrimSpace(displayName); name != "" {
		if len([]rune(name)) > maxDisplayNameLength {
			name = string([]rune(name)[:maxDisplayNameLength])
		}
		params.DisplayName = &name
	}

	if err := s.queries.CreateLearnerSession(ctx, s.dbConn, params); err != nil {
		s.logger.Error("CreateLearnerSession query failed", zap.Error(err))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Info("learner session created", zap.String("session_id", params.SessionID))

	return s.GetSession(ctx, params.SessionID)
}

func (s *sessionService) GetSession(ctx context.Context, sessionID string) (*db.LearnerSession, error) {
	session, err := s.queries.GetLearnerSession(ctx, s.dbConn, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *sessionService) RequireActive(ctx context.Context, sessionID string) (*db.LearnerSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.EndedAt.Valid {
		return nil, ErrSessionEnded
	}
	if !session.ExpiresAt.Time.After(s.now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (s *sessionService) EndSession(ctx context.Context, sessionID string) error {
	n, err := s.queries.EndLearnerSession(ctx, s.dbConn, &db.EndLearnerSessionParams{
		EndedAt:   types.Timestamp{Time: s.now().UTC()},
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return ErrSessionEnded
	}
	s.logger.Info("learner session ended", zap.String("session_id", sessionID))
	return nil
}

func (s *sessionService) GenerateToken(session *db.LearnerSession) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   session.SessionID,
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt.Time),
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWT.Secret))
}

func (s *sessionService) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.JWT.Secret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a session id", ErrInvalidToken)
	}
	return claims, nil
}
