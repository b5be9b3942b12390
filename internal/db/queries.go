package db

import (
	"context"
	"database/sql"

	"treasure-map/server/internal/db/types"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and *sql.Conn. Every query takes
// one so callers decide whether it runs inside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New() *Queries {
	return &Queries{}
}

type Queries struct{}

const createLearnerSession = `-- name: CreateLearnerSession :exec
INSERT INTO learner_sessions (session_id, display_name, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?)
`

type CreateLearnerSessionParams struct {
	SessionID   string          `json:"session_id"`
	DisplayName *string         `json:"display_name"`
	CreatedAt   types.Timestamp `json:"created_at"`
	ExpiresAt   types.Timestamp `json:"expires_at"`
}

func (q *Queries) CreateLearnerSession(ctx context.Context, db DBTX, arg *CreateLearnerSessionParams) error {
	_, err := db.ExecContext(ctx, createLearnerSession,
		arg.SessionID,
		arg.DisplayName,
		arg.CreatedAt,
		arg.CreatedAt,
		arg.ExpiresAt,
	)
	return err
}

const getLearnerSession = `-- name: GetLearnerSession :one
SELECT session_id, display_name, points, version, created_at, updated_at, expires_at, ended_at
FROM learner_sessions
WHERE session_id = ?
`

func (q *Queries) GetLearnerSession(ctx context.Context, db DBTX, sessionID string) (*LearnerSession, error) {
	row := db.QueryRowContext(ctx, getLearnerSession, sessionID)
	var i LearnerSession
	err := row.Scan(
		&i.SessionID,
		&i.DisplayName,
		&i.Points,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ExpiresAt,
		&i.EndedAt,
	)
	return &i, err
}

const endLearnerSession = `-- name: EndLearnerSession :execrows
UPDATE learner_sessions
SET ended_at = ?, updated_at = ?
WHERE session_id = ? AND ended_at IS NULL
`

type EndLearnerSessionParams struct {
	EndedAt   types.Timestamp `json:"ended_at"`
	SessionID string          `json:"session_id"`
}

func (q *Queries) EndLearnerSession(ctx context.Context, db DBTX, arg *EndLearnerSessionParams) (int64, error) {
	result, err := db.ExecContext(ctx, endLearnerSession, arg.EndedAt, arg.EndedAt, arg.SessionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateLearnerSessionTotals = `-- name: UpdateLearnerSessionTotals :exec
UPDATE learner_sessions
SET points = ?, version = ?, updated_at = ?
WHERE session_id = ?
`

type UpdateLearnerSessionTotalsParams struct {
	Points    int64           `json:"points"`
	Version   int64           `json:"version"`
	UpdatedAt types.Timestamp `json:"updated_at"`
	SessionID string          `json:"session_id"`
}

func (q *Queries) UpdateLearnerSessionTotals(ctx context.Context, db DBTX, arg *UpdateLearnerSessionTotalsParams) error {
	_, err := db.ExecContext(ctx, updateLearnerSessionTotals,
		arg.Points,
		arg.Version,
		arg.UpdatedAt,
		arg.SessionID,
	)
	return err
}

const deleteQuestProgress = `-- name: DeleteQuestProgress :exec
DELETE FROM quest_progress WHERE session_id = ?
`

func (q *Queries) DeleteQuestProgress(ctx context.Context, db DBTX, sessionID string) error {
	_, err := db.ExecContext(ctx, deleteQuestProgress, sessionID)
	return err
}

const insertQuestProgress = `-- name: InsertQuestProgress :exec
INSERT INTO quest_progress (session_id, quest_id, status, started_at, completed_at, completions, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

type InsertQuestProgressParams struct {
	SessionID   string              `json:"session_id"`
	QuestID     string              `json:"quest_id"`
	Status      string              `json:"status"`
	StartedAt   types.NullTimestamp `json:"started_at"`
	CompletedAt types.NullTimestamp `json:"completed_at"`
	Completions int64               `json:"completions"`
	Payload     *string             `json:"payload"`
}

func (q *Queries) InsertQuestProgress(ctx context.Context, db DBTX, arg *InsertQuestProgressParams) error {
	_, err := db.ExecContext(ctx, insertQuestProgress,
		arg.SessionID,
		arg.QuestID,
		arg.Status,
		arg.StartedAt,
		arg.CompletedAt,
		arg.Completions,
		arg.Payload,
	)
	return err
}

const listQuestProgress = `-- name: ListQuestProgress :many
SELECT session_id, quest_id, status, started_at, completed_at, completions, payload
FROM quest_progress
WHERE session_id = ?
ORDER BY quest_id
`

func (q *Queries) ListQuestProgress(ctx context.Context, db DBTX, sessionID string) ([]*QuestProgress, error) {
	rows, err := db.QueryContext(ctx, listQuestProgress, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*QuestProgress{}
	for rows.Next() {
		var i QuestProgress
		if err := rows.Scan(
			&i.SessionID,
			&i.QuestID,
			&i.Status,
			&i.StartedAt,
			&i.CompletedAt,
			&i.Completions,
			&i.Payload,
		); err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const addUnlockedReward = `-- name: AddUnlockedReward :exec
INSERT OR IGNORE INTO unlocked_rewards (session_id, reward_id, unlocked_at)
VALUES (?, ?, ?)
`

type AddUnlockedRewardParams struct {
	SessionID  string          `json:"session_id"`
	RewardID   string          `json:"reward_id"`
	UnlockedAt types.Timestamp `json:"unlocked_at"`
}

func (q *Queries) AddUnlockedReward(ctx context.Context, db DBTX, arg *AddUnlockedRewardParams) error {
	_, err := db.ExecContext(ctx, addUnlockedReward, arg.SessionID, arg.RewardID, arg.UnlockedAt)
	return err
}

const listUnlockedRewards = `-- name: ListUnlockedRewards :many
SELECT session_id, reward_id, unlocked_at
FROM unlocked_rewards
WHERE session_id = ?
ORDER BY reward_id
`

func (q *Queries) ListUnlockedRewards(ctx context.Context, db DBTX, sessionID string) ([]*UnlockedReward, error) {
	rows, err := db.QueryContext(ctx, listUnlockedRewards, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*UnlockedReward{}
	for rows.Next() {
		var i UnlockedReward
		if err := rows.Scan(&i.SessionID, &i.RewardID, &i.UnlockedAt); err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createProgressEvent = `-- name: CreateProgressEvent :exec
INSERT INTO progress_events (session_id, version, kind, quest_id, unlocked, granted, points_awarded, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateProgressEventParams struct {
	SessionID     string          `json:"session_id"`
	Version       int64           `json:"version"`
	Kind          string          `json:"kind"`
	QuestID       string          `json:"quest_id"`
	Unlocked      string          `json:"unlocked"`
	Granted       string          `json:"granted"`
	PointsAwarded int64           `json:"points_awarded"`
	CreatedAt     types.Timestamp `json:"created_at"`
}

func (q *Queries) CreateProgressEvent(ctx context.Context, db DBTX, arg *CreateProgressEventParams) error {
	_, err := db.ExecContext(ctx, createProgressEvent,
		arg.SessionID,
		arg.Version,
		arg.Kind,
		arg.QuestID,
		arg.Unlocked,
		arg.Granted,
		arg.PointsAwarded,
		arg.CreatedAt,
	)
	return err
}

const listProgressEvents = `-- name: ListProgressEvents :many
SELECT event_id, session_id, version, kind, quest_id, unlocked, granted, points_awarded, created_at
FROM progress_events
WHERE session_id = ?
ORDER BY event_id DESC
LIMIT ?
`

type ListProgressEventsParams struct {
	SessionID string `json:"session_id"`
	Limit     int64  `json:"limit"`
}

func (q *Queries) ListProgressEvents(ctx context.Context, db DBTX, arg *ListProgressEventsParams) ([]*ProgressEvent, error) {
	rows, err := db.QueryContext(ctx, listProgressEvents, arg.SessionID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*ProgressEvent{}
	for rows.Next() {
		var i ProgressEvent
		if err := rows.Scan(
			&i.EventID,
			&i.SessionID,
			&i.Version,
			&i.Kind,
			&i.QuestID,
			&i.Unlocked,
			&i.Granted,
			&i.PointsAwarded,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
