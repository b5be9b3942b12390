package db

import (
	"treasure-map/server/internal/db/types"
)

type LearnerSession struct {
	SessionID   string              `json:"session_id"`
	DisplayName *string             `json:"display_name"`
	Points      int64               `json:"points"`
	Version     int64               `json:"version"`
	CreatedAt   types.Timestamp     `json:"created_at"`
	UpdatedAt   types.Timestamp     `json:"updated_at"`
	ExpiresAt   types.Timestamp     `json:"expires_at"`
	EndedAt     types.NullTimestamp `json:"ended_at"`
}

type QuestProgress struct {
	SessionID   string              `json:"session_id"`
	QuestID     string              `json:"quest_id"`
	Status      string              `json:"status"`
	StartedAt   types.NullTimestamp `json:"started_at"`
	CompletedAt types.NullTimestamp `json:"completed_at"`
	Completions int64               `json:"completions"`
	Payload     *string             `json:"payload"`
}

type UnlockedReward struct {
	SessionID  string          `json:"session_id"`
	RewardID   string          `json:"reward_id"`
	UnlockedAt types.Timestamp `json:"unlocked_at"`
}

type ProgressEvent struct {
	EventID       int64           `json:"event_id"`
	SessionID     string          `json:"session_id"`
	Version       int64           `json:"version"`
	Kind          string          `json:"kind"`
	QuestID       string          `json:"quest_id"`
	Unlocked      string          `json:"unlocked"`
	Granted       string          `json:"granted"`
	PointsAwarded int64           `json:"points_awarded"`
	CreatedAt     types.Timestamp `json:"created_at"`
}
