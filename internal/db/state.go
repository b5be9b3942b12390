package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"treasure-map/server/internal/db/types"
	"treasure-map/server/internal/quest"
)

var queries = New()

// SaveState replaces the stored quest records of a session with s, adds
// newly unlocked rewards and updates the session totals. Pass a *sql.Tx to
// make the write atomic.
func SaveState(ctx context.Context, dbtx DBTX, sessionID string, s quest.PlayerState, version uint64, at time.Time) error {
	if err := queries.DeleteQuestProgress(ctx, dbtx, sessionID); err != nil {
		return fmt.Errorf("failed to clear quest progress: %w", err)
	}
	for id, rec := range s.Quests {
		params := &InsertQuestProgressParams{
			SessionID:   sessionID,
			QuestID:     id,
			Status:      string(rec.Status),
			StartedAt:   types.NullTimestampFrom(rec.StartedAt),
			CompletedAt: types.NullTimestampFrom(rec.CompletedAt),
			Completions: int64(rec.Completions),
		}
		if rec.Payload != nil {
			data, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode payload of quest %q: %w", id, err)
			}
			payload := string(data)
			params.Payload = &payload
		}
		if err := queries.InsertQuestProgress(ctx, dbtx, params); err != nil {
			return fmt.Errorf("failed to store quest %q: %w", id, err)
		}
	}

	for _, rid := range s.Rewards {
		err := queries.AddUnlockedReward(ctx, dbtx, &AddUnlockedRewardParams{
			SessionID:  sessionID,
			RewardID:   rid,
			UnlockedAt: types.Timestamp{Time: at},
		})
		if err != nil {
			return fmt.Errorf("failed to store reward %q: %w", rid, err)
		}
	}

	err := queries.UpdateLearnerSessionTotals(ctx, dbtx, &UpdateLearnerSessionTotalsParams{
		Points:    s.Points,
		Version:   int64(version),
		UpdatedAt: types.Timestamp{Time: at},
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to update session totals: %w", err)
	}
	return nil
}

// LoadState reads the stored state of a session and the store version it
// was written at. A missing session yields sql.ErrNoRows. The result is not
// reconciled with any registry; see quest.Restore.
func LoadState(ctx context.Context, dbtx DBTX, sessionID string) (quest.PlayerState, uint64, error) {
	session, err := queries.GetLearnerSession(ctx, dbtx, sessionID)
	if err != nil {
		return quest.PlayerState{}, 0, err
	}

	rows, err := queries.ListQuestProgress(ctx, dbtx, sessionID)
	if err != nil {
		return quest.PlayerState{}, 0, fmt.Errorf("failed to list quest progress: %w", err)
	}
	s := quest.PlayerState{
		Quests:  make(map[string]quest.ProgressRecord, len(rows)),
		Rewards: []string{},
		Points:  session.Points,
	}
	for _, row := range rows {
		rec := quest.ProgressRecord{
			Status:      quest.Status(row.Status),
			StartedAt:   row.StartedAt.Ptr(),
			CompletedAt: row.CompletedAt.Ptr(),
			Completions: int(row.Completions),
		}
		if row.Payload != nil {
			var p quest.Payload
			if err := json.Unmarshal([]byte(*row.Payload), &p); err != nil {
				return quest.PlayerState{}, 0, fmt.Errorf("failed to decode payload of quest %q: %w", row.QuestID, err)
			}
			rec.Payload = &p
		}
		s.Quests[row.QuestID] = rec
	}

	rewards, err := queries.ListUnlockedRewards(ctx, dbtx, sessionID)
	if err != nil {
		return quest.PlayerState{}, 0, fmt.Errorf("failed to list rewards: %w", err)
	}
	for _, r := range rewards {
		s.Rewards = append(s.Rewards, r.RewardID)
	}

	return s, uint64(session.Version), nil
}

// RecordChange writes the state carried by c and appends c to the
// session's progress ledger.
func RecordChange(ctx context.Context, dbtx DBTX, sessionID string, c quest.Change) error {
	if err := SaveState(ctx, dbtx, sessionID, c.State, c.Version, c.At); err != nil {
		return err
	}
	unlocked, err := encodeIDs(c.Unlocked)
	if err != nil {
		return err
	}
	granted, err := encodeIDs(c.Granted)
	if err != nil {
		return err
	}
	err = queries.CreateProgressEvent(ctx, dbtx, &CreateProgressEventParams{
		SessionID:     sessionID,
		Version:       int64(c.Version),
		Kind:          string(c.Kind),
		QuestID:       c.QuestID,
		Unlocked:      unlocked,
		Granted:       granted,
		PointsAwarded: c.PointsAwarded,
		CreatedAt:     types.Timestamp{Time: c.At},
	})
	if err != nil {
		return fmt.Errorf("failed to record progress event: %w", err)
	}
	return nil
}

// DecodeIDs parses an id list stored by RecordChange.
func DecodeIDs(data string) ([]string, error) {
	ids := []string{}
	if data == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode id list: %w", err)
	}
	return ids, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode id list: %w", err)
	}
	return string(data), nil
}
