package quest

import (
	"encoding/json"
	"fmt"
)

// MarshalState encodes a state as a flat JSON document:
// {"quests": {id: record}, "rewards": [...], "points": n}.
func MarshalState(s PlayerState) ([]byte, error) {
	out := s.Clone()
	if out.Rewards == nil {
		out.Rewards = []string{}
	}
	return json.Marshal(out)
}

// UnmarshalState decodes a document written by MarshalState.
func UnmarshalState(data []byte) (PlayerState, error) {
	var s PlayerState
	if err := json.Unmarshal(data, &s); err != nil {
		return PlayerState{}, fmt.Errorf("decode player state: %w", err)
	}
	if s.Quests == nil {
		s.Quests = map[string]ProgressRecord{}
	}
	for id, rec := range s.Quests {
		if !rec.Status.Valid() {
			return PlayerState{}, fmt.Errorf("decode player state: quest %q has invalid status %q", id, rec.Status)
		}
	}
	rewards := s.Rewards
	s.Rewards = make([]string, 0, len(rewards))
	for _, id := range rewards {
		s.addReward(id)
	}
	return s, nil
}
