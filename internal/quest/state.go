package quest

import (
	"fmt"
	"sort"
	"time"
)

// ProgressRecord is one learner's progress on one quest.
type ProgressRecord struct {
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Completions counts passing completions; above one only for
	// repeatable quests.
	Completions int `json:"completions,omitempty"`
	// Payload is the last passing payload.
	Payload *Payload `json:"payload,omitempty"`
}

func (r ProgressRecord) clone() ProgressRecord {
	if r.StartedAt != nil {
		t := *r.StartedAt
		r.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	if r.Payload != nil {
		p := r.Payload.clone()
		r.Payload = &p
	}
	return r
}

func (r ProgressRecord) equal(o ProgressRecord) bool {
	if r.Status != o.Status || r.Completions != o.Completions {
		return false
	}
	if !timePtrEqual(r.StartedAt, o.StartedAt) || !timePtrEqual(r.CompletedAt, o.CompletedAt) {
		return false
	}
	if (r.Payload == nil) != (o.Payload == nil) {
		return false
	}
	return r.Payload == nil || r.Payload.equal(*o.Payload)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// PlayerState is the complete progress of one learner: a record per quest,
// the unlocked (non-currency) rewards, and the accumulated points.
//
// Values handed out by a Store are deep copies; mutating them has no effect
// on the store.
type PlayerState struct {
	Quests  map[string]ProgressRecord `json:"quests"`
	Rewards []string                  `json:"rewards"`
	Points  int64                     `json:"points"`
}

// NewPlayerState returns the starting state for reg: every quest locked,
// then quests without unmet prerequisites made available.
func NewPlayerState(reg *Registry) PlayerState {
	s := PlayerState{
		Quests:  make(map[string]ProgressRecord, reg.Len()),
		Rewards: []string{},
	}
	for _, q := range reg.quests {
		s.Quests[q.ID] = ProgressRecord{Status: StatusLocked}
	}
	s.applyUnlocks(Unlockable(reg, s))
	return s
}

// Restore reconciles a persisted state with the current registry. Records
// for quests the registry no longer declares are dropped and their ids
// returned. Missing records start locked, and an available record whose
// prerequisites are not all completed is demoted to locked. In-progress and
// completed records are kept as they are.
func Restore(reg *Registry, persisted PlayerState) (PlayerState, []string, error) {
	s := PlayerState{
		Quests: make(map[string]ProgressRecord, reg.Len()),
		Points: persisted.Points,
	}
	var dropped []string
	for id, rec := range persisted.Quests {
		if !rec.Status.Valid() {
			return PlayerState{}, nil, fmt.Errorf("quest %q: invalid status %q", id, rec.Status)
		}
		if !reg.Has(id) {
			dropped = append(dropped, id)
			continue
		}
		s.Quests[id] = rec.clone()
	}
	sort.Strings(dropped)

	for _, q := range reg.quests {
		rec, ok := s.Quests[q.ID]
		if !ok {
			s.Quests[q.ID] = ProgressRecord{Status: StatusLocked}
			continue
		}
		if rec.Status == StatusAvailable && !s.prerequisitesMet(reg, q.ID) {
			rec.Status = StatusLocked
			s.Quests[q.ID] = rec
		}
	}

	s.Rewards = make([]string, 0, len(persisted.Rewards))
	for _, id := range persisted.Rewards {
		s.addReward(id)
	}

	s.applyUnlocks(Unlockable(reg, s))
	return s, dropped, nil
}

// Status returns the status of a quest, or "" if the state has no record.
func (s PlayerState) Status(questID string) Status {
	return s.Quests[questID].Status
}

// HasReward reports whether a reward has been unlocked.
func (s PlayerState) HasReward(rewardID string) bool {
	i := sort.SearchStrings(s.Rewards, rewardID)
	return i < len(s.Rewards) && s.Rewards[i] == rewardID
}

// Clone returns a deep copy.
func (s PlayerState) Clone() PlayerState {
	out := PlayerState{
		Quests:  make(map[string]ProgressRecord, len(s.Quests)),
		Rewards: append(make([]string, 0, len(s.Rewards)), s.Rewards...),
		Points:  s.Points,
	}
	for id, rec := range s.Quests {
		out.Quests[id] = rec.clone()
	}
	return out
}

// Equal compares two states by value; timestamps are compared with
// time.Time.Equal.
func (s PlayerState) Equal(o PlayerState) bool {
	if s.Points != o.Points || len(s.Quests) != len(o.Quests) || len(s.Rewards) != len(o.Rewards) {
		return false
	}
	for i := range s.Rewards {
		if s.Rewards[i] != o.Rewards[i] {
			return false
		}
	}
	for id, rec := range s.Quests {
		orec, ok := o.Quests[id]
		if !ok || !rec.equal(orec) {
			return false
		}
	}
	return true
}

// addReward inserts id into the sorted reward set and reports whether it
// was new.
func (s *PlayerState) addReward(id string) bool {
	i := sort.SearchStrings(s.Rewards, id)
	if i < len(s.Rewards) && s.Rewards[i] == id {
		return false
	}
	s.Rewards = append(s.Rewards, "")
	copy(s.Rewards[i+1:], s.Rewards[i:])
	s.Rewards[i] = id
	return true
}

func (s *PlayerState) applyUnlocks(ids []string) {
	for _, id := range ids {
		rec := s.Quests[id]
		rec.Status = StatusAvailable
		s.Quests[id] = rec
	}
}

func (s PlayerState) prerequisitesMet(reg *Registry, questID string) bool {
	for _, pre := range reg.prerequisites(questID) {
		if s.Quests[pre].Status != StatusCompleted {
			return false
		}
	}
	return true
}
