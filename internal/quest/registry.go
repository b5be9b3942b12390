package quest

import (
	"fmt"
	"strings"
)

// Quest is a learning or challenge unit on the treasure map.
type Quest struct {
	ID            string   `yaml:"id" json:"id"`
	Title         string   `yaml:"title" json:"title"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
	Island        string   `yaml:"island,omitempty" json:"island,omitempty"`
	Prerequisites []string `yaml:"prerequisites,omitempty" json:"prerequisites"`
	Rewards       []string `yaml:"rewards,omitempty" json:"rewards"`
	Criteria      Criteria `yaml:"criteria" json:"criteria"`
	Repeatable    bool     `yaml:"repeatable,omitempty" json:"repeatable"`
}

func (q Quest) clone() Quest {
	q.Prerequisites = append([]string(nil), q.Prerequisites...)
	q.Rewards = append([]string(nil), q.Rewards...)
	return q
}

// Registry is the immutable catalogue of quests and rewards. It is safe to
// share between any number of stores.
type Registry struct {
	quests  []Quest
	index   map[string]int
	rewards []Reward
	byID    map[string]int
}

// NewRegistry validates the definitions and builds a registry. Quest
// declaration order is kept and used as evaluation order.
func NewRegistry(quests []Quest, rewards []Reward) (*Registry, error) {
	r := &Registry{
		quests:  make([]Quest, 0, len(quests)),
		index:   make(map[string]int, len(quests)),
		rewards: make([]Reward, 0, len(rewards)),
		byID:    make(map[string]int, len(rewards)),
	}

	for _, rw := range rewards {
		if err := rw.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[rw.ID]; dup {
			return nil, malformed("duplicate reward id %q", rw.ID)
		}
		r.byID[rw.ID] = len(r.rewards)
		r.rewards = append(r.rewards, rw)
	}

	for _, q := range quests {
		if q.ID == "" {
			return nil, malformed("quest with empty id")
		}
		if _, dup := r.index[q.ID]; dup {
			return nil, malformed("duplicate quest id %q", q.ID)
		}
		if err := q.Criteria.validate(); err != nil {
			return nil, fmt.Errorf("quest %q: %w", q.ID, err)
		}
		for _, rid := range q.Rewards {
			if _, ok := r.byID[rid]; !ok {
				return nil, malformed("quest %q references unknown reward %q", q.ID, rid)
			}
		}
		r.index[q.ID] = len(r.quests)
		r.quests = append(r.quests, q.clone())
	}

	for _, q := range r.quests {
		for _, pre := range q.Prerequisites {
			if _, ok := r.index[pre]; !ok {
				return nil, malformed("quest %q requires unknown quest %q", q.ID, pre)
			}
		}
	}

	if cycle := r.findCycle(); cycle != nil {
		return nil, malformed("prerequisite cycle %s", strings.Join(cycle, " -> "))
	}

	return r, nil
}

// findCycle returns the first prerequisite cycle found walking quests in
// declaration order, or nil.
func (r *Registry) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(r.quests))
	var path []string

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = grey
		path = append(path, r.quests[i].ID)
		for _, pre := range r.quests[i].Prerequisites {
			j := r.index[pre]
			switch color[j] {
			case grey:
				start := 0
				for k, id := range path {
					if id == pre {
						start = k
						break
					}
				}
				cycle := append([]string(nil), path[start:]...)
				return append(cycle, pre)
			case white:
				if c := visit(j); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		color[i] = black
		return nil
	}

	for i := range r.quests {
		if color[i] == white {
			if c := visit(i); c != nil {
				return c
			}
		}
	}
	return nil
}

// Len returns the number of quests.
func (r *Registry) Len() int {
	return len(r.quests)
}

// Quests returns copies of all quests in declaration order.
func (r *Registry) Quests() []Quest {
	out := make([]Quest, len(r.quests))
	for i, q := range r.quests {
		out[i] = q.clone()
	}
	return out
}

// Quest looks up a quest by id.
func (r *Registry) Quest(id string) (Quest, bool) {
	i, ok := r.index[id]
	if !ok {
		return Quest{}, false
	}
	return r.quests[i].clone(), true
}

// Has reports whether the registry declares a quest with this id.
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Rewards returns all rewards in declaration order.
func (r *Registry) Rewards() []Reward {
	return append([]Reward(nil), r.rewards...)
}

// Reward looks up a reward by id.
func (r *Registry) Reward(id string) (Reward, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Reward{}, false
	}
	return r.rewards[i], true
}

// prerequisites returns the registry's own slice; callers must not modify it.
func (r *Registry) prerequisites(id string) []string {
	return r.quests[r.index[id]].Prerequisites
}
