package quest

import (
	"fmt"
	"math"
)

// CriteriaKind selects how a completion payload is judged.
type CriteriaKind string

const (
	CriteriaQuizScore   CriteriaKind = "quiz_score"
	CriteriaInteraction CriteriaKind = "interaction"
	CriteriaNone        CriteriaKind = "none"
)

// Criteria describes what a completion payload must show for a quest to
// count as completed.
type Criteria struct {
	Kind CriteriaKind `yaml:"kind" json:"kind"`

	// quiz_score thresholds; at least one must be set.
	MinScore   int     `yaml:"min_score,omitempty" json:"min_score,omitempty"`
	MinPercent float64 `yaml:"min_percent,omitempty" json:"min_percent,omitempty"`

	// interaction flag that must be set in the payload.
	Flag string `yaml:"flag,omitempty" json:"flag,omitempty"`
}

// Payload is what the presentation layer reports when a quiz or challenge
// ends.
type Payload struct {
	Score    int             `json:"score,omitempty"`
	MaxScore int             `json:"max_score,omitempty"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

func (p Payload) clone() Payload {
	out := Payload{Score: p.Score, MaxScore: p.MaxScore}
	if len(p.Flags) > 0 {
		out.Flags = make(map[string]bool, len(p.Flags))
		for k, v := range p.Flags {
			out.Flags[k] = v
		}
	}
	return out
}

func (p Payload) equal(o Payload) bool {
	if p.Score != o.Score || p.MaxScore != o.MaxScore || len(p.Flags) != len(o.Flags) {
		return false
	}
	for k, v := range p.Flags {
		if ov, ok := o.Flags[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Validate rejects negative scores and a score above a reported maximum.
// A zero MaxScore means no maximum was reported.
func (p Payload) Validate() error {
	if p.Score < 0 || p.MaxScore < 0 {
		return fmt.Errorf("%w: score and max_score cannot be negative", ErrInvalidPayload)
	}
	if p.MaxScore > 0 && p.Score > p.MaxScore {
		return fmt.Errorf("%w: score %d exceeds max_score %d", ErrInvalidPayload, p.Score, p.MaxScore)
	}
	return nil
}

// Satisfied reports whether p meets the criteria.
func (c Criteria) Satisfied(p Payload) bool {
	switch c.Kind {
	case CriteriaNone:
		return true
	case CriteriaInteraction:
		return p.Flags[c.Flag]
	case CriteriaQuizScore:
		if c.MinScore > 0 && p.Score < c.MinScore {
			return false
		}
		if c.MinPercent > 0 {
			if p.MaxScore <= 0 {
				return false
			}
			if float64(p.Score)*100/float64(p.MaxScore) < c.MinPercent {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (c Criteria) validate() error {
	switch c.Kind {
	case CriteriaNone:
		return nil
	case CriteriaInteraction:
		if c.Flag == "" {
			return malformed("interaction criteria needs a flag")
		}
		return nil
	case CriteriaQuizScore:
		if c.MinScore < 0 || math.IsNaN(c.MinPercent) || c.MinPercent < 0 || c.MinPercent > 100 {
			return malformed("quiz_score thresholds out of range (min_score=%d, min_percent=%g)", c.MinScore, c.MinPercent)
		}
		if c.MinScore == 0 && c.MinPercent == 0 {
			return malformed("quiz_score criteria needs min_score or min_percent")
		}
		return nil
	case "":
		return malformed("criteria kind is required")
	default:
		return malformed("unknown criteria kind %q", c.Kind)
	}
}
