package quest

// RewardCategory groups rewards by how they are granted.
type RewardCategory string

const (
	RewardCosmetic RewardCategory = "cosmetic"
	RewardBadge    RewardCategory = "badge"
	RewardCurrency RewardCategory = "currency"
)

// Reward is something a learner receives for completing a quest.
// Cosmetics and badges are unlocked once; currency adds Amount points.
type Reward struct {
	ID          string         `yaml:"id" json:"id"`
	Category    RewardCategory `yaml:"category" json:"category"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Amount      int64          `yaml:"amount,omitempty" json:"amount,omitempty"`
}

func (r Reward) validate() error {
	if r.ID == "" {
		return malformed("reward with empty id")
	}
	switch r.Category {
	case RewardCosmetic, RewardBadge:
		if r.Amount != 0 {
			return malformed("reward %q: only currency rewards carry an amount", r.ID)
		}
	case RewardCurrency:
		if r.Amount <= 0 {
			return malformed("reward %q: currency amount must be positive", r.ID)
		}
	default:
		return malformed("reward %q: unknown category %q", r.ID, r.Category)
	}
	return nil
}
