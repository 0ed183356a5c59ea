package ledger

import "sort"

// Tier describes one purchase tier. Converting an amount at or above the
// threshold of a tier with a non-zero reward percentage opens the purchaser's
// own reward window for WindowDays.
type Tier struct {
	Threshold        float64 `yaml:"threshold" json:"threshold"`
	RewardPercentage float64 `yaml:"reward_percentage" json:"reward_percentage"`
	WindowDays       int     `yaml:"window_days" json:"window_days"`
}

// DefaultTiers returns the storefront's five product tiers. Only the second
// tier and above activate the reward window.
func DefaultTiers() []Tier {
	return []Tier{
		{Threshold: 600},
		{Threshold: 1300, RewardPercentage: 0.05, WindowDays: 365},
		{Threshold: 2800, RewardPercentage: 0.05, WindowDays: 365},
		{Threshold: 5000, RewardPercentage: 0.05, WindowDays: 365},
		{Threshold: 8000, RewardPercentage: 0.05, WindowDays: 365},
	}
}

// ValidateTiers checks the table is non-empty, strictly ascending, and that
// every activating tier carries a usable window.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return ErrInvalidTiers
	}
	prev := 0.0
	for _, tier := range tiers {
		if tier.Threshold <= prev {
			return ErrInvalidTiers
		}
		if tier.RewardPercentage < 0 || tier.RewardPercentage >= 1 {
			return ErrInvalidTiers
		}
		if tier.RewardPercentage > 0 && tier.WindowDays <= 0 {
			return ErrInvalidTiers
		}
		prev = tier.Threshold
	}
	return nil
}

// activationFor returns the highest tier whose threshold the amount reaches,
// or nil when no tier matches or the matched tier does not activate a window.
func activationFor(tiers []Tier, amount float64) *Tier {
	idx := sort.Search(len(tiers), func(i int) bool {
		return tiers[i].Threshold > amount
	})
	if idx == 0 {
		return nil
	}
	tier := tiers[idx-1]
	if tier.RewardPercentage <= 0 {
		return nil
	}
	return &tier
}
