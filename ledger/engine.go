package ledger

import (
	"time"

	"github.com/google/uuid"

	"ybcstore/models"
)

// MaxAncestorDepth bounds the referral walk: parent, grandparent,
// great-grandparent.
const MaxAncestorDepth = 3

// DefaultReferralRates returns the reward rate per ancestor depth.
func DefaultReferralRates() []float64 {
	return []float64{0.05, 0.03, 0.02}
}

// Plan is the full set of mutations one conversion produces. The storage
// layer applies it as a single all-or-nothing write; the planner itself
// performs no I/O.
type Plan struct {
	UserID       uuid.UUID
	Amount       float64
	CreditsAfter float64
	BalanceAfter float64

	// Activation is non-nil when the amount reaches a qualifying tier and
	// the purchaser's own reward window opens as part of the same write.
	Activation *Activation

	AncestorCredits []AncestorCredit
}

// Activation captures the reward window opened for the purchaser.
type Activation struct {
	Percentage float64
	ExpiresAt  time.Time
}

// AncestorCredit is one eligible ancestor's reward.
type AncestorCredit struct {
	UserID       uuid.UUID
	Depth        int
	Rate         float64
	Amount       float64
	BalanceAfter float64
}

// Engine plans credit conversions against a configured tier table and
// referral rate schedule.
type Engine struct {
	tiers []Tier
	rates []float64
}

// NewEngine validates the configuration and returns a planner.
func NewEngine(tiers []Tier, rates []float64) (*Engine, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		rates = DefaultReferralRates()
	}
	if len(rates) > MaxAncestorDepth {
		return nil, ErrInvalidRates
	}
	for _, rate := range rates {
		if rate <= 0 || rate >= 1 {
			return nil, ErrInvalidRates
		}
	}
	return &Engine{
		tiers: append([]Tier(nil), tiers...),
		rates: append([]float64(nil), rates...),
	}, nil
}

// Tiers returns a copy of the configured tier table.
func (e *Engine) Tiers() []Tier {
	return append([]Tier(nil), e.tiers...)
}

// Rates returns a copy of the configured referral rate schedule.
func (e *Engine) Rates() []float64 {
	return append([]float64(nil), e.rates...)
}

// RewardActive reports whether the user's reward window is open at the given
// instant. Eligibility is computed, never stored: both window fields must be
// set and the expiry must be strictly in the future.
func RewardActive(u *models.User, now time.Time) bool {
	if u == nil || u.RewardPercentage == nil || u.RewardExpiresAt == nil {
		return false
	}
	return u.RewardExpiresAt.After(now)
}

// PlanConversion computes the mutations for converting amount credits into
// balance at 1:1. The purchaser snapshot and the ancestor snapshots (ordered
// parent first, at most MaxAncestorDepth entries) must all be read before the
// caller issues any write. Eligibility is evaluated against now; a window
// expiring between planning and commit is not re-checked.
func (e *Engine) PlanConversion(purchaser *models.User, ancestors []*models.User, amount float64, now time.Time) (*Plan, error) {
	if purchaser == nil {
		return nil, ErrPurchaserNotFound
	}
	if amount <= 0 {
		return nil, ErrAmountNotPositive
	}
	if purchaser.Credits < amount {
		return nil, ErrInsufficientCredit
	}

	plan := &Plan{
		UserID:       purchaser.ID,
		Amount:       amount,
		CreditsAfter: purchaser.Credits - amount,
		BalanceAfter: purchaser.Balance + amount,
	}

	if tier := activationFor(e.tiers, amount); tier != nil {
		plan.Activation = &Activation{
			Percentage: tier.RewardPercentage,
			ExpiresAt:  now.Add(time.Duration(tier.WindowDays) * 24 * time.Hour),
		}
	}

	for i, ancestor := range ancestors {
		if i >= len(e.rates) {
			break
		}
		if ancestor == nil || !RewardActive(ancestor, now) {
			continue
		}
		reward := amount * e.rates[i]
		plan.AncestorCredits = append(plan.AncestorCredits, AncestorCredit{
			UserID:       ancestor.ID,
			Depth:        i + 1,
			Rate:         e.rates[i],
			Amount:       reward,
			BalanceAfter: ancestor.Balance + reward,
		})
	}

	return plan, nil
}
