package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ybcstore/ledger"
	"ybcstore/models"
)

// ConversionResult reports what one conversion wrote.
type ConversionResult struct {
	User     *models.User     `json:"user"`
	Purchase *models.Purchase `json:"purchase"`
	Rewards  []models.Reward  `json:"rewards"`
}

// ConvertCredits converts amount credits into balance at 1:1 and credits
// every eligible ancestor, all inside one transaction. Every row the plan
// touches is read under a row lock before the first write; failure leaves no
// partial state. Domain errors pass through; anything else is reported as a
// retryable aborted conversion.
func (s *Store) ConvertCredits(ctx context.Context, userID uuid.UUID, amount float64, actor string) (*ConversionResult, error) {
	engine := s.Engine()
	var result *ConversionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		var purchaser models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&purchaser, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledger.ErrPurchaserNotFound
			}
			return err
		}

		ancestors, err := lockAncestors(tx, &purchaser)
		if err != nil {
			return err
		}

		plan, err := engine.PlanConversion(&purchaser, ancestors, amount, now)
		if err != nil {
			return err
		}

		purchaser.Credits = plan.CreditsAfter
		purchaser.Balance = plan.BalanceAfter
		if plan.Activation != nil {
			pct := plan.Activation.Percentage
			expires := plan.Activation.ExpiresAt
			purchaser.RewardPercentage = &pct
			purchaser.RewardExpiresAt = &expires
		}
		purchaser.UpdatedAt = now
		if err := tx.Save(&purchaser).Error; err != nil {
			return err
		}

		purchase := &models.Purchase{
			ID:          uuid.New(),
			UserID:      purchaser.ID,
			Amount:      plan.Amount,
			Currency:    models.CurrencyYBC,
			PaidCredits: plan.Amount,
			CreatedAt:   now,
		}
		if err := tx.Create(purchase).Error; err != nil {
			return err
		}

		rewards := make([]models.Reward, 0, len(plan.AncestorCredits))
		for _, credit := range plan.AncestorCredits {
			updates := map[string]any{"balance": credit.BalanceAfter, "updated_at": now}
			if err := tx.Model(&models.User{}).Where("id = ?", credit.UserID).Updates(updates).Error; err != nil {
				return err
			}
			reward := models.Reward{
				ID:             uuid.New(),
				RecipientID:    credit.UserID,
				SourceUserID:   purchaser.ID,
				Depth:          credit.Depth,
				Amount:         credit.Amount,
				PurchaseAmount: plan.Amount,
				Currency:       models.CurrencyRM,
				CreatedAt:      now,
			}
			if err := tx.Create(&reward).Error; err != nil {
				return err
			}
			rewards = append(rewards, reward)
		}

		details := fmt.Sprintf("amount=%.2f rewards=%d", plan.Amount, len(rewards))
		if err := s.appendEvent(tx, &purchaser.ID, actor, "conversion.completed", details); err != nil {
			return err
		}

		result = &ConversionResult{User: &purchaser, Purchase: purchase, Rewards: rewards}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ledger.ErrConversionAborted, err)
	}
	return result, nil
}

// lockAncestors walks parent links up to the planner's depth, taking a row
// lock on each ancestor before any write happens. Order is parent first.
func lockAncestors(tx *gorm.DB, purchaser *models.User) ([]*models.User, error) {
	ancestors := make([]*models.User, 0, ledger.MaxAncestorDepth)
	next := purchaser.ParentID
	for depth := 0; depth < ledger.MaxAncestorDepth && next != nil; depth++ {
		var ancestor models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ancestor, "id = ?", *next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Dangling parent link: the chain ends here.
			break
		}
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, &ancestor)
		next = ancestor.ParentID
	}
	return ancestors, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, ledger.ErrPurchaserNotFound) ||
		errors.Is(err, ledger.ErrInsufficientCredit) ||
		errors.Is(err, ledger.ErrAmountNotPositive)
}
