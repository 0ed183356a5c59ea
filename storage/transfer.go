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

// Transfer moves amount from one balance to another atomically. Rows are
// locked in a deterministic order so concurrent opposing transfers cannot
// deadlock.
func (s *Store) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount float64, actor string) (*models.Transfer, error) {
	if fromID == toID {
		return nil, ErrSelfTransfer
	}
	if amount <= 0 {
		return nil, ledger.ErrAmountNotPositive
	}

	var record *models.Transfer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		first, second := fromID, toID
		if second.String() < first.String() {
			first, second = second, first
		}
		locked := make(map[uuid.UUID]*models.User, 2)
		for _, id := range []uuid.UUID{first, second} {
			var user models.User
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrUserNotFound
				}
				return err
			}
			locked[id] = &user
		}
		from, to := locked[fromID], locked[toID]

		if from.Balance < amount {
			return ErrInsufficientBalance
		}
		from.Balance -= amount
		from.UpdatedAt = now
		to.Balance += amount
		to.UpdatedAt = now
		if err := tx.Save(from).Error; err != nil {
			return err
		}
		if err := tx.Save(to).Error; err != nil {
			return err
		}

		record = &models.Transfer{
			ID:         uuid.New(),
			FromUserID: fromID,
			ToUserID:   toID,
			Amount:     amount,
			Currency:   models.CurrencyYBC,
			CreatedAt:  now,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		details := fmt.Sprintf("to=%s amount=%.2f", toID, amount)
		return s.appendEvent(tx, &fromID, actor, "transfer.completed", details)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInsufficientBalance) {
			return nil, err
		}
		// Lock conflicts with a concurrent conversion land here; nothing
		// was written, so the caller can retry.
		return nil, fmt.Errorf("%w: %v", ErrTransferAborted, err)
	}
	return record, nil
}

// TopUpCredits adds purchased credits to an account. Admin-only at the HTTP
// layer; audited here.
func (s *Store) TopUpCredits(ctx context.Context, userID uuid.UUID, amount float64, actor string) (*models.User, error) {
	if amount <= 0 {
		return nil, ledger.ErrAmountNotPositive
	}
	var updated *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		user.Credits += amount
		user.UpdatedAt = s.now()
		if err := tx.Save(&user).Error; err != nil {
			return err
		}
		updated = &user
		details := fmt.Sprintf("amount=%.2f", amount)
		return s.appendEvent(tx, &user.ID, actor, "credits.topup", details)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
