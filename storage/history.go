package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ybcstore/models"
)

// historyLimit caps rows returned by the history queries.
const historyLimit = 200

// PurchasesByUser returns the user's conversions, newest first.
func (s *Store) PurchasesByUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(historyLimit).
		Find(&purchases).Error
	return purchases, err
}

// RewardsByUser returns rewards credited to the user, newest first.
func (s *Store) RewardsByUser(ctx context.Context, userID uuid.UUID) ([]models.Reward, error) {
	var rewards []models.Reward
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("created_at desc").
		Limit(historyLimit).
		Find(&rewards).Error
	return rewards, err
}

// TransfersByUser returns transfers the user sent or received, newest first.
func (s *Store) TransfersByUser(ctx context.Context, userID uuid.UUID) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := s.db.WithContext(ctx).
		Where("from_user_id = ? OR to_user_id = ?", userID, userID).
		Order("created_at desc").
		Limit(historyLimit).
		Find(&transfers).Error
	return transfers, err
}

// PruneEvents deletes audit rows older than maxAge and reports how many went.
func (s *Store) PruneEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Event{})
	return res.RowsAffected, res.Error
}

// EventsByUser returns the audit trail for one account, newest first.
func (s *Store) EventsByUser(ctx context.Context, userID uuid.UUID) ([]models.Event, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(historyLimit).
		Find(&events).Error
	return events, err
}
