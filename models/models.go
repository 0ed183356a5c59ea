package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role enumerations for persistence.
const (
	RoleUser     = "user"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// Currency codes used across ledger records.
const (
	CurrencyYBC = "YBC"
	CurrencyRM  = "RM"
)

// User stores account identity, balances, and referral linkage. The reward
// window fields are both set or both unset; they are only ever written by the
// atomic conversion path in the storage package.
type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string     `gorm:"uniqueIndex" json:"email"`
	Username         string     `gorm:"index" json:"username"`
	Role             string     `gorm:"size:16;index" json:"role"`
	Balance          float64    `gorm:"not null" json:"balance"`
	Credits          float64    `gorm:"not null" json:"credits"`
	ReferralCode     string     `gorm:"uniqueIndex;size:16" json:"referral_code"`
	ParentID         *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	RewardPercentage *float64   `json:"reward_percentage,omitempty"`
	RewardExpiresAt  *time.Time `json:"reward_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Purchase is the append-only audit record for a credit conversion.
type Purchase struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Amount      float64   `gorm:"not null" json:"amount"`
	Currency    string    `gorm:"size:16" json:"currency"`
	PaidCredits float64   `gorm:"not null" json:"paid_credits"`
	CreatedAt   time.Time `json:"created_at"`
}

// Reward is the append-only audit record for one ancestor credit.
type Reward struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RecipientID    uuid.UUID `gorm:"type:uuid;index" json:"recipient_id"`
	SourceUserID   uuid.UUID `gorm:"type:uuid;index" json:"source_user_id"`
	Depth          int       `gorm:"not null" json:"depth"`
	Amount         float64   `gorm:"not null" json:"amount"`
	PurchaseAmount float64   `gorm:"not null" json:"purchase_amount"`
	Currency       string    `gorm:"size:16" json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transfer records a user-to-user balance movement.
type Transfer struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FromUserID uuid.UUID `gorm:"type:uuid;index" json:"from_user_id"`
	ToUserID   uuid.UUID `gorm:"type:uuid;index" json:"to_user_id"`
	Amount     float64   `gorm:"not null" json:"amount"`
	Currency   string    `gorm:"size:16" json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is the generic audit trail structure. Rows are pruned by the
// retention sweep after the configured age.
type Event struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Actor     string     `gorm:"size:64" json:"actor"`
	Action    string     `gorm:"size:64;index" json:"action"`
	Details   string     `gorm:"type:text" json:"details"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Purchase{},
		&Reward{},
		&Transfer{},
		&Event{},
		&IdempotencyKey{},
	)
}
