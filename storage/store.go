// Package storage owns all database access. Balance and credit fields are
// mutated exclusively here, inside transactions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ybcstore/ledger"
	"ybcstore/models"
	"ybcstore/referral"
)

var (
	ErrUserNotFound        = errors.New("storage: user not found")
	ErrEmailTaken          = errors.New("storage: email already registered")
	ErrSelfTransfer        = errors.New("storage: cannot transfer to self")
	ErrInsufficientBalance = errors.New("storage: insufficient balance")
	ErrTransferAborted     = errors.New("storage: transfer aborted")
)

// codeRetries bounds referral code regeneration on unique-index collisions.
const codeRetries = 5

// Store wraps the database handle with the conversion planner. The planner
// is held behind an atomic pointer because the admin tier update swaps it
// while request goroutines are planning conversions.
type Store struct {
	db     *gorm.DB
	engine atomic.Pointer[ledger.Engine]
	now    func() time.Time
}

func New(db *gorm.DB, engine *ledger.Engine) *Store {
	s := &Store{db: db, now: time.Now}
	s.engine.Store(engine)
	return s
}

// WithClock overrides the clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Engine returns the active planner.
func (s *Store) Engine() *ledger.Engine {
	return s.engine.Load()
}

// SetEngine swaps the planner. In-flight conversions finish with the
// planner they loaded.
func (s *Store) SetEngine(engine *ledger.Engine) {
	s.engine.Store(engine)
}

// CreateUserParams carries registration input.
type CreateUserParams struct {
	Email      string
	Username   string
	Role       string
	ParentCode string
}

// CreateUser registers an account, generating its referral code and linking
// it under the owner of ParentCode when one is supplied.
func (s *Store) CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return nil, fmt.Errorf("storage: email is required")
	}
	role := params.Role
	if role == "" {
		role = models.RoleUser
	}

	var parentID *uuid.UUID
	if params.ParentCode != "" {
		parent, err := referral.ResolveParent(ctx, s, params.ParentCode)
		if err != nil {
			return nil, err
		}
		parentID = &parent.ID
	}

	user := &models.User{
		ID:       uuid.New(),
		Email:    email,
		Username: strings.TrimSpace(params.Username),
		Role:     role,
		ParentID: parentID,
	}
	if parentID != nil {
		if err := referral.ValidateLink(ctx, s, user.ID, *parentID); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < codeRetries; attempt++ {
		code, err := referral.NewCode()
		if err != nil {
			return nil, err
		}
		user.ReferralCode = code
		err = s.db.WithContext(ctx).Create(user).Error
		if err == nil {
			return user, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		// The email index and the code index share the violation error;
		// disambiguate by probing for the email.
		var existing models.User
		if probe := s.db.WithContext(ctx).First(&existing, "email = ?", email).Error; probe == nil {
			return nil, ErrEmailTaken
		}
	}
	return nil, fmt.Errorf("storage: could not allocate a unique referral code")
}

// UserByID implements referral.Directory. A missing row yields (nil, nil).
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser is UserByID with a not-found error for handler use.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UserByReferralCode implements referral.Directory.
func (s *Store) UserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "referral_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Children implements referral.Directory, ordered oldest first.
func (s *Store) Children(ctx context.Context, parentID uuid.UUID) ([]*models.User, error) {
	var users []*models.User
	err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at asc").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Downline returns the user's referral tree, ledger.MaxAncestorDepth levels deep.
func (s *Store) Downline(ctx context.Context, id uuid.UUID) (*referral.Node, error) {
	root, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return referral.BuildTree(ctx, s, root, ledger.MaxAncestorDepth)
}

func (s *Store) appendEvent(tx *gorm.DB, userID *uuid.UUID, actor, action, details string) error {
	event := models.Event{
		ID:        uuid.New(),
		UserID:    userID,
		Actor:     actor,
		Action:    action,
		Details:   details,
		CreatedAt: s.now(),
	}
	return tx.Create(&event).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
