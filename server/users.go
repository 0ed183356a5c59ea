package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ybcstore/auth"
	"ybcstore/models"
	"ybcstore/observability/logging"
	"ybcstore/storage"
)

// CreateUser registers an account, optionally linking it under a referrer.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Username     string `json:"username"`
		ReferralCode string `json:"referral_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	user, err := s.Store.CreateUser(r.Context(), storage.CreateUserParams{
		Email:      req.Email,
		Username:   req.Username,
		Role:       models.RoleUser,
		ParentCode: req.ReferralCode,
	})
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.Metrics.Registrations.Inc()
	s.Logger.Info("user registered",
		"user_id", user.ID,
		logging.EmailAttr("email", user.Email),
		"linked", user.ParentID != nil,
	)
	s.writeJSON(w, http.StatusCreated, user)
}

// GetUser returns one account. Users may only read themselves; admins may
// read anyone.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectScopedID(w, r)
	if !ok {
		return
	}
	user, err := s.Store.GetUser(r.Context(), userID)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// GetReferrals returns the user's downline tree, three levels deep.
func (s *Server) GetReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectScopedID(w, r)
	if !ok {
		return
	}
	tree, err := s.Store.Downline(r.Context(), userID)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

// GetPurchases returns the user's conversion history.
func (s *Server) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectScopedID(w, r)
	if !ok {
		return
	}
	purchases, err := s.Store.PurchasesByUser(r.Context(), userID)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, purchases)
}

// GetRewards returns rewards credited to the user.
func (s *Server) GetRewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectScopedID(w, r)
	if !ok {
		return
	}
	rewards, err := s.Store.RewardsByUser(r.Context(), userID)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rewards)
}

// GetTransfers returns transfers the user sent or received.
func (s *Server) GetTransfers(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectScopedID(w, r)
	if !ok {
		return
	}
	transfers, err := s.Store.TransfersByUser(r.Context(), userID)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transfers)
}

// GetEvents returns the audit trail for one account. Admin routes only.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	events, err := s.Store.EventsByUser(r.Context(), userID)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// subjectScopedID parses the {id} route parameter and enforces that
// non-admin callers only address their own account.
func (s *Server) subjectScopedID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	if claims.Role != auth.RoleAdmin && claims.Subject != userID.String() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return uuid.Nil, false
	}
	return userID, true
}
