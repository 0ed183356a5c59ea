package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"ybcstore/auth"
)

// CreateConversion converts credits into balance and rewards eligible
// ancestors in one atomic write.
func (s *Server) CreateConversion(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id"`
		Amount float64   `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.UserID == uuid.Nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if claims.Role != auth.RoleAdmin && claims.Subject != req.UserID.String() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	result, err := s.Store.ConvertCredits(r.Context(), req.UserID, req.Amount, claims.Subject)
	if err != nil {
		s.Metrics.ObserveConversion("error", 0, 0, 0)
		s.handleStoreError(w, err)
		return
	}

	rewardValue := 0.0
	for _, reward := range result.Rewards {
		rewardValue += reward.Amount
	}
	s.Metrics.ObserveConversion("ok", result.Purchase.Amount, len(result.Rewards), rewardValue)
	s.Logger.Info("conversion completed",
		"user_id", req.UserID,
		"amount", result.Purchase.Amount,
		"rewards", len(result.Rewards),
	)
	s.writeJSON(w, http.StatusCreated, result)
}

// CreateTransfer moves balance between two accounts.
func (s *Server) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		FromUserID uuid.UUID `json:"from_user_id"`
		ToUserID   uuid.UUID `json:"to_user_id"`
		Amount     float64   `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.FromUserID == uuid.Nil || req.ToUserID == uuid.Nil {
		http.Error(w, "from_user_id and to_user_id are required", http.StatusBadRequest)
		return
	}
	if claims.Role != auth.RoleAdmin && claims.Subject != req.FromUserID.String() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	record, err := s.Store.Transfer(r.Context(), req.FromUserID, req.ToUserID, req.Amount, claims.Subject)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.Metrics.Transfers.Inc()
	s.writeJSON(w, http.StatusCreated, record)
}
