package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"ybcstore/auth"
	"ybcstore/ledger"
)

// GetTiers returns the active tier table and referral rates.
func (s *Server) GetTiers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tiers":          s.Store.Engine().Tiers(),
		"referral_rates": s.Store.Engine().Rates(),
	})
}

// UpdateTiers replaces the tier table. Existing reward windows are
// untouched; the new table applies to conversions from now on.
func (s *Server) UpdateTiers(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		Tiers []ledger.Tier `json:"tiers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	engine, err := ledger.NewEngine(req.Tiers, s.Store.Engine().Rates())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Store.SetEngine(engine)
	s.Logger.Info("tier table updated", "actor", claims.Subject, "tiers", len(req.Tiers))
	s.writeJSON(w, http.StatusOK, map[string]any{"tiers": engine.Tiers()})
}

// TopUpCredits credits purchased RM to an account.
func (s *Server) TopUpCredits(w http.ResponseWriter, r *http.Request) {
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

	user, err := s.Store.TopUpCredits(r.Context(), req.UserID, req.Amount, claims.Subject)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}
