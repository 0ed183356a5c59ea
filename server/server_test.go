package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"ybcstore/auth"
	"ybcstore/ledger"
	"ybcstore/models"
	"ybcstore/storage"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	db := setupTestDB(t)
	engine, err := ledger.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	store := storage.New(db, engine)
	srv := New(Config{DB: db, Store: store})
	return srv, store
}

func bearer(subject string, role auth.Role) string {
	return "Bearer " + subject + "|" + string(role)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRegistrationAndConversionFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", "", map[string]any{
		"email": "parent@example.com", "username": "parent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register parent: %d %s", rec.Code, rec.Body.String())
	}
	parent := decode[models.User](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users", "", map[string]any{
		"email": "child@example.com", "referral_code": parent.ReferralCode,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register child: %d %s", rec.Code, rec.Body.String())
	}
	child := decode[models.User](t, rec)
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("child not linked to parent: %+v", child)
	}

	// Fund the child and open the parent's window via a qualifying purchase.
	admin := uuid.New()
	rec = doJSON(t, handler, http.MethodPost, "/admin/credits", bearer(admin.String(), auth.RoleAdmin), map[string]any{
		"user_id": parent.ID, "amount": 1300.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("top up parent: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/conversions", bearer(parent.ID.String(), auth.RoleUser), map[string]any{
		"user_id": parent.ID, "amount": 1300.0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("parent conversion: %d %s", rec.Code, rec.Body.String())
	}
	parentResult := decode[storage.ConversionResult](t, rec)
	if parentResult.User.RewardPercentage == nil {
		t.Fatalf("qualifying purchase did not open window: %+v", parentResult.User)
	}

	rec = doJSON(t, handler, http.MethodPost, "/admin/credits", bearer(admin.String(), auth.RoleAdmin), map[string]any{
		"user_id": child.ID, "amount": 1000.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("top up child: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/conversions", bearer(child.ID.String(), auth.RoleUser), map[string]any{
		"user_id": child.ID, "amount": 1000.0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("child conversion: %d %s", rec.Code, rec.Body.String())
	}
	result := decode[storage.ConversionResult](t, rec)
	if len(result.Rewards) != 1 {
		t.Fatalf("rewards = %d, want 1", len(result.Rewards))
	}
	if result.Rewards[0].Amount != 50.0 {
		t.Fatalf("parent reward = %v, want 50", result.Rewards[0].Amount)
	}
	if result.User.Balance != 1000.0 || result.User.Credits != 0.0 {
		t.Fatalf("child balances wrong: %+v", result.User)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/"+parent.ID.String()+"/rewards", bearer(parent.ID.String(), auth.RoleUser), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rewards history: %d %s", rec.Code, rec.Body.String())
	}
	rewards := decode[[]models.Reward](t, rec)
	if len(rewards) != 1 || rewards[0].Currency != models.CurrencyRM {
		t.Fatalf("rewards history wrong: %+v", rewards)
	}
}

func TestConversionInsufficientCredit(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	user := registerUser(t, handler, "poor@example.com", "")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversions", bearer(user.ID.String(), auth.RoleUser), map[string]any{
		"user_id": user.ID, "amount": 600.0,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusUnprocessableEntity, rec.Body.String())
	}
}

func TestConversionAbortedIsRetryable(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	user := registerUser(t, handler, "retry@example.com", "")

	sqlDB, err := srv.DB.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversions", bearer(user.ID.String(), auth.RoleUser), map[string]any{
		"user_id": user.ID, "amount": 600.0,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusServiceUnavailable, rec.Body.String())
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want %q", got, "1")
	}
}

func TestConversionAuthz(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	victim := registerUser(t, handler, "victim@example.com", "")
	attacker := uuid.New()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversions", bearer(attacker.String(), auth.RoleUser), map[string]any{
		"user_id": victim.ID, "amount": 100.0,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/conversions", "", map[string]any{
		"user_id": victim.ID, "amount": 100.0,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestTransferEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.Handler()

	from := registerUser(t, handler, "from@example.com", "")
	to := registerUser(t, handler, "to@example.com", "")

	admin := uuid.New()
	doJSON(t, handler, http.MethodPost, "/admin/credits", bearer(admin.String(), auth.RoleAdmin), map[string]any{
		"user_id": from.ID, "amount": 600.0,
	})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/conversions", bearer(from.ID.String(), auth.RoleUser), map[string]any{
		"user_id": from.ID, "amount": 600.0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed conversion: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transfers", bearer(from.ID.String(), auth.RoleUser), map[string]any{
		"from_user_id": from.ID, "to_user_id": to.ID, "amount": 250.0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer: %d %s", rec.Code, rec.Body.String())
	}

	reloaded, err := store.GetUser(context.Background(), to.ID)
	if err != nil {
		t.Fatalf("reload recipient: %v", err)
	}
	if reloaded.Balance != 250.0 {
		t.Fatalf("recipient balance = %v, want 250", reloaded.Balance)
	}
}

func TestAdminTierEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	admin := uuid.New()

	rec := doJSON(t, handler, http.MethodGet, "/admin/tiers", bearer(admin.String(), auth.RoleAdmin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get tiers: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPut, "/admin/tiers", bearer(admin.String(), auth.RoleAdmin), map[string]any{
		"tiers": []ledger.Tier{
			{Threshold: 500},
			{Threshold: 1500, RewardPercentage: 0.1, WindowDays: 30},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put tiers: %d %s", rec.Code, rec.Body.String())
	}

	// Descending thresholds are rejected.
	rec = doJSON(t, handler, http.MethodPut, "/admin/tiers", bearer(admin.String(), auth.RoleAdmin), map[string]any{
		"tiers": []ledger.Tier{{Threshold: 1500}, {Threshold: 500}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad tiers accepted: %d", rec.Code)
	}

	// Non-admin roles are shut out.
	rec = doJSON(t, handler, http.MethodGet, "/admin/tiers", bearer(uuid.NewString(), auth.RoleUser), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestIdempotentConversionReplay(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	user := registerUser(t, handler, "idem@example.com", "")
	admin := uuid.New()
	doJSON(t, handler, http.MethodPost, "/admin/credits", bearer(admin.String(), auth.RoleAdmin), map[string]any{
		"user_id": user.ID, "amount": 600.0,
	})

	body := map[string]any{"user_id": user.ID, "amount": 600.0}
	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/conversions", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", bearer(user.ID.String(), auth.RoleUser))
		req.Header.Set("Idempotency-Key", "conv-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	first := send()
	second := send()

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("statuses: %d, %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed response differs")
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/"+user.ID.String(), bearer(user.ID.String(), auth.RoleUser), nil)
	reloaded := decode[models.User](t, rec)
	if reloaded.Credits != 0 || reloaded.Balance != 600 {
		t.Fatalf("conversion ran twice: %+v", reloaded)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func registerUser(t *testing.T, handler http.Handler, email, referralCode string) models.User {
	t.Helper()
	payload := map[string]any{"email": email}
	if referralCode != "" {
		payload["referral_code"] = referralCode
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", "", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, rec.Code, rec.Body.String())
	}
	return decode[models.User](t, rec)
}
