package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/escrow"
	"github.com/fadilmartias/referral-escrow/internal/evidence"
	"github.com/fadilmartias/referral-escrow/internal/fraud"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/repository"
	"github.com/fadilmartias/referral-escrow/internal/response"
	"github.com/fadilmartias/referral-escrow/internal/service"
	"github.com/fadilmartias/referral-escrow/internal/usecase"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminKey = "admin-secret"

type confidentReasoner struct{}

func (confidentReasoner) Analyze(ctx context.Context, s evidence.Summary) model.Analysis {
	now := time.Now()
	return model.Analysis{ConfidenceScore: 92, FraudRisk: model.RiskLow, EvidenceQuality: model.QualityExcellent, AnalyzedAt: &now}
}

type downRail struct{}

func (downRail) Pay(ctx context.Context, amount int64, payee, key string) (string, error) {
	return "", errors.New("payout provider unavailable")
}

type envelope struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message"`
	Kind       string               `json:"kind"`
	Data       json.RawMessage      `json:"data"`
	Details    json.RawMessage      `json:"details"`
	Pagination *response.Pagination `json:"pagination"`
}

func setup(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	return setupWithRail(t, service.NewSimulatedPayoutService())
}

func setupWithRail(t *testing.T, rail escrow.PayoutRail) (*fiber.App, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Referral{}, &model.Verification{}, &model.Evidence{}, &model.TimelineEntry{}))

	store := repository.NewVerificationRepository(db)
	settler := escrow.NewSettler(store, rail, nil, zap.NewNop())
	uc := usecase.NewVerificationUsecase(store, repository.NewReferralRepository(db), confidentReasoner{}, fraud.NewScorer(), settler, nil,
		usecase.Settings{PlatformFeeRate: escrow.DefaultPlatformFeeRate, AnalysisThreshold: 0}, zap.NewNop())

	app := fiber.New()
	NewVerificationHandler(uc, adminKey).RegisterRoutes(app)
	return app, db
}

func seedReferral(t *testing.T, db *gorm.DB) model.Referral {
	t.Helper()
	ref := model.Referral{
		ID:           uuid.New(),
		SeekerID:     uuid.New(),
		ReferrerID:   uuid.New(),
		Company:      "Acme",
		Role:         "SRE",
		RewardAmount: 500000,
		CreatedAt:    time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&ref).Error)
	return ref
}

func call(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func createVerification(t *testing.T, app *fiber.App, ref model.Referral) model.Verification {
	t.Helper()
	code, env := call(t, app, http.MethodPost, "/api/v1/verifications", map[string]any{"referral_id": ref.ID})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var v model.Verification
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestVerificationFlowOverHTTP(t *testing.T) {
	app, db := setup(t)
	ref := seedReferral(t, db)
	v := createVerification(t, app, ref)
	assert.Equal(t, model.StatusPending, v.Status)

	code, env := call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/evidence",
		map[string]any{"type": "joining_letter", "url": "https://files/join.pdf", "uploaded_by": "seeker"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, _ = call(t, app, http.MethodPut, "/api/v1/verifications/"+v.ID.String()+"/stage", map[string]any{"stage": "joined"})
	require.Equal(t, http.StatusOK, code)

	code, env = call(t, app, http.MethodPut, "/api/v1/verifications/"+v.ID.String()+"/stage", map[string]any{"stage": "offer_received"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "InvalidTransition", env.Kind)

	code, env = call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/verify-and-pay", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var paid model.Verification
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, model.StatusVerified, paid.Status)
	assert.Equal(t, model.PaymentCompleted, paid.Payment.Status)
	assert.Equal(t, int64(450000), paid.Payment.ReferrerAmount)
	assert.Equal(t, int64(50000), paid.Payment.PlatformFee)

	code, env = call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/settle", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NotEligible", env.Kind)

	code, env = call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/verify-and-pay", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "AlreadyVerified", env.Kind)

	code, env = call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/dispute",
		map[string]any{"raised_by": "referrer", "reason": "amount disagreement"})
	require.Equal(t, http.StatusOK, code, env.Message)
}

func TestVerifyAndPayReturnsRecordWhenPayoutFails(t *testing.T) {
	app, db := setupWithRail(t, downRail{})
	ref := seedReferral(t, db)
	v := createVerification(t, app, ref)

	code, _ := call(t, app, http.MethodPut, "/api/v1/verifications/"+v.ID.String()+"/stage", map[string]any{"stage": "joined"})
	require.Equal(t, http.StatusOK, code)

	code, env := call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/verify-and-pay", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "PayoutFailed", env.Kind)
	require.NotEmpty(t, env.Details)

	var failed model.Verification
	require.NoError(t, json.Unmarshal(env.Details, &failed))
	assert.Equal(t, v.ID, failed.ID)
	assert.Equal(t, model.StatusVerified, failed.Status)
	assert.Equal(t, model.PaymentFailed, failed.Payment.Status)
}

func TestVerificationErrors(t *testing.T) {
	app, db := setup(t)

	code, env := call(t, app, http.MethodGet, "/api/v1/verifications/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", env.Kind)
	assert.False(t, env.Success)

	code, env = call(t, app, http.MethodGet, "/api/v1/verifications/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidInput", env.Kind)

	code, _ = call(t, app, http.MethodPost, "/api/v1/verifications", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	ref := seedReferral(t, db)
	v := createVerification(t, app, ref)

	code, env = call(t, app, http.MethodPost, "/api/v1/verifications", map[string]any{"referral_id": ref.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "AlreadyExists", env.Kind)

	code, _ = call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/evidence",
		map[string]any{"type": "selfie", "url": "https://x", "uploaded_by": "seeker"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, app, http.MethodPost, "/api/v1/verifications/"+v.ID.String()+"/dispute",
		map[string]any{"raised_by": "seeker", "reason": "too early"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "InvalidTransition", env.Kind)
}

func TestAdminRoutes(t *testing.T) {
	app, db := setup(t)
	ref := seedReferral(t, db)
	v := createVerification(t, app, ref)

	code, _ := call(t, app, http.MethodGet, "/api/v1/admin/verifications/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = call(t, app, http.MethodGet, "/api/v1/admin/verifications/stats", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	auth := []string{"Authorization", "Bearer " + adminKey}
	code, env := call(t, app, http.MethodGet, "/api/v1/admin/verifications/stats", nil, auth...)
	require.Equal(t, http.StatusOK, code)
	var stats repository.VerificationStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Total)

	code, _ = call(t, app, http.MethodPost, "/api/v1/admin/verifications/"+v.ID.String()+"/review", map[string]any{"notes": "x"}, auth...)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, app, http.MethodPost, "/api/v1/admin/verifications/"+v.ID.String()+"/review",
		map[string]any{"approve": false, "notes": "offer letter does not match company"}, auth...)
	require.Equal(t, http.StatusOK, code, env.Message)
	var reviewed model.Verification
	require.NoError(t, json.Unmarshal(env.Data, &reviewed))
	assert.Equal(t, model.StatusRejected, reviewed.Status)

	code, env = call(t, app, http.MethodPut, "/api/v1/admin/verifications/"+v.ID.String()+"/evidence/"+uuid.NewString()+"/verify", nil, auth...)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", env.Kind)
}

func TestListForUser(t *testing.T) {
	app, db := setup(t)
	ref := seedReferral(t, db)
	createVerification(t, app, ref)

	code, env := call(t, app, http.MethodGet, "/api/v1/users/"+ref.SeekerID.String()+"/verifications?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, code)
	var items []model.Verification
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 1)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, int64(1), env.Pagination.TotalItems)
	assert.False(t, env.Pagination.HasMore)

	code, env = call(t, app, http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/verifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), env.Pagination.TotalItems)
}
