package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/cache"
	"gatekeeper/internal/config"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository/memstore"
	"gatekeeper/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	adminToken    = "admin-secret"
	webhookSecret = "whsec_router_test"
)

type tokenAuth map[string]*model.User

func (a tokenAuth) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	if u, ok := a[token]; ok {
		return u, nil
	}
	return nil, errors.New("unknown token")
}

type memDLQ struct {
	saved []*dto.PubSubPushRequest
}

func (d *memDLQ) Record(ctx context.Context, queue, messageID string, payload []byte, attempts int, cause error) error {
	return nil
}

func (d *memDLQ) ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error {
	d.saved = append(d.saved, req)
	return nil
}

type harness struct {
	db      *memstore.DB
	engine  *service.BillingEngine
	dlq     *memDLQ
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := memstore.New()
	store := db.Store()
	logger := zerolog.Nop()
	caps := cache.NewMemory(service.NewCapabilityService(store, logger))
	engine := service.NewBillingEngine(store, caps, nil, time.Second, logger)

	ctx := context.Background()
	require.NoError(t, store.Products.Upsert(ctx, &model.BillingProduct{
		Code: "employer_pro", Name: "Employer Pro", Scope: model.ScopeEmployer, Tier: "pro", TierRank: 1,
		BillingMode: model.BillingModePass, DurationDays: 30, PriceCents: 250000, Currency: "KES", Active: true,
	}, []model.Entitlement{
		{Key: model.KeyContactUnlocksIncluded, Value: model.Numeric(10)},
		{Key: model.KeyJobPostsMaxActive, Value: model.Numeric(10)},
	}))
	require.NoError(t, store.Products.Upsert(ctx, &model.BillingProduct{
		Code: "vendor_silver", Name: "Vendor Silver", Scope: model.ScopeVendor, Tier: "silver", TierRank: 1,
		BillingMode: model.BillingModePass, DurationDays: 30, PriceCents: 150000, Currency: "KES", Active: true,
	}, []model.Entitlement{
		{Key: model.KeyRfqResponsesMaxActive, Value: model.Numeric(10)},
	}))

	cfg := &config.Config{
		Environment:                "test",
		AdminAPIToken:              adminToken,
		StripeWebhookSecret:        webhookSecret,
		StripePortalReturnURL:      "http://localhost/billing",
		PubSubPushVerificationSkip: true,
	}
	dlq := &memDLQ{}
	auth := tokenAuth{
		"employer-token": {UserID: "employer-1", Email: "e@example.com"},
		"vendor-token":   {UserID: "vendor-1", Email: "v@example.com"},
	}
	h := New(cfg, Deps{
		Engine: engine,
		Stripe: service.NewStripeService(cfg, store, engine.Reconciler, logger),
		Auth:   auth,
		DLQ:    dlq,
	}, logger)
	return &harness{db: db, engine: engine, dlq: dlq, handler: h}
}

type request struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (h *harness) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	switch b := r.body.(type) {
	case nil:
	case []byte:
		body = b
	default:
		var err error
		body, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(body))
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func adminHeaders() map[string]string { return map[string]string{"X-Admin-Token": adminToken} }

func TestOperationalEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, request{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, request{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, request{method: http.MethodGet, path: "/swagger/doc.json"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Gatekeeper API")
	assert.True(t, json.Valid(rec.Body.Bytes()))

	rec = h.do(t, request{method: http.MethodGet, path: "/api/credits/balance"})
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/v1/credits/balance", rec.Header().Get("Location"))
}

func TestUserRoutesRequireAuth(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/v1/credits/balance", "/v1/billing/status", "/v1/quota/remaining?metric_key=x"} {
		rec := h.do(t, request{method: http.MethodGet, path: path})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := h.do(t, request{method: http.MethodPost, path: "/v1/gates/check", body: dto.GateCheckRequest{Gate: model.GateContactUnlock}, token: "stolen"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateAndQuotaFlow(t *testing.T) {
	h := newHarness(t)

	// Free tier: no included unlocks, so the action would be paid with credits.
	rec := h.do(t, request{method: http.MethodPost, path: "/v1/gates/check", token: "employer-token",
		body: dto.GateCheckRequest{Gate: model.GateContactUnlock}})
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeBody[model.Decision](t, rec)
	assert.True(t, d.Allowed)
	assert.Equal(t, model.DecisionCredits, d.Source)
	assert.True(t, d.UpgradeSuggested)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/admin/passes/grant", headers: adminHeaders(),
		body: dto.AdminGrantPassRequest{UserID: "employer-1", ProductCode: "employer_pro"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pass := decodeBody[model.Pass](t, rec)
	assert.Equal(t, "employer-1", pass.UserID)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/gates/check", token: "employer-token",
		body: dto.GateCheckRequest{Gate: model.GateContactUnlock}})
	d = decodeBody[model.Decision](t, rec)
	assert.True(t, d.Allowed)
	assert.Equal(t, model.DecisionIncluded, d.Source)
	require.NotNil(t, d.Remaining)
	assert.EqualValues(t, 10, *d.Remaining)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/quota/consume", token: "employer-token",
		body: dto.QuotaConsumeRequest{MetricKey: model.KeyContactUnlocksIncluded}})
	require.Equal(t, http.StatusOK, rec.Code)
	consumed := decodeBody[model.ConsumeResult](t, rec)
	assert.True(t, consumed.Consumed)
	assert.EqualValues(t, 9, consumed.Remaining)

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/quota/remaining?metric_key=" + model.KeyContactUnlocksIncluded, token: "employer-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[model.QuotaStatus](t, rec)
	assert.EqualValues(t, 1, status.Used)
	assert.EqualValues(t, 9, status.Remaining)
}

func TestGateValidation(t *testing.T) {
	h := newHarness(t)
	tests := map[string]any{
		"unknown gate":         map[string]string{"gate": "teleport"},
		"posting without type": dto.GateCheckRequest{Gate: model.GatePosting},
		"feature without key":  dto.GateCheckRequest{Gate: model.GateFeature},
		"tier without scope":   dto.GateCheckRequest{Gate: model.GateTier, RequiredTier: "pro"},
		"not json":             []byte("{"),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, request{method: http.MethodPost, path: "/v1/gates/check", token: "employer-token", body: body})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := h.do(t, request{method: http.MethodGet, path: "/v1/quota/remaining", token: "employer-token"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreditsFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, request{method: http.MethodPost, path: "/v1/admin/credits/grant", headers: adminHeaders(),
		body: dto.AdminGrantCreditsRequest{UserID: "employer-1", Amount: 400, CreditType: model.CreditBonus, ReferenceID: "welcome"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// A client-supplied amount is ignored; the action is priced from the catalog.
	rec = h.do(t, request{method: http.MethodPost, path: "/v1/credits/charge", token: "employer-token",
		body: map[string]any{"amount": 1, "credit_type": model.CreditContactUnlock, "reference_id": "contact-1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	charge := decodeBody[model.ChargeResult](t, rec)
	assert.True(t, charge.Success)
	assert.Equal(t, model.ContactUnlockPrice, charge.Cost)
	assert.EqualValues(t, 200, charge.NewBalance)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/credits/charge", token: "employer-token",
		body: dto.CreditChargeRequest{CreditType: model.CreditListingPost, ReferenceID: "listing-1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 100, decodeBody[model.ChargeResult](t, rec).NewBalance)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/credits/charge", token: "employer-token",
		body: dto.CreditChargeRequest{CreditType: model.CreditContactUnlock, ReferenceID: "contact-2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	charge = decodeBody[model.ChargeResult](t, rec)
	assert.False(t, charge.Success)
	assert.Equal(t, model.ReasonInsufficient, charge.Reason)
	assert.EqualValues(t, 100, charge.NewBalance)

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/credits/balance", token: "employer-token"})
	assert.EqualValues(t, 100, decodeBody[dto.BalanceResponse](t, rec).Balance)

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/credits/ledger?limit=10", token: "employer-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[dto.LedgerResponse](t, rec)
	require.Len(t, page.Entries, 3)
	assert.EqualValues(t, -100, page.Entries[0].Delta)
	assert.EqualValues(t, -200, page.Entries[1].Delta)
	assert.EqualValues(t, 400, page.Entries[2].Delta)
	assert.EqualValues(t, 400, page.Entries[1].BalanceBefore)

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/credits/ledger?limit=-1", token: "employer-token"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/credits/summary", token: "employer-token"})
	summary := decodeBody[model.CreditSummary](t, rec)
	assert.EqualValues(t, 100, summary.Balance)
	assert.EqualValues(t, 300, summary.TotalSpent)

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/credits/packages"})
	assert.Len(t, decodeBody[[]model.CreditPackage](t, rec), len(model.CreditPackages))
}

func TestChargeValidation(t *testing.T) {
	h := newHarness(t)
	bad := []dto.CreditChargeRequest{
		{CreditType: model.CreditBonus, ReferenceID: "r"},
		{CreditType: "free_lunch", ReferenceID: "r"},
		{CreditType: model.CreditContactUnlock},
	}
	for i, body := range bad {
		rec := h.do(t, request{method: http.MethodPost, path: "/v1/credits/charge", token: "employer-token", body: body})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d", i)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, request{method: http.MethodPost, path: "/v1/admin/credits/grant", token: "employer-token",
		body: dto.AdminGrantCreditsRequest{UserID: "employer-1", Amount: 100, CreditType: model.CreditBonus}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/admin/passes/grant", headers: adminHeaders(),
		body: dto.AdminGrantPassRequest{UserID: "employer-1", ProductCode: "no_such_product"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/admin/passes/revoke", headers: adminHeaders(),
		body: dto.AdminRevokePassRequest{PassID: "missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/admin/passes/grant", headers: adminHeaders(),
		body: dto.AdminGrantPassRequest{UserID: "vendor-1", ProductCode: "vendor_silver"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	pass := decodeBody[model.Pass](t, rec)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/admin/passes/revoke", headers: adminHeaders(),
		body: dto.AdminRevokePassRequest{PassID: pass.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, h.db.ActivePassCount("vendor-1", model.ScopeVendor))
}

func TestBillingStatus(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, request{method: http.MethodGet, path: "/v1/billing/status", token: "vendor-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[model.BillingStatus](t, rec)
	assert.Equal(t, model.TierFree, status.ActiveTiers[model.ScopeVendor])

	h.db.FailWith(model.ErrStoreUnavailable)
	rec = h.do(t, request{method: http.MethodGet, path: "/v1/billing/status", token: "vendor-token"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutValidation(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, request{method: http.MethodPost, path: "/v1/billing/checkout", token: "vendor-token",
		body: dto.CheckoutRequest{ProductCode: "vendor_silver", Mode: "barter"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/billing/checkout", token: "vendor-token",
		body: dto.CheckoutRequest{ProductCode: "no_such_product", Mode: model.CheckoutModePayment}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func stripeCheckout(eventID, userID, code string) []byte {
	return []byte(`{
		"id": "` + eventID + `",
		"object": "event",
		"api_version": "2020-08-27",
		"created": ` + strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10) + `,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_` + eventID + `", "object": "checkout.session", "mode": "payment",
			"metadata": {"user_id": "` + userID + `", "product_code": "` + code + `"}}}
	}`)
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func TestStripeWebhook(t *testing.T) {
	h := newHarness(t)
	payload := stripeCheckout("evt_1", "vendor-1", "vendor_silver")

	rec := h.do(t, request{method: http.MethodPost, path: "/v1/webhooks/stripe", body: payload,
		headers: map[string]string{"Stripe-Signature": "t=1,v1=bad"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.db.ActivePassCount("vendor-1", model.ScopeVendor))

	for i := 0; i < 2; i++ {
		rec = h.do(t, request{method: http.MethodPost, path: "/v1/webhooks/stripe", body: payload,
			headers: map[string]string{"Stripe-Signature": sign(payload)}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, 1, h.db.ActivePassCount("vendor-1", model.ScopeVendor))

	rec = h.do(t, request{method: http.MethodGet, path: "/v1/billing/status", token: "vendor-token"})
	status := decodeBody[model.BillingStatus](t, rec)
	assert.Equal(t, "silver", status.ActiveTiers[model.ScopeVendor])
}

func TestStripeWebhookStoreOutageIsRetryable(t *testing.T) {
	h := newHarness(t)
	payload := stripeCheckout("evt_2", "vendor-1", "vendor_silver")
	h.db.FailWith(model.ErrStoreUnavailable)

	rec := h.do(t, request{method: http.MethodPost, path: "/v1/webhooks/stripe", body: payload,
		headers: map[string]string{"Stripe-Signature": sign(payload)}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func pushEnvelope(t *testing.T, e any) dto.PubSubPushRequest {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return dto.PubSubPushRequest{
		Subscription: "projects/p/subscriptions/lifecycle-push",
		Message:      dto.PubSubMessage{Data: base64.StdEncoding.EncodeToString(data), MessageID: "m-1"},
	}
}

func TestLifecyclePush(t *testing.T) {
	h := newHarness(t)
	grant, err := model.NewLifecycleEvent("grant-1", model.EventSourceAdmin, model.EventPassGranted, "employer-1", time.Now().UTC(),
		model.PassGrantedPayload{UserID: "employer-1", ProductCode: "employer_pro", GrantedBy: "ops"})
	require.NoError(t, err)

	rec := h.do(t, request{method: http.MethodPost, path: "/v1/events/lifecycle", body: pushEnvelope(t, grant)})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.db.ActivePassCount("employer-1", model.ScopeEmployer))

	// A grant without a product cannot be fixed by redelivery, so it is acknowledged.
	bad, err := model.NewLifecycleEvent("grant-2", model.EventSourceAdmin, model.EventPassGranted, "employer-1", time.Now().UTC(),
		model.PassGrantedPayload{UserID: "employer-1", GrantedBy: "ops"})
	require.NoError(t, err)
	rec = h.do(t, request{method: http.MethodPost, path: "/v1/events/lifecycle", body: pushEnvelope(t, bad)})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, request{method: http.MethodPost, path: "/v1/events/lifecycle", body: pushEnvelope(t, map[string]string{"id": "x"})})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h.db.FailWith(model.ErrStoreUnavailable)
	again, err := model.NewLifecycleEvent("grant-3", model.EventSourceAdmin, model.EventPassGranted, "employer-1", time.Now().UTC(),
		model.PassGrantedPayload{UserID: "employer-1", ProductCode: "employer_pro", GrantedBy: "ops"})
	require.NoError(t, err)
	rec = h.do(t, request{method: http.MethodPost, path: "/v1/events/lifecycle", body: pushEnvelope(t, again)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeadLetterPush(t *testing.T) {
	h := newHarness(t)
	env := pushEnvelope(t, map[string]string{"id": "evt_dead"})

	rec := h.do(t, request{method: http.MethodPost, path: "/v1/events/dead-letter", body: env})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, h.dlq.saved, 1)
	assert.Equal(t, "m-1", h.dlq.saved[0].Message.MessageID)

	env.Message.MessageID = ""
	rec = h.do(t, request{method: http.MethodPost, path: "/v1/events/dead-letter", body: env})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
