package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticketing-escrow/internal/auth"
	"ticketing-escrow/internal/escrow"
	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/models"
	"ticketing-escrow/internal/notify"
	"ticketing-escrow/internal/passes"
	"ticketing-escrow/internal/platform"
	"ticketing-escrow/internal/platform/api"
	"ticketing-escrow/internal/pricing"
	"ticketing-escrow/internal/store"
)

const testRate = 2500 * pricing.RateScale

type fixedQuoter struct{}

func (fixedQuoter) Quote(_ context.Context, referenceAmount int64) (models.Quote, error) {
	settlement, err := pricing.ConvertToSettlement(referenceAmount, testRate)
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{
		ReferenceAmount:  referenceAmount,
		SettlementAmount: settlement,
		Rate:             testRate,
		ObservedAt:       time.Now(),
	}, nil
}

type fixture struct {
	handler http.Handler
	ledger  *escrow.Ledger
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Setenv("AUTH_HMAC_SECRET", "handler-test-secret")

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger := escrow.NewLedger()
	log := notify.NewLog(logger.NewNop())
	registry := platform.NewRegistry(platform.Config{
		Quoter:        fixedQuoter{},
		Ledger:        ledger,
		Log:           log,
		Logger:        logger.NewNop(),
		Clock:         func() time.Time { return now },
		ServiceFeeBps: 200,
	})

	h := &api.Handler{
		Registry: registry,
		Ledger:   ledger,
		Log:      log,
		Passes:   passes.NewGenerator("handler-test-secret"),
		Logger:   logger.NewNop(),
	}
	return &fixture{handler: h.Router(auth.Middleware()), ledger: ledger, now: now}
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).
		SignedString([]byte("handler-test-secret"))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, caller))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   string                 `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func (f *fixture) createEvent(t *testing.T, organizer string) int64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/events", organizer, map[string]interface{}{
		"name":              "Go Conference",
		"location":          "Berlin",
		"date":              f.now.Add(48 * time.Hour).Format(time.RFC3339),
		"price_reference":   1,
		"tickets_available": 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return int64(decodeData(t, rec)["event_id"].(float64))
}

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)

	id := f.createEvent(t, "organizer")
	assert.Equal(t, int64(0), id)

	// Sequential ids.
	id = f.createEvent(t, "organizer")
	assert.Equal(t, int64(1), id)
}

func TestCreateEventRejectsPastDate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/events", "organizer", map[string]interface{}{
		"name":              "Too Late",
		"location":          "Berlin",
		"date":              f.now.Add(-time.Hour).Format(time.RFC3339),
		"price_reference":   1,
		"tickets_available": 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEventRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/events", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseFlow(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 2,
		"payment":  81600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	assert.Equal(t, float64(81600), data["total_due"])
	assert.Equal(t, float64(1600), data["service_fee"])
	assert.Len(t, data["ticket_ids"], 2)

	// Insufficient payment maps to 402.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 1,
		"payment":  1,
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	// Escrow shows up on the event read.
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	escrowView := decodeData(t, rec)["escrow"].(map[string]interface{})
	assert.Equal(t, float64(81600), escrowView["collected"])
}

func TestPurchaseUnknownEvent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/events/9/purchase", "buyer1", map[string]interface{}{
		"quantity": 1,
		"payment":  50000,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/price", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(40000), decodeData(t, rec)["price"])

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/price?quantity=2", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(81600), decodeData(t, rec)["total_due"])

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/price?quantity=0", id), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferAndTicketReads(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 1, "payment": 40800,
	})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/1/transfer", id), "buyer1", map[string]interface{}{
		"to": "buyer2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/tickets/1", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data models.TicketDetails `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "buyer2", resp.Data.Owner)
	assert.True(t, resp.Data.Valid)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/tickets?owner=buyer2", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData(t, rec)["ticket_ids"], 1)

	// A transfer by a non-owner is forbidden.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/1/transfer", id), "buyer1", map[string]interface{}{
		"to": "buyer3",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvalidateRequiresOrganizer(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 1, "payment": 40800,
	})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/invalidate", id), "buyer1", map[string]interface{}{
		"ticket_ids": []int64{1},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/invalidate", id), "organizer", map[string]interface{}{
		"ticket_ids": []int64{1},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelRefundWithdrawLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 1, "payment": 40800,
	})

	// Refund before cancellation conflicts.
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/1/refund", id), "buyer1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/cancel", id), "organizer", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Withdrawal is blocked on a cancelled event.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/withdraw", id), "organizer", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/1/refund", id), "buyer1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(40800), decodeData(t, rec)["amount"])

	// The refund lands on the buyer's disbursement account.
	rec = f.do(t, http.MethodGet, "/api/accounts/buyer1/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(40800), decodeData(t, rec)["balance"])

	// Double refund conflicts.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/1/refund", id), "buyer1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 2, "payment": 81600,
	})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/withdraw", id), "buyer1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/withdraw", id), "organizer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(81600), decodeData(t, rec)["amount"])

	// A second withdrawal conflicts.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/withdraw", id), "organizer", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.createEvent(t, "organizer")
	f.createEvent(t, "organizer")

	rec := f.do(t, http.MethodGet, "/api/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(2), data["next_event_id"])
	assert.Len(t, data["events"], 2)
}

func TestAdmissionPass(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 1, "payment": 40800,
	})

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/tickets/1/pass", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes()[:4])

	// No pass for an invalidated ticket.
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/tickets/invalidate", id), "organizer", map[string]interface{}{
		"ticket_ids": []int64{1},
	})
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/tickets/1/pass", id), "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func newTestJournal(t *testing.T) (*store.Journal, *bun.DB) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	journal := store.NewJournal(bunDB)
	require.NoError(t, journal.Init(context.Background()))
	return journal, bunDB
}

func TestReceiptsEndpoint(t *testing.T) {
	t.Setenv("AUTH_HMAC_SECRET", "handler-test-secret")

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger := escrow.NewLedger()
	journal, bunDB := newTestJournal(t)
	defer bunDB.Close()

	log := notify.NewLog(logger.NewNop(), journal)
	registry := platform.NewRegistry(platform.Config{
		Quoter: fixedQuoter{},
		Ledger: ledger,
		Log:    log,
		Logger: logger.NewNop(),
		Clock:  func() time.Time { return now },
	})
	h := &api.Handler{
		Registry: registry,
		Ledger:   ledger,
		Log:      log,
		Journal:  journal,
		Passes:   passes.NewGenerator("handler-test-secret"),
		Logger:   logger.NewNop(),
	}
	f := &fixture{handler: h.Router(auth.Middleware()), ledger: ledger, now: now}

	id := f.createEvent(t, "organizer")
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 2, "payment": 81600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/accounts/buyer1/receipts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipts := decodeData(t, rec)["receipts"].([]interface{})
	require.Len(t, receipts, 1)
	assert.Equal(t, float64(81600), receipts[0].(map[string]interface{})["total_due"])

	rec = f.do(t, http.MethodGet, "/api/accounts/nobody/receipts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData(t, rec)["receipts"])
}

func TestNotificationsEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "organizer")
	f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/purchase", id), "buyer1", map[string]interface{}{
		"quantity": 2, "payment": 81600,
	})

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/notifications", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeData(t, rec)["notifications"].([]interface{})
	require.Len(t, entries, 3) // created + two purchases

	first := entries[0].(map[string]interface{})
	assert.Equal(t, string(models.KindEventCreated), first["kind"])

	// Cursor filters already-seen entries.
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d/notifications?after=%v", id, first["seq"]), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData(t, rec)["notifications"], 2)
}
