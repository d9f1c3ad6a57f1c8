package http_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codelens/quotagate/adapters/clock"
	adapterhttp "github.com/codelens/quotagate/adapters/http"
	"github.com/codelens/quotagate/adapters/idgen"
	"github.com/codelens/quotagate/adapters/memory"
	"github.com/codelens/quotagate/app"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.UsageStore, *clock.Fake) {
	t.Helper()

	store := memory.NewUsageStore()
	clk := clock.NewFake(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))
	svc := app.NewQuotaService(store, clk, idgen.NewSequential("evt-"), app.QuotaConfig{DailyLimit: 3}, zerolog.Nop())

	h := adapterhttp.NewHandler(svc, zerolog.Nop())
	health := adapterhttp.NewHealthHandler(store)
	router := adapterhttp.NewRouter(h, health, zerolog.Nop(), adapterhttp.RouterConfig{})

	return router, store, clk
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestCheck_OK(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/check?identity=a@x.com", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["limit"].(float64) != 3 || body["used"].(float64) != 0 || body["remaining"].(float64) != 3 {
		t.Errorf("unexpected body: %v", body)
	}
	if _, err := time.Parse(time.RFC3339, body["resetTime"].(string)); err != nil {
		t.Errorf("resetTime not RFC3339: %v", body["resetTime"])
	}
	if _, ok := body["degraded"]; ok {
		t.Error("degraded flag should be omitted for healthy responses")
	}
}

func TestCheck_MissingIdentity(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/check", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == nil {
		t.Error("expected error field")
	}
}

func TestCheck_FailOpenNever5xx(t *testing.T) {
	router, store, _ := newTestRouter(t)
	store.FailWith(errors.New("connection refused"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/check?identity=a@x.com", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 under fail-open", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["degraded"] != true {
		t.Error("expected degraded=true")
	}
	if body["remaining"].(float64) != 3 {
		t.Errorf("remaining = %v, want full allowance", body["remaining"])
	}
}

func TestRecord_OK(t *testing.T) {
	router, store, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/usage/record", strings.NewReader(`{"identity":"a@x.com"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("expected success=true, got %v", body)
	}
	if store.CountFor("a@x.com") != 1 {
		t.Errorf("expected 1 stored event, got %d", store.CountFor("a@x.com"))
	}
}

func TestRecord_MissingIdentity(t *testing.T) {
	router, _, _ := newTestRouter(t)

	for _, payload := range []string{`{}`, `{"identity":""}`, `not json`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/usage/record", strings.NewReader(payload))
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", payload, rec.Code)
		}
	}
}

func TestRecord_StoreFailure500(t *testing.T) {
	router, store, _ := newTestRouter(t)
	store.FailWith(errors.New("write timeout"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/usage/record", strings.NewReader(`{"identity":"a@x.com"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == nil {
		t.Error("expected error field")
	}
}

func TestConsume_AdmitThenDeny(t *testing.T) {
	router, store, _ := newTestRouter(t)

	for i := 1; i <= 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/usage/consume", strings.NewReader(`{"identity":"a@x.com"}`))
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("consume %d: status = %d, want 200", i, rec.Code)
		}
		body := decodeBody(t, rec)
		if int(body["used"].(float64)) != i {
			t.Errorf("consume %d: used = %v", i, body["used"])
		}
	}

	// Fourth consume is rate-limited and records nothing.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/usage/consume", strings.NewReader(`{"identity":"a@x.com"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == nil || body["resetTime"] == nil {
		t.Errorf("429 body should carry error and resetTime, got %v", body)
	}
	if store.CountFor("a@x.com") != 3 {
		t.Errorf("denied consume must not append, got %d events", store.CountFor("a@x.com"))
	}
}

func TestConsume_LastUnitIsNot429(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Burn two units.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/usage/consume", strings.NewReader(`{"identity":"a@x.com"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("setup consume: status = %d", rec.Code)
		}
	}

	// The admitting call that exhausts the allowance is still a 200.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/usage/consume", strings.NewReader(`{"identity":"a@x.com"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for the final admitted unit", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["remaining"].(float64) != 0 {
		t.Errorf("remaining = %v, want 0", body["remaining"])
	}
}

func TestHistory_OK(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Seed one event via the API.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/usage/record", strings.NewReader(`{"identity":"a@x.com"}`)))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/history?identity=a@x.com&days=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	days, ok := body["days"].([]any)
	if !ok || len(days) != 2 {
		t.Fatalf("expected 2 day entries, got %v", body["days"])
	}
	today := days[1].(map[string]any)
	if today["date"] != "2024-06-15" || today["used"].(float64) != 1 {
		t.Errorf("today = %v, want 2024-06-15 used=1", today)
	}
}

func TestIdentityIsCaseFolded(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/usage/record", strings.NewReader(`{"identity":"A@X.com"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("record status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/check?identity=a@x.com", nil))
	body := decodeBody(t, rec)
	if body["used"].(float64) != 1 {
		t.Errorf("used = %v, want 1 (shared quota across case variants)", body["used"])
	}
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz_DegradedStoreStillReady(t *testing.T) {
	router, store, _ := newTestRouter(t)
	store.FailWith(errors.New("down"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	// Fail-open keeps the service useful without its store.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
