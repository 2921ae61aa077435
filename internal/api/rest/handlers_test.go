package rest

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/takrelay/aggregator/internal/api/auth"
	"github.com/takrelay/aggregator/internal/api/ws"
	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/connpool"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/metrics"
	"github.com/takrelay/aggregator/internal/transport"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func noopFactory(cfg config.ServerConfig) (transport.Transport, error) {
	return nil, context.DeadlineExceeded
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	pool := connpool.New(config.ApplicationConfig{MaxConnections: 4}, noopFactory, testLogger())
	chain, _, err := filter.Build(config.FiltersConfig{Mode: "blacklist"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	authn := auth.New(config.APIConfig{Tokens: []config.APITokenConfig{
		{Token: "read-tok", Roles: []string{"read"}},
		{Token: "op-tok", Roles: []string{"operator", "read"}},
	}})
	hub := ws.NewHub(testLogger())
	stream := ws.NewStreamHandler(hub, authn, testLogger())

	return NewRouter(pool, nil, filter.NewSnapshot(chain), nil, metrics.New(), authn, stream, testLogger())
}

// TestSendCoT_ForgivingValidationAcceptsMissingFields covers the S6 property:
// a CoT body missing non-critical fields (type/time/stale) is still
// relayed, not rejected, while a structurally broken body is.
func TestSendCoT_ForgivingValidationAcceptsMissingFields(t *testing.T) {
	router := newTestRouter(t)

	body := `<event uid="X-1" point="1,2,3"></event>`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cot/send", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer op-tok")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a forgivingly-valid event, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSendCoT_RejectsUnparsableBody(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cot/send", strings.NewReader("not xml at all <<<"))
	req.Header.Set("Authorization", "Bearer op-tok")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a structurally broken body, got %d", rr.Code)
	}
}

func TestSendCoT_RejectsMissingToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cot/send", strings.NewReader(`<event uid="X"/>`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no bearer token, got %d", rr.Code)
	}
}

func TestStatus_RequiresOnlyReadRole(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer read-tok")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for a read-tier token on a read route, got %d", rr.Code)
	}
}

func TestAddConnection_RejectsReadOnlyToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections", strings.NewReader(`{"id":"x","protocol":"tcp"}`))
	req.Header.Set("Authorization", "Bearer read-tok")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected a read-tier token to be rejected on an admin route, got %d", rr.Code)
	}
}

func TestHealthz_NeedsNoAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected /health to be reachable without auth, got %d", rr.Code)
	}
}
