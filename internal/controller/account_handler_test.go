package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	"github.com/cassiomorais/dualwrite/internal/events"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/observability"
	"github.com/cassiomorais/dualwrite/internal/service"
	"github.com/cassiomorais/dualwrite/internal/testutil"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite/dualwritetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler  http.Handler
	repo     *testutil.MockAccountRepository
	producer *dualwritetest.Producer
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()
	store := dualwritetest.NewStore()
	producer := dualwritetest.NewProducer()
	producer.Err = errors.New("broker unavailable")
	repo := testutil.NewMockAccountRepository(store)
	coord := dualwrite.New[events.Change, string, events.AccountEvent](
		store, producer, dualwrite.JSONCodec[events.AccountEvent]{},
		dualwrite.WithAckTimeout(20*time.Millisecond),
	)
	reg := prometheus.NewRegistry()

	handler := NewRouter(RouterDeps{
		AccountService: service.NewAccountService(repo, coord, &testutil.MockLocker{}, "accounts"),
		HealthChecks:   checks,
		Metrics:        observability.NewMetrics("test", reg),
		CORSConfig:     config.CORSConfig{AllowedOrigins: []string{"*"}},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{handler: handler, repo: repo, producer: producer}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAccountController_Create(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(CreateAccountRequest{UserID: "user123", InitialBalance: 100.0, Currency: "USD"})
	rec := srv.do(http.MethodPost, "/api/v1/accounts", string(body))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp AccountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "user123", resp.UserID)
	assert.Equal(t, 100.0, resp.Balance)
	assert.Equal(t, "active", resp.Status)

	msgs := srv.producer.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, resp.ID, string(msgs[0].Key))
}

func TestAccountController_Create_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{invalid`},
		{"missing user", `{"initial_balance": 1, "currency": "USD"}`},
		{"bad currency", `{"user_id": "u", "currency": "US"}`},
		{"negative balance", `{"user_id": "u", "initial_balance": -5, "currency": "USD"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)

			rec := srv.do(http.MethodPost, "/api/v1/accounts", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decodeError(t, rec).Code)
			assert.Empty(t, srv.producer.Messages())
		})
	}
}

func TestAccountController_Create_ChannelUnavailable(t *testing.T) {
	srv := newTestServer(t)
	srv.producer.Script(dualwritetest.Hang)

	rec := srv.do(http.MethodPost, "/api/v1/accounts", `{"user_id": "u", "initial_balance": 1, "currency": "USD"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "channel_unavailable", decodeError(t, rec).Code)
}

func TestAccountController_Get(t *testing.T) {
	srv := newTestServer(t)
	acct := testutil.NewTestAccount("user123", 12345, "USD")
	srv.repo.AddAccount(acct)

	rec := srv.do(http.MethodGet, "/api/v1/accounts/"+acct.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AccountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 123.45, resp.Balance)

	rec = srv.do(http.MethodGet, "/api/v1/accounts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Code)

	rec = srv.do(http.MethodGet, "/api/v1/accounts/"+testutil.NewTestAccount("x", 0, "USD").ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountController_Deposit(t *testing.T) {
	srv := newTestServer(t)
	acct := testutil.NewTestAccount("user123", 1000, "USD")
	srv.repo.AddAccount(acct)

	rec := srv.do(http.MethodPost, "/api/v1/accounts/"+acct.ID.String()+"/deposits", `{"amount": 2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AccountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 12.5, resp.Balance)
	assert.Equal(t, int64(1250), srv.repo.Committed(acct.ID).Balance)
}

func TestAccountController_Deposit_Rejected(t *testing.T) {
	srv := newTestServer(t)
	closed := testutil.NewTestAccount("user123", 1000, "USD")
	closed.Status = account.StatusClosed
	srv.repo.AddAccount(closed)

	rec := srv.do(http.MethodPost, "/api/v1/accounts/"+closed.ID.String()+"/deposits", `{"amount": 1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "account_inactive", decodeError(t, rec).Code)

	rec = srv.do(http.MethodPost, "/api/v1/accounts/"+closed.ID.String()+"/deposits", `{"amount": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthController_Readiness(t *testing.T) {
	errDown := errors.New("connection refused")

	ok := newTestServer(t, HealthCheck{Name: "database", Check: func(context.Context) error { return nil }})
	rec := ok.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t,
		HealthCheck{Name: "database", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "broker", Check: func(context.Context) error { return errDown }},
	)
	rec = down.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker unavailable")

	rec = down.do(http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ExposesMetrics(t *testing.T) {
	srv := newTestServer(t)
	srv.do(http.MethodGet, "/health", "")

	rec := srv.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("test_http_requests_total")))
}
