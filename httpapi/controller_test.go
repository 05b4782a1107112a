package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/httpapi"
	"github.com/goliatone/go-onboarding/store"
)

type platformStub struct {
	mu      sync.Mutex
	status  map[string]string
	updates int
}

func newPlatformStub(t *testing.T) *httptest.Server {
	t.Helper()
	stub := &platformStub{status: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "access", "refreshToken": "refresh", "expiresIn": 3600})
	})
	mux.HandleFunc("/v1/user/users", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		stub.mu.Lock()
		stub.status[body["userEmail"]] = "PENDING"
		stub.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v1/user/users/", func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimPrefix(r.URL.Path, "/v1/user/users/")
		stub.mu.Lock()
		defer stub.mu.Unlock()
		status, ok := stub.status[email]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPut {
			stub.updates++
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"userEmail": email, "userStatus": status})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, opts ...httpapi.Option) (*fiber.App, *onboarding.Session) {
	t.Helper()
	srv := newPlatformStub(t)

	cfg := onboarding.Config{
		APIBaseURL:        srv.URL,
		HydrationTimeout:  time.Second,
		EmailPollInterval: time.Hour,
	}
	session, err := onboarding.New(cfg, store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(session.Shutdown)
	require.NoError(t, session.WaitHydrated(context.Background()))

	app := fiber.New()
	httpapi.NewController(session, opts...).Register(app)
	return app, session
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func TestGetState(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/onboarding/state", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "registration", body["currentStep"])
	assert.Equal(t, true, body["hydrated"])
}

func TestAdvanceRetreatAndGoTo(t *testing.T) {
	app, session := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/advance", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "email-validation", body["currentStep"])

	resp, body = doJSON(t, app, http.MethodPost, "/onboarding/retreat", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "registration", body["currentStep"])

	resp, body = doJSON(t, app, http.MethodPost, "/onboarding/goto", map[string]string{"step": "PinSetup"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pin-setup", body["currentStep"])
	assert.Equal(t, onboarding.StepPinSetup, session.CurrentStep())
}

func TestGoToUnknownStepIsBadRequest(t *testing.T) {
	app, session := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/goto", map[string]string{"step": "payment"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, onboarding.TextCodeInvalidStep, errBody["text_code"])
	assert.Equal(t, onboarding.StepRegistration, session.CurrentStep())
}

func TestPutDataAndReset(t *testing.T) {
	app, session := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPut, "/onboarding/data/pin", map[string]string{"pin": "1234"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "pin")

	resp, _ = doJSON(t, app, http.MethodPut, "/onboarding/data/creditCard", map[string]string{"number": "4111"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/onboarding/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, session.Data().Empty())
}

func TestPutRegistrationDataDropsPassword(t *testing.T) {
	app, session := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPut, "/onboarding/data/registration", map[string]any{
		"email":       "ana@example.com",
		"password":    "Secret@123",
		"acceptTerms": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	registration, ok := data["registration"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, registration, "password")
	assert.Empty(t, session.Data().Registration.Password)
}

func TestRegisterRoute(t *testing.T) {
	app, session := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/register", map[string]any{
		"email":       "ana@example.com",
		"password":    "Secret@123",
		"acceptTerms": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "email-validation", result["step"])
	assert.Equal(t, onboarding.StepEmailValidation, session.CurrentStep())
}

func TestRegisterRouteReportsValidationFields(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/register", map[string]any{
		"email":    "ana",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errBody := body["error"].(map[string]any)
	meta := errBody["metadata"].(map[string]any)
	fields := meta["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/onboarding/pin", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResendCooldownIsTooManyRequests(t *testing.T) {
	app, session := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, onboarding.NewRegisterApplicantHandler(session).Execute(ctx, onboarding.RegisterApplicantMessage{
		Email: "ana@example.com", Password: "Secret@123", AcceptTerms: true,
	}))
	require.NoError(t, session.GoTo(ctx, onboarding.StepSmsValidation))

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/sms/send", map[string]string{
		"countryCode": "+1",
		"phoneNumber": "650 253 0000",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "+16502530000", body["cellNumber"])

	resp, body = doJSON(t, app, http.MethodPost, "/onboarding/sms/resend", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, onboarding.TextCodeResendTooSoon, body["error"].(map[string]any)["text_code"])
}

func TestFinishAndHostMessages(t *testing.T) {
	outbox := onboarding.NewOutbox(4)
	srv := newPlatformStub(t)
	session, err := onboarding.New(onboarding.Config{APIBaseURL: srv.URL}, store.NewMemory(), onboarding.WithHostBridge(outbox))
	require.NoError(t, err)
	t.Cleanup(session.Shutdown)

	app := fiber.New()
	httpapi.NewController(session, httpapi.WithOutbox(outbox)).Register(app)

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/finish", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["delivered"])

	resp, body = doJSON(t, app, http.MethodGet, "/onboarding/host-messages", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, onboarding.HostActionCompleted, messages[0].(map[string]any)["action"])
}

func TestCloseWithoutBridgeReportsFallback(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/onboarding/close", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, onboarding.FallbackCloseWindow, body["fallback"])

	resp, _ = doJSON(t, app, http.MethodGet, "/onboarding/host-messages", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerificationRoutes(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/onboarding/verification/config", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "619fa0e8ef554d001d186cb9", body["flowId"])

	resp, _ = doJSON(t, app, http.MethodPost, "/onboarding/verification/events", map[string]string{"event": onboarding.VerificationEventScreen})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRoute(t *testing.T) {
	app, session := newTestApp(t)
	_, err := session.Tokens().ValidToken(context.Background())
	require.NoError(t, err)

	resp, body := doJSON(t, app, http.MethodGet, "/onboarding/token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "access", body["accessToken"])
	assert.Equal(t, true, body["hasRefreshToken"])
}

func TestCustomPrefix(t *testing.T) {
	app, _ := newTestApp(t, httpapi.WithPrefix("/api/v2/onboarding"))

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v2/onboarding/state", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{onboarding.ErrInvalidStep, http.StatusBadRequest},
		{onboarding.ErrEmailMissing.Clone(), http.StatusBadRequest},
		{onboarding.ErrResendTooSoon, http.StatusTooManyRequests},
		{onboarding.ErrWatchMismatch, http.StatusConflict},
		{onboarding.ErrSessionShutdown, http.StatusServiceUnavailable},
		{&onboarding.AuthError{Operation: "login", Status: 500}, http.StatusBadGateway},
		{&onboarding.APIError{Status: http.StatusInternalServerError}, http.StatusBadGateway},
		{&onboarding.APIError{Status: http.StatusUnauthorized}, http.StatusUnauthorized},
		{fmt.Errorf("call: %w", &onboarding.APIError{Status: http.StatusForbidden}), http.StatusUnauthorized},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, httpapi.StatusFor(tt.err))
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/onboarding/state", nil)
	req.Header.Set("X-Request-Id", "req-7")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, "req-7", resp.Header.Get("X-Request-Id"))
}
