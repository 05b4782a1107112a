package onboarding_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore implements store.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStore) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStore) Remove(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// slowStore delays every read until release is closed
type slowStore struct {
	*store.Memory
	release chan struct{}
}

func (s *slowStore) Get(ctx context.Context, key string) (string, bool, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	return s.Memory.Get(ctx, key)
}

type logCall struct {
	level   string
	message string
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: fmt.Sprintf(format, args...)})
}

func (l *captureLogger) Debug(format string, args ...any) { l.record("debug", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.record("info", format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.record("warn", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.record("error", format, args...) }

func (l *captureLogger) has(level, fragment string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c.level == level && strings.Contains(c.message, fragment) {
			return true
		}
	}
	return false
}

type countingStore struct {
	*store.Memory
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.gets.Add(1)
	return s.Memory.Get(ctx, key)
}

type recordingSink struct {
	mu     sync.Mutex
	events []onboarding.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event onboarding.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) ofType(eventType onboarding.ActivityEventType) []onboarding.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []onboarding.ActivityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordedUpdate struct {
	Email string
	Step  string
	Body  map[string]any
}

// fakePlatform is an in-process stand-in for the remote platform API.
type fakePlatform struct {
	server *httptest.Server

	logins    atomic.Int32
	refreshes atomic.Int32
	calls     atomic.Int32

	mu            sync.Mutex
	seq           int
	expiresIn     int64
	refreshStatus int
	revoked       map[string]bool
	users         map[string]*onboarding.PlatformUser
	updates       []recordedUpdate
	failStatus    map[string]int
	loginGate     chan struct{}
	loginStarted  chan struct{}
	lastHeaders   http.Header
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()

	p := &fakePlatform{
		expiresIn:  3600,
		revoked:    map[string]bool{},
		users:      map[string]*onboarding.PlatformUser{},
		failStatus: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token/login", p.handleLogin)
	mux.HandleFunc("/v1/token/refresh-token", p.handleRefresh)
	mux.HandleFunc("/v1/user/users", p.handleUsers)
	mux.HandleFunc("/v1/user/users/", p.handleUser)
	mux.HandleFunc("/v1/ping", p.handlePing)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePlatform) config() onboarding.Config {
	return onboarding.Config{
		APIBaseURL:        p.server.URL,
		ClientSecret:      "secret",
		HTTPTimeout:       2 * time.Second,
		HydrationTimeout:  time.Second,
		EmailPollInterval: 20 * time.Millisecond,
		SmsResendCooldown: time.Minute,
	}
}

func (p *fakePlatform) issue() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return map[string]any{
		"accessToken":  fmt.Sprintf("access-%d", p.seq),
		"refreshToken": fmt.Sprintf("refresh-%d", p.seq),
		"expiresIn":    p.expiresIn,
	}
}

func (p *fakePlatform) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.logins.Add(1)

	p.mu.Lock()
	gate, started := p.loginGate, p.loginStarted
	p.lastHeaders = r.Header.Clone()
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	writeJSON(w, http.StatusOK, p.issue())
}

func (p *fakePlatform) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p.refreshes.Add(1)

	p.mu.Lock()
	status := p.refreshStatus
	p.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]any{"message": "refresh rejected"})
		return
	}
	writeJSON(w, http.StatusOK, p.issue())
}

func (p *fakePlatform) authorized(w http.ResponseWriter, r *http.Request) bool {
	p.calls.Add(1)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	p.mu.Lock()
	p.lastHeaders = r.Header.Clone()
	rejected := token == "" || p.revoked[token]
	p.mu.Unlock()

	if rejected {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized"})
		return false
	}
	return true
}

func (p *fakePlatform) injected(w http.ResponseWriter, r *http.Request) bool {
	p.mu.Lock()
	status := p.failStatus[r.Method+" "+r.URL.Path]
	p.mu.Unlock()
	if status == 0 {
		return false
	}
	writeJSON(w, status, map[string]any{"message": "injected failure"})
	return true
}

func (p *fakePlatform) handlePing(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(w, r) || p.injected(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (p *fakePlatform) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(w, r) || p.injected(w, r) {
		return
	}

	var req onboarding.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[req.UserEmail]; ok {
		writeJSON(w, http.StatusConflict, map[string]any{"message": "user exists"})
		return
	}
	p.users[req.UserEmail] = &onboarding.PlatformUser{UserEmail: req.UserEmail, UserStatus: "PENDING_EMAIL_VERIFICATION"}
	writeJSON(w, http.StatusCreated, p.users[req.UserEmail])
}

func (p *fakePlatform) handleUser(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(w, r) || p.injected(w, r) {
		return
	}

	email, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/v1/user/users/"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[email]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.updates = append(p.updates, recordedUpdate{
			Email: email,
			Step:  r.URL.Query().Get("onBoardingStepName"),
			Body:  body,
		})
		writeJSON(w, http.StatusOK, user)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *fakePlatform) addUser(email, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[email] = &onboarding.PlatformUser{UserEmail: email, UserStatus: status}
}

func (p *fakePlatform) setStatus(email, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.users[email]; ok {
		u.UserStatus = status
	}
}

func (p *fakePlatform) revoke(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[token] = true
}

func (p *fakePlatform) fail(method, path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failStatus[method+" "+path] = status
}

func (p *fakePlatform) setRefreshStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshStatus = status
}

func (p *fakePlatform) gateLogins() (started chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.loginGate = gate
	p.loginStarted = make(chan struct{}, 1)
	var once sync.Once
	return p.loginStarted, func() { once.Do(func() { close(gate) }) }
}

func (p *fakePlatform) recordedUpdates() []recordedUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedUpdate(nil), p.updates...)
}

func (p *fakePlatform) headers() http.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeaders.Clone()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// newTestSession builds a hydrated session talking to p.
func newTestSession(t *testing.T, p *fakePlatform, st store.Store, opts ...onboarding.Option) *onboarding.Session {
	t.Helper()
	return newTestSessionWithConfig(t, p.config(), st, opts...)
}

func newTestSessionWithConfig(t *testing.T, cfg onboarding.Config, st store.Store, opts ...onboarding.Option) *onboarding.Session {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}

	s, err := onboarding.New(cfg, st, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitHydrated(ctx))
	return s
}

// seedStore writes a persisted session into a fresh memory store.
func seedStore(t *testing.T, step onboarding.Step, data onboarding.Data) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, store.KeyStep, string(step)))
	require.NoError(t, st.Set(ctx, store.KeyData, string(raw)))
	return st
}

func registeredData(email string) onboarding.Data {
	return onboarding.Data{
		Registration: &onboarding.RegistrationData{Email: email, AcceptTerms: true},
	}
}
