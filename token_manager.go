package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-onboarding/store"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	headerClientID     = "X-Client-Id"
	headerClientSecret = "X-Client-Secret"
	headerTenantID     = "X-Tenant-Id"

	credentialFlight = "credential"
	maxResponseBytes = 1 << 20
)

var errMissingRefreshToken = errors.New("no refresh token stored")

// TokenManagerOption customizes the token manager.
type TokenManagerOption func(*TokenManager)

// WithTokenHTTPClient sets the client used for login and refresh calls.
func WithTokenHTTPClient(client *http.Client) TokenManagerOption {
	return func(m *TokenManager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTokenActivitySink publishes issuance and refresh events to sink.
func WithTokenActivitySink(sink ActivitySink) TokenManagerOption {
	return func(m *TokenManager) {
		m.sink = normalizeActivitySink(sink)
	}
}

// TokenManager keeps one bearer credential valid for the platform API.
// Login and refresh round trips are coalesced: concurrent callers wait on the
// same flight instead of issuing their own.
type TokenManager struct {
	cfg    Config
	store  store.Store
	client *http.Client
	now    func() time.Time
	logger Logger
	sink   ActivitySink

	flight singleflight.Group

	mu     sync.RWMutex
	cached *oauth2.Token
	// generation is bumped by Clear; flights started earlier do not persist
	generation uint64
}

// NewTokenManager returns a manager persisting the credential in st.
func NewTokenManager(cfg Config, st store.Store, opts ...TokenManagerOption) *TokenManager {
	cfg = cfg.withDefaults()
	m := &TokenManager{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		now:    time.Now,
		logger: defLogger{},
		sink:   noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// ValidToken returns an access token that stays valid for at least the
// safety margin. Stale credentials are refreshed, missing ones trigger a
// login.
func (m *TokenManager) ValidToken(ctx context.Context) (string, error) {
	if tok, ok := m.fresh(ctx); ok {
		return tok.AccessToken, nil
	}

	return m.acquire(ctx, func(ctx context.Context, gen uint64) (*oauth2.Token, error) {
		// another flight may have finished while we waited to get here
		if tok, ok := m.fresh(ctx); ok {
			return tok, nil
		}
		if persisted := m.Load(ctx); persisted == nil || (persisted.AccessToken == "" && persisted.Expiry.IsZero()) {
			return m.login(ctx, gen)
		}
		return m.refresh(ctx, gen)
	})
}

// Login performs a full login regardless of the stored credential.
func (m *TokenManager) Login(ctx context.Context) (string, error) {
	return m.acquire(ctx, m.login)
}

// Refresh exchanges the stored refresh token, falling back to a login when
// that fails and StrictRefresh is off.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	return m.acquire(ctx, m.refresh)
}

// Reauthenticate discards a token the API rejected and logs in again. When
// another caller already replaced the rejected token, the replacement is
// returned without a new login.
func (m *TokenManager) Reauthenticate(ctx context.Context, rejected string) (string, error) {
	return m.acquire(ctx, func(ctx context.Context, gen uint64) (*oauth2.Token, error) {
		if tok, ok := m.fresh(ctx); ok && tok.AccessToken != rejected {
			return tok, nil
		}
		m.invalidate(ctx)
		return m.login(ctx, gen)
	})
}

// Clear drops the credential from memory and from the store.
func (m *TokenManager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.generation++
	err := store.Apply(ctx, m.store,
		store.Delete(store.KeyAccessToken),
		store.Delete(store.KeyTokenExpiry),
		store.Delete(store.KeyRefreshToken),
	)
	if err != nil {
		m.logger.Warn("token clear: %v", err)
	}
}

// Token implements oauth2.TokenSource.
func (m *TokenManager) Token() (*oauth2.Token, error) {
	if _, err := m.ValidToken(context.Background()); err != nil {
		return nil, err
	}
	return m.Credential(), nil
}

// Credential returns a copy of the cached credential, or nil.
func (m *TokenManager) Credential() *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil {
		return nil
	}
	tok := *m.cached
	return &tok
}

// AccessToken returns the cached access token for diagnostic display.
func (m *TokenManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil {
		return ""
	}
	return m.cached.AccessToken
}

// Claims decodes the cached access token without verifying its signature.
// Only meant for diagnostics.
func (m *TokenManager) Claims() (jwt.MapClaims, error) {
	raw := m.AccessToken()
	if raw == "" {
		return nil, errors.New("no access token cached")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Load reads the persisted credential into the cache. A failing store keeps
// the cached credential. Returns nil when nothing is stored.
func (m *TokenManager) Load(ctx context.Context) *oauth2.Token {
	tok, err := m.readStore(ctx)
	if err != nil {
		m.logger.Warn("token load: %v", err)
		return m.Credential()
	}

	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()

	if tok == nil {
		return nil
	}
	c := *tok
	return &c
}

func (m *TokenManager) readStore(ctx context.Context) (*oauth2.Token, error) {
	access, hasAccess, err := m.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		return nil, err
	}
	expiry, hasExpiry, err := m.store.Get(ctx, store.KeyTokenExpiry)
	if err != nil {
		return nil, err
	}
	refresh, _, err := m.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		return nil, err
	}

	if !hasAccess && !hasExpiry && refresh == "" {
		return nil, nil
	}

	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
	}
	if hasExpiry {
		if ms, err := strconv.ParseInt(strings.TrimSpace(expiry), 10, 64); err == nil {
			tok.Expiry = time.UnixMilli(ms)
		}
	}
	return tok, nil
}

func (m *TokenManager) fresh(ctx context.Context) (*oauth2.Token, bool) {
	tok := m.Load(ctx)
	if tok == nil || tok.AccessToken == "" || tok.Expiry.IsZero() {
		return nil, false
	}
	if !m.now().Before(tok.Expiry.Add(-m.cfg.TokenSafetyMargin)) {
		return nil, false
	}
	return tok, true
}

func (m *TokenManager) acquire(ctx context.Context, fn func(context.Context, uint64) (*oauth2.Token, error)) (string, error) {
	// the flight outlives callers that give up so the others still get a token
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(credentialFlight, func() (any, error) {
		m.mu.RLock()
		gen := m.generation
		m.mu.RUnlock()
		return fn(flightCtx, gen)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*oauth2.Token).AccessToken, nil
	}
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type refreshRequest struct {
	OrganizationID string `json:"organizationId"`
	RefreshToken   string `json:"refreshToken"`
}

func (m *TokenManager) login(ctx context.Context, gen uint64) (*oauth2.Token, error) {
	resp, err := m.post(ctx, "login", m.cfg.LoginPath, struct{}{})
	if err != nil {
		return nil, err
	}

	tok := m.tokenFrom(resp, "")
	if !m.save(ctx, tok, gen) {
		return tok, nil
	}
	m.record(ctx, ActivityEventTokenIssued, map[string]any{"expires_at": tok.Expiry})
	m.logger.Debug("token issued, expires at %s", tok.Expiry.Format(time.RFC3339))
	return tok, nil
}

func (m *TokenManager) refresh(ctx context.Context, gen uint64) (*oauth2.Token, error) {
	current := m.Load(ctx)
	if current == nil || current.RefreshToken == "" {
		return m.fallback(ctx, gen, &AuthError{Operation: "refresh", Err: errMissingRefreshToken})
	}

	resp, err := m.post(ctx, "refresh", m.cfg.RefreshPath, refreshRequest{
		OrganizationID: m.cfg.OrganizationID,
		RefreshToken:   current.RefreshToken,
	})
	if err != nil {
		return m.fallback(ctx, gen, err)
	}

	tok := m.tokenFrom(resp, current.RefreshToken)
	if !m.save(ctx, tok, gen) {
		return tok, nil
	}
	m.record(ctx, ActivityEventTokenRefreshed, map[string]any{"expires_at": tok.Expiry})
	return tok, nil
}

// fallback is where a failed refresh turns into a login. The failure is
// always logged and published so revoked sessions stay visible.
func (m *TokenManager) fallback(ctx context.Context, gen uint64, cause error) (*oauth2.Token, error) {
	m.logger.Warn("token refresh failed: %v", cause)
	m.record(ctx, ActivityEventTokenRefreshFailed, map[string]any{
		"error":  cause.Error(),
		"strict": m.cfg.StrictRefresh,
	})

	if m.cfg.StrictRefresh {
		var authErr *AuthError
		if errors.As(cause, &authErr) {
			return nil, authErr
		}
		return nil, &AuthError{Operation: "refresh", Err: cause}
	}
	return m.login(ctx, gen)
}

func (m *TokenManager) tokenFrom(resp tokenResponse, previousRefresh string) *oauth2.Token {
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: refresh,
		Expiry:       m.now().Add(time.Duration(resp.ExpiresIn*1000) * time.Millisecond),
	}
}

// save caches and persists tok unless Clear ran since the flight started.
func (m *TokenManager) save(ctx context.Context, tok *oauth2.Token, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		m.logger.Debug("token discarded: credential cleared while the request was in flight")
		return false
	}
	c := *tok
	m.cached = &c

	refreshOp := store.Put(store.KeyRefreshToken, tok.RefreshToken)
	if tok.RefreshToken == "" {
		refreshOp = store.Delete(store.KeyRefreshToken)
	}

	err := store.Apply(ctx, m.store,
		store.Put(store.KeyAccessToken, tok.AccessToken),
		store.Put(store.KeyTokenExpiry, strconv.FormatInt(tok.Expiry.UnixMilli(), 10)),
		refreshOp,
	)
	if err != nil {
		m.logger.Warn("token persist: %v", err)
	}
	return true
}

func (m *TokenManager) invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		m.cached.AccessToken = ""
		m.cached.Expiry = time.Time{}
	}
	err := store.Apply(ctx, m.store,
		store.Delete(store.KeyAccessToken),
		store.Delete(store.KeyTokenExpiry),
	)
	if err != nil {
		m.logger.Warn("token invalidate: %v", err)
	}
}

func (m *TokenManager) post(ctx context.Context, operation, path string, payload any) (tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return tokenResponse{}, &AuthError{Operation: operation, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return tokenResponse{}, &AuthError{Operation: operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerClientID, m.cfg.ClientID)
	req.Header.Set(headerClientSecret, m.cfg.ClientSecret)
	req.Header.Set(headerTenantID, m.cfg.TenantID)

	resp, err := m.client.Do(req)
	if err != nil {
		return tokenResponse{}, &AuthError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return tokenResponse{}, &AuthError{Operation: operation, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenResponse{}, &AuthError{Operation: operation, Status: resp.StatusCode}
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return tokenResponse{}, &AuthError{Operation: operation, Status: resp.StatusCode, Err: err}
	}
	if out.AccessToken == "" {
		return tokenResponse{}, &AuthError{Operation: operation, Status: resp.StatusCode, Err: errors.New("missing access token")}
	}
	return out, nil
}

func (m *TokenManager) record(ctx context.Context, eventType ActivityEventType, meta map[string]any) {
	activityRecorder{sink: m.sink, now: m.now, logger: m.logger}.record(ctx, ActivityEvent{
		EventType: eventType,
		Metadata:  meta,
	})
}

var _ oauth2.TokenSource = (*TokenManager)(nil)
