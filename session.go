package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-onboarding/store"
	"github.com/goliatone/go-print"
	"github.com/goliatone/hashid/pkg/hashid"
)

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the logger shared by every session component.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for platform calls.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithActivitySink publishes session activity to sink.
func WithActivitySink(sink ActivitySink) Option {
	return func(s *Session) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithHostBridge enables the native shell channel.
func WithHostBridge(bridge HostBridge) Option {
	return func(s *Session) {
		s.bridge = bridge
	}
}

// State is a point in time view of the session.
type State struct {
	CurrentStep Step     `json:"currentStep"`
	Data        Data     `json:"data"`
	IsLoading   bool     `json:"isLoading"`
	LastError   string   `json:"lastError,omitempty"`
	Hydrated    bool     `json:"hydrated"`
	Progress    Progress `json:"progress"`
}

// Session composes the wizard, the credential and the platform gateway into
// the single surface UI collaborators talk to.
type Session struct {
	cfg        Config
	store      store.Store
	wizard     *Wizard
	tokens     *TokenManager
	gateway    *Gateway
	users      *Users
	bridge     HostBridge
	httpClient *http.Client
	logger     Logger
	sink       ActivitySink
	now        func() time.Time

	statusMu  sync.Mutex
	inflight  int
	lastError string

	hydrateOnce sync.Once
	hydrated    chan struct{}

	watchMu sync.Mutex
	watches map[Step]*WaitTask

	smsMu     sync.Mutex
	smsSentAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a session over st and starts hydrating it in the background.
func New(cfg Config, st store.Store, opts ...Option) (*Session, error) {
	if st == nil {
		return nil, errors.New("onboarding: store is required")
	}

	cfg = cfg.withDefaults()
	s := &Session{
		cfg:      cfg,
		store:    st,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		now:      time.Now,
		hydrated: make(chan struct{}),
		watches:  make(map[Step]*WaitTask),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.tokens = NewTokenManager(cfg, st,
		WithTokenHTTPClient(s.httpClient),
		WithTokenClock(s.now),
		WithTokenLogger(s.logger),
		WithTokenActivitySink(s.sink),
	)
	s.gateway = NewGateway(cfg, s.tokens, s.httpClient, s, s.logger)
	s.users = NewUsers(s.gateway, cfg.UsersPath)
	s.wizard = NewWizard(st,
		WithWizardClock(s.now),
		WithWizardActivitySink(s.sink),
		WithWizardLogger(s.logger),
		WithWizardTransitionHook(s.onTransition),
	)

	go s.Hydrate(s.ctx)

	return s, nil
}

// Hydrate restores step, data and credential from the store. Only the first
// call does any work. If the store does not answer within HydrationTimeout
// the session starts from a fresh state and the late answer is dropped.
func (s *Session) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		type snapshot struct {
			step Step
			data Data
		}

		result := make(chan snapshot, 1)
		go func() {
			step, data := s.readPersisted(ctx)
			result <- snapshot{step: step, data: data}
		}()

		timer := time.NewTimer(s.cfg.HydrationTimeout)
		defer timer.Stop()

		select {
		case snap := <-result:
			s.wizard.Restore(snap.step, snap.data)
		case <-timer.C:
			s.logger.Warn("hydration did not finish within %s, starting fresh", s.cfg.HydrationTimeout)
		case <-ctx.Done():
			s.logger.Warn("hydration cancelled: %v", ctx.Err())
		}

		close(s.hydrated)

		step, data := s.wizard.Snapshot()
		s.logger.Debug("session hydrated: %s", print.MaybePrettyJSON(map[string]any{
			"step":     step,
			"has_data": !data.Empty(),
		}))
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventHydrated,
			ToStep:    step,
		})

		if step == StepEmailValidation {
			s.startEmailWatch()
		}
	})
}

func (s *Session) readPersisted(ctx context.Context) (Step, Data) {
	step := StepRegistration
	data := Data{}

	if raw, ok, err := s.store.Get(ctx, store.KeyStep); err != nil {
		s.logger.Warn("hydrate step: %v", err)
	} else if ok {
		if parsed, err := ParseStep(raw); err == nil {
			step = parsed
		} else {
			s.logger.Warn("hydrate step: ignoring %q", raw)
		}
	}

	if raw, ok, err := s.store.Get(ctx, store.KeyData); err != nil {
		s.logger.Warn("hydrate data: %v", err)
	} else if ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			s.logger.Warn("hydrate data: discarding corrupt blob: %v", err)
			data = Data{}
		}
	}

	s.tokens.Load(ctx)

	return step, data
}

// WaitHydrated blocks until hydration finished or ctx is done.
func (s *Session) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionShutdown
	}
}

func (s *Session) Hydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// State returns a consistent snapshot of the session.
func (s *Session) State() State {
	step, data := s.wizard.Snapshot()

	s.statusMu.Lock()
	loading, lastErr := s.inflight > 0, s.lastError
	s.statusMu.Unlock()

	return State{
		CurrentStep: step,
		Data:        data,
		IsLoading:   loading,
		LastError:   lastErr,
		Hydrated:    s.Hydrated(),
		Progress:    ProgressOf(step),
	}
}

func (s *Session) CurrentStep() Step { return s.wizard.Current() }

func (s *Session) Data() Data { return s.wizard.Data() }

func (s *Session) IsLoading() bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.inflight > 0
}

func (s *Session) LastError() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastError
}

// SetLastError lets collaborators surface their own failures. An empty
// message clears the slot.
func (s *Session) SetLastError(msg string) {
	s.statusMu.Lock()
	s.lastError = msg
	s.statusMu.Unlock()
}

// AccessToken returns the cached access token for diagnostic display.
func (s *Session) AccessToken() string { return s.tokens.AccessToken() }

func (s *Session) Tokens() *TokenManager { return s.tokens }

func (s *Session) Users() *Users { return s.users }

func (s *Session) Config() Config { return s.cfg }

// Identity fingerprints the applicant behind the session, "" before
// registration.
func (s *Session) Identity() string {
	return identityOf(s.wizard.Data().Email())
}

func identityOf(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	id, err := hashid.NewUUID(email)
	if err != nil {
		return email
	}
	return id.String()
}

func (s *Session) Advance(ctx context.Context, opts ...TransitionOption) (Step, error) {
	if err := s.awaitHydration(ctx); err != nil {
		return s.wizard.Current(), err
	}
	return s.wizard.Advance(ctx, opts...), nil
}

func (s *Session) Retreat(ctx context.Context, opts ...TransitionOption) (Step, error) {
	if err := s.awaitHydration(ctx); err != nil {
		return s.wizard.Current(), err
	}
	return s.wizard.Retreat(ctx, opts...), nil
}

func (s *Session) GoTo(ctx context.Context, step Step, opts ...TransitionOption) error {
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}
	return s.wizard.GoTo(ctx, step, opts...)
}

// AdvanceFrom advances only if from is still the current step.
func (s *Session) AdvanceFrom(ctx context.Context, from Step, opts ...TransitionOption) (Step, bool, error) {
	if err := s.awaitHydration(ctx); err != nil {
		return s.wizard.Current(), false, err
	}
	step, ok := s.wizard.AdvanceFrom(ctx, from, opts...)
	return step, ok, nil
}

func (s *Session) SetStepData(ctx context.Context, payload StepPayload) error {
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}
	return s.wizard.SetStepData(ctx, payload)
}

func (s *Session) SetStepDataJSON(ctx context.Context, key DataKey, raw []byte) error {
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}
	return s.wizard.SetStepDataJSON(ctx, key, raw)
}

// Reset clears data, step and credential in memory and in the store, stops
// running watches and returns to Registration.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	s.stopWatches()
	s.wizard.Reset(ctx)
	s.tokens.Clear(ctx)

	s.smsMu.Lock()
	s.smsSentAt = time.Time{}
	s.smsMu.Unlock()

	s.SetLastError("")
	return nil
}

// Call performs one authenticated platform request.
func (s *Session) Call(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	return s.gateway.Call(ctx, method, endpoint, body)
}

// Do performs one authenticated platform request and decodes the response.
func (s *Session) Do(ctx context.Context, method, endpoint string, body, out any) error {
	return s.gateway.Do(ctx, method, endpoint, body, out)
}

// Shutdown stops background work. The session must not be used afterwards.
func (s *Session) Shutdown() {
	s.cancel()
	for _, task := range s.stopWatches() {
		task.Wait()
	}
}

// CallStarted implements CallObserver.
func (s *Session) CallStarted() {
	s.statusMu.Lock()
	s.inflight++
	s.lastError = ""
	s.statusMu.Unlock()
}

// CallFinished implements CallObserver.
func (s *Session) CallFinished(err error) {
	s.statusMu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	if err != nil {
		s.lastError = describeError(err)
	}
	s.statusMu.Unlock()
}

func describeError(err error) string {
	var apiErr *APIError
	var authErr *AuthError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status != 0:
		return "API Error: " + strconv.Itoa(apiErr.Status)
	case errors.As(err, &apiErr):
		return "API Error: platform unreachable"
	case errors.As(err, &authErr):
		return "Authentication with the platform failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Request cancelled"
	}
	return err.Error()
}

func (s *Session) awaitHydration(ctx context.Context) error {
	return s.WaitHydrated(ctx)
}

// onTransition runs outside the wizard lock, so a newer transition may have
// happened already. Watches follow the current step, not tc.
func (s *Session) onTransition(_ context.Context, tc TransitionContext) {
	current := s.wizard.Current()
	if tc.From != current {
		s.stopWatch(tc.From)
	}
	if tc.To == StepEmailValidation && current == StepEmailValidation {
		s.startEmailWatch()
	}
}

func (s *Session) record(ctx context.Context, event ActivityEvent) {
	if event.Identity == "" {
		event.Identity = s.Identity()
	}
	activityRecorder{sink: s.sink, now: s.now, logger: s.logger}.record(ctx, event)
}
