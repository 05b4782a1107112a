package onboarding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/goliatone/go-onboarding/store"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks after a step change.
type TransitionContext struct {
	From Step
	To   Step
	Data Data
	Meta TransitionMetadata
}

// TransitionHook runs after the new step has been applied and persisted.
// Hooks run outside the wizard lock and may call back into the wizard.
type TransitionHook func(ctx context.Context, tc TransitionContext)

// TransitionOption customizes a single transition.
type TransitionOption func(*TransitionMetadata)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(meta *TransitionMetadata) {
		meta.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(meta *TransitionMetadata) {
		if len(metadata) == 0 {
			return
		}
		if meta.Metadata == nil {
			meta.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			meta.Metadata[k] = v
		}
	}
}

// WizardOption customizes wizard construction.
type WizardOption func(*Wizard)

// WithWizardClock injects a custom clock (useful for tests).
func WithWizardClock(clock func() time.Time) WizardOption {
	return func(w *Wizard) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithWizardActivitySink sets the ActivitySink used to publish step events.
func WithWizardActivitySink(sink ActivitySink) WizardOption {
	return func(w *Wizard) {
		w.activitySink = normalizeActivitySink(sink)
	}
}

// WithWizardLogger overrides the logger used for persistence failures.
func WithWizardLogger(logger Logger) WizardOption {
	return func(w *Wizard) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWizardTransitionHook registers a hook executed after every step change.
func WithWizardTransitionHook(h TransitionHook) WizardOption {
	return func(w *Wizard) {
		if h != nil {
			w.hooks = append(w.hooks, h)
		}
	}
}

// Wizard owns the current step and the collected step data. Every mutation
// is written to the store before the lock is released.
type Wizard struct {
	mu    sync.Mutex
	store store.Store
	step  Step
	data  Data

	hooks        []TransitionHook
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// NewWizard returns a wizard positioned at Registration with no data.
func NewWizard(st store.Store, opts ...WizardOption) *Wizard {
	w := &Wizard{
		store:        st,
		step:         StepRegistration,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	return w
}

func (w *Wizard) Current() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Data returns a copy of the collected data.
func (w *Wizard) Data() Data {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data.Clone()
}

// Snapshot returns the step and a copy of the data read under one lock.
func (w *Wizard) Snapshot() (Step, Data) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step, w.data.Clone()
}

// Advance moves to the next step. It is a no-op at Completed.
func (w *Wizard) Advance(ctx context.Context, opts ...TransitionOption) Step {
	step, _ := w.transition(ctx, func(current Step) (Step, bool) {
		return current.Next(), !current.Terminal()
	}, opts...)
	return step
}

// Retreat moves to the previous step. It is a no-op at Registration and at
// Completed.
func (w *Wizard) Retreat(ctx context.Context, opts ...TransitionOption) Step {
	step, _ := w.transition(ctx, func(current Step) (Step, bool) {
		prev := current.Prev()
		return prev, prev != current
	}, opts...)
	return step
}

// AdvanceFrom advances only when from is still the current step. Results
// that arrive after the user moved on are dropped.
func (w *Wizard) AdvanceFrom(ctx context.Context, from Step, opts ...TransitionOption) (Step, bool) {
	return w.transition(ctx, func(current Step) (Step, bool) {
		if current != from || current.Terminal() {
			return current, false
		}
		return current.Next(), true
	}, opts...)
}

// GoToFrom jumps to step only when from is still the current step.
func (w *Wizard) GoToFrom(ctx context.Context, from, step Step, opts ...TransitionOption) (bool, error) {
	if !step.Valid() {
		return false, withMetadata(ErrInvalidStep, map[string]any{"step": string(step)})
	}

	_, moved := w.transition(ctx, func(current Step) (Step, bool) {
		return step, current == from
	}, opts...)
	return moved, nil
}

// GoTo jumps to step regardless of the current position and persists it.
func (w *Wizard) GoTo(ctx context.Context, step Step, opts ...TransitionOption) error {
	if !step.Valid() {
		return withMetadata(ErrInvalidStep, map[string]any{"step": string(step)})
	}

	w.transition(ctx, func(Step) (Step, bool) {
		return step, true
	}, opts...)
	return nil
}

// SetStepData stores payload under its key, replacing any previous value for
// that key only, and persists the whole record.
func (w *Wizard) SetStepData(ctx context.Context, payload StepPayload) error {
	if payload == nil {
		return withMetadata(ErrInvalidDataKey, map[string]any{"reason": "payload is nil"})
	}

	w.mu.Lock()
	w.data = w.data.With(payload)
	step := w.step
	w.persist(ctx, step, w.data)
	w.mu.Unlock()

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventDataUpdated,
		FromStep:  step,
		ToStep:    step,
		Metadata:  map[string]any{"key": string(payload.DataKey())},
	})
	return nil
}

// SetStepDataJSON decodes raw into the payload registered for key and stores it.
func (w *Wizard) SetStepDataJSON(ctx context.Context, key DataKey, raw []byte) error {
	payload, err := DecodePayload(key, raw)
	if err != nil {
		return err
	}
	return w.SetStepData(ctx, payload)
}

// Reset forgets all data, removes the persisted step and data, and returns
// to Registration.
func (w *Wizard) Reset(ctx context.Context) {
	w.mu.Lock()
	from := w.step
	w.step = StepRegistration
	w.data = Data{}
	if err := store.Apply(ctx, w.store, store.Delete(store.KeyData), store.Delete(store.KeyStep)); err != nil {
		w.logger.Warn("wizard reset: %v", err)
	}
	w.mu.Unlock()

	if from != StepRegistration {
		w.runHooks(ctx, TransitionContext{From: from, To: StepRegistration, Meta: TransitionMetadata{Reason: "reset"}})
	}

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventReset,
		FromStep:  from,
		ToStep:    StepRegistration,
	})
}

// Restore replaces the in-memory state without persisting or running hooks.
// Invalid steps fall back to Registration.
func (w *Wizard) Restore(step Step, data Data) {
	if !step.Valid() {
		step = StepRegistration
	}
	w.mu.Lock()
	w.step = step
	w.data = data.Clone()
	w.mu.Unlock()
}

func (w *Wizard) transition(ctx context.Context, next func(current Step) (Step, bool), opts ...TransitionOption) (Step, bool) {
	meta := TransitionMetadata{}
	for _, opt := range opts {
		if opt != nil {
			opt(&meta)
		}
	}

	w.mu.Lock()
	from := w.step
	to, ok := next(from)
	if !ok {
		w.mu.Unlock()
		return from, false
	}
	w.step = to
	data := w.data.Clone()
	w.persist(ctx, to, data)
	w.mu.Unlock()

	if from == to {
		return to, true
	}

	w.runHooks(ctx, TransitionContext{From: from, To: to, Data: data, Meta: meta})

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventStepChanged,
		FromStep:  from,
		ToStep:    to,
		Metadata:  transitionMetadata(meta),
	})

	return to, true
}

// persist must be called with w.mu held.
func (w *Wizard) persist(ctx context.Context, step Step, data Data) {
	blob, err := json.Marshal(data)
	if err != nil {
		w.logger.Error("wizard encode data: %v", err)
		return
	}

	err = store.Apply(ctx, w.store,
		store.Put(store.KeyData, string(blob)),
		store.Put(store.KeyStep, string(step)),
	)
	if err != nil {
		w.logger.Warn("wizard persist step %s: %v", step, err)
	}
}

func (w *Wizard) runHooks(ctx context.Context, tc TransitionContext) {
	for _, hook := range w.hooks {
		hook(ctx, tc)
	}
}

func (w *Wizard) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = w.now()
	}

	sink := normalizeActivitySink(w.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		w.logger.Warn("wizard activity sink error: %v", err)
	}
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
