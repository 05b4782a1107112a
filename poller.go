package onboarding

import (
	"context"
	"sync"
	"time"
)

// CheckFunc reports whether the condition a waiting step waits for holds.
type CheckFunc func(ctx context.Context) (bool, error)

// WaitTask polls a CheckFunc while the wizard sits on one step. It is bound
// to that step: leaving the step stops it, and a positive result only
// advances the wizard when the step and applicant are unchanged.
type WaitTask struct {
	step     Step
	identity string
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func (t *WaitTask) Step() Step { return t.step }

// Stop cancels the task. It does not wait for the goroutine to exit and is
// safe to call more than once and from within the task itself.
func (t *WaitTask) Stop() {
	t.once.Do(t.cancel)
}

// Done is closed once the task goroutine has exited.
func (t *WaitTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task goroutine has exited.
func (t *WaitTask) Wait() { <-t.done }

// Watch starts polling check every interval, immediately included, while
// step is current. A running watch on the same step is replaced.
func (s *Session) Watch(step Step, interval time.Duration, check CheckFunc) (*WaitTask, error) {
	if s.ctx.Err() != nil {
		return nil, ErrSessionShutdown
	}
	if current := s.wizard.Current(); current != step {
		return nil, withMetadata(ErrWatchMismatch, map[string]any{
			"step":    string(step),
			"current": string(current),
		})
	}
	if interval <= 0 {
		interval = s.cfg.EmailPollInterval
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &WaitTask{
		step:     step,
		identity: s.Identity(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.watchMu.Lock()
	previous := s.watches[step]
	s.watches[step] = task
	s.watchMu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	go s.runWatch(ctx, task, interval, check)

	return task, nil
}

func (s *Session) runWatch(ctx context.Context, task *WaitTask, interval time.Duration, check CheckFunc) {
	defer func() {
		s.watchMu.Lock()
		if s.watches[task.step] == task {
			delete(s.watches, task.step)
		}
		s.watchMu.Unlock()
		close(task.done)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := check(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.logger.Debug("watch %s check failed: %v", task.step, err)
		case ok:
			s.applyWatchResult(task)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) applyWatchResult(task *WaitTask) {
	if identity := s.Identity(); identity != task.identity {
		s.logger.Info("watch %s: applicant changed, dropping result", task.step)
		return
	}

	if _, moved := s.wizard.AdvanceFrom(s.ctx, task.step, WithTransitionReason("watch")); !moved {
		s.logger.Debug("watch %s: step already left, dropping result", task.step)
	}
}

func (s *Session) stopWatch(step Step) {
	s.watchMu.Lock()
	task := s.watches[step]
	delete(s.watches, step)
	s.watchMu.Unlock()

	if task != nil {
		task.Stop()
	}
}

func (s *Session) stopWatches() []*WaitTask {
	s.watchMu.Lock()
	tasks := make([]*WaitTask, 0, len(s.watches))
	for step, task := range s.watches {
		tasks = append(tasks, task)
		delete(s.watches, step)
	}
	s.watchMu.Unlock()

	for _, task := range tasks {
		task.Stop()
	}
	return tasks
}

// ActiveWatch returns the running watch for step, if any.
func (s *Session) ActiveWatch(step Step) (*WaitTask, bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	task, ok := s.watches[step]
	return task, ok
}

func (s *Session) startEmailWatch() {
	email := s.wizard.Data().Email()
	if email == "" {
		s.logger.Debug("email watch not started: no registration email")
		return
	}

	if _, err := s.Watch(StepEmailValidation, s.cfg.EmailPollInterval, s.emailVerified(email)); err != nil {
		s.logger.Debug("email watch not started: %v", err)
	}
}

func (s *Session) emailVerified(email string) CheckFunc {
	return func(ctx context.Context) (bool, error) {
		user, err := s.users.Get(ctx, email)
		if err != nil {
			return false, err
		}
		return user.EmailVerified(), nil
	}
}
