// Package saga runs an ordered list of steps, each with an optional undo. When
// a step fails, the steps already done are undone in reverse order. A saga that
// finished can be unwound later the same way, which is how the process
// releases what it acquired at startup.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports the step that failed and, if unwinding also failed, why.
type StepError struct {
	Saga          string
	Step          string
	Index         int
	Err           error
	CompensateErr error
}

func (e *StepError) Error() string {
	if e.CompensateErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensateErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type Saga struct {
	name  string
	steps []Step

	mu   sync.Mutex
	done []int
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. On failure the completed steps are
// compensated before the *StepError is returned. Execute must not be called
// twice on the same saga.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:          s.name,
				Step:          step.Name,
				Index:         i,
				Err:           err,
				CompensateErr: s.Compensate(ctx),
			}
		}
		s.mu.Lock()
		s.done = append(s.done, i)
		s.mu.Unlock()
	}
	return nil
}

// Compensate undoes every completed step in reverse order and forgets them,
// so a second call is a no-op. All undo errors are collected.
func (s *Saga) Compensate(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := s.steps[done[i]]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Completed reports the names of the steps that are done and not yet undone.
func (s *Saga) Completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.done))
	for i, idx := range s.done {
		names[i] = s.steps[idx].Name
	}
	return names
}
