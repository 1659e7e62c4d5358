// Package dualwritetest provides in-memory collaborators for testing code built
// on package dualwrite: a transactional key-value Store and a scriptable Producer.
package dualwritetest

import (
	"context"
	"errors"
	"sync"

	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
)

type ctxKey struct{}

// Store is an in-memory TxManager backed by a key-value map. Writes made inside
// a scope are staged and become visible to other scopes only when the root
// scope commits. Nested scopes merge into their parent on commit and are
// discarded on rollback.
type Store struct {
	mu        sync.Mutex
	committed map[string]any
	commitErr []error

	// Scopes records the options of every scope opened, in order.
	Scopes    []dualwrite.ScopeOptions
	Commits   int
	Rollbacks int
}

func NewStore() *Store {
	return &Store{committed: make(map[string]any)}
}

type scope struct {
	parent       *scope
	writes       map[string]any
	deletes      map[string]bool
	rollbackOnly bool
}

func (s *scope) SetRollbackOnly()     { s.rollbackOnly = true }
func (s *scope) IsRollbackOnly() bool { return s.rollbackOnly }

// FailNextCommit makes the next root-scope commit fail with err. The scope is
// rolled back instead.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = append(s.commitErr, err)
}

func (s *Store) WithScope(ctx context.Context, opts dualwrite.ScopeOptions, fn func(ctx context.Context, scope dualwrite.Scope) error) error {
	current, _ := ctx.Value(ctxKey{}).(*scope)

	s.mu.Lock()
	s.Scopes = append(s.Scopes, opts)
	s.mu.Unlock()

	if opts.Propagation == dualwrite.PropagationRequired && current != nil {
		return fn(ctx, current)
	}

	sc := &scope{writes: make(map[string]any), deletes: make(map[string]bool)}
	if opts.Propagation == dualwrite.PropagationNested {
		sc.parent = current
	}

	committed := false
	defer func() {
		if !committed {
			if p := recover(); p != nil {
				s.rollback()
				panic(p)
			}
		}
	}()

	fnErr := fn(context.WithValue(ctx, ctxKey{}, sc), sc)

	if sc.rollbackOnly || (fnErr != nil && !opts.NoRollbackOnError) {
		s.rollback()
		committed = true
		if fnErr == nil {
			return dualwrite.ErrRollbackOnly
		}
		return fnErr
	}

	err := s.commit(sc)
	committed = true
	if fnErr != nil {
		return fnErr
	}
	return err
}

func (s *Store) rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rollbacks++
}

func (s *Store) commit(sc *scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.parent != nil {
		for k, v := range sc.writes {
			sc.parent.writes[k] = v
			delete(sc.parent.deletes, k)
		}
		for k := range sc.deletes {
			delete(sc.parent.writes, k)
			sc.parent.deletes[k] = true
		}
		s.Commits++
		return nil
	}

	if len(s.commitErr) > 0 {
		err := s.commitErr[0]
		s.commitErr = s.commitErr[1:]
		s.Rollbacks++
		return err
	}
	for k, v := range sc.writes {
		s.committed[k] = v
	}
	for k := range sc.deletes {
		delete(s.committed, k)
	}
	s.Commits++
	return nil
}

// ErrNoScope is returned by Put and Delete outside a scope.
var ErrNoScope = errors.New("dualwritetest: no scope in context")

// Put stages a write in the scope carried by ctx.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	sc, ok := ctx.Value(ctxKey{}).(*scope)
	if !ok {
		return ErrNoScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.writes[key] = value
	delete(sc.deletes, key)
	return nil
}

// Delete stages a delete in the scope carried by ctx.
func (s *Store) Delete(ctx context.Context, key string) error {
	sc, ok := ctx.Value(ctxKey{}).(*scope)
	if !ok {
		return ErrNoScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(sc.writes, key)
	sc.deletes[key] = true
	return nil
}

// Get reads key as seen from ctx: staged writes of the current scope and its
// parents first, then committed state.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc, _ := ctx.Value(ctxKey{}).(*scope); sc != nil; sc = sc.parent {
		if sc.deletes[key] {
			return nil, false
		}
		if v, ok := sc.writes[key]; ok {
			return v, true
		}
	}
	v, ok := s.committed[key]
	return v, ok
}

// Committed reads key from committed state only.
func (s *Store) Committed(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.committed[key]
	return v, ok
}
