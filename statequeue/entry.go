package statequeue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Entry is one queued write together with its completion signal.
type Entry struct {
	ID         string
	Action     string
	Target     string
	Value      any
	OnComplete CompleteFunc
	EnqueuedAt time.Time

	outcome State
	err     error
	future  *Future
}

// NewSetStateEntry builds the entry for a setState write.
func NewSetStateEntry(target string, value any, onComplete CompleteFunc) *Entry {
	return &Entry{
		ID:         xid.New().String(),
		Action:     "setState",
		Target:     target,
		Value:      value,
		OnComplete: onComplete,
		future:     newFuture(),
	}
}

// Label renders the entry as it appears in log lines.
func (e *Entry) Label() string {
	return fmt.Sprintf("%s(%s,%v)", e.Action, e.Target, e.Value)
}

// Outcome is the terminal state once the entry completed, Idle before.
func (e *Entry) Outcome() State {
	return e.outcome
}

// Err holds the issuance error of an Errored entry.
func (e *Entry) Err() error {
	return e.err
}

// Future is the entry's completion signal.
func (e *Entry) Future() *Future {
	return e.future
}

// settle records the outcome and runs the callback; resolve releases the
// waiters.
func (e *Entry) settle(outcome State, err error) {
	e.outcome = outcome
	e.err = err
	if e.OnComplete != nil {
		e.OnComplete(outcome, e)
	}
}

func (e *Entry) resolve() {
	e.future.resolve(Result{State: e.outcome, Err: e.err})
}

// Future resolves exactly once.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a future that is already done with r.
func ResolvedFuture(r Result) *Future {
	f := newFuture()
	f.resolve(r)
	return f
}

func (f *Future) resolve(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Done is closed once the future resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result and whether the future resolved yet.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
