package statequeue

import (
	"context"
)

// Handler is the entry point for writes. Targets picked by the matcher go
// through the Processor; everything else is written directly.
type Handler struct {
	proc      *Processor
	backend   Backend
	serialize TargetMatcher
	log       Logger
}

// NewHandler builds a handler. A nil matcher serializes every target.
func NewHandler(proc *Processor, backend Backend, serialize TargetMatcher) *Handler {
	if serialize == nil {
		serialize = func(string) bool { return true }
	}
	return &Handler{
		proc:      proc,
		backend:   backend,
		serialize: serialize,
		log:       proc.log,
	}
}

// WriteValue writes value to target.
//
// Serialized targets return the entry's future, resolved with Acknowledged,
// TimedOut or Errored once the Processor released it. Other targets are
// handed to the backend at once and get a future already resolved with
// Issued; onComplete then reports the backend's own callback as Issued or
// Errored.
func (h *Handler) WriteValue(target string, value any, onComplete CompleteFunc) *Future {
	entry := NewSetStateEntry(target, value, onComplete)
	if h.serialize(target) {
		return h.proc.Enqueue(entry)
	}

	h.log.Debugf("exec %s normally", entry.Label())
	h.backend.SetState(target, value, false, func(err error) {
		if err != nil {
			h.log.Warnf("%s: %v", entry.Label(), err)
			entry.settle(Errored, err)
			return
		}
		entry.settle(Issued, nil)
	})
	return ResolvedFuture(Result{State: Issued})
}

// WaitUntilIdle blocks until the Processor has released every entry queued
// so far, or ctx ends.
func (h *Handler) WaitUntilIdle(ctx context.Context) error {
	select {
	case <-h.proc.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) IsProcessing() bool {
	return h.proc.IsProcessing()
}

func (h *Handler) Stats() Stats {
	return h.proc.Stats()
}
