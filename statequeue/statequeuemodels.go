package statequeue

import (
	"errors"
	"fmt"
	"time"
)

// State is the processing state of a Processor, and the outcome recorded
// for an entry once it leaves Processing.
type State int

const (
	Idle State = iota
	Processing
	Acknowledged
	TimedOut
	Errored
	// Issued is reported for writes that bypass the queue: the backend took
	// the write, nobody waits for the acknowledgment.
	Issued
)

func (s State) String() string {
	switch s {
	case Idle:
		return "none"
	case Processing:
		return "processing"
	case Acknowledged:
		return "value acknowledged"
	case TimedOut:
		return "timeout reached"
	case Errored:
		return "error"
	case Issued:
		return "issued"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is a final outcome for a queued entry.
func (s State) Terminal() bool {
	return s == Acknowledged || s == TimedOut || s == Errored
}

// ErrProcessorClosed is the error of entries that were still queued, or
// enqueued afterwards, when their Processor was closed.
var ErrProcessorClosed = errors.New("statequeue: processor closed")

// Result is what a Future resolves to.
type Result struct {
	State State
	Err   error
}

// CompleteFunc is called once per entry with its outcome.
type CompleteFunc func(outcome State, entry *Entry)

// Change is a write observed on the backend.
type Change struct {
	Target    string
	Value     any
	Ack       bool
	Timestamp time.Time
}

// ChangeFilter selects the changes a subscription is interested in.
type ChangeFilter struct {
	Target string
	Value  any
	Ack    bool
}

// Matches reports whether c is the exact (target, value, ack) triple of f.
func (f ChangeFilter) Matches(c Change) bool {
	return f.Target == c.Target && f.Ack == c.Ack && ValuesEqual(f.Value, c.Value)
}

// Subscription identifies a registered change handler.
type Subscription uint64

// Backend is the state store the writes go to.
//
// SetState must call done exactly once, with nil when the backend took the
// write. A subscription handler fires at most once; Unsubscribe is a no-op
// for subscriptions that already fired or were removed.
type Backend interface {
	SetState(target string, value any, ack bool, done func(error))
	Subscribe(filter ChangeFilter, handler func(Change)) (Subscription, error)
	Unsubscribe(sub Subscription)
}

// Config holds the tunables of a Processor.
type Config struct {
	// Name labels log lines and metrics of the processor.
	Name string
	// Timeout bounds the wait for an acknowledgment.
	Timeout time.Duration
	// PollInterval is the cadence of the drain poller. Zero releases
	// entries straight from the event that decided their outcome.
	PollInterval time.Duration
	// Debug enables debug log lines.
	Debug bool
}

const (
	DefaultTimeout      = 4000 * time.Millisecond
	DefaultPollInterval = 500 * time.Millisecond
)

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		Debug:        true,
	}
}
