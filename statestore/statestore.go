// Package statestore keeps the current value of every data point and
// notifies subscribers about writes. It is the backend the state queue
// writes to when no broker sits in between, and the mirror the MQTT hook
// fills from adapter publications.
package statestore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bigjimnolan/softrains/statequeue"
)

// ErrNotFound is returned for targets that were never written.
var ErrNotFound = errors.New("statestore: state not found")

// State is the stored value of one target.
type State struct {
	Val any       `json:"val"`
	Ack bool      `json:"ack"`
	Ts  time.Time `json:"ts"`

	rev uint64
}

// Undo reverts one write made with Replace.
type Undo struct {
	target  string
	rev     uint64
	prev    State
	existed bool
}

type subscription struct {
	filter  statequeue.ChangeFilter
	handler func(statequeue.Change)
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	states  map[string]State
	subs    map[statequeue.Subscription]subscription
	nextSub statequeue.Subscription
	rev     uint64
	persist *persister
}

// New returns an in-memory store.
func New() *Store {
	return &Store{
		states: make(map[string]State),
		subs:   make(map[statequeue.Subscription]subscription),
	}
}

// Open returns a store persisted in the Pebble database at dir, loaded with
// the states saved there.
func Open(dir string) (*Store, error) {
	p, err := openPersister(dir)
	if err != nil {
		return nil, err
	}
	s := New()
	s.persist = p
	if err := p.load(s.states); err != nil {
		_ = p.close()
		return nil, fmt.Errorf("load states from %s: %w", dir, err)
	}
	log.Info().Msgf("state store opened at %s with %d states", dir, len(s.states))
	return s, nil
}

// Close releases the database of a persisted store.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}
	return s.persist.close()
}

func (s *Store) Get(target string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[target]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

// Targets lists the known targets in order.
func (s *Store) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make([]string, 0, len(s.states))
	for t := range s.states {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Set stores value and fires the subscriptions matching the write. Each
// subscription fires once and is removed. Writes are persisted in the order
// they are applied.
func (s *Store) Set(target string, value any, ack bool) error {
	_, err := s.Replace(target, value, ack)
	return err
}

// Replace is Set returning the Undo that restores the replaced state.
func (s *Store) Replace(target string, value any, ack bool) (Undo, error) {
	if target == "" {
		return Undo{}, errors.New("statestore: empty target")
	}
	st := State{Val: value, Ack: ack, Ts: time.Now()}

	change := statequeue.Change{Target: target, Value: value, Ack: ack, Timestamp: st.Ts}
	s.mu.Lock()
	if s.persist != nil {
		if err := s.persist.save(target, st); err != nil {
			s.mu.Unlock()
			return Undo{}, fmt.Errorf("persist %s: %w", target, err)
		}
	}
	s.rev++
	st.rev = s.rev
	prev, existed := s.states[target]
	s.states[target] = st
	var fire []func(statequeue.Change)
	for id, sub := range s.subs {
		if sub.filter.Matches(change) {
			fire = append(fire, sub.handler)
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	log.Trace().Msgf("state %s = %v (ack=%v), %d subscribers notified", target, value, ack, len(fire))
	for _, h := range fire {
		h(change)
	}
	return Undo{target: target, rev: st.rev, prev: prev, existed: existed}, nil
}

// Revert restores the state u replaced, unless the target was written again
// since. It reports whether it restored anything. Subscriptions do not fire.
func (s *Store) Revert(u Undo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[u.target]
	if !ok || cur.rev != u.rev {
		return false, nil
	}
	if !u.existed {
		if s.persist != nil {
			if err := s.persist.delete(u.target); err != nil {
				return false, fmt.Errorf("persist %s: %w", u.target, err)
			}
		}
		delete(s.states, u.target)
		return true, nil
	}
	if s.persist != nil {
		if err := s.persist.save(u.target, u.prev); err != nil {
			return false, fmt.Errorf("persist %s: %w", u.target, err)
		}
	}
	s.states[u.target] = u.prev
	return true, nil
}

// SetState implements statequeue.Backend.
func (s *Store) SetState(target string, value any, ack bool, done func(error)) {
	done(s.Set(target, value, ack))
}

// Subscribe implements statequeue.Backend.
func (s *Store) Subscribe(filter statequeue.ChangeFilter, handler func(statequeue.Change)) (statequeue.Subscription, error) {
	if handler == nil {
		return 0, errors.New("statestore: nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	s.subs[s.nextSub] = subscription{filter: filter, handler: handler}
	return s.nextSub, nil
}

// Unsubscribe implements statequeue.Backend.
func (s *Store) Unsubscribe(sub statequeue.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Subscriptions counts the registered subscriptions.
func (s *Store) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
