package statequeue

import (
	"sync"
	"time"
)

type write struct {
	target string
	value  any
	at     time.Time
}

type fakeSub struct {
	filter  ChangeFilter
	handler func(Change)
}

// fakeBackend records writes and lets tests acknowledge them by hand, or
// automatically after ackAfter.
type fakeBackend struct {
	mu       sync.Mutex
	writes   []write
	subs     map[Subscription]fakeSub
	nextSub  Subscription
	unsubs   int
	failWith map[string]error
	ackAfter time.Duration
	subErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		subs:     make(map[Subscription]fakeSub),
		failWith: make(map[string]error),
	}
}

func (b *fakeBackend) SetState(target string, value any, ack bool, done func(error)) {
	b.mu.Lock()
	b.writes = append(b.writes, write{target: target, value: value, at: time.Now()})
	err := b.failWith[target]
	ackAfter := b.ackAfter
	b.mu.Unlock()

	if err != nil {
		go done(err)
		return
	}
	done(nil)
	if ackAfter > 0 {
		time.AfterFunc(ackAfter, func() { b.Ack(target, value) })
	}
}

func (b *fakeBackend) Subscribe(filter ChangeFilter, handler func(Change)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return 0, b.subErr
	}
	b.nextSub++
	b.subs[b.nextSub] = fakeSub{filter: filter, handler: handler}
	return b.nextSub, nil
}

func (b *fakeBackend) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		b.unsubs++
	}
}

// Ack publishes an acknowledged change and fires matching subscriptions once.
func (b *fakeBackend) Ack(target string, value any) {
	change := Change{Target: target, Value: value, Ack: true, Timestamp: time.Now()}
	b.mu.Lock()
	var fire []func(Change)
	for id, s := range b.subs {
		if s.filter.Matches(change) {
			fire = append(fire, s.handler)
			delete(b.subs, id)
		}
	}
	b.mu.Unlock()
	for _, h := range fire {
		h(change)
	}
}

func (b *fakeBackend) Writes() []write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]write(nil), b.writes...)
}

func (b *fakeBackend) ActiveSubs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
