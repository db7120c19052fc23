package statequeue

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type eventKind int

const (
	evEnqueue eventKind = iota
	evWriteFailed
	evAck
	evTimeout
	evTick
)

type event struct {
	kind  eventKind
	entry *Entry
	seq   uint64
	err   error
}

// attempt is the write currently in flight.
type attempt struct {
	seq        uint64
	entry      *Entry
	err        error
	timer      *time.Timer
	sub        Subscription
	subscribed bool
	started    time.Time
}

// Stats is a point-in-time view of a Processor.
type Stats struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	QueueSize    int    `json:"queueSize"`
	Outstanding  int    `json:"outstanding"`
	PollTicks    uint64 `json:"pollTicks"`
	Acknowledged uint64 `json:"acknowledged"`
	TimedOut     uint64 `json:"timedOut"`
	Errored      uint64 `json:"errored"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger replaces the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) {
		p.baseLog = l
	}
}

// WithMetrics records processor activity in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// Processor applies queued writes one at a time. Each write holds the queue
// until the backend acknowledges it, it times out, or the backend rejects it.
//
// A single goroutine owns the queue and the processing state. Callers,
// backend callbacks and timers only append events to the inbox.
type Processor struct {
	backend Backend
	cfg     Config
	baseLog zerolog.Logger
	log     Logger
	metrics *Metrics

	mu          sync.Mutex
	inbox       []event
	outstanding int
	idle        chan struct{}
	closed      bool

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}

	// owned by run
	queue  *Queue
	state  State
	cur    *attempt
	seq    uint64
	ticker *time.Ticker

	inCallback atomic.Bool
	stateView atomic.Int32
	queueView atomic.Int64
	ticks     atomic.Uint64
	acked     atomic.Uint64
	timedOut  atomic.Uint64
	errored   atomic.Uint64
}

// NewProcessor starts a processor writing to backend. Close stops it.
func NewProcessor(backend Backend, cfg Config, opts ...Option) *Processor {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}

	p := &Processor{
		backend: backend,
		cfg:     cfg,
		baseLog: log.Logger,
		idle:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		queue:   NewQueue(),
		state:   Idle,
	}
	close(p.idle)
	for _, opt := range opts {
		opt(p)
	}
	p.log = NewLogger(p.baseLog, cfg.Name, cfg.Debug)

	go p.run()
	return p
}

// Enqueue queues e and returns its completion future.
func (p *Processor) Enqueue(e *Entry) *Future {
	if e.future == nil {
		e.future = newFuture()
	}
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.Action == "" {
		e.Action = "setState"
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		e.settle(Errored, ErrProcessorClosed)
		e.resolve()
		return e.future
	}
	e.EnqueuedAt = time.Now()
	if p.outstanding == 0 {
		p.idle = make(chan struct{})
	}
	p.outstanding++
	p.inbox = append(p.inbox, event{kind: evEnqueue, entry: e})
	p.mu.Unlock()

	p.signal()
	return e.future
}

// IsProcessing reports whether queued entries are still waiting for their
// outcome.
func (p *Processor) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding > 0
}

// Idle returns a channel that is closed once every entry enqueued so far
// has been released.
func (p *Processor) Idle() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

func (p *Processor) Stats() Stats {
	p.mu.Lock()
	outstanding := p.outstanding
	p.mu.Unlock()

	return Stats{
		Name:         p.cfg.Name,
		State:        State(p.stateView.Load()).String(),
		QueueSize:    int(p.queueView.Load()),
		Outstanding:  outstanding,
		PollTicks:    p.ticks.Load(),
		Acknowledged: p.acked.Load(),
		TimedOut:     p.timedOut.Load(),
		Errored:      p.errored.Load(),
	}
}

// Close stops the processor. The write in flight keeps an outcome it
// already reached; everything else resolves as Errored with
// ErrProcessorClosed.
//
// Called from an OnComplete callback, Close only requests the stop and
// returns; the loop winds down once the callback returned.
func (p *Processor) Close() error {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	p.mu.Unlock()

	if !alreadyClosed {
		close(p.quit)
	}
	if p.inCallback.Load() {
		return nil
	}
	<-p.stopped
	return nil
}

func (p *Processor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// post hands an event from a backend callback or timer to the loop.
func (p *Processor) post(ev event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.inbox = append(p.inbox, ev)
	p.mu.Unlock()
	p.signal()
}

func (p *Processor) takeInbox() []event {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.inbox
	p.inbox = nil
	return evs
}

func (p *Processor) run() {
	defer close(p.stopped)
	for {
		var tick <-chan time.Time
		if p.ticker != nil {
			tick = p.ticker.C
		}

		select {
		case <-p.quit:
			p.shutdown()
			return
		case <-p.wake:
			for _, ev := range p.takeInbox() {
				p.step(ev)
			}
		case <-tick:
			p.step(event{kind: evTick})
		}
	}
}

func (p *Processor) step(ev event) {
	switch ev.kind {
	case evEnqueue:
		p.queue.Enqueue(ev.entry)
		p.setQueueSize()
		p.log.Debugf("%s added to state queue (new size: %d)", ev.entry.Label(), p.queue.Size())
		if p.state != Idle {
			p.log.Debugf("%s processing after %d queued entries", ev.entry.Label(), p.queue.Size()-1)
			return
		}
		p.setState(Processing)
		p.issueHead()
		p.startPoller()

	case evWriteFailed:
		if p.decide(ev.seq, Errored, ev.err) {
			p.log.Errorf("%s: error occurred - %v. set result > %s", p.cur.entry.Label(), ev.err, Errored)
		}

	case evAck:
		if p.decide(ev.seq, Acknowledged, nil) {
			p.log.Debugf("%s acknowledged. set result > %s", p.cur.entry.Label(), Acknowledged)
		}

	case evTimeout:
		if p.decide(ev.seq, TimedOut, nil) {
			p.log.Debugf("%s takes longer than %s or was dropped. set result > %s", p.cur.entry.Label(), p.cfg.Timeout, TimedOut)
		}

	case evTick:
		p.ticks.Add(1)
		switch {
		case p.state == Processing:
			p.log.Debugf("poll: %s still processing", p.cur.entry.Label())
		case p.state.Terminal():
			p.release()
		}
	}

	// Direct mode releases as soon as the outcome is known.
	if p.cfg.PollInterval == 0 && p.state.Terminal() && ev.kind != evTick {
		p.release()
	}
}

// issueHead starts the write of the head entry. The acknowledgment
// subscription goes in before the write so a fast adapter cannot ack
// unseen.
func (p *Processor) issueHead() {
	e := p.queue.PeekHead()
	p.seq++
	seq := p.seq
	a := &attempt{seq: seq, entry: e, started: time.Now()}
	p.cur = a
	p.log.Debugf("process next: %s (attempt %d)", e.Label(), seq)

	sub, err := p.backend.Subscribe(ChangeFilter{Target: e.Target, Value: e.Value, Ack: true}, func(Change) {
		p.post(event{kind: evAck, seq: seq})
	})
	if err != nil {
		p.post(event{kind: evWriteFailed, seq: seq, err: fmt.Errorf("subscribe %s: %w", e.Target, err)})
		return
	}
	a.sub, a.subscribed = sub, true
	a.timer = time.AfterFunc(p.cfg.Timeout, func() {
		p.post(event{kind: evTimeout, seq: seq})
	})

	p.log.Debugf("exec %s", e.Label())
	p.backend.SetState(e.Target, e.Value, false, func(err error) {
		if err != nil {
			p.post(event{kind: evWriteFailed, seq: seq, err: err})
		}
	})
}

// decide records the outcome of attempt seq. Only the first event for the
// attempt in flight counts.
func (p *Processor) decide(seq uint64, outcome State, err error) bool {
	if p.cur == nil || p.cur.seq != seq || p.state != Processing {
		p.log.Debugf("ignoring late %s for attempt %d", outcome, seq)
		return false
	}
	p.cur.err = err
	p.setState(outcome)
	p.clearTimers(outcome)
	return true
}

func (p *Processor) clearTimers(outcome State) {
	a := p.cur
	var cleared []string
	if a.subscribed {
		p.backend.Unsubscribe(a.sub)
		a.subscribed = false
		cleared = append(cleared, "ack subscription")
	}
	if a.timer != nil {
		if outcome != TimedOut {
			a.timer.Stop()
		}
		a.timer = nil
		cleared = append(cleared, "timeout")
	}
	if len(cleared) > 0 {
		p.log.Debugf("%s cleared", strings.Join(cleared, " & "))
	}
}

// release hands the decided head entry back to its caller and moves on.
func (p *Processor) release() {
	a := p.cur
	e := p.queue.PeekHead()
	if a == nil || a.entry != e {
		panic("statequeue: released entry is not the queue head")
	}
	outcome := p.state
	p.cur = nil

	p.runCallback(e, outcome, a.err)
	p.queue.RemoveHead()
	p.setQueueSize()
	p.count(outcome)
	p.metrics.observeOutcome(p.cfg.Name, outcome, time.Since(a.started))
	p.log.Debugf("%s processed with result %q > removed from queue (new size: %d)", e.Label(), outcome, p.queue.Size())

	if !p.queue.IsEmpty() {
		p.setState(Processing)
		p.issueHead()
	} else {
		p.setState(Idle)
		p.stopPoller()
		p.log.Debugf("queue empty, all entries processed")
	}

	p.markReleased(1)
	e.resolve()
}

func (p *Processor) runCallback(e *Entry, outcome State, err error) {
	p.inCallback.Store(true)
	defer func() {
		p.inCallback.Store(false)
		if r := recover(); r != nil {
			p.log.Errorf("%s: completion callback panicked: %v", e.Label(), r)
		}
	}()
	e.settle(outcome, err)
}

func (p *Processor) markReleased(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstanding -= n
	if p.outstanding <= 0 {
		p.outstanding = 0
		select {
		case <-p.idle:
		default:
			close(p.idle)
		}
	}
}

func (p *Processor) startPoller() {
	if p.cfg.PollInterval == 0 || p.ticker != nil {
		return
	}
	p.ticker = time.NewTicker(p.cfg.PollInterval)
}

func (p *Processor) stopPoller() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	p.ticker = nil
}

func (p *Processor) shutdown() {
	p.stopPoller()

	var pending []*Entry
	if p.cur != nil {
		a := p.cur
		outcome := p.state
		if !outcome.Terminal() {
			p.setState(Errored)
			a.err = ErrProcessorClosed
			outcome = Errored
		}
		p.clearTimers(outcome)
		p.runCallback(a.entry, outcome, a.err)
		p.queue.RemoveHead()
		pending = append(pending, a.entry)
		p.cur = nil
	}
	for !p.queue.IsEmpty() {
		e := p.queue.PeekHead()
		p.queue.RemoveHead()
		p.runCallback(e, Errored, ErrProcessorClosed)
		pending = append(pending, e)
	}
	for _, ev := range p.takeInbox() {
		if ev.kind == evEnqueue {
			p.runCallback(ev.entry, Errored, ErrProcessorClosed)
			pending = append(pending, ev.entry)
		}
	}

	p.setState(Idle)
	p.setQueueSize()
	if len(pending) > 0 {
		p.log.Warnf("closed with %d unprocessed entries", len(pending))
	}
	p.markReleased(len(pending))
	for _, e := range pending {
		e.resolve()
	}
}

func (p *Processor) setState(s State) {
	p.state = s
	p.stateView.Store(int32(s))
}

func (p *Processor) setQueueSize() {
	p.queueView.Store(int64(p.queue.Size()))
	p.metrics.setQueueSize(p.cfg.Name, p.queue.Size())
}

func (p *Processor) count(outcome State) {
	switch outcome {
	case Acknowledged:
		p.acked.Add(1)
	case TimedOut:
		p.timedOut.Add(1)
	case Errored:
		p.errored.Add(1)
	}
}
