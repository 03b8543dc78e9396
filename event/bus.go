// Package event implements the in-memory pub/sub bus with per-run monotonic
// sequencing, a bounded replay buffer, and filtered delivery.
package event

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/viant/treq"
	"github.com/viant/treq/internal/collection"
)

const (
	defaultReplayBufferSize = 500
	runSeqIdleTTL           = 5 * time.Minute
	runSeqGCThreshold       = 100
	runSeqGCProbability     = 0.01
)

// Filter narrows delivery to envelopes matching the set fields. An unset
// field matches any value.
type Filter struct {
	SessionID string
	FlowID    string
}

// Matches reports whether envelope passes the filter.
func (f Filter) Matches(envelope treq.Envelope) bool {
	if f.SessionID != "" && f.SessionID != envelope.SessionID {
		return false
	}
	if f.FlowID != "" && f.FlowID != envelope.FlowID {
		return false
	}
	return true
}

type subscriber struct {
	id      string
	filter  Filter
	onEvent func(treq.Envelope) error
	onClose func()
}

type runSeq struct {
	next     uint64
	lastUsed time.Time
}

// Bus is the event bus. All methods are safe for concurrent use; dispatch to
// subscribers happens outside the internal lock.
type Bus struct {
	mux     sync.Mutex
	subs    map[string]*subscriber
	replay  *collection.Ring[treq.Envelope]
	runSeqs map[string]*runSeq
	clock   clockwork.Clock
	rand    *rand.Rand
	log     *logrus.Entry
	closed  bool
}

// Option customizes a Bus.
type Option func(*Bus)

// WithReplayBufferSize caps the replay ring.
func WithReplayBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.replay = collection.NewRing[treq.Envelope](size)
		}
	}
}

// WithClock injects a clock, used by tests.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Bus) { b.clock = clock }
}

// New creates a Bus with the provided options.
func New(options ...Option) *Bus {
	ret := &Bus{
		subs:    map[string]*subscriber{},
		replay:  collection.NewRing[treq.Envelope](defaultReplayBufferSize),
		runSeqs: map[string]*runSeq{},
		clock:   clockwork.NewRealClock(),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     treq.Logger("event.bus"),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Subscribe registers onEvent for envelopes matching filter and returns the
// subscriber id. onClose runs when the bus shuts down.
func (b *Bus) Subscribe(filter Filter, onEvent func(treq.Envelope) error, onClose func()) string {
	id := uuid.New().String()
	b.mux.Lock()
	defer b.mux.Unlock()
	if b.closed {
		if onClose != nil {
			onClose()
		}
		return id
	}
	b.subs[id] = &subscriber{id: id, filter: filter, onEvent: onEvent, onClose: onClose}
	return id
}

// ReplayAndSubscribe snapshots the replay buffer and registers the subscriber
// under one lock acquisition, so an envelope emitted while a client connects
// is either in the returned replay slice or delivered live, never dropped.
func (b *Bus) ReplayAndSubscribe(filter Filter, afterSeq uint64,
	onEvent func(treq.Envelope) error, onClose func()) ([]treq.Envelope, string) {
	id := uuid.New().String()
	b.mux.Lock()
	if b.closed {
		b.mux.Unlock()
		if onClose != nil {
			onClose()
		}
		return nil, id
	}
	buffered := b.replay.Items()
	b.subs[id] = &subscriber{id: id, filter: filter, onEvent: onEvent, onClose: onClose}
	b.mux.Unlock()

	var ret []treq.Envelope
	for _, envelope := range buffered {
		if envelope.Seq > afterSeq && filter.Matches(envelope) {
			ret = append(ret, envelope)
		}
	}
	return ret, id
}

// Unsubscribe removes a subscriber; unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mux.Lock()
	delete(b.subs, id)
	b.mux.Unlock()
}

// Emit builds an envelope from fields and delivers it. fields must carry
// "type"; "flowId", "reqExecId" and "seq" are honored when present. A
// producer-supplied seq is retained, otherwise the next per-run counter is
// assigned.
func (b *Bus) Emit(sessionID, runID string, fields map[string]interface{}) treq.Envelope {
	envelope := treq.Envelope{
		Ts:        b.clock.Now().UnixMilli(),
		RunID:     runID,
		SessionID: sessionID,
		Payload:   fields,
	}
	if value, ok := fields["type"].(string); ok {
		envelope.Type = value
	}
	if value, ok := fields["flowId"].(string); ok {
		envelope.FlowID = value
	}
	if value, ok := fields["reqExecId"].(string); ok {
		envelope.ReqExecID = value
	}
	producerSeq, hasProducerSeq := numericSeq(fields["seq"])

	b.mux.Lock()
	counter, ok := b.runSeqs[runID]
	if !ok {
		counter = &runSeq{}
		b.runSeqs[runID] = counter
	}
	if hasProducerSeq {
		envelope.Seq = producerSeq
		if producerSeq > counter.next {
			counter.next = producerSeq
		}
	} else {
		counter.next++
		envelope.Seq = counter.next
	}
	counter.lastUsed = b.clock.Now()
	b.maybeCollectRunSeqs()
	b.replay.Append(envelope)
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Matches(envelope) {
			targets = append(targets, sub)
		}
	}
	b.mux.Unlock()

	for _, sub := range targets {
		if err := b.dispatch(sub, envelope); err != nil {
			// failing subscribers are dropped, others are unaffected
			b.log.WithError(err).Debug("dropping subscriber")
			b.Unsubscribe(sub.id)
		}
	}
	return envelope
}

func (b *Bus) dispatch(sub *subscriber, envelope treq.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = treq.Errorf(treq.CodeInternalError, "subscriber panic: %v", r)
		}
	}()
	return sub.onEvent(envelope)
}

// Replay returns buffered envelopes with seq > afterSeq matching filter, in
// buffer order.
func (b *Bus) Replay(filter Filter, afterSeq uint64) []treq.Envelope {
	b.mux.Lock()
	buffered := b.replay.Items()
	b.mux.Unlock()
	var ret []treq.Envelope
	for _, envelope := range buffered {
		if envelope.Seq > afterSeq && filter.Matches(envelope) {
			ret = append(ret, envelope)
		}
	}
	return ret
}

// CloseAll drops every subscriber, invoking their onClose callbacks, and
// marks the bus closed.
func (b *Bus) CloseAll() {
	b.mux.Lock()
	subs := b.subs
	b.subs = map[string]*subscriber{}
	b.closed = true
	b.mux.Unlock()
	for _, sub := range subs {
		if sub.onClose != nil {
			sub.onClose()
		}
	}
}

// maybeCollectRunSeqs probabilistically GCs idle per-run counters; caller
// holds the lock.
func (b *Bus) maybeCollectRunSeqs() {
	if len(b.runSeqs) <= runSeqGCThreshold || b.rand.Float64() >= runSeqGCProbability {
		return
	}
	cutoff := b.clock.Now().Add(-runSeqIdleTTL)
	for runID, counter := range b.runSeqs {
		if counter.lastUsed.Before(cutoff) {
			delete(b.runSeqs, runID)
		}
	}
}

func numericSeq(value interface{}) (uint64, bool) {
	switch actual := value.(type) {
	case uint64:
		return actual, true
	case int:
		if actual >= 0 {
			return uint64(actual), true
		}
	case int64:
		if actual >= 0 {
			return uint64(actual), true
		}
	case float64:
		if actual >= 0 {
			return uint64(actual), true
		}
	}
	return 0, false
}
