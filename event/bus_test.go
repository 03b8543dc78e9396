package event

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/treq"
)

func TestBusSequencing(t *testing.T) {
	bus := New()
	first := bus.Emit("", "run-1", map[string]interface{}{"type": treq.EventFetchStarted})
	second := bus.Emit("", "run-1", map[string]interface{}{"type": treq.EventFetchFinished})
	other := bus.Emit("", "run-2", map[string]interface{}{"type": treq.EventFetchStarted})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(1), other.Seq, "seq is per runId")
}

func TestBusProducerSuppliedSeq(t *testing.T) {
	bus := New()
	supplied := bus.Emit("", "run-1", map[string]interface{}{"type": treq.EventFlowStarted, "seq": 7})
	assert.Equal(t, uint64(7), supplied.Seq)
	next := bus.Emit("", "run-1", map[string]interface{}{"type": treq.EventFlowFinished})
	assert.Equal(t, uint64(8), next.Seq, "counter advances past producer seq")
}

func TestBusFilteredDelivery(t *testing.T) {
	bus := New()
	var sessionEvents, flowEvents, allEvents []treq.Envelope
	bus.Subscribe(Filter{SessionID: "s1"}, func(e treq.Envelope) error {
		sessionEvents = append(sessionEvents, e)
		return nil
	}, nil)
	bus.Subscribe(Filter{FlowID: "f1"}, func(e treq.Envelope) error {
		flowEvents = append(flowEvents, e)
		return nil
	}, nil)
	bus.Subscribe(Filter{}, func(e treq.Envelope) error {
		allEvents = append(allEvents, e)
		return nil
	}, nil)

	bus.Emit("s1", "r1", map[string]interface{}{"type": treq.EventSessionUpdated})
	bus.Emit("s2", "r2", map[string]interface{}{"type": treq.EventSessionUpdated, "flowId": "f1"})

	assert.Len(t, sessionEvents, 1)
	assert.Len(t, flowEvents, 1)
	assert.Len(t, allEvents, 2)
	assert.Equal(t, "f1", flowEvents[0].FlowID)
}

func TestBusDropsFailingSubscriber(t *testing.T) {
	bus := New()
	calls := 0
	bus.Subscribe(Filter{}, func(e treq.Envelope) error {
		calls++
		panic("boom")
	}, nil)
	var healthy []treq.Envelope
	bus.Subscribe(Filter{}, func(e treq.Envelope) error {
		healthy = append(healthy, e)
		return nil
	}, nil)

	bus.Emit("", "r1", map[string]interface{}{"type": treq.EventError})
	bus.Emit("", "r1", map[string]interface{}{"type": treq.EventError})

	assert.Equal(t, 1, calls, "failing subscriber dropped after first dispatch")
	assert.Len(t, healthy, 2, "other subscribers unaffected")
}

func TestBusReplay(t *testing.T) {
	bus := New(WithReplayBufferSize(2))
	bus.Emit("s1", "r1", map[string]interface{}{"type": treq.EventFetchStarted})
	bus.Emit("s1", "r1", map[string]interface{}{"type": treq.EventFetchFinished})
	bus.Emit("s1", "r1", map[string]interface{}{"type": treq.EventSessionUpdated})

	replayed := bus.Replay(Filter{SessionID: "s1"}, 0)
	require.Len(t, replayed, 2, "oldest envelope evicted at capacity")
	assert.Equal(t, uint64(2), replayed[0].Seq)
	assert.Equal(t, uint64(3), replayed[1].Seq)

	afterTwo := bus.Replay(Filter{}, 2)
	require.Len(t, afterTwo, 1)
	assert.Equal(t, uint64(3), afterTwo[0].Seq)
}

func TestBusReplayThenLive(t *testing.T) {
	bus := New()
	for i := 0; i < 3; i++ {
		bus.Emit("", "r1", map[string]interface{}{"type": treq.EventFetchStarted})
	}
	var seen []uint64
	for _, envelope := range bus.Replay(Filter{}, 1) {
		seen = append(seen, envelope.Seq)
	}
	bus.Subscribe(Filter{}, func(e treq.Envelope) error {
		seen = append(seen, e.Seq)
		return nil
	}, nil)
	bus.Emit("", "r1", map[string]interface{}{"type": treq.EventFetchFinished})
	assert.Equal(t, []uint64{2, 3, 4}, seen)
}

func TestBusReplayAndSubscribe(t *testing.T) {
	bus := New()
	for i := 0; i < 3; i++ {
		bus.Emit("", "r1", map[string]interface{}{"type": treq.EventFetchStarted})
	}
	var live []uint64
	replayed, subscriberID := bus.ReplayAndSubscribe(Filter{}, 1, func(e treq.Envelope) error {
		live = append(live, e.Seq)
		return nil
	}, nil)
	defer bus.Unsubscribe(subscriberID)

	var seen []uint64
	for _, envelope := range replayed {
		seen = append(seen, envelope.Seq)
	}
	assert.Equal(t, []uint64{2, 3}, seen, "replay honors afterSeq")

	bus.Emit("", "r1", map[string]interface{}{"type": treq.EventFetchFinished})
	assert.Equal(t, []uint64{4}, live, "live delivery starts where replay left off")
}

func TestBusReplayAndSubscribeRacingEmit(t *testing.T) {
	const total = 200
	bus := New()

	var mux sync.Mutex
	var seen []uint64
	record := func(seq uint64) {
		mux.Lock()
		seen = append(seen, seq)
		mux.Unlock()
	}

	start := make(chan struct{})
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		<-start
		for i := 0; i < total; i++ {
			bus.Emit("", "r1", map[string]interface{}{"type": treq.EventFetchStarted})
		}
	}()

	close(start)
	replayed, subscriberID := bus.ReplayAndSubscribe(Filter{}, 0, func(e treq.Envelope) error {
		record(e.Seq)
		return nil
	}, nil)
	defer bus.Unsubscribe(subscriberID)
	for _, envelope := range replayed {
		record(envelope.Seq)
	}
	<-emitDone

	require.Eventually(t, func() bool {
		mux.Lock()
		defer mux.Unlock()
		return len(seen) >= total
	}, time.Second, time.Millisecond)

	mux.Lock()
	defer mux.Unlock()
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	require.Len(t, seen, total, "no envelope delivered twice")
	for i, seq := range seen {
		require.Equal(t, uint64(i+1), seq, "no envelope lost between replay and live delivery")
	}
}

func TestBusCloseAll(t *testing.T) {
	bus := New()
	closed := false
	bus.Subscribe(Filter{}, func(e treq.Envelope) error { return nil }, func() { closed = true })
	bus.CloseAll()
	assert.True(t, closed)

	lateClosed := false
	bus.Subscribe(Filter{}, func(e treq.Envelope) error { return nil }, func() { lateClosed = true })
	assert.True(t, lateClosed, "subscribing after close closes immediately")
}
