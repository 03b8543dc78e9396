package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/treq"
)

func TestStoreLRUEviction(t *testing.T) {
	store := NewStore(WithMaxSessions(2))
	defer store.Close()

	first := store.Create(nil)
	second := store.Create(nil)
	store.Touch(first) // second is now the least recently used

	third := store.Create(nil)

	_, err := store.Get(second.ID)
	assert.Equal(t, treq.CodeSessionNotFound, treq.AsError(err).Code, "LRU session evicted")
	_, err = store.Get(first.ID)
	assert.NoError(t, err)
	_, err = store.Get(third.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Size())
}

func TestStoreTTLSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithStoreClock(clock), WithTTL(time.Minute), WithSweepInterval(time.Second))
	defer store.Close()

	aSession := store.Create(nil)
	clock.BlockUntil(1) // sweeper ticker registered before the clock moves
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		_, err := store.Get(aSession.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond, "idle session swept after TTL")
}

func TestSessionMonotonicLastUsed(t *testing.T) {
	now := time.Now()
	aSession := newSession("s1", nil, now)
	initial := aSession.LastUsed()
	// same-millisecond touches still move the timeline forward
	aSession.Touch(now)
	aSession.Touch(now)
	assert.Equal(t, initial+2, aSession.LastUsed())
	// a clock behind the timeline cannot rewind it
	aSession.Touch(now.Add(-time.Hour))
	assert.Equal(t, initial+3, aSession.LastUsed())
}

func TestUpdateVariables(t *testing.T) {
	store := NewStore()
	defer store.Close()
	ctx := context.Background()
	aSession := store.Create(map[string]interface{}{"a": "1"})
	require.Equal(t, uint64(1), aSession.SnapshotVersion())

	changed, version, err := store.UpdateVariables(ctx, aSession.ID, map[string]interface{}{"b": "2"}, ModeMerge)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint64(2), version)
	assert.Equal(t, map[string]interface{}{"a": "1", "b": "2"}, aSession.Variables())

	// merge is idempotent under identical input
	changed, version, err = store.UpdateVariables(ctx, aSession.ID, map[string]interface{}{"b": "2"}, ModeMerge)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, uint64(2), version, "no observed mutation, no bump")

	// replace keeps only the provided keys
	changed, version, err = store.UpdateVariables(ctx, aSession.ID, map[string]interface{}{"c": "3"}, ModeReplace)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint64(3), version)
	assert.Equal(t, map[string]interface{}{"c": "3"}, aSession.Variables())

	_, _, err = store.UpdateVariables(ctx, "missing", nil, ModeMerge)
	assert.Equal(t, treq.CodeSessionNotFound, treq.AsError(err).Code)
}

func TestSessionLockSerializes(t *testing.T) {
	aSession := newSession("s1", nil, time.Now())
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_ = aSession.Run(ctx, func() error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()
	<-started
	go func() {
		defer wg.Done()
		_ = aSession.Run(ctx, func() error {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, []int{1, 2}, order, "operations complete in arrival order")
}

func TestSessionLockCancelledContext(t *testing.T) {
	aSession := newSession("s1", nil, time.Now())
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = aSession.Run(context.Background(), func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := aSession.Run(ctx, func() error {
		t.Fatal("must not run under cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	// the chain still releases for successors
	err = aSession.Run(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}
