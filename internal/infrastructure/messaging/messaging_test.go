package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/domain/shared"
)

func completed() shared.SessionCompletedEvent {
	return shared.NewSessionCompletedEvent("engine-1", "focus", 1500, "c-1", "Algebra",
		time.Date(2024, 3, 1, 10, 25, 0, 0, time.UTC))
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventSessionCompleted, func(e shared.Event) error {
		typed++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all++
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(completed()))
	require.NoError(t, bus.Publish(shared.NewSessionTransitionEvent(shared.EventSessionPaused, "engine-1", "running", "paused", "focus", 100, time.Now())))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(1), snap.Completions)
	assert.Equal(t, int64(2), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncDoesNotBlockPublisher(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	release := make(chan struct{})
	var done atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventSessionCompleted, func(shared.Event) error {
		<-release
		done.Add(1)
		return nil
	}))

	published := make(chan struct{})
	go func() {
		_ = bus.Publish(completed())
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}

	close(release)
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(1), done.Load())
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var after bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { after = true; return nil }))

	assert.NotPanics(t, func() { _ = bus.Publish(completed()) })
	assert.True(t, after)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(completed()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventSessionStarted, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode("inst-a", completed())
	require.NoError(t, err)

	instance, event, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "inst-a", instance)
	assert.Equal(t, shared.EventSessionCompleted, event.EventType())
	assert.Equal(t, "engine-1", event.AggregateID())
	assert.Equal(t, "focus", event.Payload()["session_type"])
	assert.Equal(t, float64(1500), event.Payload()["total_duration_seconds"])

	_, _, err = Decode([]byte(`{"instance_id":"x","event":{}}`))
	assert.Error(t, err)
	_, _, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

// loopback is a RedisClient that delivers every publish to its subscribers.
type loopback struct {
	mu      sync.Mutex
	subs    []chan RedisMessage
	failPub bool
	closed  bool
}

func (l *loopback) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPub {
		return errors.New("redis down")
	}
	for _, s := range l.subs {
		s <- RedisMessage{Channel: channel, Payload: string(payload)}
	}
	return nil
}

func (l *loopback) Subscribe(context.Context, string) (<-chan RedisMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	l.subs = append(l.subs, ch)
	return ch, nil
}

func (l *loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func newSyncRedisBus(t *testing.T, client RedisClient, instance string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     instance,
		LocalBusConfig: InMemoryEventBusConfig{EnableMetrics: true},
	})
	require.NoError(t, err)
	return bus
}

func TestRedisEventBus_MirrorsToOtherInstances(t *testing.T) {
	client := &loopback{}
	a := newSyncRedisBus(t, client, "a")
	b := newSyncRedisBus(t, client, "b")
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	seen := map[string]int{}
	record := func(name string) shared.EventHandler {
		return func(shared.Event) error {
			mu.Lock()
			seen[name]++
			mu.Unlock()
			return nil
		}
	}
	require.NoError(t, a.Subscribe(shared.EventSessionCompleted, record("a")))
	require.NoError(t, b.Subscribe(shared.EventSessionCompleted, record("b")))

	require.NoError(t, a.Publish(completed()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["b"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, seen["a"], "own events are not delivered twice")
	mu.Unlock()
	assert.Equal(t, int64(1), b.Metrics().Snapshot().RemoteReceived)
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	client := &loopback{failPub: true}
	bus := newSyncRedisBus(t, client, "a")

	var got int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { got++; return nil }))
	require.NoError(t, bus.Publish(completed()))
	assert.Equal(t, 1, got)

	require.NoError(t, bus.Close())
	assert.True(t, client.closed)
	assert.ErrorIs(t, bus.Publish(completed()), ErrEventBusClosed)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}

func TestInMemoryEventBus_CloseDrainsQueue(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 1})

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		<-release
		mu.Lock()
		order = append(order, string(e.EventType()))
		mu.Unlock()
		return nil
	}))

	require.NoError(t, bus.Publish(completed()))
	require.NoError(t, bus.Publish(shared.NewSessionTransitionEvent(shared.EventSessionPaused, "engine-1", "running", "paused", "focus", 100, time.Now())))

	close(release)
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{string(shared.EventSessionCompleted), string(shared.EventSessionPaused)}, order)
	assert.Zero(t, bus.Pending())
}
