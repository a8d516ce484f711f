package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-timer/internal/domain/shared"
	rediscache "github.com/alem-hub/study-timer/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the logical pub/sub channel for timer events.
const DefaultChannel = "study-timer:events"

// RedisEventBus publishes events locally and mirrors them over Redis pub/sub,
// so a companion process (another device session, a rewards worker) sees the
// same session.completed stream. Events from this instance are not
// re-delivered when they come back from Redis.
type RedisEventBus struct {
	client         RedisClient
	localBus       *InMemoryEventBus
	channelName    string
	instanceID     string
	publishTimeout time.Duration
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	mu             sync.RWMutex
	closed         bool
}

// RedisClient is the pub/sub surface the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage represents a message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	// Client is the Redis client to use
	Client RedisClient

	// ChannelName is the Redis channel for events (default: DefaultChannel)
	ChannelName string

	// InstanceID uniquely identifies this instance (for filtering self-published events)
	InstanceID string

	// PublishTimeout bounds the Redis publish call.
	PublishTimeout time.Duration

	// LocalBusConfig is the config for the local in-memory bus
	LocalBusConfig InMemoryEventBusConfig

	// Logger for structured logging
	Logger *slog.Logger
}

// NewRedisEventBus creates a new Redis-based event bus and starts listening.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.New().String()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisEventBus{
		client:         config.Client,
		localBus:       NewInMemoryEventBus(config.LocalBusConfig),
		channelName:    config.ChannelName,
		instanceID:     config.InstanceID,
		publishTimeout: config.PublishTimeout,
		logger:         config.Logger.With("component", "redis_event_bus", "channel", config.ChannelName),
		ctx:            ctx,
		cancel:         cancel,
	}

	if err := bus.startSubscriber(); err != nil {
		cancel()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}

	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// InstanceID returns the identifier stamped on outgoing messages.
func (b *RedisEventBus) InstanceID() string {
	return b.instanceID
}

// Publish delivers the event to local handlers and mirrors it to Redis.
// A Redis failure is logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	b.mu.RUnlock()

	data, err := Encode(b.instanceID, event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.publishTimeout)
	if err := b.client.Publish(ctx, b.channelName, data); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}
	cancel()

	return b.localBus.Publish(event)
}

func (b *RedisEventBus) startSubscriber() error {
	messages, err := b.client.Subscribe(b.ctx, b.channelName)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.subscriptionLoop(messages)
	}()

	return nil
}

func (b *RedisEventBus) subscriptionLoop(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.handleRedisMessage(msg)
		}
	}
}

func (b *RedisEventBus) handleRedisMessage(msg RedisMessage) {
	instanceID, event, err := Decode([]byte(msg.Payload))
	metrics := b.localBus.Metrics()
	if err != nil {
		if metrics != nil {
			metrics.RecordRemote(false)
		}
		b.logger.Error("failed to decode remote event", "error", err)
		return
	}

	if instanceID == b.instanceID {
		return
	}
	if metrics != nil {
		metrics.RecordRemote(true)
	}

	if err := b.localBus.Publish(event); err != nil {
		b.logger.Error("failed to process remote event", "error", err)
	}
}

// Close stops the subscription and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.client.Close(); err != nil {
		b.logger.Error("failed to close redis subscription", "error", err)
	}
	if err := b.localBus.Close(); err != nil {
		b.logger.Error("failed to close local bus", "error", err)
	}

	b.logger.Info("redis event bus closed")
	return nil
}

// Metrics returns the current metrics from the local bus.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type wireMessage struct {
	InstanceID string              `json:"instance_id"`
	Envelope   shared.EventEnvelope `json:"event"`
}

// Encode serializes an event into the pub/sub wire format.
func Encode(instanceID string, event shared.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	msg := wireMessage{
		InstanceID: instanceID,
		Envelope: shared.EventEnvelope{
			ID:          uuid.New().String(),
			Type:        event.EventType(),
			AggregateID: event.AggregateID(),
			Timestamp:   event.OccurredAt(),
			Version:     1,
			Payload:     payload,
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses a wire message back into an event.
func Decode(data []byte) (string, shared.Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if msg.Envelope.Type == "" {
		return "", nil, errors.New("envelope without event type")
	}

	payload := map[string]interface{}{}
	if len(msg.Envelope.Payload) > 0 {
		if err := json.Unmarshal(msg.Envelope.Payload, &payload); err != nil {
			return "", nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	return msg.InstanceID, &RemoteEvent{envelope: msg.Envelope, payload: payload}, nil
}

// RemoteEvent is an event received from another instance.
type RemoteEvent struct {
	envelope shared.EventEnvelope
	payload  map[string]interface{}
}

// EventType implements shared.Event.
func (e *RemoteEvent) EventType() shared.EventType { return e.envelope.Type }

// AggregateID implements shared.Event.
func (e *RemoteEvent) AggregateID() string { return e.envelope.AggregateID }

// OccurredAt implements shared.Event.
func (e *RemoteEvent) OccurredAt() time.Time { return e.envelope.Timestamp }

// Payload implements shared.Event.
func (e *RemoteEvent) Payload() map[string]interface{} { return e.payload }

// ID returns the envelope identifier.
func (e *RemoteEvent) ID() string { return e.envelope.ID }

// ══════════════════════════════════════════════════════════════════════════════
// GO-REDIS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// CacheClient adapts the Redis cache wrapper to RedisClient.
type CacheClient struct {
	cache *rediscache.Cache

	mu     sync.Mutex
	closer func() error
}

// NewCacheClient wraps cache. Channel names are namespaced with
// rediscache.PubSubChannel.
func NewCacheClient(cache *rediscache.Cache) *CacheClient {
	return &CacheClient{cache: cache}
}

// Publish implements RedisClient.
func (c *CacheClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cache.Publish(ctx, rediscache.PubSubChannel(channel), payload)
}

// Subscribe implements RedisClient. The returned channel closes when ctx is
// cancelled or the subscription is closed.
func (c *CacheClient) Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error) {
	pubsub := c.cache.Subscribe(ctx, rediscache.PubSubChannel(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	c.mu.Lock()
	c.closer = pubsub.Close
	c.mu.Unlock()

	out := make(chan RedisMessage, 16)
	go func() {
		defer close(out)
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: m.Channel, Payload: m.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the active subscription. The underlying cache stays open.
func (c *CacheClient) Close() error {
	c.mu.Lock()
	closer := c.closer
	c.closer = nil
	c.mu.Unlock()

	if closer == nil {
		return nil
	}
	return closer()
}
