package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"libportal/internal/platform/logging"
	"libportal/internal/platform/metrics"
)

const DefaultChannel = "libportal:changes"

// RedisBus publishes changes on a Redis pub/sub channel so that every API
// instance can relay them to its own WebSocket subscribers.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	stamper stamper
	metrics *metrics.Metrics
	log     *logging.Logger

	// RelayWithRetry 用。テストで差し替える
	relayFn                func(ctx context.Context, hub *Hub, subscribed func()) error
	minBackoff, maxBackoff time.Duration
}

func NewRedisBus(client redis.UniversalClient, channel string, m *metrics.Metrics, log *logging.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logging.Discard()
	}
	b := &RedisBus{
		client:     client,
		channel:    channel,
		stamper:    newStamper(),
		metrics:    m,
		log:        log,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	b.relayFn = b.relay
	return b
}

func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	c, err := b.stamper.stamp(c)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	b.metrics.Published(string(c.Table))
	return nil
}

var errRelayClosed = errors.New("redis subscription closed")

// Relay forwards every message of the channel into hub until ctx is done.
// The subscription is confirmed before Relay starts reading.
func (b *RedisBus) Relay(ctx context.Context, hub *Hub) error {
	err := b.relay(ctx, hub, nil)
	if errors.Is(err, errRelayClosed) {
		return nil
	}
	return err
}

// RelayWithRetry keeps a relay running until ctx is done. When a relay that
// was subscribed stops, changes may have been missed in between, so every
// local subscriber is disconnected and its client re-reads on reconnect.
func (b *RedisBus) RelayWithRetry(ctx context.Context, hub *Hub) {
	backoff := b.minBackoff
	for {
		subscribed := false
		err := b.relayFn(ctx, hub, func() { subscribed = true })
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			n := hub.DisconnectAll()
			b.log.WithError(err).Warn("redis relay stopped, subscribers disconnected", "subscribers", n)
			backoff = b.minBackoff
		} else {
			b.log.WithError(err).Warn("redis relay unavailable, retrying", "backoff", backoff)
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, b.maxBackoff)
	}
}

func (b *RedisBus) relay(ctx context.Context, hub *Hub, subscribed func()) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", b.channel, err)
	}
	b.log.Info("relaying changes from redis", "channel", b.channel)
	if subscribed != nil {
		subscribed()
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errRelayClosed
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				b.log.WithError(err).Warn("dropping malformed change")
				continue
			}
			hub.Broadcast(c)
		}
	}
}
