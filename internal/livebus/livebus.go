// Package livebus implements the Live Bus (C8): a thin Redis pub/sub wrapper broadcasting
// render events to any number of concurrent SSE subscribers for a session, independent of
// whether those subscribers are attached to this sidecar process or another replica behind the
// same load balancer.
package livebus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "chat:stream:live:"

// Bus wraps an externally-owned *redis.Client. The caller creates and closes the client.
type Bus struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func channelFor(sessionID string) string {
	return channelPrefix + sessionID
}

// Publish broadcasts one already-marshaled render.Envelope to every subscriber of sessionID.
func (b *Bus) Publish(ctx context.Context, sessionID string, envelope []byte) error {
	if err := b.client.Publish(ctx, channelFor(sessionID), envelope).Err(); err != nil {
		return fmt.Errorf("livebus: publish: %w", err)
	}
	return nil
}

// Subscription is a live, single-use subscription to one session's channel.
type Subscription struct {
	ps *redis.PubSub
}

// Subscribe opens a subscription to sessionID's channel. The subscription's Channel() starts
// buffering messages as soon as this call returns, before the caller has necessarily started
// reading from it — callers that also need to replay a persisted backlog should Subscribe
// first, then replay, so no live event published during the replay window is lost (see §9's
// resolution of the live-bus startup race).
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, channelFor(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("livebus: subscribe: %w", err)
	}
	return &Subscription{ps: ps}, nil
}

// Channel returns the channel of incoming *redis.Message values for this subscription.
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.ps.Channel()
}

// Close unsubscribes and releases the underlying connection.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
