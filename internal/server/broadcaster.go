package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/portal-chat/internal/stats"
	"github.com/npezzotti/portal-chat/internal/types"
)

const relayTimeout = 2 * time.Second

// Relay carries encoded events between server processes.
type Relay interface {
	Forward(ctx context.Context, scope types.Scope, data []byte) error
	Subscribe(ctx context.Context, deliver func(scope types.Scope, data []byte)) error
}

// Broadcaster fans events out to the connections of a scope. Publishes are
// serialized, so every connection sees events in the order Publish was
// called.
type Broadcaster struct {
	log      *log.Logger
	registry *Registry
	stats    stats.StatsProvider
	relay    Relay

	mu sync.Mutex
}

func NewBroadcaster(logger *log.Logger, registry *Registry, st stats.StatsProvider) *Broadcaster {
	return &Broadcaster{
		log:      logger,
		registry: registry,
		stats:    st,
	}
}

// WithRelay forwards every local publish to relay. Run must be started to
// receive events published by other processes.
func (b *Broadcaster) WithRelay(relay Relay) *Broadcaster {
	b.relay = relay
	return b
}

// Publish encodes event once and queues it on every connection in scope.
// Connections that cannot take the event are dropped; delivery to the rest
// continues. The only error is a failure to encode the event.
func (b *Broadcaster) Publish(scope types.Scope, event *types.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	b.deliver(scope, data)

	if b.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		if err := b.relay.Forward(ctx, scope, data); err != nil {
			b.log.Printf("relay %s event for %s: %v", event.Type, scope, err)
		}
	}

	return nil
}

func (b *Broadcaster) PublishGlobalSystemNotice(text string) error {
	return b.Publish(types.GlobalScope, types.NewSystemEvent(text))
}

func (b *Broadcaster) deliver(scope types.Scope, data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	b.registry.ForEachInScope(scope, func(c *Connection) {
		if !c.Enqueue(data) {
			b.registry.Unregister(c.ID())
			c.Close()
			b.stats.Incr(stats.DroppedDeliveries)
			return
		}
		delivered++
	})
	b.stats.Incr(stats.EventsPublished)

	return delivered
}

// Run delivers events arriving from the relay until ctx is cancelled. It
// returns immediately when no relay is configured.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}

	err := b.relay.Subscribe(ctx, func(scope types.Scope, data []byte) {
		b.deliver(scope, data)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	return nil
}
