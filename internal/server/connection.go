package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/portal-chat/internal/types"
)

const (
	DefaultHeartbeatInterval = 20 * time.Second
	sendQueueSize            = 64
)

// Sink is the write side of one push stream. It is only ever written to by
// the goroutine running Connection.Serve.
type Sink interface {
	WriteEvent(data []byte) error
	WritePing() error
	Close() error
}

// Connection is one registered push stream.
type Connection struct {
	id        string
	scope     types.Scope
	identity  string
	sink      Sink
	registry  *Registry
	log       *log.Logger
	heartbeat time.Duration

	send        chan []byte
	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
	done        chan struct{}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Scope() types.Scope {
	return c.scope
}

func (c *Connection) Identity() string {
	return c.identity
}

// Done is closed once the connection has been fully cleaned up.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Enqueue queues an encoded event for delivery. It returns false when the
// connection is closed or its queue is full, both of which mean the peer is
// not keeping up and should be dropped.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- data:
	default:
		c.log.Printf("send queue full for connection %q", c.id)
		return false
	}

	return true
}

// Close asks Serve to stop. It is safe to call any number of times from any
// goroutine.
func (c *Connection) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Serve delivers queued events and heartbeats until ctx is cancelled, Close
// is called, or a write fails. It blocks and must be called exactly once.
func (c *Connection) Serve(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeat)
	defer c.cleanup(ticker)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case data := <-c.send:
			if err := c.sink.WriteEvent(data); err != nil {
				c.log.Printf("write event to connection %q: %v", c.id, err)
				return
			}
		case <-ticker.C:
			if err := c.sink.WritePing(); err != nil {
				c.log.Printf("ping connection %q: %v", c.id, err)
				return
			}
		}
	}
}

func (c *Connection) cleanup(ticker *time.Ticker) {
	c.cleanupOnce.Do(func() {
		ticker.Stop()
		c.registry.Unregister(c.id)
		c.Close()
		if err := c.sink.Close(); err != nil {
			c.log.Printf("release sink for connection %q: %v", c.id, err)
		}
		close(c.done)
	})
}
