package relay

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultCapacity is the relay buffer size used when no capacity is given.
const DefaultCapacity = 1024

// Message is the unit moved from the broker client's network thread to the
// bridge control loop. The sender keeps no reference after Send returns.
type Message struct {
	Topic   string
	Payload []byte
}

// Relay is a bounded single-producer/single-consumer queue pairing the
// broker client's network thread with the bridge control loop. Exactly one
// goroutine calls Send and exactly one goroutine reads from C.
type Relay struct {
	name       string
	ch         chan Message
	dropOldest bool

	dropped uint64
	closed  uint32
}

type Option func(r *Relay)

// WithCapacity returns an Option which set the relay buffer capacity.
func WithCapacity(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.ch = make(chan Message, n)
		}
	}
}

// WithDropOldest returns an Option which makes a full relay evict its
// oldest message instead of blocking the sender.
func WithDropOldest() Option {
	return func(r *Relay) {
		r.dropOldest = true
	}
}

// New creates a relay with a process-unique name, so multiple bridge
// instances never collide.
func New(opts ...Option) *Relay {
	r := &Relay{name: uuid.New().String() + "-mqtt"}
	for _, opt := range opts {
		opt(r)
	}
	if r.ch == nil {
		r.ch = make(chan Message, DefaultCapacity)
	}
	return r
}

// Name returns the relay's process-unique identifier.
func (r *Relay) Name() string {
	return r.name
}

// Send hands m to the control-loop side. It is called only from the broker
// client's network thread. With the drop-oldest policy a full relay evicts
// queued messages until m fits; otherwise Send blocks until there is room.
func (r *Relay) Send(m Message) {
	if atomic.LoadUint32(&r.closed) == 1 {
		return
	}
	if !r.dropOldest {
		r.ch <- m
		return
	}
	for {
		select {
		case r.ch <- m:
			return
		default:
		}
		select {
		case <-r.ch:
			atomic.AddUint64(&r.dropped, 1)
		default:
		}
	}
}

// C returns the read endpoint, consumed only by the bridge control loop.
func (r *Relay) C() <-chan Message {
	return r.ch
}

// Dropped returns how many messages the drop-oldest policy evicted.
func (r *Relay) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

// Close stops accepting messages. The channel itself is left to the
// garbage collector so a late callback on the network thread never sends
// on a closed channel.
func (r *Relay) Close() {
	atomic.StoreUint32(&r.closed, 1)
}
