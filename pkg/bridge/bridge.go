package bridge

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-bridge/pkg/broker/mqtt"
	"github.com/bizflycloud/bizfly-bridge/pkg/relay"
)

// State is the bridge lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// ErrTerminated is returned when a command is sent to a bridge that has
// already processed TERMINATE.
var ErrTerminated = errors.New("bridge is terminated")

// Bridge connects a remote pub/sub broker to an in-process message stream.
// A single control goroutine multiplexes the command channel and the relay
// carrying inbound broker messages; the broker client library runs its own
// network goroutines and crosses over only through the relay.
type Bridge struct {
	b   broker.Broker
	rly *relay.Relay

	cmds  chan Command
	out   chan relay.Message
	ready chan struct{}
	done  chan struct{}

	state   int32
	relayed uint64
	verbose bool
	topics  []string
	seen    map[string]struct{}

	termOnce sync.Once
	logger   *zap.Logger
}

// New creates a bridge and starts its control loop. It returns once the
// loop has signalled readiness, so the first command sent afterwards is
// never lost.
func New(opts ...Option) (*Bridge, error) {
	br := &Bridge{
		cmds:  make(chan Command),
		out:   make(chan relay.Message),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		seen:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(br); err != nil {
			return nil, err
		}
	}
	if br.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		br.logger = l
	}
	if br.rly == nil {
		br.rly = relay.New()
	}
	if br.b == nil {
		b, err := mqtt.NewBroker(mqtt.WithLogger(br.logger))
		if err != nil {
			return nil, err
		}
		br.b = b
	}

	rly := br.rly
	br.b.SetHandler(func(e broker.Event) error {
		rly.Send(relay.Message{Topic: e.Topic, Payload: e.Payload})
		return nil
	})

	go br.loop()
	<-br.ready
	return br, nil
}

// loop is the control loop. It runs on its own goroutine for the bridge
// lifetime and is the only goroutine touching bridge state.
func (b *Bridge) loop() {
	close(b.ready)

	for b.State() != StateTerminated {
		select {
		case cmd := <-b.cmds:
			b.dispatch(cmd)
		case m := <-b.rly.C():
			atomic.AddUint64(&b.relayed, 1)
			if b.verbose {
				b.logger.Debug("Relaying broker message",
					zap.String("topic", m.Topic), zap.Int("size", len(m.Payload)))
			}
			b.out <- m
		}
	}

	b.rly.Close()
	if err := b.b.Close(); err != nil {
		b.logger.Error("Closing broker client return error", zap.Error(err))
	}
	close(b.out)
	close(b.done)
}

func (b *Bridge) dispatch(cmd Command) {
	switch cmd.Name {
	case CmdStart:
		b.start()
	case CmdStop:
		b.stop()
	case CmdConnect:
		b.connect(cmd)
	case CmdSubscribe:
		b.subscribe(cmd.Args)
	case CmdPublish:
		b.publish(cmd)
	case CmdVerbose:
		b.verbose = true
	case CmdTerminate:
		b.b.Disconnect()
		b.setState(StateTerminated)
	default:
		// Caller misuse, but not worth killing the bridge over.
		b.logger.Error("Invalid command", zap.String("command", cmd.Name))
	}
}

func (b *Bridge) start() {
	if err := b.b.ConnectAsync(); err != nil {
		b.logger.Error("Cannot connect to broker endpoint, run START again", zap.Error(err))
		return
	}
	b.setState(StateRunning)
}

func (b *Bridge) stop() {
	b.b.Disconnect()
	b.setState(StateIdle)
}

func (b *Bridge) connect(cmd Command) {
	b.b.Configure(cmd.field(0), cmd.intField(1), cmd.intField(2), cmd.field(3))
}

// subscribe appends each novel topic, preserving insertion order, and hands
// the broker client a fresh snapshot. The snapshot is never mutated again,
// so the connect callback on the network goroutine can read it lock-free.
func (b *Bridge) subscribe(topics []string) {
	changed := false
	for _, topic := range topics {
		if _, ok := b.seen[topic]; ok {
			continue
		}
		b.seen[topic] = struct{}{}
		b.topics = append(b.topics, topic)
		changed = true
	}
	if changed {
		b.b.SetSubscriptions(append([]string(nil), b.topics...))
	}
}

func (b *Bridge) publish(cmd Command) {
	topic := cmd.field(0)
	qos := cmd.qosField(1)
	retain := cmd.field(2) == "true"
	if err := b.b.Publish(topic, cmd.Payload, qos, retain); err != nil {
		b.logger.Warn("Message not published", zap.String("topic", topic), zap.Error(err))
	}
}

// Send delivers one framed command to the control loop.
func (b *Bridge) Send(cmd Command) error {
	select {
	case b.cmds <- cmd:
		return nil
	case <-b.done:
		return ErrTerminated
	}
}

// Connect replaces the connection descriptor used by the next START.
func (b *Bridge) Connect(host string, port, keepalive int, bindAddress string) error {
	args := []string{host, strconv.Itoa(port), strconv.Itoa(keepalive)}
	if bindAddress != "" {
		args = append(args, bindAddress)
	}
	return b.Send(Command{Name: CmdConnect, Args: args})
}

// Subscribe registers topics for delivery. Duplicates are skipped.
func (b *Bridge) Subscribe(topics ...string) error {
	return b.Send(Command{Name: CmdSubscribe, Args: topics})
}

// Publish forwards one message to the broker through the bridge.
func (b *Bridge) Publish(topic string, payload []byte, qos byte, retain bool) error {
	retaina := "false"
	if retain {
		retaina = "true"
	}
	return b.Send(Command{
		Name:    CmdPublish,
		Args:    []string{topic, strconv.Itoa(int(qos)), retaina},
		Payload: payload,
	})
}

// Start asks the broker client to connect with the current descriptor.
func (b *Bridge) Start() error {
	return b.Send(Command{Name: CmdStart})
}

// Stop disconnects from the broker. The bridge stays usable.
func (b *Bridge) Stop() error {
	return b.Send(Command{Name: CmdStop})
}

// Verbose enables verbose diagnostic logging.
func (b *Bridge) Verbose() error {
	return b.Send(Command{Name: CmdVerbose})
}

// Terminate shuts the bridge down and waits for the control loop to exit.
// Calling Terminate more than once is safe.
func (b *Bridge) Terminate() {
	b.termOnce.Do(func() {
		_ = b.Send(Command{Name: CmdTerminate})
	})
	<-b.done
}

// Messages returns the outbound stream of broker messages. The channel is
// closed when the bridge terminates.
func (b *Bridge) Messages() <-chan relay.Message {
	return b.out
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(atomic.LoadInt32(&b.state))
}

func (b *Bridge) setState(s State) {
	atomic.StoreInt32(&b.state, int32(s))
}

// Connected reports whether the broker link is up.
func (b *Bridge) Connected() bool {
	return b.b.Connected()
}

// Relayed returns how many broker messages were forwarded outward.
func (b *Bridge) Relayed() uint64 {
	return atomic.LoadUint64(&b.relayed)
}

// Dropped returns how many inbound messages the relay evicted.
func (b *Bridge) Dropped() uint64 {
	return b.rly.Dropped()
}
