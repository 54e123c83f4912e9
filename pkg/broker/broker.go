package broker

// Broker is the narrow call surface the bridge drives a pub/sub client
// library through. Implementations own the client's network loop; the
// bridge only ever asks it to start or stop.
type Broker interface {
	// Configure stores connection parameters. No network activity happens.
	// An empty bindAddress defaults to host, a keepalive below 3 seconds is
	// raised to 3.
	Configure(host string, port int, keepalive int, bindAddress string)
	// SetHandler registers the callback invoked for every message arriving
	// from the broker. The callback runs on the client library's network
	// thread and must not block.
	SetHandler(h Handler)
	// SetSubscriptions replaces the topic snapshot that is (re-)subscribed,
	// in order, at QoS 0 on every successful connection.
	SetSubscriptions(topics []string)
	// ConnectAsync starts the client network loop and issues a non-blocking
	// connect with the stored parameters.
	ConnectAsync() error
	// Disconnect stops the network loop and disconnects. Safe to call when
	// not connected.
	Disconnect() error
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Connected() bool
	// Close releases the client resource. Safe to call more than once.
	Close() error
	String() string
}

// Handler handles a message received from a subscribed topic.
type Handler func(Event) error

// Event is a single message received from the broker.
type Event struct {
	Topic   string
	Payload []byte
}
