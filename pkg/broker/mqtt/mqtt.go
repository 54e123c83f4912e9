package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-bridge/pkg/broker"
)

const (
	clientDisconnectWaitTimeout = 250
	minKeepalive                = 3
	lastWillTestatement         = `{"status": "OFFLINE"}`
)

var _ broker.Broker = (*MQTTBroker)(nil)

var (
	ErrNoConnection  = errors.New("no connection to broker server")
	ErrNotConfigured = errors.New("broker host and port are not configured")
)

var tokenWaitTimeout = 3 * time.Second

// MQTTBroker implements broker.Broker interface on top of paho. The paho
// client owns its own network goroutines; connection callbacks and message
// callbacks run there, never on the caller's goroutine.
type MQTTBroker struct {
	clientID string
	username string
	password string
	will     bool
	client   mqtt.Client
	logger   *zap.Logger

	// mu guards the connection parameters and the subscription snapshot,
	// which are written from the control goroutine and read from the paho
	// connect callback.
	mu          sync.Mutex
	host        string
	port        int
	keepalive   int
	bindAddress string
	topics      []string
	handler     broker.Handler

	closed bool
}

// NewBroker creates a new mqtt broker client. The client resource lives for
// the whole broker lifetime, across connect/disconnect cycles, until Close.
func NewBroker(opts ...Option) (*MQTTBroker, error) {
	m := &MQTTBroker{}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	if m.clientID == "" {
		m.clientID = uuid.New().String()
	}
	acquire(m.logger)
	return m, nil
}

// Configure stores connection parameters verbatim, except that an empty
// bind address defaults to host and a keepalive below 3 seconds is raised
// to 3. No network activity happens here.
func (m *MQTTBroker) Configure(host string, port int, keepalive int, bindAddress string) {
	if keepalive < minKeepalive {
		keepalive = minKeepalive
	}
	if bindAddress == "" {
		bindAddress = host
	}
	m.mu.Lock()
	m.host = host
	m.port = port
	m.keepalive = keepalive
	m.bindAddress = bindAddress
	m.mu.Unlock()
}

// SetHandler registers the message callback. It runs on the paho network
// goroutine for every arriving message.
func (m *MQTTBroker) SetHandler(h broker.Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// SetSubscriptions replaces the snapshot of topics re-subscribed on every
// successful (re)connection. The caller hands over the slice.
func (m *MQTTBroker) SetSubscriptions(topics []string) {
	m.mu.Lock()
	m.topics = topics
	m.mu.Unlock()
}

func (m *MQTTBroker) opts() *mqtt.ClientOptions {
	m.mu.Lock()
	host, port := m.host, m.port
	keepalive, bindAddress := m.keepalive, m.bindAddress
	m.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + net.JoinHostPort(host, strconv.Itoa(port)))
	opts.SetClientID(m.clientID)
	opts.SetUsername(m.username)
	opts.SetPassword(m.password)
	opts.SetCleanSession(false)
	opts.SetKeepAlive(time.Duration(keepalive) * time.Second)
	// Reconnect and retry policy belongs to the client library, the bridge
	// only asks it to start or stop.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	if addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(bindAddress, "0")); err == nil {
		opts.SetDialer(&net.Dialer{Timeout: 30 * time.Second, LocalAddr: addr})
	} else {
		m.logger.Warn("Cannot resolve bind address, dialing from default interface",
			zap.String("bind_address", bindAddress), zap.Error(err))
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		m.logger.Info("Connected to broker")
		m.resubscribe(client)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		m.logger.Error("Connection lost with broker", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		m.logger.Debug("Trying reconnect with broker")
	})
	opts.SetDefaultPublishHandler(m.route)

	if m.will {
		opts.SetWill("bridge/"+m.clientID, lastWillTestatement, 0, false)
	}
	return opts
}

// resubscribe re-issues a subscribe request for every topic in the current
// snapshot, in insertion order, at QoS 0. Runs on the paho network
// goroutine after each successful (re)connection.
func (m *MQTTBroker) resubscribe(client mqtt.Client) {
	m.mu.Lock()
	topics := m.topics
	m.mu.Unlock()

	for _, topic := range topics {
		token := client.Subscribe(topic, 0, m.route)
		for !token.WaitTimeout(tokenWaitTimeout) {
		}
		if err := token.Error(); err != nil {
			m.logger.Error("Subscribe to topic return error", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// route is the paho message callback. It must not block and must not touch
// broker state beyond handing the message to the registered handler.
func (m *MQTTBroker) route(client mqtt.Client, msg mqtt.Message) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		m.logger.Warn("No handler registered, dropping message", zap.String("topic", msg.Topic()))
		return
	}
	if err := h(broker.Event{Topic: msg.Topic(), Payload: msg.Payload()}); err != nil {
		m.logger.Error(err.Error())
	}
}

// ConnectAsync starts the client network loop and issues a non-blocking
// connect with the stored parameters. A failed attempt is logged and the
// network loop stopped again; the caller may retry.
func (m *MQTTBroker) ConnectAsync() error {
	m.mu.Lock()
	host, port := m.host, m.port
	m.mu.Unlock()
	if host == "" || port <= 0 {
		return ErrNotConfigured
	}

	// A repeated START must not leak the previous network loop: with
	// auto-reconnect on, the old client would keep retrying with the same
	// client ID and fight the new one for the broker session.
	if old := m.clientRef(); old != nil {
		old.Disconnect(clientDisconnectWaitTimeout)
	}

	client := mqtt.NewClient(m.opts())
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Error("Cannot connect to broker, run START again", zap.Error(err))
			client.Disconnect(0)
		}
	}()
	return nil
}

// Disconnect stops the network loop and disconnects, waiting briefly for
// in-flight work. Safe to call when not connected.
func (m *MQTTBroker) Disconnect() error {
	client := m.clientRef()
	if client == nil {
		return nil
	}
	client.Disconnect(clientDisconnectWaitTimeout)
	return nil
}

// Publish forwards one message to the broker.
func (m *MQTTBroker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	client := m.clientRef()
	if client == nil {
		return ErrNoConnection
	}
	token := client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(tokenWaitTimeout) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	return token.Error()
}

// Connected reports whether the broker link is currently up.
func (m *MQTTBroker) Connected() bool {
	client := m.clientRef()
	return client != nil && client.IsConnected()
}

func (m *MQTTBroker) clientRef() mqtt.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Close disconnects and releases the client resource. Calling Close twice
// is safe.
func (m *MQTTBroker) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	if err := m.Disconnect(); err != nil {
		return err
	}
	release()
	return nil
}

func (m *MQTTBroker) String() string {
	return fmt.Sprintf("Broker [%s]", m.clientID)
}
