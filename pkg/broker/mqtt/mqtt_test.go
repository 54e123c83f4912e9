package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureClampsKeepalive(t *testing.T) {
	m, err := NewBroker(WithClientID("test"))
	require.NoError(t, err)
	defer m.Close()

	m.Configure("localhost", 1883, 1, "")
	assert.Equal(t, 3, m.keepalive)

	m.Configure("localhost", 1883, 30, "")
	assert.Equal(t, 30, m.keepalive)
}

func TestConfigureBindAddressDefaultsToHost(t *testing.T) {
	m, err := NewBroker(WithClientID("test"))
	require.NoError(t, err)
	defer m.Close()

	m.Configure("broker.local", 1883, 10, "")
	assert.Equal(t, "broker.local", m.bindAddress)

	m.Configure("broker.local", 1883, 10, "10.0.0.1")
	assert.Equal(t, "10.0.0.1", m.bindAddress)
}

func TestConnectAsyncReplacesClient(t *testing.T) {
	m, err := NewBroker(WithClientID("test"))
	require.NoError(t, err)
	defer m.Close()

	// Nothing listens on port 1, so the clients stay in their retry loop
	// until disconnected.
	m.Configure("127.0.0.1", 1, 10, "")
	require.NoError(t, m.ConnectAsync())
	first := m.clientRef()
	require.NotNil(t, first)

	require.NoError(t, m.ConnectAsync())
	assert.NotSame(t, first, m.clientRef())
	// The first client's network loop must be shut down, not left retrying
	// with the shared client ID.
	assert.Eventually(t, func() bool { return !first.IsConnected() }, 5*time.Second, 100*time.Millisecond)
}

func TestConnectAsyncNotConfigured(t *testing.T) {
	m, err := NewBroker(WithClientID("test"))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, ErrNotConfigured, m.ConnectAsync())
}

func TestPublishWithoutConnection(t *testing.T) {
	m, err := NewBroker(WithClientID("test"))
	require.NoError(t, err)
	defer m.Close()

	err = m.Publish("TOPIC", []byte("HELLO, FRAME"), 0, false)
	assert.Equal(t, ErrNoConnection, err)
}

func TestCloseIdempotent(t *testing.T) {
	m, err := NewBroker(WithClientID("test"))
	require.NoError(t, err)

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestDefaultClientID(t *testing.T) {
	m, err := NewBroker()
	require.NoError(t, err)
	defer m.Close()

	assert.NotEmpty(t, m.clientID)
	assert.Contains(t, m.String(), m.clientID)
}

func TestLibraryRefCounting(t *testing.T) {
	libMu.Lock()
	before := libRefs
	libMu.Unlock()

	a, err := NewBroker(WithClientID("a"))
	require.NoError(t, err)
	b, err := NewBroker(WithClientID("b"))
	require.NoError(t, err)

	libMu.Lock()
	assert.Equal(t, before+2, libRefs)
	libMu.Unlock()

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	// Closing twice must not drive the count negative.
	require.NoError(t, b.Close())

	libMu.Lock()
	assert.Equal(t, before, libRefs)
	libMu.Unlock()
}
