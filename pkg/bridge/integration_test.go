package bridge

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/bizfly-bridge/pkg/broker/mqtt"
	"github.com/bizflycloud/bizfly-bridge/pkg/relay"
	"github.com/bizflycloud/bizfly-bridge/pkg/testlib"
)

// brokerAddr returns a reachable broker, either from the environment or by
// starting one with docker.
func brokerAddr(t *testing.T) (string, int, func()) {
	t.Helper()
	if os.Getenv("BIZFLY_BRIDGE_MQTT_ADDR") != "" {
		host, port := testlib.MqttAddr()
		return host, port, func() {}
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("Could not connect to docker: %s", err)
	}
	resource, err := pool.Run(
		"vernemq/vernemq",
		"latest-alpine",
		[]string{"DOCKER_VERNEMQ_USER_foo=bar", "DOCKER_VERNEMQ_ACCEPT_EULA=yes"},
	)
	if err != nil {
		t.Fatalf("Could not start resource: %s", err)
	}

	host, porta, err := net.SplitHostPort(resource.GetHostPort("1883/tcp"))
	require.NoError(t, err)
	port, err := strconv.Atoi(porta)
	require.NoError(t, err)
	return host, port, func() {
		if err := pool.Purge(resource); err != nil {
			t.Fatalf("Could not purge resource: %s", err)
		}
	}
}

// TestBridgeEndToEnd runs two bridges against a real broker: one subscribes
// to TOPIC and TEST, the other publishes 20 messages alternating between
// them. The subscriber side must emit exactly 20 pairs in arrival order
// with byte-exact payloads, then survive a STOP/START cycle without the
// host resending SUBSCRIBE.
func TestBridgeEndToEnd(t *testing.T) {
	if os.Getenv("EXCLUDE_MQTT") != "" {
		return
	}

	host, port, cleanup := brokerAddr(t)
	defer cleanup()

	newBridge := func(id string) *Bridge {
		mb, err := mqtt.NewBroker(mqtt.WithClientID(id), mqtt.WithCredentials("foo", "bar"))
		require.NoError(t, err)
		b, err := New(WithBroker(mb))
		require.NoError(t, err)
		require.NoError(t, b.Connect(host, port, 10, ""))
		return b
	}

	sub := newBridge("bridge-e2e-sub")
	defer sub.Terminate()
	require.NoError(t, sub.Subscribe("TOPIC", "TEST"))
	require.NoError(t, sub.Start())

	pub := newBridge("bridge-e2e-pub")
	defer pub.Terminate()
	require.NoError(t, pub.Start())

	require.Eventually(t, func() bool {
		return sub.Connected() && pub.Connected()
	}, 60*time.Second, 250*time.Millisecond, "bridges did not connect to broker")
	// Give the subscriber time to finish its subscribe round trip.
	time.Sleep(3 * time.Second)

	publishAndCollect := func(count int) []relay.Message {
		var g errgroup.Group
		g.Go(func() error {
			for i := 0; i < count; i++ {
				topic := "TOPIC"
				if i%2 != 0 {
					topic = "TEST"
				}
				if err := pub.Publish(topic, []byte("HELLO, FRAME"), 0, false); err != nil {
					return err
				}
			}
			return nil
		})
		received := make([]relay.Message, 0, count)
		g.Go(func() error {
			for i := 0; i < count; i++ {
				select {
				case m := <-sub.Messages():
					received = append(received, m)
				case <-time.After(30 * time.Second):
					return fmt.Errorf("timed out after %d of %d messages", i, count)
				}
			}
			return nil
		})
		require.NoError(t, g.Wait())
		return received
	}

	received := publishAndCollect(20)
	for i, m := range received {
		if i%2 == 0 {
			assert.Equal(t, "TOPIC", m.Topic)
		} else {
			assert.Equal(t, "TEST", m.Topic)
		}
		assert.Equal(t, []byte("HELLO, FRAME"), m.Payload)
	}

	// STOP then START must re-establish connectivity and re-subscribe on
	// its own.
	require.NoError(t, sub.Stop())
	require.Eventually(t, func() bool { return !sub.Connected() }, 30*time.Second, 250*time.Millisecond)
	require.NoError(t, sub.Start())
	require.Eventually(t, func() bool { return sub.Connected() }, 60*time.Second, 250*time.Millisecond)
	time.Sleep(3 * time.Second)

	received = publishAndCollect(2)
	assert.Equal(t, "TOPIC", received[0].Topic)
	assert.Equal(t, "TEST", received[1].Topic)
}
