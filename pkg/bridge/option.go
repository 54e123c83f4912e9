package bridge

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-bridge/pkg/relay"
)

type Option func(b *Bridge) error

// WithBroker returns an Option which set the broker client the bridge
// drives. Defaults to an mqtt broker with a generated client id.
func WithBroker(bk broker.Broker) Option {
	return func(b *Bridge) error {
		b.b = bk
		return nil
	}
}

// WithRelay returns an Option which set the relay carrying inbound broker
// messages to the control loop.
func WithRelay(r *relay.Relay) Option {
	return func(b *Bridge) error {
		b.rly = r
		return nil
	}
}

// WithLogger returns an Option which set the logger for the bridge.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}
