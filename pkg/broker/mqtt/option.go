package mqtt

import (
	"go.uber.org/zap"
)

type Option func(m *MQTTBroker) error

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(m *MQTTBroker) error {
		m.clientID = id
		return nil
	}
}

// WithCredentials returns an Option which set the broker username/password.
func WithCredentials(username, password string) Option {
	return func(m *MQTTBroker) error {
		m.username = username
		m.password = password
		return nil
	}
}

// WithWill returns an Option which registers an offline status will message
// on the bridge/<client id> topic.
func WithWill() Option {
	return func(m *MQTTBroker) error {
		m.will = true
		return nil
	}
}

// WithLogger returns an Option which set the logger for the broker client.
func WithLogger(logger *zap.Logger) Option {
	return func(m *MQTTBroker) error {
		m.logger = logger
		return nil
	}
}
