package server

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-bridge/pkg/bridge"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBridge returns an Option which set the bridge the server supervises.
func WithBridge(b *bridge.Bridge) Option {
	return func(s *Server) error {
		s.b = b
		return nil
	}
}

// WithAutoStart returns an Option which makes the server issue START with
// backoff until the bridge is running.
func WithAutoStart() Option {
	return func(s *Server) error {
		s.autoStart = true
		return nil
	}
}

// WithHeartbeat returns an Option which schedules a periodic status
// heartbeat published to the given topic. The schedule uses cron syntax.
func WithHeartbeat(schedule, topic string) Option {
	return func(s *Server) error {
		s.heartbeatSchedule = schedule
		s.heartbeatTopic = topic
		return nil
	}
}

// WithSink returns an Option which set the sink receiving relayed broker
// messages. Defaults to logging topic and payload size.
func WithSink(sink Sink) Option {
	return func(s *Server) error {
		s.sink = sink
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
