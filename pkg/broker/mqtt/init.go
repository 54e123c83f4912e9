package mqtt

import (
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// The paho package loggers are process-wide state. They are wired up once
// when the first broker client is created and reset when the last one is
// closed, so multiple concurrently-live bridges share one initialization.
var (
	libMu   sync.Mutex
	libRefs int
)

func acquire(logger *zap.Logger) {
	libMu.Lock()
	defer libMu.Unlock()
	libRefs++
	if libRefs > 1 {
		return
	}
	std := zap.NewStdLog(logger.Named("paho"))
	mqtt.ERROR = std
	mqtt.CRITICAL = std
	mqtt.WARN = std
}

func release() {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		return
	}
	libRefs--
	if libRefs > 0 {
		return
	}
	mqtt.ERROR = mqtt.NOOPLogger{}
	mqtt.CRITICAL = mqtt.NOOPLogger{}
	mqtt.WARN = mqtt.NOOPLogger{}
}
