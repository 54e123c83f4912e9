package testlib

import (
	"net"
	"os"
	"strconv"
)

// MqttAddr returns the broker address integration tests connect to when a
// docker broker is not being used.
func MqttAddr() (string, int) {
	hostPort := os.Getenv("BIZFLY_BRIDGE_MQTT_ADDR")
	if hostPort == "" {
		return "localhost", 1883
	}
	host, porta, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort, 1883
	}
	port, _ := strconv.Atoi(porta)
	return host, port
}
