package bridge

import (
	"strconv"
)

// Command names accepted on the bridge command channel.
const (
	CmdConnect   = "CONNECT"
	CmdSubscribe = "SUBSCRIBE"
	CmdPublish   = "PUBLISH"
	CmdStart     = "START"
	CmdStop      = "STOP"
	CmdVerbose   = "VERBOSE"
	CmdTerminate = "TERMINATE"
)

// Command is one framed control message: the command name, its string
// fields, and for PUBLISH the raw payload frame.
type Command struct {
	Name    string
	Args    []string
	Payload []byte
}

// field returns the i-th string field, or empty when the frame is short.
func (c Command) field(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// intField returns the i-th field as an integer. Malformed numbers come
// back as 0 and fall out later as a failed connect attempt.
func (c Command) intField(i int) int {
	n, _ := strconv.Atoi(c.field(i))
	return n
}

// qosField maps the i-th field onto a QoS level, anything but "1" or "2"
// means best effort.
func (c Command) qosField(i int) byte {
	switch c.field(i) {
	case "1":
		return 1
	case "2":
		return 2
	}
	return 0
}
