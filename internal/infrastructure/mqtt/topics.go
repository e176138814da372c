package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of the cloud relay hierarchy.
const DefaultTopicPrefix = "relaysync/cloud"

// Channel names used beneath {prefix}/{deviceID}/.
const (
	ChannelCommand = "command" // bridge -> cloud: device command
	ChannelQuery   = "query"   // bridge -> cloud: request a full state report
	ChannelAck     = "ack"     // cloud -> bridge: command result
	ChannelState   = "state"   // cloud -> bridge: device params
	ChannelOnline  = "online"  // cloud -> bridge: device presence on the cloud
)

// Topics builds cloud relay topics under a configurable prefix.
//
//	topics := mqtt.Topics{Prefix: "relaysync/cloud"}
//	topics.Command("1000aa01") // "relaysync/cloud/1000aa01/command"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

func (t Topics) device(deviceID, channel string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), deviceID, channel)
}

// Command returns the topic commands for deviceID are published on.
func (t Topics) Command(deviceID string) string { return t.device(deviceID, ChannelCommand) }

// Query returns the topic used to ask the cloud for a device's full state.
func (t Topics) Query(deviceID string) string { return t.device(deviceID, ChannelQuery) }

// Ack returns the topic the cloud acknowledges commands on.
func (t Topics) Ack(deviceID string) string { return t.device(deviceID, ChannelAck) }

// State returns the topic the cloud reports device params on.
func (t Topics) State(deviceID string) string { return t.device(deviceID, ChannelState) }

// Online returns the topic the cloud reports device presence on.
func (t Topics) Online(deviceID string) string { return t.device(deviceID, ChannelOnline) }

// AllOf returns a single-level wildcard matching channel for every device.
func (t Topics) AllOf(channel string) string { return t.device("+", channel) }

// BridgeStatus is where this bridge publishes its retained online/offline
// status and its Last Will.
func (t Topics) BridgeStatus(bridgeID string) string {
	return fmt.Sprintf("%s/bridge/%s/status", t.prefix(), bridgeID)
}

// Parse splits a device topic into its device ID and channel.
func (t Topics) Parse(topic string) (deviceID, channel string, err error) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q outside %q", ErrInvalidTopic, topic, t.prefix())
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return parts[0], parts[1], nil
}
