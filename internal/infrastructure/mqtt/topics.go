package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when mqtt.topic_prefix is empty.
const DefaultTopicPrefix = "tbdash"

// Topics builds tbdash topic names under a prefix.
//
//	topics := mqtt.NewTopics("tbdash")
//	topics.DeviceState("pump", "pump-1")
//	// Returns: "tbdash/state/pump/pump-1"
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. Surrounding slashes are
// trimmed; an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status returns the online/offline topic, also used for the LWT.
//
// Example: tbdash/status
func (t Topics) Status() string {
	return t.Prefix() + "/status"
}

// Snapshot returns the topic carrying the whole dashboard.
//
// Example: tbdash/dashboard/snapshot
func (t Topics) Snapshot() string {
	return t.Prefix() + "/dashboard/snapshot"
}

// DeviceState returns the topic for one device's view model.
//
// Example: tbdash/state/pump/784f394c-42b6-435a-983c-b7beff2784f9
func (t Topics) DeviceState(category, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.Prefix(), category, deviceID)
}

// PumpCommand returns the topic a pump command is published to.
//
// Example: tbdash/command/pump/784f394c-42b6-435a-983c-b7beff2784f9
func (t Topics) PumpCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/pump/%s", t.Prefix(), deviceID)
}

// AllPumpCommands returns the subscription pattern for every pump command.
//
// Example: tbdash/command/pump/+
func (t Topics) AllPumpCommands() string {
	return t.Prefix() + "/command/pump/+"
}

// ParsePumpCommand extracts the device id from a pump command topic.
func (t Topics) ParsePumpCommand(topic string) (deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/command/pump/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
