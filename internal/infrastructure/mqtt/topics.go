package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "devicelink"

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// NewTopics trims slashes from prefix and falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// DevicePresence is the retained online/offline topic for one device.
func (t Topics) DevicePresence(devicePK int64) string {
	return fmt.Sprintf("%s/device/%d/presence", t.Prefix, devicePK)
}

// CommandStatus carries every status change of one command.
func (t Topics) CommandStatus(commandID int64) string {
	return fmt.Sprintf("%s/command/%d/status", t.Prefix, commandID)
}

// Control is the inbound control topic for one device.
func (t Topics) Control(devicePK int64) string {
	return fmt.Sprintf("%s/control/%d", t.Prefix, devicePK)
}

// ControlWildcard matches Control for every device.
func (t Topics) ControlWildcard() string {
	return t.Prefix + "/control/+"
}

// SystemStatus is the core's own retained status, also used as the LWT.
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}

// ParseControl extracts the device primary key from a Control topic.
func (t Topics) ParseControl(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/control/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	pk, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || pk <= 0 {
		return 0, false
	}
	return pk, true
}
