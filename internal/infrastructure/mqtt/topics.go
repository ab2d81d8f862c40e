package mqtt

import (
	"fmt"
	"strings"
)

// Message kinds carried on per-device topics.
const (
	// KindCommand is the outbound command topic leaf.
	KindCommand = "cmd"

	// KindStatus is the inbound unsolicited state snapshot topic leaf.
	KindStatus = "status"

	// KindAck is the inbound command acknowledgment topic leaf.
	KindAck = "ack"
)

// Topics builds the per-device topic hierarchy under a configured
// namespace:
//
//	{namespace}/device/{serial}/cmd      commands to the device
//	{namespace}/device/{serial}/status   state snapshots from the device
//	{namespace}/device/{serial}/ack      command acks from the device
//
// Devices are addressed by their stable serial string; they do not know
// their internal registry id.
type Topics struct {
	Namespace string
}

// DeviceCommand returns the command topic for one device.
//
// Example: itechmarine/device/ESP32-0042/cmd
func (t Topics) DeviceCommand(serial string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.Namespace, serial, KindCommand)
}

// DeviceStatus returns the status topic for one device.
func (t Topics) DeviceStatus(serial string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.Namespace, serial, KindStatus)
}

// DeviceAck returns the ack topic for one device.
func (t Topics) DeviceAck(serial string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.Namespace, serial, KindAck)
}

// AllDeviceStatus returns a pattern matching status snapshots from any device.
//
// Pattern: {namespace}/device/+/status
func (t Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/device/+/%s", t.Namespace, KindStatus)
}

// AllDeviceAcks returns a pattern matching acks from any device.
//
// Pattern: {namespace}/device/+/ack
func (t Topics) AllDeviceAcks() string {
	return fmt.Sprintf("%s/device/+/%s", t.Namespace, KindAck)
}

// ParseDeviceTopic extracts the serial and message kind from an inbound
// device topic. Topics that do not match the
// {namespace}/device/{serial}/{status|ack} shape return ok=false and are
// dropped by the caller.
func (t Topics) ParseDeviceTopic(topic string) (serial, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[0] != t.Namespace || parts[1] != "device" || parts[2] == "" {
		return "", "", false
	}
	switch parts[3] {
	case KindStatus, KindAck:
		return parts[2], parts[3], true
	default:
		return "", "", false
	}
}
