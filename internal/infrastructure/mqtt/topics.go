package mqtt

import "fmt"

// Topic layout, per device:
//
//	devices/{device_id}/data          device -> backend, telemetry samples
//	devices/{device_id}/thresholds    backend -> device, threshold replacement
//	devices/{device_id}/pump/control  backend -> device, manual pump command
//	devices/{device_id}/status        device -> backend, confirmation events
//
// The bridge publishes and subscribes on exactly one device's topics; the
// backend subscribes with a single-level wildcard across all devices.
const (
	// TopicPrefixDevices is the base for all per-device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixSystem is the base for process status topics.
	TopicPrefixSystem = "waterline/system"
)

// Topics provides builders for Waterline MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceData returns the telemetry topic for a device.
//
// Example: devices/tank-01/data
func (Topics) DeviceData(deviceID string) string {
	return fmt.Sprintf("%s/%s/data", TopicPrefixDevices, deviceID)
}

// DeviceThresholds returns the threshold update topic for a device.
//
// Example: devices/tank-01/thresholds
func (Topics) DeviceThresholds(deviceID string) string {
	return fmt.Sprintf("%s/%s/thresholds", TopicPrefixDevices, deviceID)
}

// DevicePumpControl returns the manual pump command topic for a device.
//
// Example: devices/tank-01/pump/control
func (Topics) DevicePumpControl(deviceID string) string {
	return fmt.Sprintf("%s/%s/pump/control", TopicPrefixDevices, deviceID)
}

// DeviceStatus returns the confirmation event topic for a device.
//
// Example: devices/tank-01/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevices, deviceID)
}

// AllDeviceData returns a pattern matching telemetry from every device.
//
// Pattern: devices/+/data
func (Topics) AllDeviceData() string {
	return fmt.Sprintf("%s/+/data", TopicPrefixDevices)
}

// AllDeviceStatus returns a pattern matching confirmations from every device.
//
// Pattern: devices/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixDevices)
}

// SystemStatus returns the process online/offline status topic.
//
// Example: waterline/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// DeviceIDFromTopic extracts the device identifier from a per-device topic.
//
// Returns the empty string if the topic is not under the devices prefix.
func DeviceIDFromTopic(topic string) string {
	// devices/{device_id}/...
	const prefixLen = len(TopicPrefixDevices) + 1
	if len(topic) <= prefixLen || topic[:prefixLen] != TopicPrefixDevices+"/" {
		return ""
	}
	rest := topic[prefixLen:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}
