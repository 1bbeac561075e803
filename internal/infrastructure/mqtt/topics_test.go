package mqtt

import "testing"

// ============================================================================
// Topic Builders
// ============================================================================

func TestTopics_PerDevice(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"data", topics.DeviceData("tank-01"), "devices/tank-01/data"},
		{"thresholds", topics.DeviceThresholds("tank-01"), "devices/tank-01/thresholds"},
		{"pump control", topics.DevicePumpControl("tank-01"), "devices/tank-01/pump/control"},
		{"status", topics.DeviceStatus("tank-01"), "devices/tank-01/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_Wildcards(t *testing.T) {
	topics := Topics{}

	if got := topics.AllDeviceData(); got != "devices/+/data" {
		t.Errorf("AllDeviceData() = %q, want %q", got, "devices/+/data")
	}
	if got := topics.AllDeviceStatus(); got != "devices/+/status" {
		t.Errorf("AllDeviceStatus() = %q, want %q", got, "devices/+/status")
	}
}

func TestTopics_SystemStatus(t *testing.T) {
	if got := (Topics{}).SystemStatus(); got != "waterline/system/status" {
		t.Errorf("SystemStatus() = %q, want %q", got, "waterline/system/status")
	}
}

// ============================================================================
// Device ID Extraction
// ============================================================================

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  string
	}{
		{"data topic", "devices/tank-01/data", "tank-01"},
		{"status topic", "devices/tank-01/status", "tank-01"},
		{"nested pump topic", "devices/garden-tank/pump/control", "garden-tank"},
		{"system topic", "waterline/system/status", ""},
		{"bare prefix", "devices", ""},
		{"prefix with trailing slash", "devices/", ""},
		{"device id without segment", "devices/tank-01", ""},
		{"empty topic", "", ""},
		{"unrelated topic", "sensors/tank-01/data", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeviceIDFromTopic(tt.topic); got != tt.want {
				t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

// Round trip: every builder output must yield its device id back.
func TestDeviceIDFromTopic_RoundTrip(t *testing.T) {
	topics := Topics{}
	const deviceID = "tank-42"

	built := []string{
		topics.DeviceData(deviceID),
		topics.DeviceThresholds(deviceID),
		topics.DevicePumpControl(deviceID),
		topics.DeviceStatus(deviceID),
	}

	for _, topic := range built {
		if got := DeviceIDFromTopic(topic); got != deviceID {
			t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", topic, got, deviceID)
		}
	}
}
