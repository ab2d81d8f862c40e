package mqtt

import "testing"

func TestTopics_Builders(t *testing.T) {
	topics := Topics{Namespace: "itechmarine"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", topics.DeviceCommand("ESP32-0042"), "itechmarine/device/ESP32-0042/cmd"},
		{"status", topics.DeviceStatus("ESP32-0042"), "itechmarine/device/ESP32-0042/status"},
		{"ack", topics.DeviceAck("ESP32-0042"), "itechmarine/device/ESP32-0042/ack"},
		{"all status", topics.AllDeviceStatus(), "itechmarine/device/+/status"},
		{"all acks", topics.AllDeviceAcks(), "itechmarine/device/+/ack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_ParseDeviceTopic(t *testing.T) {
	topics := Topics{Namespace: "itechmarine"}

	tests := []struct {
		name       string
		topic      string
		wantSerial string
		wantKind   string
		wantOK     bool
	}{
		{"status", "itechmarine/device/DEV1/status", "DEV1", "status", true},
		{"ack", "itechmarine/device/DEV1/ack", "DEV1", "ack", true},
		{"cmd is outbound only", "itechmarine/device/DEV1/cmd", "", "", false},
		{"wrong namespace", "other/device/DEV1/status", "", "", false},
		{"wrong entity", "itechmarine/boat/DEV1/status", "", "", false},
		{"unknown kind", "itechmarine/device/DEV1/telemetry", "", "", false},
		{"too short", "itechmarine/device/status", "", "", false},
		{"too long", "itechmarine/device/DEV1/status/extra", "", "", false},
		{"empty serial", "itechmarine/device//status", "", "", false},
		{"empty string", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serial, kind, ok := topics.ParseDeviceTopic(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if serial != tt.wantSerial || kind != tt.wantKind {
				t.Errorf("got (%q, %q), want (%q, %q)", serial, kind, tt.wantSerial, tt.wantKind)
			}
		})
	}
}
