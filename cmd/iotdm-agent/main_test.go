package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iotdm.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configEnvVar, "/nonexistent/path/iotdm.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

// TestRun_MissingDeviceIdentity verifies validation stops startup before
// anything is opened.
func TestRun_MissingDeviceIdentity(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent.db")
	t.Setenv(configEnvVar, writeConfig(t, `
device:
  org: myorg
database:
  path: "`+dbPath+`"
`))
	t.Setenv("IOTDM_DEVICE_AUTH_TOKEN", "")

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail without device type and id")
	}
	for _, want := range []string{"device.type", "device.id", "device.auth_token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("run() error %q does not mention %s", err, want)
		}
	}
	if _, statErr := os.Stat(dbPath); statErr == nil {
		t.Error("database created despite invalid config")
	}
}

// TestRun_BrokerUnreachable verifies run fails cleanly when the broker
// cannot be reached, after the database has been migrated.
func TestRun_BrokerUnreachable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent.db")
	t.Setenv(configEnvVar, writeConfig(t, `
device:
  org: quickstart
  type: gateway
  id: gw-test-01
mqtt:
  broker:
    host: 127.0.0.1
    port: 1
  reconnect:
    initial_delay: 1
    max_delay: 1
management:
  enabled: false
database:
  path: "`+dbPath+`"
  busy_timeout: 5
influxdb:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want MQTT connect failure", err)
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("database not created before MQTT connect: %v", statErr)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/etc/iotdm/agent.yaml"
	t.Setenv(configEnvVar, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestDeviceInfo(t *testing.T) {
	got := deviceInfo(config.DeviceInfoConfig{
		SerialNumber:        "SN-001",
		Manufacturer:        "Acme",
		Model:               "GW-4",
		DeviceClass:         "gateway",
		Description:         "roof gateway",
		FWVersion:           "2.4.0",
		HWVersion:           "rev-c",
		DescriptiveLocation: "plant 3",
	})

	data, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"serialNumber":"SN-001"`,
		`"manufacturer":"Acme"`,
		`"fwVersion":"2.4.0"`,
		`"descriptiveLocation":"plant 3"`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("device info %s missing %s", data, want)
		}
	}
}

func TestEncodeMetadata(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want string
	}{
		{"nil", nil, ""},
		{"empty", map[string]any{}, ""},
		{"nested", map[string]any{"site": "plant-3", "limits": map[string]any{"max": 40}}, `{"limits":{"max":40},"site":"plant-3"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeMetadata(tt.in)
			if err != nil {
				t.Fatalf("encodeMetadata() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("encodeMetadata() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeMetadata_Unencodable(t *testing.T) {
	if _, err := encodeMetadata(map[string]any{"bad": make(chan int)}); err == nil {
		t.Error("encodeMetadata() should fail for a channel value")
	}
}
