package influxdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kwilde42/shadow-core/internal/infrastructure/config"
	"github.com/kwilde42/shadow-core/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "shadowcore-dev-token",
		Org:           "shadowcore",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// connectOrSkip connects to the local dev InfluxDB, skipping the test when
// the server is not running.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Skipf("InfluxDB not available, skipping: %v", err)
	}
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() with disabled config error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1" // Nothing listens here

	_, err := influxdb.Connect(cfg)
	if err == nil {
		t.Error("Connect() with unreachable URL should error")
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteShadowMutation(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	client.WriteShadowMutation("thermostat-01", "reported", 42, 0)
	client.WriteShadowMutation("thermostat-01", "desired", 43, 2)
	client.Flush()

	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}

func TestWriteStateField(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	client.WriteStateField("thermostat-01", "temperature", 21.5)
	client.Flush()
}

func TestWritePoint(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	client.WritePoint("service_stats",
		map[string]string{"instance": "shadowcore-test"},
		map[string]interface{}{"shadows": 3},
	)
	client.WritePointWithTime("service_stats",
		map[string]string{"instance": "shadowcore-test"},
		map[string]interface{}{"shadows": 4},
		time.Now().Add(-time.Minute),
	)
	client.Flush()
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes after close are silent no-ops
	client.WriteShadowMutation("thermostat-01", "reported", 1, 0)
	client.Flush()
}
