package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tbdash/internal/infrastructure/config"
	"github.com/nerrad567/tbdash/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line-protocol bodies posted to
// /api/v2/write.
type fakeInflux struct {
	srv *httptest.Server

	mu        sync.Mutex
	lines     []string
	query     string
	auth      string
	failWrite bool
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			defer f.mu.Unlock()
			f.query = r.URL.RawQuery
			f.auth = r.Header.Get("Authorization")
			if f.failWrite {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"unable to parse points"}`))
				return
			}
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "tbdash-test-token",
		Org:           "tbdash",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after Close are silently dropped.
	client.WriteReading(influxdb.Reading{DeviceID: "x", Key: "power", Value: 1})
	client.Flush()

	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Zero(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteReadings(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ts := time.UnixMilli(1700000001000)
	client.WriteReading(influxdb.Reading{
		DeviceID: "pool-1", DeviceName: "Main Pool", Category: "pool",
		Key: "temperature", Value: 27.5, Time: ts,
	})
	client.WriteReadings([]influxdb.Reading{
		{DeviceID: "pump-1", DeviceName: "Filter", Category: "pump", Key: "power", Value: 750, Time: ts},
		{DeviceID: "pump-1", DeviceName: "Filter", Category: "pump", Key: "flowRate", Value: 120.5, Time: ts},
	})
	client.Flush()

	lines := f.written()
	if len(lines) != 3 {
		t.Fatalf("wrote %d lines, want 3: %v", len(lines), lines)
	}
	want := []struct{ tags, field string }{
		{`telemetry,category=pool,device_id=pool-1,device_name=Main\ Pool`, " temperature=27.5 "},
		{`telemetry,category=pump,device_id=pump-1,device_name=Filter`, " power=750 "},
		{`telemetry,category=pump,device_id=pump-1,device_name=Filter`, " flowRate=120.5 "},
	}
	for i, w := range want {
		if !strings.HasPrefix(lines[i], w.tags+" ") || !strings.Contains(lines[i], w.field) {
			t.Errorf("line %d = %q, want tags %q and field %q", i, lines[i], w.tags, w.field)
		}
		if !strings.HasSuffix(lines[i], " 1700000001000000000") {
			t.Errorf("line %d = %q, want nanosecond timestamp", i, lines[i])
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(f.query, "bucket=telemetry") || !strings.Contains(f.query, "org=tbdash") {
		t.Errorf("write query = %q, want org and bucket", f.query)
	}
	if f.auth != "Token tbdash-test-token" {
		t.Errorf("Authorization = %q", f.auth)
	}
}

func TestWriteErrorCallback(t *testing.T) {
	f := newFakeInflux(t)
	f.failWrite = true

	client, err := influxdb.Connect(context.Background(), testConfig(f.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	got := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})

	client.WriteReading(influxdb.Reading{DeviceID: "em-1", Category: "energy_meter", Key: "power", Value: 900})
	client.Flush()

	select {
	case err := <-got:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error not delivered to callback")
	}
}
