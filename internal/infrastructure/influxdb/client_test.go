package influxdb

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

// ─── Connect ──────────────────────────────────────────────────────

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Bucket:  "hyperion",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := Connect(config.InfluxDBConfig{Enabled: true, URL: srv.URL, Org: "o", Bucket: "b"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := c.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}
}

// ─── Writes ───────────────────────────────────────────────────────

func TestRecordExchange(t *testing.T) {
	c, w := newTestClient()
	c.RecordExchange("color", 2500*time.Microsecond, "ok")

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	line := lineProtocol(w.points[0])
	for _, want := range []string{"hyperion_exchange,", "command=color", "outcome=ok", "duration_ms=2.5"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestRecordConnection(t *testing.T) {
	c, w := newTestClient()
	c.RecordConnection("disconnected", "10.0.0.5:19444", "hyperion: connection closed")
	c.RecordConnection("connected", "10.0.0.5:19444", "")

	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}
	first := lineProtocol(w.points[0])
	if !strings.HasPrefix(first, "hyperion_connection,state=disconnected") || !strings.Contains(first, "reason=") {
		t.Errorf("first line = %q", first)
	}
	if strings.Contains(lineProtocol(w.points[1]), "reason=") {
		t.Error("empty reason was written")
	}
}

func TestWritesDroppedAfterClose(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}

	c.WritePoint("m", nil, map[string]any{"v": 1})
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("wrote %d points after Close", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close)", w.flushes)
	}
}

func TestForwardErrors(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("batch rejected")
	close(errs)
	c.forwardErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
