package api

import (
	"net/http"
	"runtime"
	"time"
)

const bytesPerMB = 1024 * 1024

// SystemMetrics is the body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          *MQTTMetrics    `json:"mqtt,omitempty"`
	Hyperion      HyperionMetrics `json:"hyperion"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics is present only when MQTT is configured.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// HyperionMetrics describes the protocol client.
type HyperionMetrics struct {
	State        string         `json:"state"`
	Address      string         `json:"address,omitempty"`
	Active       bool           `json:"active"`
	BytesRx      uint64         `json:"bytes_rx"`
	FramesRx     uint64         `json:"frames_rx"`
	LastActivity string         `json:"last_activity,omitempty"`
	Counts       HyperionCounts `json:"counts"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.hyperion.Stats()
	hm := HyperionMetrics{
		State:    stats.State.String(),
		Address:  stats.Address,
		Active:   s.active.Load(),
		BytesRx:  stats.BytesRx,
		FramesRx: stats.FramesRx,
		Counts:   countsFrom(stats),
	}
	if !stats.LastActivity.IsZero() {
		hm.LastActivity = stats.LastActivity.UTC().Format(time.RFC3339)
	}

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(mem.TotalAlloc) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Hyperion:  hm,
	}
	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
