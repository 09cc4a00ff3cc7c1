package hyperion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. The MQTT client implements it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval defaults to 30 seconds.
	Interval time.Duration

	Publisher  HealthPublisher
	Controller Controller
}

// HealthReporter publishes a retained health message for the bridge.
//
// Besides link state, each report compares the client's decode failure and
// dropped frame counters with the previous report. A Hyperion server that
// answers with garbage or talks out of turn keeps the connection up but is
// reported degraded until a clean interval passes.
type HealthReporter struct {
	bridgeID  string
	version   string
	started   time.Time
	interval  time.Duration
	publisher HealthPublisher
	ctrl      Controller

	mu        sync.Mutex
	lostCause string // why the connection last dropped, cleared on reconnect
	seenBad   uint64 // decode failures at the previous report
	seenDrop  uint64 // dropped frames at the previous report

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		started:   time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		ctrl:      cfg.Controller,
	}
}

// Start reports immediately and then every interval until ctx is cancelled
// or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			if err := h.PublishNow(); err != nil {
				h.logWarn("health publish failed", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends reporting and leaves a retained "stopping" message behind.
// Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthStopping, "bridge shutting down", h.stats())
	})
}

// Observe feeds a client state change to the reporter so the cause of an
// unrequested disconnect shows up in the following reports.
func (h *HealthReporter) Observe(change StateChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case change.State == StateConnected:
		h.lostCause = ""
	case change.State == StateDisconnected && change.Err != nil:
		h.lostCause = change.Err.Error()
	}
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting", h.stats())
}

// PublishNow assesses the bridge and publishes the result immediately.
func (h *HealthReporter) PublishNow() error {
	stats := h.stats()
	status, reason := h.assess(stats)
	return h.publish(status, reason, stats)
}

// assess derives status and reason from the links and from counter growth
// since the previous assessment, then moves the baseline forward.
func (h *HealthReporter) assess(stats ClientStats) (HealthStatus, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	newBad := stats.DecodeFailures - min(h.seenBad, stats.DecodeFailures)
	newDrop := stats.FramesDropped - min(h.seenDrop, stats.FramesDropped)
	h.seenBad, h.seenDrop = stats.DecodeFailures, stats.FramesDropped

	switch {
	case h.publisher == nil || !h.publisher.IsConnected():
		return HealthDegraded, "MQTT broker unreachable"
	case stats.State != StateConnected:
		if h.lostCause != "" {
			return HealthDegraded, fmt.Sprintf("hyperion %s: %s", stats.State, h.lostCause)
		}
		return HealthDegraded, "hyperion " + stats.State.String()
	case newBad > 0:
		return HealthDegraded, fmt.Sprintf("%d undecodable replies since last report", newBad)
	case newDrop > 0:
		return HealthDegraded, fmt.Sprintf("%d unsolicited frames since last report", newDrop)
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) stats() ClientStats {
	if h.ctrl == nil {
		return ClientStats{}
	}
	return h.ctrl.Stats()
}

func (h *HealthReporter) publish(status HealthStatus, reason string, stats ClientStats) error {
	if h.publisher == nil {
		return nil
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, h.started)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.publisher.Publish(HealthTopic(h.bridgeID), payload, qosAtLeastOnce, true)
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) logWarn(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, "bridge_id", h.bridgeID, "error", err)
	}
}
