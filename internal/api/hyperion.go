package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/hyperion-bridge/internal/bridges/hyperion"
)

// Request bodies.
type (
	connectRequest struct {
		Address string `json:"address"`
		Port    int    `json:"port"`
	}

	colorRequest struct {
		Color []int `json:"color"`
	}

	effectRequest struct {
		Name string `json:"name"`
		Args any    `json:"args,omitempty"`
	}
)

// resultResponse is the success body of every exchange route.
type resultResponse struct {
	Result any `json:"result"`
}

// statusResponse is returned by GET /api/v1/status.
type statusResponse struct {
	State     string         `json:"state"`
	Connected bool           `json:"connected"`
	Active    bool           `json:"active"`
	Address   string         `json:"address,omitempty"`
	Stats     HyperionCounts `json:"stats"`
}

// HyperionCounts is the counter subset exposed over HTTP.
type HyperionCounts struct {
	CommandsTx     uint64 `json:"commands_tx"`
	ResponsesRx    uint64 `json:"responses_rx"`
	FramesDropped  uint64 `json:"frames_dropped"`
	DecodeFailures uint64 `json:"decode_failures"`
	ErrorsTotal    uint64 `json:"errors_total"`
	ConnectsTotal  uint64 `json:"connects_total"`
}

func countsFrom(stats hyperion.ClientStats) HyperionCounts {
	return HyperionCounts{
		CommandsTx:     stats.CommandsTx,
		ResponsesRx:    stats.ResponsesRx,
		FramesDropped:  stats.FramesDropped,
		DecodeFailures: stats.DecodeFailures,
		ErrorsTotal:    stats.ErrorsTotal,
		ConnectsTotal:  stats.ConnectsTotal,
	}
}

// exchange runs one command against the client under the request
// timeout, broadcasts the outcome and writes the HTTP response. It
// reports whether the exchange succeeded.
func (s *Server) exchange(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context) (hyperion.Response, error)) bool {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := fn(ctx)
	s.broadcastCommand(action, resp, err, time.Since(start))

	switch {
	case err != nil:
		s.logger.Warn("hyperion command failed",
			"action", action,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID))
		writeHyperionError(w, err)
		return false
	case resp.Failed():
		s.logger.Warn("hyperion reply was not valid JSON", "action", action, "raw", resp.Raw)
		writeDecodeFailure(w, resp)
		return false
	default:
		writeJSON(w, http.StatusOK, resultResponse{Result: resp.Result()})
		return true
	}
}

func (s *Server) broadcastCommand(action string, resp hyperion.Response, err error, took time.Duration) {
	event := map[string]any{
		"action":      action,
		"duration_ms": took.Milliseconds(),
	}
	switch {
	case err != nil:
		event["outcome"] = "error"
		event["error"] = err.Error()
	default:
		event["outcome"] = resp.Kind.String()
	}
	s.hub.Broadcast(ChannelCommand, event)
}

// ─── Short routes ─────────────────────────────────────────────────

func (s *Server) handleLegacyInfo(w http.ResponseWriter, r *http.Request) {
	s.exchange(w, r, hyperion.ActionServerInfo, s.hyperion.GetServerInfo)
}

// handleLegacyOn clears every priority, handing the LEDs back to the
// grabber, and marks the bridge active.
func (s *Server) handleLegacyOn(w http.ResponseWriter, r *http.Request) {
	if s.exchange(w, r, hyperion.ActionClear, s.hyperion.Clear) {
		s.active.Store(true)
	}
}

// handleLegacyOff sets black at the configured priority and marks the
// bridge inactive.
func (s *Server) handleLegacyOff(w http.ResponseWriter, r *http.Request) {
	ok := s.exchange(w, r, hyperion.ActionColor, func(ctx context.Context) (hyperion.Response, error) {
		return s.hyperion.SetColor(ctx, hyperion.RGB{0, 0, 0})
	})
	if ok {
		s.active.Store(false)
	}
}

// handleLegacyStatus answers 1 or 0.
func (s *Server) handleLegacyStatus(w http.ResponseWriter, _ *http.Request) {
	status := 0
	if s.active.Load() {
		status = 1
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLegacyPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"result":    "pong",
		"connected": s.hyperion.IsConnected(),
	})
}

// ─── /api/v1 ──────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.hyperion.Stats()
	writeJSON(w, http.StatusOK, statusResponse{
		State:     stats.State.String(),
		Connected: stats.State == hyperion.StateConnected,
		Active:    s.active.Load(),
		Address:   stats.Address,
		Stats:     countsFrom(stats),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	address, port := s.address, s.port
	if req.Address != "" {
		address = req.Address
	}
	if req.Port != 0 {
		port = req.Port
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	if err := s.hyperion.Connect(ctx, address, port); err != nil {
		s.logger.Warn("hyperion connect failed", "address", address, "port", port, "error", err)
		writeHyperionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: map[string]any{
		"state":   s.hyperion.State().String(),
		"address": s.hyperion.Stats().Address,
	}})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.hyperion.Disconnect(); err != nil {
		writeHyperionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: map[string]any{
		"state": s.hyperion.State().String(),
	}})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.exchange(w, r, hyperion.ActionServerInfo, s.hyperion.GetServerInfo)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.exchange(w, r, hyperion.ActionClear, s.hyperion.Clear)
}

func (s *Server) handleColor(w http.ResponseWriter, r *http.Request) {
	var req colorRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rgb, err := toRGB(req.Color)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.exchange(w, r, hyperion.ActionColor, func(ctx context.Context) (hyperion.Response, error) {
		return s.hyperion.SetColor(ctx, rgb)
	})
}

func (s *Server) handleEffect(w http.ResponseWriter, r *http.Request) {
	var req effectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "effect name is required")
		return
	}
	s.exchange(w, r, hyperion.ActionEffect, func(ctx context.Context) (hyperion.Response, error) {
		return s.hyperion.SetEffect(ctx, req.Name, req.Args)
	})
}

func toRGB(values []int) (hyperion.RGB, error) {
	var rgb hyperion.RGB
	if len(values) != len(rgb) {
		return rgb, fmt.Errorf("color must have exactly 3 components, got %d", len(values))
	}
	for i, v := range values {
		if v < 0 || v > 255 {
			return rgb, fmt.Errorf("color component %d out of range 0-255: %d", i, v)
		}
		rgb[i] = uint8(v)
	}
	return rgb, nil
}

var errBodyRequired = errors.New("request body is required")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	if err := decodeBody(r, v); err != nil && !errors.Is(err, errBodyRequired) {
		return err
	}
	return nil
}
