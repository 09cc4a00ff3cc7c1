package hyperion

import (
	"errors"
	"time"
)

// MQTT message types exchanged between the bridge and its consumers.
//
// Topic layout (bridgeID defaults to the MQTT client ID):
//
//	hyperion/{bridge}/command/{action}     inbound CommandMessage
//	hyperion/{bridge}/response/{request}   outbound ResponseMessage
//	hyperion/{bridge}/state                retained StateMessage
//	hyperion/{bridge}/health               retained HealthMessage

const topicRoot = "hyperion"

// Bridge actions accepted on the command topic.
const (
	ActionServerInfo = "serverinfo"
	ActionClear      = "clear"
	ActionColor      = "color"
	ActionEffect     = "effect"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

// CommandTopic returns the topic a consumer publishes action requests to.
func CommandTopic(bridgeID, action string) string {
	return topicRoot + "/" + bridgeID + "/command/" + action
}

// CommandSubscription returns the wildcard the bridge subscribes to.
func CommandSubscription(bridgeID string) string {
	return topicRoot + "/" + bridgeID + "/command/+"
}

// ResponseTopic returns the topic a request's result is published on.
func ResponseTopic(bridgeID, requestID string) string {
	return topicRoot + "/" + bridgeID + "/response/" + requestID
}

// StateTopic returns the retained connection state topic.
func StateTopic(bridgeID string) string {
	return topicRoot + "/" + bridgeID + "/state"
}

// HealthTopic returns the retained health topic.
func HealthTopic(bridgeID string) string {
	return topicRoot + "/" + bridgeID + "/health"
}

// CommandMessage is the payload of a command topic. Every field is
// optional; which ones matter depends on the action in the topic.
type CommandMessage struct {
	// ID correlates the response. Generated when absent.
	ID string `json:"id,omitempty"`

	// Color is the RGB triple for the color action.
	Color *RGB `json:"color,omitempty"`

	// Effect and Args drive the effect action.
	Effect string `json:"effect,omitempty"`
	Args   any    `json:"args,omitempty"`

	// Address and Port override the configured server for connect.
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// Error codes carried in ResponseError.
const (
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeTransport      = "TRANSPORT_ERROR"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeDecodeFailed   = "DECODE_FAILED"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeUnknownAction  = "UNKNOWN_ACTION"
	ErrCodeBridge         = "BRIDGE_ERROR"
)

// ResponseMessage reports the outcome of one CommandMessage.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	Result    any            `json:"result,omitempty"`
	Raw       string         `json:"raw,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResponseMessage builds the response for a completed exchange.
// A decode failure is reported as unsuccessful with the offending frame
// in Raw; an empty frame succeeds with an empty string result.
func NewResponseMessage(requestID, action string, resp Response, err error) ResponseMessage {
	msg := ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Action:    action,
	}

	switch {
	case err != nil:
		msg.Error = &ResponseError{Code: ErrorCode(err), Message: err.Error()}
	case resp.Failed():
		msg.Raw = resp.Raw
		msg.Error = &ResponseError{Code: ErrCodeDecodeFailed, Message: resp.Err.Error()}
	default:
		msg.Success = true
		msg.Result = resp.Result()
	}
	return msg
}

// NewResponseError builds an unsuccessful response without an exchange.
func NewResponseError(requestID, action, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Action:    action,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// ErrorCode maps a client error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrTransport), errors.Is(err, ErrConnectionFailed):
		return ErrCodeTransport
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrFrameTooLarge):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrDecodeFailed):
		return ErrCodeDecodeFailed
	default:
		return ErrCodeBridge
	}
}

// StateMessage mirrors a client StateChange on the retained state topic.
type StateMessage struct {
	Bridge    string    `json:"bridge"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Previous  string    `json:"previous"`
	Address   string    `json:"address,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// NewStateMessage converts a StateChange.
func NewStateMessage(bridgeID string, change StateChange) StateMessage {
	msg := StateMessage{
		Bridge:    bridgeID,
		Timestamp: change.Time.UTC(),
		State:     change.State.String(),
		Previous:  change.Previous.String(),
		Address:   change.Address,
	}
	if change.Err != nil {
		msg.Reason = change.Err.Error()
	}
	return msg
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy: MQTT and the Hyperion server are both connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded: the bridge runs but a link is down.
	HealthDegraded HealthStatus = "degraded"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on HealthTopic at a fixed interval.
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Reason        string            `json:"reason,omitempty"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
}

// ConnectionStatus summarises the Hyperion client for health messages.
type ConnectionStatus struct {
	State          string     `json:"state"`
	Address        string     `json:"address,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	CommandsTx     uint64     `json:"commands_tx"`
	ResponsesRx    uint64     `json:"responses_rx"`
	DecodeFailures uint64     `json:"decode_failures"`
	FramesDropped  uint64     `json:"frames_dropped"`
	ErrorsTotal    uint64     `json:"errors_total"`
}

// NewHealthMessage creates a health message from client statistics.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats ClientStats, startTime time.Time) HealthMessage {
	conn := &ConnectionStatus{
		State:          stats.State.String(),
		Address:        stats.Address,
		CommandsTx:     stats.CommandsTx,
		ResponsesRx:    stats.ResponsesRx,
		DecodeFailures: stats.DecodeFailures,
		FramesDropped:  stats.FramesDropped,
		ErrorsTotal:    stats.ErrorsTotal,
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		conn.LastActivity = &last
	}

	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection:    conn,
	}
}
