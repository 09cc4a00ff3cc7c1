package hyperion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultCommandTimeout bounds one MQTT-initiated exchange.
	defaultCommandTimeout = 10 * time.Second

	// commandQueueSize is how many MQTT requests may wait for the worker.
	commandQueueSize = 32

	// commandTopicParts is hyperion/{bridge}/command/{action}.
	commandTopicParts = 4

	qosAtLeastOnce byte = 1
)

// Bridge exposes a Controller over MQTT. Requests arriving on the
// command topics are executed in arrival order by a single worker and
// answered on the response topics.
type Bridge struct {
	bridgeID       string
	mqtt           MQTTClient
	controller     Controller
	health         *HealthReporter
	address        string
	port           int
	commandTimeout time.Duration

	queue chan request

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	requestsRx    atomic.Uint64
	responsesTx   atomic.Uint64
	rejected      atomic.Uint64
	publishErrors atomic.Uint64
}

// MQTTClient is the subset of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// BridgeID names the topic namespace. Required.
	BridgeID string

	// Version is reported in health messages.
	Version string

	MQTTClient MQTTClient
	Controller Controller

	// Address and Port are used by the connect action when the request
	// does not name a server.
	Address string
	Port    int

	// CommandTimeout bounds each exchange. Default: 10 seconds.
	CommandTimeout time.Duration

	// HealthInterval is the health publish period. Default: 30 seconds.
	HealthInterval time.Duration

	Logger Logger
}

type request struct {
	action string
	msg    CommandMessage
}

// NewBridge validates opts and builds a Bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, errors.New("hyperion: bridge ID is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("hyperion: MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("hyperion: controller is required")
	}

	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	b := &Bridge{
		bridgeID:       opts.BridgeID,
		mqtt:           opts.MQTTClient,
		controller:     opts.Controller,
		address:        opts.Address,
		port:           port,
		commandTimeout: timeout,
		queue:          make(chan request, commandQueueSize),
		logger:         opts.Logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.BridgeID,
		Version:    opts.Version,
		Interval:   opts.HealthInterval,
		Publisher:  opts.MQTTClient,
		Controller: opts.Controller,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// Start subscribes to the command topics and starts the worker and
// health reporter. The bridge stops when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	//nolint:errcheck // best-effort, the periodic report follows
	b.health.PublishStarting()

	if err := b.mqtt.Subscribe(CommandSubscription(b.bridgeID), qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		b.cancel()
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	b.wg.Add(1)
	go b.worker()
	b.health.Start(b.ctx)

	b.PublishState(StateChange{
		State:    b.controller.State(),
		Previous: b.controller.State(),
		Address:  b.controller.Stats().Address,
		Time:     time.Now(),
	})

	b.logInfo("hyperion MQTT bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop drains the worker and publishes a final stopping health status.
// Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("hyperion MQTT bridge stopped")
	})
}

// PublishState publishes a state change on the retained state topic and
// refreshes health. Wire it to Client.SetOnStateChange.
func (b *Bridge) PublishState(change StateChange) {
	payload, err := json.Marshal(NewStateMessage(b.bridgeID, change))
	if err != nil {
		b.logError("failed to encode state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(b.bridgeID), payload, qosAtLeastOnce, true); err != nil {
		b.publishErrors.Add(1)
		b.logWarn("failed to publish state", "error", err)
	}
	b.health.Observe(change)
	if err := b.health.PublishNow(); err != nil {
		b.logWarn("failed to publish health", "error", err)
	}
}

// handleMQTTMessage parses a command topic and queues the request.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	b.requestsRx.Add(1)

	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[2] != "command" {
		b.logWarn("ignoring message on unexpected topic", "topic", topic)
		return
	}
	action := parts[3]

	var msg CommandMessage
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.rejected.Add(1)
			b.publishResponse(NewResponseError(uuid.NewString(), action, ErrCodeInvalidCommand,
				fmt.Sprintf("invalid payload: %v", err)))
			return
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	select {
	case b.queue <- request{action: action, msg: msg}:
	default:
		b.rejected.Add(1)
		b.publishResponse(NewResponseError(msg.ID, action, ErrCodeBridge, "bridge busy"))
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.queue:
			b.publishResponse(b.execute(req))
		}
	}
}

// execute runs one request against the controller.
func (b *Bridge) execute(req request) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	var (
		resp Response
		err  error
	)
	switch req.action {
	case ActionServerInfo:
		resp, err = b.controller.GetServerInfo(ctx)
	case ActionClear:
		resp, err = b.controller.Clear(ctx)
	case ActionColor:
		if req.msg.Color == nil {
			return NewResponseError(req.msg.ID, req.action, ErrCodeInvalidCommand, "color is required")
		}
		resp, err = b.controller.SetColor(ctx, *req.msg.Color)
	case ActionEffect:
		if req.msg.Effect == "" {
			return NewResponseError(req.msg.ID, req.action, ErrCodeInvalidCommand, "effect is required")
		}
		resp, err = b.controller.SetEffect(ctx, req.msg.Effect, req.msg.Args)
	case ActionConnect:
		address, port := b.address, b.port
		if req.msg.Address != "" {
			address = req.msg.Address
		}
		if req.msg.Port != 0 {
			port = req.msg.Port
		}
		if err := b.controller.Connect(ctx, address, port); err != nil {
			return NewResponseMessage(req.msg.ID, req.action, Response{}, err)
		}
		return NewResponseMessage(req.msg.ID, req.action, Response{Kind: ResponseValue, Value: true}, nil)
	case ActionDisconnect:
		if err := b.controller.Disconnect(); err != nil {
			return NewResponseMessage(req.msg.ID, req.action, Response{}, err)
		}
		return NewResponseMessage(req.msg.ID, req.action, Response{Kind: ResponseValue, Value: true}, nil)
	default:
		return NewResponseError(req.msg.ID, req.action, ErrCodeUnknownAction,
			fmt.Sprintf("unknown action %q", req.action))
	}

	if err != nil {
		b.logWarn("hyperion command failed", "action", req.action, "request_id", req.msg.ID, "error", err)
	}
	return NewResponseMessage(req.msg.ID, req.action, resp, err)
}

func (b *Bridge) publishResponse(msg ResponseMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(b.bridgeID, msg.RequestID), payload, qosAtLeastOnce, false); err != nil {
		b.publishErrors.Add(1)
		b.logWarn("failed to publish response", "request_id", msg.RequestID, "error", err)
		return
	}
	b.responsesTx.Add(1)
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

// BridgeMetrics is a snapshot of bridge counters.
type BridgeMetrics struct {
	RequestsRx    uint64
	ResponsesTx   uint64
	Rejected      uint64
	PublishErrors uint64
	QueueDepth    int
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		RequestsRx:    b.requestsRx.Load(),
		ResponsesTx:   b.responsesTx.Load(),
		Rejected:      b.rejected.Load(),
		PublishErrors: b.publishErrors.Load(),
		QueueDepth:    len(b.queue),
	}
}
