package hyperion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// ─── Mocks ────────────────────────────────────────────────────────

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type mockMQTT struct {
	mu        sync.Mutex
	messages  []published
	handler   func(topic string, payload []byte)
	subTopic  string
	connected bool
	subErr    error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	if m.subErr != nil {
		return m.subErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subTopic = topic
	m.handler = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) deliver(topic, payload string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(topic, []byte(payload))
}

// waitFor polls until a message on a topic with the given prefix appears.
func (m *mockMQTT) waitFor(t *testing.T, prefix string) published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for _, p := range m.messages {
			if strings.HasPrefix(p.topic, prefix) {
				m.mu.Unlock()
				return p
			}
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message published under %s", prefix)
	return published{}
}

func (m *mockMQTT) last(topic string) (published, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].topic == topic {
			return m.messages[i], true
		}
	}
	return published{}, false
}

type mockController struct {
	mu        sync.Mutex
	connected bool
	calls     []string
	resp      Response
	err       error
	address   string
	port      int

	decodeFailures uint64
	framesDropped  uint64
}

func (m *mockController) record(call string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if !m.connected {
		return Response{}, ErrNotConnected
	}
	return m.resp, m.err
}

func (m *mockController) Connect(_ context.Context, address string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "connect")
	m.address, m.port = address, port
	m.connected = true
	return nil
}

func (m *mockController) Send(_ context.Context, cmd Command) (Response, error) {
	return m.record(string(cmd.Command))
}

func (m *mockController) GetServerInfo(context.Context) (Response, error) {
	return m.record("serverinfo")
}

func (m *mockController) Clear(context.Context) (Response, error) {
	return m.record("clear")
}

func (m *mockController) SetColor(_ context.Context, rgb RGB) (Response, error) {
	return m.record(fmt.Sprintf("color %v", rgb))
}

func (m *mockController) SetEffect(_ context.Context, name string, _ any) (Response, error) {
	return m.record("effect " + name)
}

func (m *mockController) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "disconnect")
	m.connected = false
	return nil
}

func (m *mockController) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockController) State() State {
	if m.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

func (m *mockController) Stats() ClientStats {
	state := m.State()
	m.mu.Lock()
	defer m.mu.Unlock()
	return ClientStats{
		State:          state,
		Address:        "10.0.0.5:19444",
		DecodeFailures: m.decodeFailures,
		FramesDropped:  m.framesDropped,
	}
}

func startBridge(t *testing.T, ctrl *mockController) (*Bridge, *mockMQTT) {
	t.Helper()
	mq := newMockMQTT()
	b, err := NewBridge(BridgeOptions{
		BridgeID:       "test",
		Version:        "1.2.3",
		MQTTClient:     mq,
		Controller:     ctrl,
		Address:        "10.0.0.5",
		CommandTimeout: time.Second,
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, mq
}

func decodeResponse(t *testing.T, p published) ResponseMessage {
	t.Helper()
	var msg ResponseMessage
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return msg
}

// ─── Construction ─────────────────────────────────────────────────

func TestNewBridge_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing id", BridgeOptions{MQTTClient: newMockMQTT(), Controller: &mockController{}}},
		{"missing mqtt", BridgeOptions{BridgeID: "x", Controller: &mockController{}}},
		{"missing controller", BridgeOptions{BridgeID: "x", MQTTClient: newMockMQTT()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() succeeded, want error")
			}
		})
	}
}

func TestBridge_StartSubscribesAndPublishesState(t *testing.T) {
	_, mq := startBridge(t, &mockController{connected: true})

	if mq.subTopic != "hyperion/test/command/+" {
		t.Errorf("subscribed to %q", mq.subTopic)
	}
	p, ok := mq.last(StateTopic("test"))
	if !ok || !p.retained {
		t.Fatalf("no retained state message")
	}
	var state StateMessage
	if err := json.Unmarshal(p.payload, &state); err != nil {
		t.Fatal(err)
	}
	if state.State != "connected" {
		t.Errorf("state = %q", state.State)
	}
	if _, ok := mq.last(HealthTopic("test")); !ok {
		t.Error("no health message published")
	}
}

func TestBridge_StartSubscribeFailure(t *testing.T) {
	mq := newMockMQTT()
	mq.subErr = errors.New("refused")
	b, err := NewBridge(BridgeOptions{BridgeID: "x", MQTTClient: mq, Controller: &mockController{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Error("Start() succeeded with failing subscribe")
	}
}

// ─── Commands ─────────────────────────────────────────────────────

func TestBridge_Actions(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		payload  string
		wantCall string
		wantOK   bool
		wantCode string
	}{
		{"serverinfo", ActionServerInfo, `{"id":"r1"}`, "serverinfo", true, ""},
		{"clear empty payload", ActionClear, ``, "clear", true, ""},
		{"color", ActionColor, `{"id":"r3","color":[255,0,0]}`, "color [255 0 0]", true, ""},
		{"color missing", ActionColor, `{"id":"r4"}`, "", false, ErrCodeInvalidCommand},
		{"effect", ActionEffect, `{"id":"r5","effect":"Rainbow swirl"}`, "effect Rainbow swirl", true, ""},
		{"effect missing", ActionEffect, `{"id":"r6"}`, "", false, ErrCodeInvalidCommand},
		{"unknown", "explode", `{"id":"r7"}`, "", false, ErrCodeUnknownAction},
		{"bad json", ActionClear, `{nope`, "", false, ErrCodeInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &mockController{connected: true, resp: Response{Kind: ResponseValue, Value: "ok"}}
			_, mq := startBridge(t, ctrl)

			mq.deliver(CommandTopic("test", tt.action), tt.payload)
			resp := decodeResponse(t, mq.waitFor(t, "hyperion/test/response/"))

			if resp.Success != tt.wantOK {
				t.Errorf("Success = %v, want %v (error %+v)", resp.Success, tt.wantOK, resp.Error)
			}
			if resp.RequestID == "" {
				t.Error("response has no request ID")
			}
			if tt.wantCode != "" && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("Error = %+v, want code %s", resp.Error, tt.wantCode)
			}

			ctrl.mu.Lock()
			defer ctrl.mu.Unlock()
			if tt.wantCall == "" && len(ctrl.calls) != 0 {
				t.Errorf("controller called: %v", ctrl.calls)
			}
			if tt.wantCall != "" && (len(ctrl.calls) != 1 || ctrl.calls[0] != tt.wantCall) {
				t.Errorf("calls = %v, want [%s]", ctrl.calls, tt.wantCall)
			}
		})
	}
}

func TestBridge_ResponseTopicUsesRequestID(t *testing.T) {
	_, mq := startBridge(t, &mockController{connected: true})
	mq.deliver(CommandTopic("test", ActionServerInfo), `{"id":"abc-123"}`)

	p := mq.waitFor(t, "hyperion/test/response/")
	if p.topic != "hyperion/test/response/abc-123" || p.retained {
		t.Errorf("response topic = %s retained=%v", p.topic, p.retained)
	}
}

func TestBridge_NotConnected(t *testing.T) {
	_, mq := startBridge(t, &mockController{})
	mq.deliver(CommandTopic("test", ActionClear), `{"id":"r"}`)

	resp := decodeResponse(t, mq.waitFor(t, "hyperion/test/response/"))
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeNotConnected {
		t.Errorf("response = %+v", resp)
	}
}

func TestBridge_DecodeFailure(t *testing.T) {
	ctrl := &mockController{connected: true, resp: Decode("not json")}
	_, mq := startBridge(t, ctrl)
	mq.deliver(CommandTopic("test", ActionServerInfo), `{"id":"r"}`)

	resp := decodeResponse(t, mq.waitFor(t, "hyperion/test/response/"))
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeDecodeFailed {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Raw != "not json" {
		t.Errorf("Raw = %q", resp.Raw)
	}
}

func TestBridge_ConnectAction(t *testing.T) {
	ctrl := &mockController{}
	_, mq := startBridge(t, ctrl)

	mq.deliver(CommandTopic("test", ActionConnect), `{"id":"c","port":19400}`)
	resp := decodeResponse(t, mq.waitFor(t, "hyperion/test/response/"))
	if !resp.Success {
		t.Fatalf("connect failed: %+v", resp.Error)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.address != "10.0.0.5" || ctrl.port != 19400 {
		t.Errorf("connected to %s:%d", ctrl.address, ctrl.port)
	}
}

func TestBridge_PreservesOrder(t *testing.T) {
	ctrl := &mockController{connected: true}
	b, mq := startBridge(t, ctrl)

	for i := range 5 {
		mq.deliver(CommandTopic("test", ActionEffect), fmt.Sprintf(`{"id":"r%d","effect":"e%d"}`, i, i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.GetMetrics().ResponsesTx < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	for i, call := range ctrl.calls {
		if want := fmt.Sprintf("effect e%d", i); call != want {
			t.Errorf("call %d = %q, want %q", i, call, want)
		}
	}
	if len(ctrl.calls) != 5 {
		t.Errorf("calls = %d, want 5", len(ctrl.calls))
	}
}

func TestBridge_IgnoresForeignTopic(t *testing.T) {
	b, mq := startBridge(t, &mockController{connected: true})
	mq.deliver("hyperion/test/other", `{}`)
	time.Sleep(20 * time.Millisecond)

	if b.GetMetrics().ResponsesTx != 0 {
		t.Error("responded to a non-command topic")
	}
}

// ─── Messages ─────────────────────────────────────────────────────

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNotConnected, ErrCodeNotConnected},
		{fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded), ErrCodeTimeout},
		{fmt.Errorf("%w: %w", ErrTransport, ErrConnectionClosed), ErrCodeTransport},
		{ErrConnectionFailed, ErrCodeTransport},
		{ErrInvalidCommand, ErrCodeInvalidCommand},
		{errors.New("other"), ErrCodeBridge},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestNewResponseMessage_Empty(t *testing.T) {
	msg := NewResponseMessage("r", ActionClear, Decode(""), nil)
	if !msg.Success || msg.Result != "" {
		t.Errorf("empty frame response = %+v", msg)
	}
}

func TestNewStateMessage(t *testing.T) {
	msg := NewStateMessage("b", StateChange{
		State:    StateDisconnected,
		Previous: StateConnected,
		Address:  "h:1",
		Err:      ErrConnectionClosed,
		Time:     time.Now(),
	})
	if msg.State != "disconnected" || msg.Previous != "connected" || msg.Reason == "" {
		t.Errorf("state message = %+v", msg)
	}
}

// ─── Health ───────────────────────────────────────────────────────

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		hyperionUp bool
		want       HealthStatus
	}{
		{"all up", true, true, HealthHealthy},
		{"mqtt down", false, true, HealthDegraded},
		{"hyperion down", true, false, HealthDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := newMockMQTT()
			mq.connected = tt.mqttUp
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:   "b",
				Version:    "v",
				Publisher:  mq,
				Controller: &mockController{connected: tt.hyperionUp},
			})
			if err := h.PublishNow(); err != nil {
				t.Fatal(err)
			}
			p, ok := mq.last(HealthTopic("b"))
			if !ok || !p.retained {
				t.Fatal("no retained health message")
			}
			var msg HealthMessage
			if err := json.Unmarshal(p.payload, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Status != tt.want {
				t.Errorf("status = %s, want %s", msg.Status, tt.want)
			}
			if msg.Connection == nil || msg.Connection.Address != "10.0.0.5:19444" {
				t.Errorf("connection = %+v", msg.Connection)
			}
		})
	}
}

// lastHealth decodes the most recent health message.
func lastHealth(t *testing.T, mq *mockMQTT, bridgeID string) HealthMessage {
	t.Helper()
	p, ok := mq.last(HealthTopic(bridgeID))
	if !ok {
		t.Fatal("no health message")
	}
	var msg HealthMessage
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHealthReporter_CounterGrowthDegrades(t *testing.T) {
	mq := newMockMQTT()
	ctrl := &mockController{connected: true}
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Publisher: mq, Controller: ctrl})

	steps := []struct {
		name       string
		bad, drop  uint64
		wantStatus HealthStatus
		wantReason string
	}{
		{"clean", 0, 0, HealthHealthy, ""},
		{"garbage reply", 2, 0, HealthDegraded, "2 undecodable replies since last report"},
		{"recovered", 2, 0, HealthHealthy, ""},
		{"stray frame", 2, 1, HealthDegraded, "1 unsolicited frames since last report"},
	}
	for _, step := range steps {
		ctrl.mu.Lock()
		ctrl.decodeFailures, ctrl.framesDropped = step.bad, step.drop
		ctrl.mu.Unlock()

		if err := h.PublishNow(); err != nil {
			t.Fatal(err)
		}
		msg := lastHealth(t, mq, "b")
		if msg.Status != step.wantStatus || msg.Reason != step.wantReason {
			t.Errorf("%s: status = %s (%q), want %s (%q)", step.name, msg.Status, msg.Reason, step.wantStatus, step.wantReason)
		}
	}
}

func TestHealthReporter_ReportsLostCause(t *testing.T) {
	mq := newMockMQTT()
	ctrl := &mockController{}
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Publisher: mq, Controller: ctrl})

	h.Observe(StateChange{State: StateDisconnected, Previous: StateConnected, Err: ErrConnectionClosed})
	if err := h.PublishNow(); err != nil {
		t.Fatal(err)
	}
	msg := lastHealth(t, mq, "b")
	if msg.Status != HealthDegraded || !strings.Contains(msg.Reason, ErrConnectionClosed.Error()) {
		t.Errorf("health = %s (%q), want degraded naming the cause", msg.Status, msg.Reason)
	}

	// A reconnect clears the cause.
	h.Observe(StateChange{State: StateConnected, Previous: StateConnecting})
	ctrl.mu.Lock()
	ctrl.connected = true
	ctrl.mu.Unlock()
	if err := h.PublishNow(); err != nil {
		t.Fatal(err)
	}
	if msg := lastHealth(t, mq, "b"); msg.Status != HealthHealthy {
		t.Errorf("health after reconnect = %s (%q), want healthy", msg.Status, msg.Reason)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	mq := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Publisher: mq, Interval: time.Hour})
	h.Start(context.Background())
	h.Stop()
	h.Stop()

	p, _ := mq.last(HealthTopic("b"))
	var msg HealthMessage
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("final status = %s", msg.Status)
	}
}
