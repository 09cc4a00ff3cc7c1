package hyperion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default timeouts and sizes for Hyperion communication.
const (
	// DefaultPort is the Hyperion JSON server port.
	DefaultPort = 19444

	// defaultConnectTimeout is the maximum time to wait for the TCP dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for writing one command frame.
	defaultWriteTimeout = 5 * time.Second

	// defaultReadBufferSize is the size of the socket read buffer.
	defaultReadBufferSize = 4096

	// defaultInboxSize is the number of decoded-order frames held for
	// the next Send before the oldest is dropped.
	defaultInboxSize = 64
)

// State is the connection state of a Client.
type State int32

// Client states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateChange describes one transition of the client state machine.
type StateChange struct {
	State    State
	Previous State
	Address  string
	Err      error // Cause of the transition, nil for requested transitions
	Time     time.Time
}

// ClientConfig holds Hyperion client configuration.
type ClientConfig struct {
	// Priority is attached to color and effect commands.
	// Default: 1000.
	Priority int

	// ConnectTimeout bounds the TCP dial.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds writing a single command frame.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// ReadBufferSize is the socket read buffer size in bytes.
	// Default: 4096.
	ReadBufferSize int

	// MaxFrameSize bounds a single inbound frame in bytes.
	// Default: 1 MiB.
	MaxFrameSize int

	// InboxSize is the number of unclaimed frames kept for later sends.
	// Default: 64.
	InboxSize int

	// Dialer opens the TCP connection. Default: a zero net.Dialer.
	Dialer Dialer
}

// Dialer opens network connections. *net.Dialer satisfies it; tests
// substitute an in-memory transport.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ClientStats holds operational statistics.
type ClientStats struct {
	CommandsTx     uint64
	ResponsesRx    uint64
	FramesRx       uint64
	FramesDropped  uint64 // Unsolicited frames, or frames pushed out of a full inbox
	DecodeFailures uint64
	ErrorsTotal    uint64
	ConnectsTotal  uint64
	BytesRx        uint64
	LastActivity   time.Time
	State          State
	Address        string
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder receives one call per completed command exchange.
// Implementations must not block.
type Recorder interface {
	RecordExchange(command string, duration time.Duration, outcome string)
}

// Exchange outcomes passed to Recorder.
const (
	OutcomeOK            = "ok"
	OutcomeEmpty         = "empty"
	OutcomeDecodeFailure = "decode_failure"
	OutcomeTransport     = "transport_error"
	OutcomeTimeout       = "timeout"
)

// Controller is the surface consumed by the HTTP and MQTT bridges.
type Controller interface {
	Connect(ctx context.Context, address string, port int) error
	Send(ctx context.Context, cmd Command) (Response, error)
	GetServerInfo(ctx context.Context) (Response, error)
	Clear(ctx context.Context) (Response, error)
	SetColor(ctx context.Context, rgb RGB) (Response, error)
	SetEffect(ctx context.Context, name string, args any) (Response, error)
	Disconnect() error
	IsConnected() bool
	State() State
	Stats() ClientStats
}

// Ensure Client implements Controller.
var _ Controller = (*Client)(nil)

// Client owns one TCP connection to a Hyperion server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Sends are admitted one at a time in FIFO order; each waits for the
//     next frame on the connection.
//
// Reconnection:
//   - The client never reconnects on its own. After a transport error it
//     is Disconnected and Connect may be called again.
type Client struct {
	cfg ClientConfig

	// Connection state
	mu        sync.RWMutex
	state     State
	address   string
	sess      *session
	attempt   uint64
	abortDial context.CancelFunc

	// sendSem admits one in-flight command per client.
	sendSem *semaphore.Weighted

	onStateChange func(StateChange)
	callbackMu    sync.RWMutex

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	recorder   Recorder
	recorderMu sync.RWMutex

	// Statistics
	commandsTx     atomic.Uint64
	responsesRx    atomic.Uint64
	framesRx       atomic.Uint64
	framesDropped  atomic.Uint64
	decodeFailures atomic.Uint64
	errorsTotal    atomic.Uint64
	connectsTotal  atomic.Uint64
	bytesRx        atomic.Uint64
	lastActivity   atomic.Int64 // Unix timestamp
}

// session is the per-connection state: socket, framer and reply inbox.
// A session is never reused; Connect creates a fresh one.
type session struct {
	conn  net.Conn
	inbox chan string
	dead  *closeOnce
	done  chan struct{} // closed when the reader goroutine exits

	// awaiting is set while a Send has written its command and nothing
	// queued can answer it. Frames read while it is clear are discarded.
	awaitMu  sync.Mutex
	awaiting bool

	errOnce sync.Once
	err     error
}

// fail records cause, closes the socket and wakes every waiter.
// Only the first cause is kept.
func (s *session) fail(cause error) {
	s.errOnce.Do(func() {
		s.err = cause
		s.conn.Close()
		s.dead.Close()
	})
}

// expectReply marks the session as waiting for a reply, unless a batch
// that answered an earlier command left a frame queued for this one.
func (s *session) expectReply() {
	s.awaitMu.Lock()
	defer s.awaitMu.Unlock()
	if len(s.inbox) == 0 {
		s.awaiting = true
	}
}

// abandonReply clears the waiting mark after a command was not sent.
func (s *session) abandonReply() {
	s.awaitMu.Lock()
	s.awaiting = false
	s.awaitMu.Unlock()
}

// Err returns the error that ended the session.
func (s *session) Err() error {
	select {
	case <-s.dead.Done():
		return s.err
	default:
		return nil
	}
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// NewClient creates a disconnected client. Zero config fields take their
// defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}

	return &Client{
		cfg:     cfg,
		sendSem: semaphore.NewWeighted(1),
	}
}

// Connect opens a TCP connection to address:port.
//
// Connect is valid only while Disconnected. The client moves to Connecting
// immediately and to Connected once the dial succeeds. On failure it
// returns to Disconnected.
//
// Parameters:
//   - ctx: Context for cancellation of the dial
//   - address: Server host name or IP
//   - port: Server TCP port
//
// Returns:
//   - error: ErrConnectInProgress or ErrAlreadyConnected on misuse,
//     ErrConnectionFailed if the dial fails
func (c *Client) Connect(ctx context.Context, address string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrConnectionFailed, port)
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.attempt++
	attempt := c.attempt
	c.state = StateConnecting
	c.address = target
	c.abortDial = cancel
	c.mu.Unlock()

	c.emitStateChange(StateConnecting, StateDisconnected, target, nil)

	conn, err := c.cfg.Dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		c.errorsTotal.Add(1)
		err = fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, target, err)

		c.mu.Lock()
		current := c.state == StateConnecting && c.attempt == attempt
		if current {
			c.state = StateDisconnected
			c.abortDial = nil
		}
		c.mu.Unlock()

		if current {
			c.emitStateChange(StateDisconnected, StateConnecting, target, err)
		}
		c.logError("connect failed", err, "address", target)
		return err
	}

	sess := &session{
		conn:  conn,
		inbox: make(chan string, c.cfg.InboxSize),
		dead:  newCloseOnce(),
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.attempt != attempt {
		// Disconnect was called while dialling.
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ErrConnectionClosed)
	}
	c.state = StateConnected
	c.sess = sess
	c.abortDial = nil
	c.mu.Unlock()

	c.connectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	go c.readLoop(sess)

	c.emitStateChange(StateConnected, StateConnecting, target, nil)
	c.logInfo("connected to hyperion", "address", target)
	return nil
}

// readLoop reads the socket, frames the bytes and queues frames for Send.
// It is the only goroutine touching the session's Framer.
func (c *Client) readLoop(sess *session) {
	defer close(sess.done)

	framer := NewFramer(c.cfg.MaxFrameSize)
	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			c.bytesRx.Add(uint64(n))
			c.lastActivity.Store(time.Now().Unix())

			// Frames completed by the chunk are delivered even when its
			// tail overflows the limit.
			ferr := framer.Append(buf[:n])
			c.deliver(sess, framer.Extract())
			if ferr != nil {
				c.errorsTotal.Add(1)
				c.dropSession(sess, fmt.Errorf("%w: %w", ErrTransport, ferr))
				return
			}
		}

		if err != nil {
			// A session failed locally already holds its cause.
			if sess.Err() != nil {
				return
			}
			var cause error
			if errors.Is(err, io.EOF) {
				cause = fmt.Errorf("%w: %w", ErrTransport, ErrConnectionClosed)
			} else {
				c.errorsTotal.Add(1)
				cause = fmt.Errorf("%w: read: %w", ErrTransport, err)
			}
			c.dropSession(sess, cause)
			return
		}
	}
}

// deliver passes one read's worth of frames to the waiting Send. The first
// frame answers it and the rest stay queued for the sends that follow.
// With no Send waiting the whole batch is unsolicited and dropped.
func (c *Client) deliver(sess *session, frames []string) {
	if len(frames) == 0 {
		return
	}
	c.framesRx.Add(uint64(len(frames)))

	sess.awaitMu.Lock()
	defer sess.awaitMu.Unlock()

	if !sess.awaiting {
		c.framesDropped.Add(uint64(len(frames)))
		c.logWarn("discarding unsolicited frames", "count", len(frames))
		return
	}
	sess.awaiting = false
	for _, frame := range frames {
		c.enqueue(sess, frame)
	}
}

// enqueue hands a frame to the inbox, discarding the oldest unclaimed
// frame when the inbox is full.
func (c *Client) enqueue(sess *session, frame string) {
	for {
		select {
		case sess.inbox <- frame:
			return
		default:
		}

		select {
		case <-sess.inbox:
			c.framesDropped.Add(1)
			c.logWarn("inbox full, dropping oldest frame")
		default:
		}
	}
}

// dropSession ends sess with cause and, if sess is still the active
// session, moves the client to Disconnected.
func (c *Client) dropSession(sess *session, cause error) {
	sess.fail(cause)

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateDisconnected
	address := c.address
	c.mu.Unlock()

	c.emitStateChange(StateDisconnected, StateConnected, address, cause)
	c.logError("connection lost", cause, "address", address)
}

// Send writes cmd and waits for the next frame from the server.
//
// Sends are admitted one at a time in arrival order. The reply is the first
// frame of the next read that carries one, or a frame left queued by a
// read that answered the previous send with more than one frame. Frames
// read while no send is waiting are discarded. Malformed replies
// are returned as a Response with Kind ResponseDecodeFailure and a nil
// error; they do not affect the connection.
//
// There is no internal reply timeout. If ctx ends while the reply is
// outstanding, the connection is dropped so that a late frame cannot be
// taken as the reply to a later command.
//
// Parameters:
//   - ctx: Context bounding the wait for a turn and for the reply
//   - cmd: Command to send
//
// Returns:
//   - Response: Decoded reply
//   - error: ErrNotConnected, ErrInvalidCommand, ErrTransport or ErrTimeout
func (c *Client) Send(ctx context.Context, cmd Command) (Response, error) {
	if !c.IsConnected() {
		return Response{}, ErrNotConnected
	}

	frame, err := Encode(cmd)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	name := string(cmd.Command)

	if err := c.sendSem.Acquire(ctx, 1); err != nil {
		c.record(name, start, OutcomeTimeout)
		return Response{}, fmt.Errorf("%w: waiting for turn: %w", ErrTimeout, err)
	}
	defer c.sendSem.Release(1)

	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()

	// The connection may have gone while this call was queued.
	if sess == nil {
		return Response{}, ErrNotConnected
	}
	if err := sess.Err(); err != nil {
		return Response{}, err
	}

	sess.expectReply()
	if err := c.write(ctx, sess, frame); err != nil {
		sess.abandonReply()
		outcome := OutcomeTransport
		if errors.Is(err, ErrTimeout) {
			outcome = OutcomeTimeout
		}
		c.record(name, start, outcome)
		return Response{}, err
	}
	c.commandsTx.Add(1)
	c.logDebug("command sent", "command", name)

	select {
	case raw := <-sess.inbox:
		return c.resolve(name, start, raw), nil

	case <-sess.dead.Done():
		// Prefer a reply that arrived before the connection went away.
		select {
		case raw := <-sess.inbox:
			return c.resolve(name, start, raw), nil
		default:
		}
		c.record(name, start, OutcomeTransport)
		return Response{}, sess.Err()

	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		c.errorsTotal.Add(1)
		c.dropSession(sess, err)
		c.record(name, start, OutcomeTimeout)
		return Response{}, err
	}
}

// write sends one frame, honouring the earlier of the write timeout and
// the context deadline.
func (c *Client) write(ctx context.Context, sess *session, frame []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := sess.conn.SetWriteDeadline(deadline); err != nil {
		err = fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
		c.errorsTotal.Add(1)
		c.dropSession(sess, err)
		return err
	}

	if _, err := sess.conn.Write(frame); err != nil {
		if cause := sess.Err(); cause != nil {
			return cause
		}
		err = fmt.Errorf("%w: write: %w", ErrTransport, err)
		c.errorsTotal.Add(1)
		c.dropSession(sess, err)
		return err
	}

	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// resolve decodes a reply frame and updates statistics.
func (c *Client) resolve(command string, start time.Time, raw string) Response {
	resp := Decode(raw)
	c.responsesRx.Add(1)

	switch resp.Kind {
	case ResponseDecodeFailure:
		c.decodeFailures.Add(1)
		c.logWarn("reply is not valid JSON", "command", command, "error", resp.Err)
		c.record(command, start, OutcomeDecodeFailure)
	case ResponseEmpty:
		c.record(command, start, OutcomeEmpty)
	default:
		c.record(command, start, OutcomeOK)
	}
	return resp
}

// GetServerInfo requests the server's information block.
func (c *Client) GetServerInfo(ctx context.Context) (Response, error) {
	return c.Send(ctx, ServerInfoCommand())
}

// Clear clears every priority channel on the server.
func (c *Client) Clear(ctx context.Context) (Response, error) {
	return c.Send(ctx, ClearAllCommand())
}

// SetColor sets a static colour at the configured priority.
func (c *Client) SetColor(ctx context.Context, rgb RGB) (Response, error) {
	return c.Send(ctx, ColorCommand(rgb, c.cfg.Priority))
}

// SetEffect starts a named effect at the configured priority.
func (c *Client) SetEffect(ctx context.Context, name string, args any) (Response, error) {
	return c.Send(ctx, EffectCommand(name, args, c.cfg.Priority))
}

// Disconnect closes the connection from any state.
//
// A pending Send fails with ErrConnectionClosed and an in-progress Connect
// is abandoned. Calling Disconnect on a disconnected client is a no-op.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Disconnect() error {
	c.mu.Lock()
	prev := c.state
	if prev == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	abort := c.abortDial
	address := c.address
	c.sess = nil
	c.abortDial = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if abort != nil {
		abort()
	}
	if sess != nil {
		sess.fail(fmt.Errorf("%w: %w", ErrTransport, ErrConnectionClosed))
		<-sess.done
	}

	c.emitStateChange(StateDisconnected, prev, address, nil)
	c.logInfo("disconnected from hyperion", "address", address)
	return nil
}

// IsConnected returns true while the client is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Priority returns the priority attached to color and effect commands.
func (c *Client) Priority() int {
	return c.cfg.Priority
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	state, address := c.state, c.address
	c.mu.RUnlock()

	var last time.Time
	if ts := c.lastActivity.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}

	return ClientStats{
		CommandsTx:     c.commandsTx.Load(),
		ResponsesRx:    c.responsesRx.Load(),
		FramesRx:       c.framesRx.Load(),
		FramesDropped:  c.framesDropped.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
		ConnectsTotal:  c.connectsTotal.Load(),
		BytesRx:        c.bytesRx.Load(),
		LastActivity:   last,
		State:          state,
		Address:        address,
	}
}

// HealthCheck verifies the connection is alive.
//
// Note: This only checks connection state. Sending serverinfo would tie up
// the single command slot.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnStateChange sets the callback for state transitions.
//
// The callback runs synchronously on the goroutine that caused the
// transition and must not call back into the client's Connect or
// Disconnect. Panics are recovered and logged.
func (c *Client) SetOnStateChange(callback func(StateChange)) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetRecorder sets the exchange recorder for this client.
func (c *Client) SetRecorder(recorder Recorder) {
	c.recorderMu.Lock()
	c.recorder = recorder
	c.recorderMu.Unlock()
}

func (c *Client) emitStateChange(state, prev State, address string, cause error) {
	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("state change callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(StateChange{
		State:    state,
		Previous: prev,
		Address:  address,
		Err:      cause,
		Time:     time.Now(),
	})
}

func (c *Client) record(command string, start time.Time, outcome string) {
	c.recorderMu.RLock()
	recorder := c.recorder
	c.recorderMu.RUnlock()

	if recorder != nil {
		recorder.RecordExchange(command, time.Since(start), outcome)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
