// Package client ties together transport, dispatcher, and keepalive
// into the Futu OpenD gateway client a caller actually uses: connect,
// handshake, issue request/response calls, subscribe to push streams,
// and tear everything down cleanly.
//
// Connect, Init, Request, Send, SubscribePush, and Disconnect form the
// client's whole surface. Request registers its response slot before
// sending, never after, so a reply racing the registration can never be
// missed. The receive loop selects over a fresh recv, the keepalive
// driver's death signal, and its own cancellation — any one of the
// three ends it the same way. The constructor takes its logger and
// metrics collectors as explicit dependencies rather than reaching for
// package-level globals, and Disconnect tears down in a fixed order
// (clear pending, stop keepalive, stop the receive loop, close the
// socket) aggregating whatever errors surface along the way instead of
// stopping at the first one. Request and Send both run through the
// middleware chain (logging, metrics, and an optional rate limiter)
// before reaching the transport. A finalizer backstops callers that
// drop a Client without calling Disconnect; it runs only once the
// Client is unreachable, and the receive-loop and keepalive goroutines
// of a Ready client hold references to it, so a dropped Ready client is
// not finalized until both of those goroutines have exited.
package client

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"futuopend/config"
	"futuopend/dispatcher"
	"futuopend/ferrors"
	"futuopend/keepalive"
	"futuopend/message"
	"futuopend/metrics"
	"futuopend/middleware"
	"futuopend/protocol"
	"futuopend/transport"
)

// State is the client lifecycle state machine from spec §4.6.
type State int

const (
	StateCreated State = iota
	StateConnected
	StateReady
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Option configures optional collaborators a Client builds for itself
// when not supplied.
type Option func(*Client)

// WithLogger overrides the no-op default logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics overrides the no-op default metrics collectors.
func WithMetrics(mc *metrics.Collectors) Option {
	return func(c *Client) { c.metrics = mc }
}

// WithRateLimit enables the optional client-side outgoing-request
// throttle: r requests per second, with burst allowed to accumulate.
// Off by default.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		c.rateLimitEnabled = true
		c.rateLimitRPS = r
		c.rateLimitBurst = burst
	}
}

// Client is a connection to one Futu OpenD gateway process.
type Client struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Collectors

	rateLimitEnabled bool
	rateLimitRPS     float64
	rateLimitBurst   int
	chain            middleware.Middleware

	mu    sync.Mutex
	state State

	conn       *transport.Connection
	dispatcher *dispatcher.Dispatcher
	keepalive  *keepalive.Driver

	handshake *message.HandshakeResponse

	keepaliveCtx    context.Context
	keepaliveCancel context.CancelFunc
	keepaliveDone   chan struct{}

	recvCtx    context.Context
	recvCancel context.CancelFunc
	recvDone   chan struct{}
}

// New builds a Client in the Created state. Connect must be called
// before Init.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: metrics.NewNoop(),
		state:   StateCreated,
	}
	for _, opt := range opts {
		opt(c)
	}

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(c.logger),
		middleware.MetricsMiddleware(c.metrics),
	}
	if c.rateLimitEnabled {
		mws = append(mws, middleware.RateLimitMiddleware(c.rateLimitRPS, c.rateLimitBurst))
	}
	c.chain = middleware.Chain(mws...)

	runtime.SetFinalizer(c, (*Client).finalize)
	return c
}

// finalize is the safety net the garbage collector runs if a Client is
// dropped without an explicit Disconnect: it aborts the keepalive and
// receive-loop goroutines and closes the socket, the same aborts
// Disconnect performs explicitly. It never blocks waiting for those
// goroutines to exit — a reachable, still-running Request or Send call
// would itself keep the Client reachable, so finalize only ever runs
// once nothing is in flight. The receive loop and keepalive goroutine
// also reference the Client, so for a Ready client the garbage
// collector runs finalize only after both have exited on their own
// (the connection died or keepalive gave up); it does not stop a
// healthy connection whose Client was dropped.
func (c *Client) finalize() {
	c.mu.Lock()
	if c.state == StateTerminal {
		c.mu.Unlock()
		return
	}
	kaCancel := c.keepaliveCancel
	recvCancel := c.recvCancel
	conn := c.conn
	c.state = StateTerminal
	c.mu.Unlock()

	if kaCancel != nil {
		kaCancel()
	}
	if recvCancel != nil {
		recvCancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// State reports the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway, moving Created → Connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCreated {
		return ferrors.InvalidState("Connect requires state Created")
	}

	conn, err := transport.Connect(c.cfg, c.logger, c.metrics)
	if err != nil {
		return err
	}
	c.conn = conn
	c.state = StateConnected
	return nil
}

// Init performs the InitConnect handshake, then starts the receive
// loop and keepalive driver. Idempotent: a second call returns the
// cached response. Valid in Connected and Ready.
func (c *Client) Init() (*message.HandshakeResponse, error) {
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateReady {
		c.mu.Unlock()
		return nil, ferrors.InvalidState("Init requires state Connected or Ready")
	}
	if c.handshake != nil {
		resp := c.handshake
		c.mu.Unlock()
		return resp, nil
	}
	conn := c.conn
	c.mu.Unlock()

	encAlgo := message.EncAlgoNone
	if c.cfg.EnableEncryption {
		encAlgo = message.EncAlgoAESECB
	}
	req := &message.HandshakeRequest{
		ClientVer:           c.cfg.ClientVer,
		ClientID:            c.cfg.ClientID,
		RecvNotify:          true,
		PacketEncAlgo:       encAlgo,
		PushProtoFmt:        message.PushProtoFmtTagged,
		ProgrammingLanguage: "Go",
	}
	body := message.EncodeHandshakeRequest(req)

	if _, err := conn.Send(message.ProtoIDInitConnect, body); err != nil {
		return nil, err
	}

	frame, err := conn.Recv()
	if err != nil {
		return nil, err
	}
	if frame.ProtoID != message.ProtoIDInitConnect {
		return nil, ferrors.UnexpectedProto(frame.ProtoID)
	}

	resp, err := message.DecodeHandshakeResponse(frame.Body)
	if err != nil {
		return nil, err
	}
	if resp.RetType != 0 {
		return nil, ferrors.ServerError(resp.ErrCode, resp.RetMsg)
	}

	if c.cfg.EnableEncryption {
		key := []byte(resp.ConnAESKey)
		if len(key) == 16 {
			if err := conn.SetCipher(key); err != nil {
				return nil, err
			}
			c.logger.Info("AES-ECB encryption enabled")
		} else {
			c.logger.Warn("encryption requested but conn_aes_key has unexpected length",
				zap.Int("key_len", len(key)))
		}
	}
	conn.SetConnID(resp.ConnID)

	c.logger.Info("InitConnect success",
		zap.Int32("server_ver", resp.ServerVer),
		zap.Uint64("conn_id", resp.ConnID),
		zap.Int32("keepalive_interval", resp.KeepAliveInterval))

	c.mu.Lock()
	c.handshake = resp
	c.dispatcher = dispatcher.New(c.logger, c.metrics)
	c.keepalive = keepalive.New(conn, resp.KeepAliveInterval, c.logger, c.metrics)
	c.keepaliveCtx, c.keepaliveCancel = context.WithCancel(context.Background())
	c.keepaliveDone = make(chan struct{})
	c.recvCtx, c.recvCancel = context.WithCancel(context.Background())
	c.recvDone = make(chan struct{})
	c.state = StateReady
	c.mu.Unlock()

	go c.runReceiveLoop()
	go func() {
		defer close(c.keepaliveDone)
		c.keepalive.Run(c.keepaliveCtx)
	}()

	return resp, nil
}

// runReceiveLoop reads frames and dispatches them until the connection
// dies, a fatal receive error occurs, or the keepalive driver signals
// the socket is dead. On exit it clears all pending requests so no
// caller blocks forever.
func (c *Client) runReceiveLoop() {
	defer close(c.recvDone)

	type recvResult struct {
		frame *protocol.Frame
		err   error
	}

	for {
		results := make(chan recvResult, 1)
		go func() {
			frame, err := c.conn.Recv()
			results <- recvResult{frame: frame, err: err}
		}()

		select {
		case res := <-results:
			if res.err != nil {
				c.logger.Warn("receive loop exiting", zap.Error(res.err))
				c.dispatcher.ClearPending(res.err)
				return
			}
			c.dispatcher.Dispatch(res.frame)

		case <-c.keepalive.Dead():
			c.logger.Warn("receive loop exiting: keepalive dead")
			c.dispatcher.ClearPending(ferrors.Disconnected)
			return

		case <-c.recvCtx.Done():
			c.dispatcher.ClearPending(ferrors.Disconnected)
			return
		}
	}
}

// Request sends body under protoID, waits for the correlated response,
// and returns its frame. Valid only in Ready. The call runs through the
// middleware chain (logging, metrics, and the optional rate limiter)
// before reaching the transport.
func (c *Client) Request(protoID uint32, body []byte) (*protocol.Frame, error) {
	var frame *protocol.Frame
	handler := c.chain(func(ctx context.Context, protoID uint32, body []byte) ([]byte, error) {
		f, err := c.doRequest(protoID, body)
		if err != nil {
			return nil, err
		}
		frame = f
		return f.Body, nil
	})
	if _, err := handler(context.Background(), protoID, body); err != nil {
		return nil, err
	}
	return frame, nil
}

func (c *Client) doRequest(protoID uint32, body []byte) (*protocol.Frame, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil, ferrors.InvalidState("Request requires state Ready")
	}
	conn, disp := c.conn, c.dispatcher
	c.mu.Unlock()

	serialNo := conn.NextSerial()
	respCh := disp.RegisterRequest(serialNo)

	if err := conn.SendWithSerial(protoID, body, serialNo); err != nil {
		disp.UnregisterRequest(serialNo)
		return nil, err
	}

	res := <-respCh
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Frame, nil
}

// Send writes body under protoID without waiting for a response,
// returning the serial number used. Valid only in Ready. Like Request,
// it runs through the middleware chain before reaching the transport.
func (c *Client) Send(protoID uint32, body []byte) (uint32, error) {
	var serialNo uint32
	handler := c.chain(func(ctx context.Context, protoID uint32, body []byte) ([]byte, error) {
		sn, err := c.doSend(protoID, body)
		if err != nil {
			return nil, err
		}
		serialNo = sn
		return nil, nil
	})
	if _, err := handler(context.Background(), protoID, body); err != nil {
		return 0, err
	}
	return serialNo, nil
}

func (c *Client) doSend(protoID uint32, body []byte) (uint32, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return 0, ferrors.InvalidState("Send requires state Ready")
	}
	conn := c.conn
	c.mu.Unlock()

	return conn.Send(protoID, body)
}

// SubscribePush registers a push stream for protoID. Valid only in
// Ready. Multiple subscribers to the same protoID each see every
// matching frame.
func (c *Client) SubscribePush(protoID uint32) (<-chan *protocol.Frame, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil, ferrors.InvalidState("SubscribePush requires state Ready")
	}
	disp := c.dispatcher
	c.mu.Unlock()

	return disp.SubscribePush(protoID), nil
}

// Disconnect clears pending awaiters first so they observe
// Disconnected, then stops the keepalive driver, then stops the
// receive loop, then closes the socket. Valid in any state. Safe to
// call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateTerminal {
		c.mu.Unlock()
		return nil
	}
	disp := c.dispatcher
	kaCancel := c.keepaliveCancel
	kaDone := c.keepaliveDone
	recvCancel := c.recvCancel
	recvDone := c.recvDone
	conn := c.conn
	c.state = StateTerminal
	c.mu.Unlock()

	var errs error

	if disp != nil {
		disp.ClearPending(ferrors.Disconnected)
	}
	if kaCancel != nil {
		kaCancel()
	}
	if kaDone != nil {
		<-kaDone
	}
	if recvCancel != nil {
		recvCancel()
	}
	if recvDone != nil {
		<-recvDone
	}
	if disp != nil {
		disp.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	runtime.SetFinalizer(c, nil)
	c.logger.Info("disconnected from gateway")
	return errs
}
