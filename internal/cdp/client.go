// File: internal/cdp/client.go
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the lifecycle state of a Client's connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAttached
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAttached:
		return "attached"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// message is a single frame on the wire. A frame carrying an id is a command
// result; a frame without one is an asynchronous event.
type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *CommandError   `json:"error,omitempty"`
}

// target is one entry of the endpoint's /json target list.
type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// EventHandler receives asynchronous protocol events. Handlers run on the
// reader goroutine in wire arrival order, so they must return promptly and
// must not issue commands inline; spawn a goroutine for anything that does.
type EventHandler func(method string, params json.RawMessage)

// Client owns one persistent websocket connection to one browser debugging
// target. It correlates commands to results by id and fans events out to
// subscribers. A Client is not reusable after Close.
type Client struct {
	logger         *zap.Logger
	connectTimeout time.Duration
	commandTimeout time.Duration

	nextID atomic.Int64

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	targetID     string
	pending      map[int64]*Pending
	subs         map[string][]EventHandler
	onDisconnect []func(error)

	// readerDone is closed by the reader goroutine on exit.
	readerDone chan struct{}
}

// NewClient creates an unconnected Client.
func NewClient(cfg config.NetworkConfig, logger *zap.Logger) *Client {
	return &Client{
		logger:         logger.Named("cdp"),
		connectTimeout: cfg.ConnectTimeout,
		commandTimeout: cfg.CommandTimeout,
		state:          StateDisconnected,
		pending:        make(map[int64]*Pending),
		subs:           make(map[string][]EventHandler),
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TargetID reports the id of the attached debugging target, if any.
func (c *Client) TargetID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetID
}

// Connect attaches to the first page target of the debugging endpoint at
// "host:port". It fails if the endpoint is unreachable or the handshake does
// not complete within the configured timeout.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect on %s connection", ErrConnection, state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	wsURL, targetID, err := c.resolveTarget(ctx, endpoint)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: websocket dial %s: %v", ErrConnection, wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.targetID = targetID
	c.state = StateAttached
	c.readerDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info("Attached to debugging target",
		zap.String("endpoint", endpoint),
		zap.String("target_id", targetID))
	return nil
}

// resolveTarget asks the endpoint's metadata server for its target list and
// picks the first page target's websocket URL. An endpoint that is already a
// ws:// URL is used as-is.
func (c *Client) resolveTarget(ctx context.Context, endpoint string) (string, string, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+endpoint+"/json", nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrConnection, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: endpoint %s unreachable: %v", ErrConnection, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: endpoint %s returned %s", ErrConnection, endpoint, resp.Status)
	}

	var targets []target
	if err := jsonAPI.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", "", fmt.Errorf("%w: decoding target list from %s: %v", ErrConnection, endpoint, err)
	}

	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, t.ID, nil
		}
	}
	// Some builds omit the type field; fall back to anything debuggable.
	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, t.ID, nil
		}
	}
	return "", "", fmt.Errorf("%w: endpoint %s exposes no debuggable page target", ErrConnection, endpoint)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send transmits a command and returns a Pending handle for its result.
// Commands may be outstanding concurrently; results are matched by id on
// arrival, not by send order.
func (c *Client) Send(method string, params any) (*Pending, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := jsonAPI.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cdp: marshaling params for %s: %w", method, err)
		}
		raw = b
	}

	c.mu.Lock()
	if c.state != StateAttached {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: send %s", ErrNotConnected, method)
	}

	id := c.nextID.Add(1)
	p := &Pending{
		id:      id,
		method:  method,
		timeout: c.commandTimeout,
		client:  c,
		ch:      make(chan outcome, 1),
	}
	c.pending[id] = p

	frame, err := jsonAPI.Marshal(message{ID: id, Method: method, Params: raw})
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: encoding %s: %w", method, err)
	}

	// The write happens under the client lock: gorilla connections support at
	// most one concurrent writer.
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: writing %s: %v", ErrConnectionLost, method, err)
	}
	c.mu.Unlock()

	return p, nil
}

// Call is Send followed by Wait. Most callers want this.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	p, err := c.Send(method, params)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Subscribe registers a handler for every event with the given method name.
// Delivery order matches arrival order on the wire.
func (c *Client) Subscribe(method string, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[method] = append(c.subs[method], h)
}

// OnDisconnect registers a callback invoked once if the connection drops
// unexpectedly. It is not invoked on a deliberate Close.
func (c *Client) OnDisconnect(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, f)
}

// Close releases the connection on every exit path: the socket is closed and
// all pending commands resolve with ErrCancelled. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	done := c.readerDone
	c.failPendingLocked(ErrCancelled)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		// Wait for the reader to observe the closed socket and exit.
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.logger.Warn("Reader did not exit promptly on close")
		}
	}
	return nil
}

// readLoop is the single background reader. It classifies each frame by the
// presence of an id: results route to the matching pending slot, events route
// to subscribers. It exits when the socket closes for any reason.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.readerDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}

		var msg message
		if err := jsonAPI.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}

		if msg.ID != 0 {
			c.resolve(&msg)
			continue
		}
		c.dispatch(msg.Method, msg.Params)
	}
}

// resolve routes a result frame to its pending command. A result with no
// matching slot (late or duplicate) is dropped and logged, never fatal.
func (c *Client) resolve(msg *message) {
	c.mu.Lock()
	p, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping result with no pending command", zap.Int64("id", msg.ID))
		return
	}

	if msg.Error != nil {
		p.ch <- outcome{err: fmt.Errorf("cdp: %s: %w", p.method, msg.Error)}
		return
	}
	p.ch <- outcome{data: msg.Result}
}

func (c *Client) dispatch(method string, params json.RawMessage) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.subs[method]))
	copy(handlers, c.subs[method])
	c.mu.Unlock()

	for _, h := range handlers {
		h(method, params)
	}
}

// teardown handles an unexpected socket drop: the connection transitions to
// Closed, pending commands resolve with ErrConnectionLost and disconnect
// callbacks fire. A drop after a deliberate Close is a no-op.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	conn := c.conn
	callbacks := c.onDisconnect
	c.onDisconnect = nil
	c.failPendingLocked(ErrConnectionLost)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Warn("Connection lost", zap.Error(cause))

	err := fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	for _, f := range callbacks {
		f(err)
	}
}

// failPendingLocked resolves every outstanding command with the given
// sentinel. Caller must hold c.mu.
func (c *Client) failPendingLocked(sentinel error) {
	for id, p := range c.pending {
		p.ch <- outcome{err: fmt.Errorf("%w: %s", sentinel, p.method)}
		delete(c.pending, id)
	}
}

// abandon drops a pending slot whose caller gave up waiting.
func (c *Client) abandon(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

type outcome struct {
	data json.RawMessage
	err  error
}

// Pending is the future for one in-flight command.
type Pending struct {
	id      int64
	method  string
	timeout time.Duration
	client  *Client
	ch      chan outcome
}

// ID returns the command id. Ids are strictly increasing and never reused
// within a connection's lifetime.
func (p *Pending) ID() int64 { return p.id }

// Wait blocks until the result arrives, the per-command timeout elapses, or
// ctx is done. On timeout the command resolves with ErrCommandTimeout and its
// slot is abandoned; any later result for it is dropped by the reader.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case o := <-p.ch:
		return o.data, o.err
	case <-timer.C:
		p.client.abandon(p.id)
		// A result may have raced the abandon; prefer it.
		select {
		case o := <-p.ch:
			return o.data, o.err
		default:
		}
		return nil, fmt.Errorf("%w: %s (id %d after %s)", ErrCommandTimeout, p.method, p.id, p.timeout)
	case <-ctx.Done():
		p.client.abandon(p.id)
		select {
		case o := <-p.ch:
			return o.data, o.err
		default:
		}
		return nil, fmt.Errorf("cdp: %s (id %d): %w", p.method, p.id, ctx.Err())
	}
}
