// File: internal/cdp/cdptest/server.go

// Package cdptest provides an in-process fake of a browser debugging endpoint
// for transport, action and crawler tests. It serves the /json metadata probe
// and a scriptable websocket command loop, so no real browser is needed.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const targetID = "CDPTEST-TARGET"

// Request is one decoded command frame received from the client under test.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handler reacts to one command. Implementations reply through the Conn,
// which also allows delayed and out-of-order replies and event emission.
type Handler func(c *Conn, req Request)

// Server is a fake debugging endpoint.
type Server struct {
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]Handler
	fallback Handler
	conns    []*Conn
	requests []Request
}

// NewServer starts a fake endpoint. Methods without a registered handler get
// an empty object result, which matches how enable-style commands behave.
func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		fallback: func(c *Conn, req Request) {
			c.Reply(req.ID, struct{}{})
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json", s.serveTargets)
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"Browser":"cdptest/1.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://%s/devtools/browser/%s"}`,
			r.Host, targetID)
	})
	mux.HandleFunc("/devtools/page/"+targetID, s.serveWS)
	s.httpSrv = httptest.NewServer(mux)
	return s
}

// Addr returns the host:port the client under test should connect to.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.httpSrv.URL, "http://")
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleResult registers a handler that immediately replies with result.
func (s *Server) HandleResult(method string, result any) {
	s.Handle(method, func(c *Conn, req Request) {
		c.Reply(req.ID, result)
	})
}

// Requests returns a copy of every command received so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// MethodCalls returns the received methods matching name, in order.
func (s *Server) MethodCalls(name string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == name {
			out = append(out, r)
		}
	}
	return out
}

// Conns returns the currently accepted connections.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

// Close shuts the endpoint down, dropping every accepted connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
	s.httpSrv.Close()
}

func (s *Server) serveTargets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `[{"id":%q,"type":"page","title":"cdptest","url":"about:blank","webSocketDebuggerUrl":"ws://%s/devtools/page/%s"}]`,
		targetID, r.Host, targetID)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &Conn{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		h, ok := s.handlers[req.Method]
		if !ok {
			h = s.fallback
		}
		s.mu.Unlock()

		h(conn, req)
	}
}

// Conn is one accepted websocket connection.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Reply sends a result frame for the given command id.
func (c *Conn) Reply(id int64, result any) {
	c.write(map[string]any{"id": id, "result": result})
}

// ReplyRaw sends a result frame with a preencoded payload.
func (c *Conn) ReplyRaw(id int64, result json.RawMessage) {
	c.write(map[string]any{"id": id, "result": result})
}

// ReplyError sends a protocol error frame for the given command id.
func (c *Conn) ReplyError(id int64, code int64, msg string) {
	c.write(map[string]any{"id": id, "error": map[string]any{"code": code, "message": msg}})
}

// Emit sends an uncorrelated event frame.
func (c *Conn) Emit(method string, params any) {
	c.write(map[string]any{"method": method, "params": params})
}

// Drop severs the connection abruptly, as a crashed browser would.
func (c *Conn) Drop() {
	c.ws.Close()
}

func (c *Conn) write(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteJSON(v)
}
