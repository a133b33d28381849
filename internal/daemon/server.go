// Package daemon is the long-running side of the bridge: a unix-socket
// JSON-RPC server dispatching tool calls, a store watcher, and a localhost
// event stream for new-message notifications.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/leonletto/msgbridge/internal/tool"
	"github.com/leonletto/msgbridge/internal/types"
)

// ProtocolVersion is advertised in the initialize reply and bumps only on
// incompatible framing changes.
const ProtocolVersion = "1"

// Method names clients may call.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools.list"
	MethodToolsCall  = "tools.call"
)

// Server is the unix socket RPC server. Requests are newline-framed
// JSON-RPC 2.0; after the initialize handshake each request runs on its own
// goroutine, so responses may interleave and are matched by id.
type Server struct {
	socketPath string
	registry   *tool.Registry
	version    string
	logger     *log.Logger

	listener net.Listener
	mu       sync.RWMutex
	shutdown bool
	wg       sync.WaitGroup
}

func NewServer(socketPath string, registry *tool.Registry, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "daemon: ", log.LstdFlags)
	}
	return &Server{
		socketPath: socketPath,
		registry:   registry,
		version:    version,
		logger:     logger,
	}
}

// Start begins accepting connections. It returns once the listener is up;
// serving continues until Stop.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := s.removeStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}
	s.listener = listener

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener, waits briefly for in-flight connections, and
// removes the socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return fmt.Errorf("close listener: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Printf("stop: connections still open after grace period")
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

// removeStaleSocket clears a leftover socket file, refusing when another
// daemon still answers on it.
func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is in use by another daemon", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			s.mu.RLock()
			shutdown := s.shutdown
			s.mu.RUnlock()
			if shutdown {
				return
			}
			s.logger.Printf("accept: %v", err)
			continue
		}

		s.wg.Add(1)
		c := &clientConn{
			id:     ulid.Make().String(),
			conn:   netConn,
			server: s,
		}
		go c.serve(ctx)
	}
}

// clientConn owns the per-connection state: the handshake flag and the
// write lock that serializes interleaved response frames.
type clientConn struct {
	id     string
	conn   net.Conn
	server *Server

	writeMu     sync.Mutex
	stateMu     sync.Mutex
	initialized bool
	inflight    sync.WaitGroup
}

func (c *clientConn) serve(ctx context.Context) {
	defer c.server.wg.Done()
	defer func() {
		c.inflight.Wait()
		_ = c.conn.Close()
	}()

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.server.logger.Printf("conn %s: read: %v", c.id, err)
			}
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			c.writeError(nil, -32700, "Parse error", errData(types.KindProtocolMalformed, err.Error()))
			continue
		}
		if req.JSONRPC != "2.0" {
			c.writeError(req.ID, -32600, "Invalid request",
				errData(types.KindProtocolMalformed, "jsonrpc field must be '2.0'"))
			continue
		}

		if req.Method == MethodInitialize {
			c.handleInitialize(req)
			continue
		}

		c.stateMu.Lock()
		ready := c.initialized
		c.stateMu.Unlock()
		if !ready {
			c.writeError(req.ID, -32600, "Not initialized",
				errData(types.KindProtocolMalformed, "the first call on a connection must be initialize"))
			continue
		}

		// Each post-handshake request gets its own goroutine; the write
		// lock keeps response frames whole when they interleave.
		c.inflight.Add(1)
		go func(req rpcRequest) {
			defer c.inflight.Done()
			c.dispatch(ctx, req)
		}(req)
	}
}

type initializeParams struct {
	Client  string `json:"client,omitempty"`
	Version string `json:"version,omitempty"`
}

type initializeResult struct {
	Protocol string     `json:"protocol"`
	Server   string     `json:"server"`
	Version  string     `json:"version"`
	Tools    []toolInfo `json:"tools"`
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (c *clientConn) handleInitialize(req rpcRequest) {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.writeError(req.ID, -32602, "Invalid params",
				errData(types.KindProtocolMalformed, err.Error()))
			return
		}
	}

	c.stateMu.Lock()
	c.initialized = true
	c.stateMu.Unlock()

	c.server.logger.Printf("conn %s: initialized by %s %s", c.id, orUnknown(params.Client), params.Version)
	c.writeResult(req.ID, initializeResult{
		Protocol: ProtocolVersion,
		Server:   "msgbridge",
		Version:  c.server.version,
		Tools:    c.server.toolTable(),
	})
}

func (s *Server) toolTable() []toolInfo {
	specs := s.registry.Specs()
	tools := make([]toolInfo, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, toolInfo{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Schema(),
		})
	}
	return tools
}

type toolsCallParams struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (c *clientConn) dispatch(ctx context.Context, req rpcRequest) {
	switch req.Method {
	case MethodToolsList:
		c.writeResult(req.ID, map[string]any{"tools": c.server.toolTable()})

	case MethodToolsCall:
		var params toolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.writeError(req.ID, -32602, "Invalid params",
				errData(types.KindProtocolMalformed, err.Error()))
			return
		}
		if params.Name == "" {
			c.writeError(req.ID, -32602, "Invalid params",
				errData(types.KindInvalidArguments, "tool name must not be empty"))
			return
		}

		result, err := c.server.registry.Dispatch(ctx, params.Name, params.Args)
		if err != nil {
			c.writeToolError(req.ID, params.Name, err)
			return
		}
		c.writeResult(req.ID, result)

	default:
		c.writeError(req.ID, -32601, "Method not found",
			fmt.Sprintf("method %q is not registered", req.Method))
	}
}

// writeToolError maps a dispatch failure to the wire. The error kind rides
// in the data field so clients can branch without parsing messages.
func (c *clientConn) writeToolError(id *json.RawMessage, name string, err error) {
	var unknown *tool.ErrUnknown
	if errors.As(err, &unknown) {
		c.writeError(id, -32601, "Method not found", err.Error())
		return
	}

	code := -32000
	if types.IsKind(err, types.KindInvalidArguments) || types.IsKind(err, types.KindInvalidTarget) {
		code = -32602
	}
	c.server.logger.Printf("conn %s: tool %s: %v", c.id, name, err)
	c.writeError(id, code, err.Error(), errData(types.KindOf(err), ""))
}

func (c *clientConn) writeResult(id *json.RawMessage, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.writeError(id, -32603, "Internal error", err.Error())
		return
	}
	c.writeFrame(rpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func (c *clientConn) writeError(id *json.RawMessage, code int, message string, data any) {
	c.writeFrame(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
}

// writeFrame serializes one response and writes it under the connection's
// write lock. Write failures are dropped: the peer is gone and the read
// loop will notice on its own.
func (c *clientConn) writeFrame(resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.server.logger.Printf("conn %s: marshal response: %v", c.id, err)
		return
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		c.server.logger.Printf("conn %s: write: %v", c.id, err)
	}
}

func errData(kind types.Kind, detail string) map[string]any {
	data := map[string]any{"kind": string(kind)}
	if detail != "" {
		data["detail"] = detail
	}
	return data
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown client"
	}
	return s
}

type rpcRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
