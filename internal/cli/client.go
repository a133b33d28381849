// Package cli is the client side of the daemon protocol, used by the
// command-line wrappers.
package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/leonletto/msgbridge/internal/types"
)

// RPCError is a structured failure from the daemon. The Kind field carries
// the bridge's error taxonomy when the daemon classified the failure.
type RPCError struct {
	Code    int
	Message string
	Kind    types.Kind
	Detail  string
}

func (e *RPCError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon error %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC to the daemon over its unix socket. Connect performs
// the initialize handshake, so a constructed client is ready to call.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex // serializes call/response pairs
	nextID  atomic.Uint64
	decoder *json.Decoder

	// Tools is the daemon's tool advertisement from the handshake.
	Tools []ToolInfo
}

// ToolInfo mirrors the daemon's tool advertisement.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type initializeResult struct {
	Protocol string     `json:"protocol"`
	Server   string     `json:"server"`
	Version  string     `json:"version"`
	Tools    []ToolInfo `json:"tools"`
}

// Connect dials the daemon and performs the initialize handshake.
func Connect(socketPath, clientName, version string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s (is it running?): %w", socketPath, err)
	}

	c := &Client{conn: conn, decoder: json.NewDecoder(conn)}

	var init initializeResult
	if err := c.Call("initialize", map[string]string{"client": clientName, "version": version}, &init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	c.Tools = init.Tools
	return c, nil
}

// Call performs one request/response round trip.
func (c *Client) Call(method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)
	request := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		request["params"] = params
	}
	if err := json.NewEncoder(c.conn).Encode(request); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var response struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      uint64          `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    struct {
				Kind   string `json:"kind"`
				Detail string `json:"detail"`
			} `json:"data,omitempty"`
		} `json:"error,omitempty"`
	}
	if err := c.decoder.Decode(&response); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if response.ID != id {
		return fmt.Errorf("response id %d does not match request id %d", response.ID, id)
	}

	if response.Error != nil {
		return &RPCError{
			Code:    response.Error.Code,
			Message: response.Error.Message,
			Kind:    types.Kind(response.Error.Data.Kind),
			Detail:  response.Error.Data.Detail,
		}
	}
	if result != nil && len(response.Result) > 0 {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// CallTool invokes one registered tool through tools.call.
func (c *Client) CallTool(name string, args map[string]any, result any) error {
	return c.Call("tools.call", map[string]any{"name": name, "args": args}, result)
}

// Close closes the daemon connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
