package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/pkg/toolcall"
)

const (
	protocolVersion       = "2024-11-05"
	defaultRequestTimeout = 30 * time.Second
	maxMessageSize        = 16 << 20
)

// ErrClosed is returned for calls on a connection whose server exited or
// was closed.
var ErrClosed = errors.New("mcp connection closed")

// JSON-RPC envelopes
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      *int64      `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// content item of a tools/call result
type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Client is one JSON-RPC connection to an MCP server over stdio.
type Client struct {
	server ServerConfig
	logger zerolog.Logger

	writeMu sync.Mutex
	writer  io.WriteCloser

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *rpcResponse
	closed  bool
	done    chan struct{}

	process        *exec.Cmd
	requestTimeout time.Duration
}

// Dial starts the server process and performs the initialize handshake.
// The process outlives ctx; it ends with Close.
func Dial(ctx context.Context, server ServerConfig, logger zerolog.Logger) (*Client, error) {
	if server.Command == "" {
		return nil, fmt.Errorf("mcp server %q has no command", server.Name)
	}

	cmd := exec.Command(server.Command, server.Args...)
	cmd.Env = os.Environ()
	for k, v := range server.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mcp server %q: %w", server.Name, err)
	}

	c := newClient(server, stdout, stdin, logger)
	c.process = cmd
	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// newClient attaches to an already connected stream pair.
func newClient(server ServerConfig, r io.Reader, w io.WriteCloser, logger zerolog.Logger) *Client {
	c := &Client{
		server:         server,
		logger:         logger.With().Str("component", "mcp").Str("server", server.Name).Logger(),
		writer:         w,
		pending:        make(map[int64]chan *rpcResponse),
		done:           make(chan struct{}),
		requestTimeout: defaultRequestTimeout,
	}
	go c.listen(r)
	return c
}

func (c *Client) listen(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring non-JSON line from MCP server")
			continue
		}
		// server notifications and requests carry no id we are waiting on
		if resp.ID == nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
	c.shutdown()
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "autopilot",
			"version": "0.1.0",
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("mcp initialize failed: %w", err)
	}
	return c.notify("notifications/initialized", nil)
}

func (c *Client) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.writer.Write(append(data, '\n'))
	return err
}

func (c *Client) notify(method string, params interface{}) error {
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: &id}); err != nil {
		forget()
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-c.done:
		forget()
		return nil, ErrClosed
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("mcp request %s timed out after %v", method, c.requestTimeout)
	}
}

// ListTools returns the server's tools tagged with the server name.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			InputSchema map[string]interface{} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list: %w", err)
	}

	tools := make([]ToolDescriptor, 0, len(out.Tools))
	for _, t := range out.Tools {
		if t.Name == "" {
			continue
		}
		tools = append(tools, ToolDescriptor{
			Server:      c.server.Name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// CallTool invokes one tool. A tool-level failure is an error result, not
// a Go error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (toolcall.ToolResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return toolcall.ToolResult{}, err
	}

	var out struct {
		Content []contentItem `json:"content"`
		IsError bool          `json:"isError"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return toolcall.ToolResult{}, fmt.Errorf("failed to decode tools/call: %w", err)
	}

	result := toolcall.ToolResult{Name: name, IsError: out.IsError, Content: []string{}}
	for _, item := range out.Content {
		switch item.Type {
		case "text":
			result.Content = append(result.Content, item.Text)
		case "image":
			result.Images = append(result.Images, item.Data)
		default:
			data, _ := json.Marshal(item)
			result.Content = append(result.Content, string(data))
		}
	}
	return result, nil
}

// Close stops the server.
func (c *Client) Close() error {
	c.shutdown()
	err := c.writer.Close()
	if c.process != nil && c.process.Process != nil {
		_ = c.process.Process.Kill()
		_ = c.process.Wait()
	}
	return err
}
