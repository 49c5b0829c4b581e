package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/autopilot/pkg/toolcall"
)

// hangup makes the fake server drop the connection instead of answering.
type hangup struct{}

type handlerFunc func(method string, params json.RawMessage) (interface{}, *rpcError)

func defaultHandler(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "initialize":
		return map[string]interface{}{"protocolVersion": protocolVersion}, nil
	case "tools/list":
		return map[string]interface{}{"tools": []map[string]interface{}{
			{"name": "read_file", "description": "Read a file", "inputSchema": map[string]interface{}{"type": "object"}},
			{"name": ""},
		}}, nil
	case "tools/call":
		var p struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		_ = json.Unmarshal(params, &p)
		switch p.Name {
		case "crash":
			return hangup{}, nil
		case "fail":
			return map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": "no such file"}},
				"isError": true,
			}, nil
		}
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "hello " + p.Arguments["path"].(string)},
				{"type": "image", "data": "aGk=", "mimeType": "image/png"},
			},
		}, nil
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func startFakeServer(t *testing.T, handle handlerFunc) *Client {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	go func() {
		defer serverW.Close()
		scanner := bufio.NewScanner(serverR)
		for scanner.Scan() {
			var req struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
				continue
			}
			result, rerr := handle(req.Method, req.Params)
			if _, ok := result.(hangup); ok {
				_ = serverR.Close()
				return
			}
			resp := map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID}
			if rerr != nil {
				resp["error"] = rerr
			} else {
				resp["result"] = result
			}
			data, _ := json.Marshal(resp)
			if _, err := serverW.Write(append(data, '\n')); err != nil {
				return
			}
		}
	}()

	c := newClient(ServerConfig{Name: "fake"}, clientR, clientW, zerolog.Nop())
	require.NoError(t, c.initialize(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient(t *testing.T) {
	t.Run("should list tools tagged with the server name", func(t *testing.T) {
		c := startFakeServer(t, defaultHandler)

		tools, err := c.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, 1)
		assert.Equal(t, "fake", tools[0].Server)
		assert.Equal(t, "read_file", tools[0].Name)
		assert.Equal(t, "object", tools[0].InputSchema["type"])
	})

	t.Run("should convert call content into a tool result", func(t *testing.T) {
		c := startFakeServer(t, defaultHandler)

		res, err := c.CallTool(context.Background(), "read_file", map[string]interface{}{"path": "/tmp/a"})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, []string{"hello /tmp/a"}, res.Content)
		assert.Equal(t, []string{"aGk="}, res.Images)
	})

	t.Run("should surface tool failures as error results", func(t *testing.T) {
		c := startFakeServer(t, defaultHandler)

		res, err := c.CallTool(context.Background(), "fail", nil)
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "no such file", res.Text())
	})

	t.Run("should return rpc errors", func(t *testing.T) {
		c := startFakeServer(t, defaultHandler)

		_, err := c.call(context.Background(), "resources/list", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "method not found")
	})

	t.Run("should fail pending calls when the server goes away", func(t *testing.T) {
		c := startFakeServer(t, defaultHandler)

		_, err := c.CallTool(context.Background(), "crash", nil)
		assert.ErrorIs(t, err, ErrClosed)

		_, err = c.ListTools(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("should stop waiting when the context ends", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		c := startFakeServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
			if method == "tools/list" {
				<-block
			}
			return defaultHandler(method, params)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.ListTools(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

type fakeSession struct {
	name   string
	tools  []ToolDescriptor
	closed atomic.Bool
	err    error
}

func (s *fakeSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]ToolDescriptor(nil), s.tools...), nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (toolcall.ToolResult, error) {
	if s.err != nil {
		return toolcall.ToolResult{}, s.err
	}
	return toolcall.ToolResult{Name: name, Content: []string{s.name + ":" + name}}, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func TestCache(t *testing.T) {
	t.Run("should connect once under concurrent first access", func(t *testing.T) {
		var connects atomic.Int32
		cache := NewCache(func(ctx context.Context, server ServerConfig) (Session, error) {
			connects.Add(1)
			time.Sleep(50 * time.Millisecond)
			return &fakeSession{name: server.Name}, nil
		}, zerolog.Nop())

		var wg sync.WaitGroup
		sessions := make([]Session, 20)
		for i := range sessions {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := cache.Get(context.Background(), ServerConfig{Name: "fs"})
				assert.NoError(t, err)
				sessions[i] = s
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), connects.Load())
		for _, s := range sessions {
			assert.Same(t, sessions[0], s)
		}
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("should retry after a failed connect", func(t *testing.T) {
		var connects atomic.Int32
		cache := NewCache(func(ctx context.Context, server ServerConfig) (Session, error) {
			if connects.Add(1) == 1 {
				return nil, errors.New("boom")
			}
			return &fakeSession{name: server.Name}, nil
		}, zerolog.Nop())

		_, err := cache.Get(context.Background(), ServerConfig{Name: "fs"})
		require.Error(t, err)

		s, err := cache.Get(context.Background(), ServerConfig{Name: "fs"})
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.Equal(t, int32(2), connects.Load())
	})

	t.Run("should close sessions on evict and close", func(t *testing.T) {
		created := map[string]*fakeSession{}
		var mu sync.Mutex
		cache := NewCache(func(ctx context.Context, server ServerConfig) (Session, error) {
			s := &fakeSession{name: server.Name}
			mu.Lock()
			created[server.Name] = s
			mu.Unlock()
			return s, nil
		}, zerolog.Nop())

		_, err := cache.Get(context.Background(), ServerConfig{Name: "a"})
		require.NoError(t, err)
		_, err = cache.Get(context.Background(), ServerConfig{Name: "b"})
		require.NoError(t, err)

		cache.Evict("a")
		assert.True(t, created["a"].closed.Load())
		assert.Equal(t, 1, cache.Len())

		require.NoError(t, cache.Close())
		assert.True(t, created["b"].closed.Load())
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("should require a server name", func(t *testing.T) {
		cache := NewCache(nil, zerolog.Nop())
		_, err := cache.Get(context.Background(), ServerConfig{})
		assert.Error(t, err)
	})
}

func TestHub(t *testing.T) {
	newHub := func(t *testing.T, sessions map[string]*fakeSession) *Hub {
		cache := NewCache(func(ctx context.Context, server ServerConfig) (Session, error) {
			s, ok := sessions[server.Name]
			if !ok {
				return nil, errors.New("unreachable")
			}
			return s, nil
		}, zerolog.Nop())
		hub, err := NewHub(cache, []ServerConfig{{Name: "fs"}, {Name: "down"}, {Name: "web"}}, zerolog.Nop())
		require.NoError(t, err)
		return hub
	}

	t.Run("should aggregate tools and skip unreachable servers", func(t *testing.T) {
		hub := newHub(t, map[string]*fakeSession{
			"fs":  {name: "fs", tools: []ToolDescriptor{{Name: "read_file"}}},
			"web": {name: "web", tools: []ToolDescriptor{{Name: "fetch"}}},
		})

		tools, err := hub.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, 2)
		assert.Equal(t, ToolDescriptor{Server: "fs", Name: "read_file"}, tools[0])
		assert.Equal(t, ToolDescriptor{Server: "web", Name: "fetch"}, tools[1])
	})

	t.Run("should route calls to the owning server", func(t *testing.T) {
		hub := newHub(t, map[string]*fakeSession{"fs": {name: "fs"}, "web": {name: "web"}})

		res, err := hub.CallTool(context.Background(), CallRequest{Server: "web", Name: "fetch"})
		require.NoError(t, err)
		assert.Equal(t, "web:fetch", res.Text())

		_, err = hub.CallTool(context.Background(), CallRequest{Server: "nope", Name: "fetch"})
		assert.Error(t, err)
	})

	t.Run("should evict a closed connection", func(t *testing.T) {
		broken := &fakeSession{name: "fs", err: ErrClosed}
		hub := newHub(t, map[string]*fakeSession{"fs": broken})

		_, err := hub.CallTool(context.Background(), CallRequest{Server: "fs", Name: "read_file"})
		assert.ErrorIs(t, err, ErrClosed)
		assert.True(t, broken.closed.Load())
	})

	t.Run("should reject duplicate server names", func(t *testing.T) {
		_, err := NewHub(NewCache(nil, zerolog.Nop()), []ServerConfig{{Name: "a"}, {Name: "a"}}, zerolog.Nop())
		assert.Error(t, err)
	})
}
