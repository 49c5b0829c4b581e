package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/pkg/toolcall"
)

// Hub is the MCP surface a session sees: the union of the configured
// servers' tools, each call routed to its owning server.
type Hub struct {
	cache   *Cache
	servers map[string]ServerConfig
	order   []string
	logger  zerolog.Logger
}

func NewHub(cache *Cache, servers []ServerConfig, logger zerolog.Logger) (*Hub, error) {
	if cache == nil {
		return nil, fmt.Errorf("mcp cache is required")
	}
	h := &Hub{
		cache:   cache,
		servers: make(map[string]ServerConfig, len(servers)),
		logger:  logger.With().Str("component", "mcp.hub").Logger(),
	}
	for _, s := range servers {
		if s.Name == "" {
			return nil, fmt.Errorf("mcp server name is required")
		}
		if _, dup := h.servers[s.Name]; dup {
			return nil, fmt.Errorf("duplicate mcp server %q", s.Name)
		}
		h.servers[s.Name] = s
		h.order = append(h.order, s.Name)
	}
	return h, nil
}

// ListTools lists the live tools of every server. A server that cannot be
// reached is logged and left out.
func (h *Hub) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var tools []ToolDescriptor
	for _, name := range h.order {
		s, err := h.cache.Get(ctx, h.servers[name])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.logger.Warn().Err(err).Str("server", name).Msg("MCP server unavailable, skipping its tools")
			continue
		}
		list, err := s.ListTools(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.logger.Warn().Err(err).Str("server", name).Msg("Failed to list MCP tools")
			if errors.Is(err, ErrClosed) {
				h.cache.Evict(name)
			}
			continue
		}
		for i := range list {
			list[i].Server = name
		}
		tools = append(tools, list...)
	}
	return tools, nil
}

// CallTool runs a tool on its server. A broken connection is evicted so
// the next call reconnects.
func (h *Hub) CallTool(ctx context.Context, req CallRequest) (toolcall.ToolResult, error) {
	server, ok := h.servers[req.Server]
	if !ok {
		return toolcall.ToolResult{}, fmt.Errorf("unknown mcp server %q", req.Server)
	}
	s, err := h.cache.Get(ctx, server)
	if err != nil {
		return toolcall.ToolResult{}, err
	}
	result, err := s.CallTool(ctx, req.Name, req.Arguments)
	if errors.Is(err, ErrClosed) {
		h.cache.Evict(req.Server)
	}
	return result, err
}
