package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/harun/autopilot/internal/observability"
)

const connectTimeout = 30 * time.Second

// Cache holds one connection per server name for the whole process.
// Concurrent first access to a name connects exactly once.
type Cache struct {
	connect Connector
	group   singleflight.Group
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]Session
}

// NewCache creates a cache. A nil connector dials stdio servers.
func NewCache(connect Connector, logger zerolog.Logger) *Cache {
	if connect == nil {
		connect = func(ctx context.Context, server ServerConfig) (Session, error) {
			c, err := Dial(ctx, server, logger)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return &Cache{
		connect: connect,
		logger:  logger.With().Str("component", "mcp.cache").Logger(),
		conns:   make(map[string]Session),
	}
}

func (c *Cache) lookup(name string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.conns[name]
	return s, ok
}

// Get returns the live session for server, connecting on first use. A
// caller whose ctx ends stops waiting; the shared connect attempt keeps
// going for the others.
func (c *Cache) Get(ctx context.Context, server ServerConfig) (Session, error) {
	if server.Name == "" {
		return nil, fmt.Errorf("mcp server name is required")
	}
	if s, ok := c.lookup(server.Name); ok {
		return s, nil
	}

	ch := c.group.DoChan(server.Name, func() (interface{}, error) {
		if s, ok := c.lookup(server.Name); ok {
			return s, nil
		}
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()

		s, err := c.connect(connectCtx, server)
		observability.RecordMCPConnect(server.Name, err == nil)
		if err != nil {
			c.logger.Error().Err(err).Str("server", server.Name).Msg("MCP connect failed")
			return nil, err
		}

		c.mu.Lock()
		c.conns[server.Name] = s
		c.mu.Unlock()
		c.logger.Info().Str("server", server.Name).Msg("MCP server connected")
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Evict closes and forgets a connection so the next Get reconnects.
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	s, ok := c.conns[name]
	delete(c.conns, name)
	c.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

// Len reports the number of live connections.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close closes every connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]Session)
	c.mu.Unlock()

	var errs []error
	for name, s := range conns {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
