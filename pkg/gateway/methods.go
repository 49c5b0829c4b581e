package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/agent"
	"github.com/harun/autopilot/pkg/session"
)

// Agents is the session surface the gateway serves. *agent.Registry
// satisfies it.
type Agents interface {
	Spawn(ctx context.Context, input string) (string, error)
	Stop(id string) (bool, error)
	Interrupt(id, text string) error
	Continue(id, text string) error
	Query(id string) (agent.Snapshot, error)
	List() ([]agent.Snapshot, error)
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
	Input     string `json:"input"`
	Text      string `json:"text"`
}

func (s *Server) registerBuiltinMethods() {
	for name, h := range map[string]RequestHandler{
		"agent.start":       s.handleAgentStart,
		"agent.stop":        s.handleAgentStop,
		"agent.interrupt":   s.handleAgentInterrupt,
		"agent.continue":    s.handleAgentContinue,
		"agent.query":       s.handleAgentQuery,
		"agent.list":        s.handleAgentList,
		"agent.subscribe":   s.handleSubscribe,
		"agent.unsubscribe": s.handleUnsubscribe,
		"agent.history":     s.handleAgentHistory,
		"gateway.clients":   s.handleClients,
	} {
		_ = s.router.RegisterMethod(name, h)
	}
}

// sessionArgs decodes params and checks the named fields are set.
func sessionArgs(raw json.RawMessage, fields ...string) (sessionParams, error) {
	var p sessionParams
	if err := decodeParams(raw, &p); err != nil {
		return p, err
	}
	values := map[string]string{"sessionId": p.SessionID, "input": p.Input, "text": p.Text}
	for _, f := range fields {
		if err := required(f, values[f]); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (s *Server) handleAgentStart(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	p, err := sessionArgs(raw, "input")
	if err != nil {
		return nil, err
	}
	// Sessions outlive the request that started them.
	id, err := s.agents.Spawn(context.Background(), p.Input)
	if err != nil {
		return nil, mapAgentError(err)
	}
	if c, ok := callerFrom(ctx); ok {
		c.subscribe(id)
	}
	logger := tracing.LoggerFromContext(tracing.WithSessionID(ctx, id), s.logger)
	logger.Info().Msg("Session started over gateway")
	return map[string]string{"sessionId": id}, nil
}

func (s *Server) handleAgentStop(_ context.Context, raw json.RawMessage) (interface{}, error) {
	p, err := sessionArgs(raw, "sessionId")
	if err != nil {
		return nil, err
	}
	stopped, err := s.agents.Stop(p.SessionID)
	if err != nil {
		return nil, mapAgentError(err)
	}
	return map[string]bool{"stopped": stopped}, nil
}

func (s *Server) handleAgentInterrupt(_ context.Context, raw json.RawMessage) (interface{}, error) {
	p, err := sessionArgs(raw, "sessionId", "text")
	if err != nil {
		return nil, err
	}
	if err := s.agents.Interrupt(p.SessionID, p.Text); err != nil {
		return nil, mapAgentError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAgentContinue(_ context.Context, raw json.RawMessage) (interface{}, error) {
	p, err := sessionArgs(raw, "sessionId", "input")
	if err != nil {
		return nil, err
	}
	if err := s.agents.Continue(p.SessionID, p.Input); err != nil {
		return nil, mapAgentError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAgentQuery(_ context.Context, raw json.RawMessage) (interface{}, error) {
	p, err := sessionArgs(raw, "sessionId")
	if err != nil {
		return nil, err
	}
	snap, err := s.agents.Query(p.SessionID)
	if err != nil {
		return nil, mapAgentError(err)
	}
	return snap, nil
}

func (s *Server) handleAgentList(context.Context, json.RawMessage) (interface{}, error) {
	sessions, err := s.agents.List()
	if err != nil {
		return nil, mapAgentError(err)
	}
	return map[string]interface{}{"sessions": sessions}, nil
}

func (s *Server) handleSubscribe(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	c, id, err := subscriptionTarget(ctx, raw)
	if err != nil {
		return nil, err
	}
	c.subscribe(id)
	return map[string]string{"subscribed": id}, nil
}

func (s *Server) handleUnsubscribe(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	c, id, err := subscriptionTarget(ctx, raw)
	if err != nil {
		return nil, err
	}
	c.unsubscribe(id)
	return map[string]string{"unsubscribed": id}, nil
}

func subscriptionTarget(ctx context.Context, raw json.RawMessage) (*Client, string, error) {
	c, ok := callerFrom(ctx)
	if !ok {
		return nil, "", rpcErrorf(InvalidRequest, "subscriptions require a websocket connection")
	}
	p, err := sessionArgs(raw, "sessionId")
	if err != nil {
		return nil, "", err
	}
	return c, p.SessionID, nil
}

// handleAgentHistory serves persisted events, including sessions from
// earlier processes.
func (s *Server) handleAgentHistory(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, rpcErrorf(PersistenceDisabled, "session persistence is disabled")
	}
	p, err := sessionArgs(raw, "sessionId")
	if err != nil {
		return nil, err
	}
	events, err := s.store.Load(ctx, p.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, rpcErrorf(SessionNotFound, "session not found: %s", p.SessionID)
	case err != nil:
		return nil, err
	}
	return map[string]interface{}{"sessionId": p.SessionID, "events": events}, nil
}

func (s *Server) handleClients(context.Context, json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"clients": s.hub.Clients()}, nil
}

func mapAgentError(err error) error {
	code := 0
	switch {
	case errors.Is(err, agent.ErrSessionNotFound):
		code = SessionNotFound
	case errors.Is(err, agent.ErrSessionRunning), errors.Is(err, agent.ErrSessionIdle):
		code = InvalidSessionState
	case errors.Is(err, agent.ErrEmptyInput):
		code = InvalidParams
	default:
		return err
	}
	return &RPCError{Code: code, Message: err.Error()}
}
