package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/autopilot/internal/observability"
)

// RequestHandler serves one RPC method. Websocket requests carry the
// calling client in ctx.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

const replayWindow = 5 * time.Minute

// RPCRouter dispatches requests by method name. A response to a request
// with an idempotency key is replayed for repeats of that key within the
// replay window.
type RPCRouter struct {
	mu       sync.RWMutex
	handlers map[string]RequestHandler

	replayMu sync.Mutex
	replays  map[string]replayEntry
	window   time.Duration
}

type replayEntry struct {
	resp    RPCResponse
	expires time.Time
}

func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		handlers: make(map[string]RequestHandler),
		replays:  make(map[string]replayEntry),
		window:   replayWindow,
	}
}

// RegisterMethod adds or replaces a handler.
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	r.mu.Lock()
	r.handlers[name] = handler
	r.mu.Unlock()
	return nil
}

func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	delete(r.handlers, name)
	r.mu.Unlock()
}

func (r *RPCRouter) HasMethod(name string) bool {
	_, ok := r.handler(name)
	return ok
}

func (r *RPCRouter) handler(name string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Methods lists the registered names in order.
func (r *RPCRouter) Methods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ParseRequest decodes a frame. Failures are *RPCError values ready to be
// sent back.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	req := &RPCRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	switch {
	case req.ID == "":
		return nil, rpcErrorf(InvalidRequest, "Invalid request: missing id field")
	case req.Method == "":
		return nil, rpcErrorf(InvalidRequest, "Invalid request: missing method field")
	}
	if req.JSONRPC == "" {
		req.JSONRPC = jsonRPCVersion
	}
	return req, nil
}

// RouteRequest runs the handler for req and wraps its outcome.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", InvalidRequest, "invalid request")
	}

	key := ""
	if req.IdempotencyKey != "" {
		key = req.Method + ":" + req.IdempotencyKey
		if resp, ok := r.replay(key); ok {
			resp.ID = req.ID
			return &resp
		}
	}

	h, ok := r.handler(req.Method)
	if !ok {
		return errorResponse(req.ID, MethodNotFound, "Method not found: "+req.Method)
	}

	result, err := h(ctx, req.Params)
	observability.RecordGatewayRequest(req.Method, err == nil)

	resp := &RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result}
	if err != nil {
		resp.Result = nil
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		resp.Error = rpcErr
	}

	if key != "" {
		r.remember(key, *resp)
	}
	return resp
}

func errorResponse(id string, code int, message string) *RPCResponse {
	return &RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}}
}

func (r *RPCRouter) replay(key string) (RPCResponse, bool) {
	r.replayMu.Lock()
	defer r.replayMu.Unlock()
	entry, ok := r.replays[key]
	if !ok || time.Now().After(entry.expires) {
		return RPCResponse{}, false
	}
	return copyResponse(entry.resp), true
}

// remember stores resp under key and drops stale entries.
func (r *RPCRouter) remember(key string, resp RPCResponse) {
	now := time.Now()
	r.replayMu.Lock()
	defer r.replayMu.Unlock()
	for k, entry := range r.replays {
		if now.After(entry.expires) {
			delete(r.replays, k)
		}
	}
	r.replays[key] = replayEntry{resp: copyResponse(resp), expires: now.Add(r.window)}
}

func copyResponse(src RPCResponse) RPCResponse {
	if src.Error != nil {
		e := *src.Error
		src.Error = &e
	}
	return src
}

// decodeParams unmarshals raw into dst. Missing params decode as an empty
// object so required-field checks report the field by name.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return rpcErrorf(InvalidParams, "%s parameter is required and must be a non-empty string", field)
	}
	return nil
}
