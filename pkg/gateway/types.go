package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

const jsonRPCVersion = "2.0"

// RPCRequest is a JSON-RPC 2.0 call. Params stay raw until the method
// decodes them into its own parameter struct.
type RPCRequest struct {
	JSONRPC        string          `json:"jsonrpc"`
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is returned by handlers to choose the wire error code. Any
// other handler error is reported as InternalError.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func rpcErrorf(code int, format string, args ...interface{}) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Standard JSON-RPC codes, then gateway codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	AuthenticationRequired = -32001
	SessionNotFound        = -32004
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006
	InvalidSessionState    = -32009
	PersistenceDisabled    = -32010
)

// EventMessage is a server push. Session notifications are named
// "session.<kind>" after agent.NotificationKind and carry the
// notification as Data.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handshake frames. A client answers auth.challenge with
// {"method":"auth.response","signature":hex(HMAC-SHA256(secret, challenge))}.
type (
	AuthChallenge struct {
		Event     string `json:"event"`
		Challenge string `json:"challenge"`
	}
	AuthResponse struct {
		Method    string `json:"method"`
		Signature string `json:"signature"`
	}
	AuthResult struct {
		Event   string `json:"event"`
		Success bool   `json:"success,omitempty"`
		Message string `json:"message,omitempty"`
	}
)

// ClientInfo is what gateway.clients reports per connection.
type ClientInfo struct {
	ID            string    `json:"id"`
	IPAddress     string    `json:"ipAddress"`
	Authenticated bool      `json:"authenticated"`
	Subscriptions []string  `json:"subscriptions,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Idle          bool      `json:"idle"`
}

type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)
