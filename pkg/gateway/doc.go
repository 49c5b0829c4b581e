// Package gateway serves an agent session registry to remote clients.
//
// Clients connect on /ws and answer an HMAC-SHA256 challenge with the
// shared secret, or are trusted at once when no secret is configured.
// Authenticated clients send JSON-RPC 2.0 requests (agent.start,
// agent.stop, agent.interrupt, agent.continue, agent.query, agent.list,
// agent.history, agent.subscribe, agent.unsubscribe, gateway.clients) and
// receive "session.*" event pushes from the Hub, which is the registry's
// observer. /rpc accepts the same requests over plain HTTP POST with the
// secret in the X-Autopilot-Secret header.
//
// Each connection has one writer goroutine fed by a bounded queue. A
// client that cannot keep up is disconnected rather than slowing the
// sessions it follows.
package gateway
