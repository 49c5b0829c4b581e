// Package session persists agent event streams for replay.
//
// Invariants:
// - Session ids are validated and path-safe.
// - Events come back in the order they were first stored; a re-stored
//   event (a tool_used status change) replaces its earlier version in place.
// - Sink writes are serialized through one goroutine and never dropped.
//
// Usage:
//
//	store, _ := session.Open(cfg.Store)
//	sink, _ := session.NewSink(store, logger)
//	deps := agent.Dependencies{Recorder: sink}
//	stream, _ := session.Restore(ctx, store, id)
//	_ = stream.NormalizeForPrompt()
package session
