// Package eventstream holds the ordered, replayable log of one agent
// session.
//
// The log is the single source of truth for both UI replay and the model
// transcript: every phase of the loop records what it did here, and
// NormalizeForPrompt turns the log back into model context.
//
// Invariants:
//   - Events are never removed or reordered once appended.
//   - Only tool_used events change after append, and only through UpdateTool.
//   - Subscribers see events in log order; a panicking subscriber does not
//     affect the others.
//
// Usage:
//
//	s := eventstream.New(eventstream.WithPromptCharLimit(8000))
//	unsubscribe := s.Subscribe(func(ev eventstream.Event) { ... })
//	defer unsubscribe()
//	s.Append(eventstream.TypeUserMessage, eventstream.MessagePayload{Content: "open settings"})
package eventstream
