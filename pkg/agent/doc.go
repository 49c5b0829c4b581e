// Package agent runs GUI automation sessions.
//
// A session moves through greeting, planning, then repeated acting and
// awareness phases until the plan is complete, a terminal tool is called,
// the iteration cap is reached, or the run is stopped.
//
// Invariants:
// - Every run ends with exactly one complete, error or terminate event, and
//   nothing is appended after it.
// - Tool calls of one model turn are dispatched sequentially in order.
// - Interrupt replaces the cancellation token; Stop cancels it for good.
//
// Usage:
//
//	reg, _ := agent.NewRegistry(agent.Dependencies{Model: m, Dispatcher: d}, agent.DefaultOptions())
//	id, _ := reg.Spawn(ctx, "open the settings page")
//	snap, _ := reg.Query(id)
//	_ = snap
package agent
