package eventstream

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	s := New()

	first := s.Append(TypeUserMessage, MessagePayload{Content: "open the browser"})
	second := s.Append(TypeAgentStatus, StatusPayload{Status: "planning"})

	assert.True(t, strings.HasPrefix(first.ID, "evt_"))
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.Timestamp.IsZero())

	all := s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}

func TestGetAllIsSnapshot(t *testing.T) {
	s := New()
	s.Append(TypeUserMessage, MessagePayload{Content: "a"})

	snap := s.GetAll()
	s.Append(TypeUserMessage, MessagePayload{Content: "b"})

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, s.Len())
}

func TestUpdateTool(t *testing.T) {
	s := New()

	t.Run("should move tool_used from loading to success", func(t *testing.T) {
		ev := s.Append(TypeToolUsed, ToolUsedPayload{ToolCallID: "call_1", Name: "computer_action", Status: ToolLoading})

		updated, ok := s.UpdateTool(ev.ID, func(p *ToolUsedPayload) {
			p.Status = ToolSuccess
			p.Result = "clicked"
		})
		require.True(t, ok)
		assert.Equal(t, ToolSuccess, updated.Payload.(ToolUsedPayload).Status)

		got, ok := s.Get(ev.ID)
		require.True(t, ok)
		assert.Equal(t, "clicked", got.Payload.(ToolUsedPayload).Result)
		assert.Equal(t, 1, countType(s.GetAll(), TypeToolUsed))
	})

	t.Run("should refuse non tool events", func(t *testing.T) {
		ev := s.Append(TypeChatMessage, MessagePayload{Content: "hi"})
		_, ok := s.UpdateTool(ev.ID, func(p *ToolUsedPayload) { p.Status = ToolError })
		assert.False(t, ok)
	})

	t.Run("should refuse unknown ids", func(t *testing.T) {
		_, ok := s.UpdateTool("evt_missing", func(p *ToolUsedPayload) {})
		assert.False(t, ok)
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("should deliver in registration order", func(t *testing.T) {
		s := New()
		var order []string
		s.Subscribe(func(Event) { order = append(order, "ui") })
		s.Subscribe(func(Event) { order = append(order, "cli") })
		s.Subscribe(func(Event) { order = append(order, "store") })

		s.Append(TypeUserMessage, MessagePayload{Content: "x"})
		assert.Equal(t, []string{"ui", "cli", "store"}, order)
	})

	t.Run("should isolate a panicking subscriber", func(t *testing.T) {
		s := New()
		var got []Type
		s.Subscribe(func(Event) { panic("boom") })
		s.Subscribe(func(ev Event) { got = append(got, ev.Type) })

		assert.NotPanics(t, func() {
			s.Append(TypeUserMessage, MessagePayload{Content: "x"})
			s.Append(TypeComplete, TerminalPayload{Reason: "completed"})
		})
		assert.Equal(t, []Type{TypeUserMessage, TypeComplete}, got)
	})

	t.Run("should stop delivery after unsubscribe", func(t *testing.T) {
		s := New()
		calls := 0
		unsubscribe := s.Subscribe(func(Event) { calls++ })

		s.Append(TypeUserMessage, MessagePayload{Content: "x"})
		unsubscribe()
		unsubscribe()
		s.Append(TypeUserMessage, MessagePayload{Content: "y"})

		assert.Equal(t, 1, calls)
	})

	t.Run("should deliver tool updates", func(t *testing.T) {
		s := New()
		var statuses []ToolStatus
		s.Subscribe(func(ev Event) {
			if p, ok := ev.Payload.(ToolUsedPayload); ok {
				statuses = append(statuses, p.Status)
			}
		})

		ev := s.Append(TypeToolUsed, ToolUsedPayload{Name: "idle", Status: ToolLoading})
		s.UpdateTool(ev.ID, func(p *ToolUsedPayload) { p.Status = ToolSuccess })

		assert.Equal(t, []ToolStatus{ToolLoading, ToolSuccess}, statuses)
	})
}

func TestConcurrentAppendKeepsOrderForSubscribers(t *testing.T) {
	s := New()
	var seen []string
	s.Subscribe(func(ev Event) { seen = append(seen, ev.ID) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(TypeObservation, MessagePayload{Content: "tick"})
		}()
	}
	wg.Wait()

	all := s.GetAll()
	require.Len(t, seen, 50)
	for i, ev := range all {
		assert.Equal(t, ev.ID, seen[i])
	}
}

func TestNormalizeForPrompt(t *testing.T) {
	s := New()
	s.Append(TypeUserMessage, MessagePayload{Content: "open settings"})
	s.Append(TypeChatMessage, MessagePayload{Content: "Opening settings now"})
	s.Append(TypePlanUpdate, PlanPayload{Plan: []PlanStep{{ID: "step_001", Title: "Open app"}}, CurrentStep: 1})
	s.Append(TypeAgentStatus, StatusPayload{Status: "acting"})
	ok := s.Append(TypeToolUsed, ToolUsedPayload{Name: "computer_action", Arguments: json.RawMessage(`{"action":"click"}`), Status: ToolLoading})
	s.UpdateTool(ok.ID, func(p *ToolUsedPayload) { p.Status = ToolSuccess })
	s.Append(TypeToolUsed, ToolUsedPayload{Name: "broken", Status: ToolError})
	s.Append(TypeObservation, MessagePayload{Content: "settings window visible"})
	s.Append(TypeUserInterruption, MessagePayload{Content: "use dark mode"})

	want := strings.Join([]string{
		"USER: open settings",
		"AGENT: Opening settings now",
		"STATUS: acting",
		`TOOL USED: computer_action({"action":"click"})`,
		"OBSERVATION: settings window visible",
		"USER: use dark mode",
	}, "\n\n")

	assert.Equal(t, want, s.NormalizeForPrompt())
}

func TestNormalizeForPromptKeepsTail(t *testing.T) {
	const limit = 64

	full := New()
	capped := New(WithPromptCharLimit(limit))
	for i := 0; i < 20; i++ {
		p := MessagePayload{Content: strings.Repeat("x", i) + "é"}
		full.Append(TypeObservation, p)
		capped.Append(TypeObservation, p)
	}

	whole := []rune(full.NormalizeForPrompt())
	got := []rune(capped.NormalizeForPrompt())

	require.Greater(t, len(whole), limit)
	assert.Len(t, got, limit)
	assert.Equal(t, string(whole[len(whole)-limit:]), string(got))
}

func TestRestoreAndLast(t *testing.T) {
	src := New()
	src.Append(TypeUserMessage, MessagePayload{Content: "a"})
	done := src.Append(TypeComplete, TerminalPayload{Reason: "completed"})

	dst := New()
	calls := 0
	dst.Subscribe(func(Event) { calls++ })
	dst.Restore(src.GetAll())

	last, ok := dst.Last()
	require.True(t, ok)
	assert.Equal(t, done.ID, last.ID)
	assert.True(t, dst.Terminal())
	assert.Zero(t, calls)

	_, ok = New().Last()
	assert.False(t, ok)
	assert.False(t, New().Terminal())

	dst.Append(TypeUserMessage, MessagePayload{Content: "more"})
	assert.False(t, dst.Terminal())
}

func countType(events []Event, t Type) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestEventJSON(t *testing.T) {
	t.Run("should restore typed payloads so the transcript survives", func(t *testing.T) {
		src := New()
		src.Append(TypeUserMessage, MessagePayload{Content: "open settings"})
		src.Append(TypeAgentStatus, StatusPayload{Status: "opening"})
		used := src.Append(TypeToolUsed, ToolUsedPayload{ToolCallID: "c1", Name: "computer_action", Status: ToolLoading})
		src.UpdateTool(used.ID, func(p *ToolUsedPayload) { p.Status = ToolSuccess })
		src.Append(TypeObservation, MessagePayload{Content: "click done"})
		src.Append(TypeComplete, TerminalPayload{Reason: "completed"})

		data, err := json.Marshal(src.GetAll())
		require.NoError(t, err)
		var events []Event
		require.NoError(t, json.Unmarshal(data, &events))

		dst := New()
		dst.Restore(events)
		assert.Equal(t, src.NormalizeForPrompt(), dst.NormalizeForPrompt())

		last, ok := dst.Last()
		require.True(t, ok)
		assert.Equal(t, TerminalPayload{Reason: "completed"}, last.Payload)
	})

	t.Run("should keep unknown payloads as maps", func(t *testing.T) {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(`{"id":"evt_1","type":"custom","payload":{"a":1}}`), &ev))
		assert.Equal(t, map[string]interface{}{"a": float64(1)}, ev.Payload)
	})

	t.Run("should reject a payload of the wrong shape", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"id":"evt_1","type":"user_message","payload":"text"}`), &ev)
		assert.Error(t, err)
	})
}
