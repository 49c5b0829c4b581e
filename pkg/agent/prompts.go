package agent

import (
	"fmt"
	"strings"

	"github.com/harun/autopilot/pkg/planner"
)

const greetingPrompt = `You are a GUI automation agent about to work on the user's task.
Reply with one short, friendly sentence acknowledging the task. Do not plan or ask questions.`

const planningPrompt = `You are the planner of a GUI automation agent. Break the user's task into
a short ordered list of concrete steps that can be carried out on screen.

Reply with a single JSON object and nothing else:
{"step": 1, "status": "<one line describing what you will do first>", "reflection": "<why>", "plan": [{"id": "step_001", "title": "<step>"}]}`

const actionPrompt = `You are a GUI automation agent operating a computer for the user.
You must always call at least one tool. Look at the screen before acting on it.
Use computer_action for GUI actions, chat-message to tell the user something,
and idle when the whole task is finished or nothing more can be done.`

const awarenessPrompt = `You review the progress of a GUI automation agent against its plan.
Given the plan and the transcript, decide which step is current now. Use the step number after
the last one when every step is finished. You may replace the plan when it no longer fits.

Reply with a single JSON object and nothing else:
{"step": <current step number>, "status": "<one line status>", "reflection": "<what changed>", "plan": [optional replacement steps]}`

func (s *Session) systemPrompt(base string) string {
	var b strings.Builder
	b.WriteString(base)
	if s.opts.SystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(s.opts.SystemPrompt)
	}
	if s.opts.Language != "" && s.opts.Language != "en" {
		fmt.Fprintf(&b, "\n\nWrite all text meant for the user in language %q.", s.opts.Language)
	}
	return b.String()
}

func actionSystemPrompt(s *Session, state *planner.State) string {
	var b strings.Builder
	b.WriteString(s.systemPrompt(actionPrompt))
	b.WriteString("\n\n## Plan\n")
	b.WriteString(planner.Describe(state))
	if cur, ok := state.Current(); ok {
		fmt.Fprintf(&b, "\n\nCurrent step: %s", cur.Title)
	}
	return b.String()
}

func awarenessInput(state *planner.State, transcript string) string {
	return fmt.Sprintf("## Plan\n%s\n\n## Transcript\n%s", planner.Describe(state), transcript)
}
