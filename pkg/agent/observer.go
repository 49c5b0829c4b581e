package agent

import (
	"github.com/rs/zerolog/log"

	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/planner"
)

// NotificationKind is what an observer is told about.
type NotificationKind string

const (
	NotifyStatus    NotificationKind = "status"
	NotifyUpdate    NotificationKind = "update"
	NotifyComplete  NotificationKind = "complete"
	NotifyError     NotificationKind = "error"
	NotifyTerminate NotificationKind = "terminate"
)

// Notification carries the full event list, not a delta, so a late
// observer can render from any single message.
type Notification struct {
	Kind        NotificationKind    `json:"kind"`
	SessionID   string              `json:"sessionId"`
	Status      planner.RunStatus   `json:"status"`
	Phase       Phase               `json:"phase"`
	Plan        []planner.Step      `json:"plan,omitempty"`
	CurrentStep int                 `json:"currentStep,omitempty"`
	Error       string              `json:"error,omitempty"`
	Events      []eventstream.Event `json:"events"`
}

// Observer receives session notifications synchronously. Implementations
// must not call Interrupt or Continue on the notifying session.
type Observer interface {
	Notify(n Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notification)

func (f ObserverFunc) Notify(n Notification) { f(n) }

// Observers fans a notification out in order. A panicking observer is
// logged and skipped.
type Observers []Observer

func (o Observers) Notify(n Notification) {
	for _, obs := range o {
		if obs == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("session_id", n.SessionID).Msg("Observer panicked")
				}
			}()
			obs.Notify(n)
		}()
	}
}

func terminalKind(t eventstream.Type) NotificationKind {
	switch t {
	case eventstream.TypeComplete:
		return NotifyComplete
	case eventstream.TypeError:
		return NotifyError
	default:
		return NotifyTerminate
	}
}
