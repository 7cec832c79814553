package sim

import "context"

// Controller is an exclusively owned simulator session. Calls block until
// the simulator has produced the next Event. An action the simulator rejects
// (collision, unreachable target) is reported through
// Event.Metadata.LastActionSuccess, never as an error; errors mean the
// session itself failed.
type Controller interface {
	Step(ctx context.Context, cmd Command) (*Event, error)
	Reset(ctx context.Context, scene string) (*Event, error)
	LastEvent() *Event
	Stop() error
}

// Factory creates a fresh Controller, used to replace a session whose reset
// failed.
type Factory func(ctx context.Context) (Controller, error)
