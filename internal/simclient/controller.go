package simclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// Controller is a sim.Controller backed by a remote simulator.
type Controller struct {
	caller Caller
	last   *sim.Event
}

var _ sim.Controller = (*Controller)(nil)

// NewController returns a controller that talks through caller. Call Reset
// before Step.
func NewController(caller Caller) *Controller {
	return &Controller{caller: caller}
}

func (c *Controller) Reset(ctx context.Context, scene string) (*sim.Event, error) {
	return c.call(ctx, MethodReset, map[string]any{"scene": scene})
}

func (c *Controller) Step(ctx context.Context, cmd sim.Command) (*sim.Event, error) {
	if c.last == nil {
		return nil, errors.New("step before reset")
	}
	return c.call(ctx, MethodStep, cmd.Dict())
}

func (c *Controller) LastEvent() *sim.Event { return c.last }

// Stop asks the server to end the session.
func (c *Controller) Stop() error {
	_, err := c.caller.Call(context.Background(), MethodStop, map[string]any{})
	return err
}

func (c *Controller) call(ctx context.Context, method string, req map[string]any) (*sim.Event, error) {
	resp, err := c.caller.Call(ctx, method, req)
	if err != nil {
		return nil, err
	}
	var w event
	if err := fromMap(resp, &w); err != nil {
		return nil, fmt.Errorf("%s: decode event: %w", method, err)
	}
	ev, err := w.decode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.last = ev
	return ev, nil
}
