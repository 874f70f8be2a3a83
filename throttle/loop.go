package throttle

import (
	"context"
	"time"

	"korg-throttle/midi"
)

// Tick processes server lines, sends slider positions and keeps the
// connection alive. Run calls it every UpdateInterval.
func (c *Controller) Tick() error {
	events, err := c.station.PollEvents()
	if err != nil {
		return err
	}
	for _, ev := range events {
		c.HandleStation(ev)
	}

	now := c.now()
	c.animate(now)

	err = c.flush()
	if err == nil {
		err = c.heartbeat(now)
	}
	c.notify()
	return err
}

// Run is the control loop. Surface events are applied in arrival order as
// they come in, server events on every tick. Nothing in it sleeps. It
// returns nil when ctx is cancelled and the first station error otherwise.
func (c *Controller) Run(ctx context.Context, events <-chan midi.Event) error {
	ticker := time.NewTicker(UpdateInterval)
	defer ticker.Stop()
	chase := time.NewTicker(midi.ChaseDelay)
	defer chase.Stop()

	if c.lastHeartbeat.IsZero() {
		c.lastHeartbeat = c.now()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return ErrSurfaceClosed
			}
			if err := c.HandleSurface(ev); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.Tick(); err != nil {
				return err
			}

		case <-chase.C:
			c.animate(c.now())
		}
	}
}
