package throttle

import (
	"time"

	"korg-throttle/config"
	"korg-throttle/midi"
)

// slot is the runtime state of one slider lane
type slot struct {
	loco     string // address confirmed by the server, empty when free
	reversed bool

	pending int // last slider position not yet sent
	dirty   bool
	speed   int // last speed sent
}

// Lane is the observable state of a slider lane
type Lane struct {
	Address  string
	Loco     string
	Reversed bool
	Selected bool
	Speed    int
	Inert    bool // no address configured
}

// Snapshot is a copy of the session state handed to observers
type Snapshot struct {
	Lanes             [midi.Lanes]Lane
	Locked            bool
	Powered           bool
	HeartbeatInterval time.Duration
	ServerPort        string
}

// Selected returns the selected lane or -1
func (s Snapshot) Selected() int {
	for i, l := range s.Lanes {
		if l.Selected {
			return i
		}
	}
	return -1
}

// Observer is notified on the control loop after every state change. It
// must not block.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Snapshot)

func (f ObserverFunc) Observe(s Snapshot) { f(s) }

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Locked:            c.locked,
		Powered:           c.powered,
		HeartbeatInterval: c.heartbeatInterval,
		ServerPort:        c.serverPort,
	}
	for i := range c.slots {
		addr := c.cfg.Channels[i].DCCAddress
		s.Lanes[i] = Lane{
			Address:  string(addr),
			Loco:     c.slots[i].loco,
			Reversed: c.slots[i].reversed,
			Selected: c.selected == i,
			Speed:    c.slots[i].speed,
			Inert:    addr == "",
		}
	}
	return s
}

// Snapshot returns the current state. Only safe on the control loop or
// before Run starts.
func (c *Controller) Snapshot() Snapshot {
	return c.snapshot()
}

func (c *Controller) notify() {
	s := c.snapshot()
	if c.published && s == c.last {
		return
	}
	c.last = s
	c.published = true
	for _, o := range c.observers {
		o.Observe(s)
	}
}

func laneAddress(cfg *config.Config, ch int) string {
	return string(cfg.Channels[ch].DCCAddress)
}
