package throttle

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"korg-throttle/config"
	"korg-throttle/midi"
	"korg-throttle/withrottle"
)

// UpdateInterval is how often slider positions are sent and server lines
// are processed
const UpdateInterval = 250 * time.Millisecond

// DefaultHeartbeat is assumed until the server announces its interval
const DefaultHeartbeat = time.Second

// celebratePause is how long the heartbeat animation stays lit
const celebratePause = time.Second

var ErrSurfaceClosed = errors.New("throttle: control surface closed")

// Station is the command-station end of the session
type Station interface {
	Send(cmd withrottle.Command) error
	PollEvents() ([]withrottle.Event, error)
}

// Surface is the LED end of the control surface
type Surface interface {
	SetLED(c midi.Control, on bool) error
	AnimateRow(row int, on bool) error
}

// functionButtons maps the transport buttons to their config names
var functionButtons = map[midi.Control]string{
	midi.Record:      config.ButtonRec,
	midi.Play:        config.ButtonPlay,
	midi.FastForward: config.ButtonFF,
	midi.Rewind:      config.ButtonRW,
}

// Controller routes surface events to the command station and reflects the
// station's confirmed state on the surface LEDs. All state is owned by the
// goroutine running Run.
type Controller struct {
	station Station
	surface Surface
	cfg     *config.Config
	log     logrus.FieldLogger

	slots    [midi.Lanes]slot
	selected int // -1 when no lane is selected
	locked   bool
	powered  bool

	serverPort        string
	heartbeatInterval time.Duration
	lastHeartbeat     time.Time

	// heartbeat celebration in progress: next LED to light (Lanes means
	// waiting to clear) and when to take the next step
	celebrating  bool
	celebrateLED int
	celebrateAt  time.Time

	observers []Observer
	last      Snapshot
	published bool

	now func() time.Time
}

// New creates a controller for the given lanes
func New(station Station, surface Surface, cfg *config.Config, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		station:           station,
		surface:           surface,
		cfg:               cfg,
		log:               log,
		selected:          -1,
		heartbeatInterval: DefaultHeartbeat,
		now:               time.Now,
	}
}

// AddObserver registers an observer. Call before Run.
func (c *Controller) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Start names the throttle on the server
func (c *Controller) Start(name string) error {
	c.lastHeartbeat = c.now()
	if err := c.station.Send(withrottle.NewThrottleNameCommand(name)); err != nil {
		return err
	}
	c.notify()
	return nil
}

func (c *Controller) send(cmd withrottle.Command) error {
	return c.station.Send(cmd)
}

// led failures are logged, the session carries on without feedback
func (c *Controller) led(ctl midi.Control, on bool) {
	if err := c.surface.SetLED(ctl, on); err != nil {
		c.log.WithError(err).Warnf("setting LED %s", ctl)
	}
}

// HandleSurface applies one event from the control surface
func (c *Controller) HandleSurface(ev midi.Event) error {
	var err error
	switch ev.Kind {
	case midi.SliderMoved:
		c.handleSlider(ev)
	case midi.ButtonChanged:
		err = c.handleButton(ev)
	}
	c.notify()
	return err
}

func (c *Controller) handleSlider(ev midi.Event) {
	ch := ev.Control.Channel()
	if ch >= midi.Lanes {
		return
	}
	c.slots[ch].pending = int(ev.Value)
	c.slots[ch].dirty = true
}

func (c *Controller) handleButton(ev midi.Event) error {
	ctl := ev.Control

	if ev.On {
		c.log.Debugf("pressed %s", ctl)

		if ctl == midi.MarkerLeft && ev.Held.Has(midi.MarkerRight) {
			c.locked = !c.locked
			c.log.Infof("controls locked=%t", c.locked)
		}

		// works even when locked
		if ctl == midi.Cycle {
			if err := c.send(withrottle.NewTrackPowerCommand(!c.powered)); err != nil {
				return err
			}
		}

		if c.locked {
			return nil
		}

		if ctl.IsLane() {
			var err error
			switch ctl.Role() {
			case midi.RoleAddRelease:
				err = c.toggleLoco(ctl.Channel())
			case midi.RoleReverse:
				err = c.toggleDirection(ctl.Channel())
			case midi.RoleSelect:
				c.toggleSelect(ctl.Channel())
			}
			if err != nil {
				return err
			}
		}

		if ctl == midi.Stop {
			if err := c.stop(); err != nil {
				return err
			}
		}
	}

	// function buttons act on press and release
	return c.handleFunction(ev)
}

func (c *Controller) toggleLoco(ch int) error {
	addr := laneAddress(c.cfg, ch)
	if addr == "" {
		c.log.Debugf("lane %d has no DCC address", ch)
		return nil
	}

	s := &c.slots[ch]
	if s.loco == "" {
		return c.send(withrottle.NewAddLocoCommand(addr))
	}

	if err := c.send(withrottle.NewReleaseLocoCommand(addr)); err != nil {
		return err
	}
	if s.reversed {
		s.reversed = false
		c.led(midi.NewControl(ch, midi.RoleReverse), false)
	}
	if c.selected == ch {
		c.selected = -1
		c.led(midi.NewControl(ch, midi.RoleSelect), false)
	}
	return nil
}

func (c *Controller) toggleDirection(ch int) error {
	s := &c.slots[ch]
	if s.loco == "" {
		return nil
	}
	s.reversed = !s.reversed
	if err := c.send(withrottle.NewDirectionCommand(laneAddress(c.cfg, ch), !s.reversed)); err != nil {
		return err
	}
	c.led(midi.NewControl(ch, midi.RoleReverse), s.reversed)
	return nil
}

func (c *Controller) toggleSelect(ch int) {
	if c.slots[ch].loco == "" {
		return
	}
	if c.selected >= 0 {
		c.led(midi.NewControl(c.selected, midi.RoleSelect), false)
	}
	if c.selected == ch {
		c.selected = -1
		return
	}
	c.selected = ch
	c.led(midi.NewControl(ch, midi.RoleSelect), true)
}

// stop halts the selected loco, or every configured loco when none is selected
func (c *Controller) stop() error {
	if c.selected >= 0 {
		return c.send(withrottle.NewEmergencyStopCommand(laneAddress(c.cfg, c.selected)))
	}
	for _, addr := range c.cfg.Addresses() {
		if err := c.send(withrottle.NewEmergencyStopCommand(addr)); err != nil {
			return err
		}
	}
	return nil
}

// shiftBank reads the Track buttons as shift keys
func shiftBank(held midi.PressedSet) config.ShiftBank {
	switch {
	case held.Has(midi.TrackLeft):
		return config.BankLeftShift
	case held.Has(midi.TrackRight):
		return config.BankRightShift
	default:
		return config.BankNormal
	}
}

func (c *Controller) handleFunction(ev midi.Event) error {
	if c.selected < 0 {
		return nil
	}
	button, ok := functionButtons[ev.Control]
	if !ok {
		return nil
	}

	bank := shiftBank(ev.Held)
	fn, ok := c.cfg.Channels[c.selected].Functions.Bank(bank).Function(button)
	if !ok {
		c.log.Debugf("no function mapped to %s in %s bank", button, bank)
		return nil
	}
	return c.send(withrottle.NewFunctionCommand(laneAddress(c.cfg, c.selected), fn, ev.On))
}

// HandleStation applies one event reported by the command station
func (c *Controller) HandleStation(ev withrottle.Event) {
	switch ev.Kind {
	case withrottle.EventAdded:
		if ch, ok := c.cfg.ChannelFor(ev.ID); ok {
			c.slots[ch].loco = ev.ID
			c.led(midi.NewControl(ch, midi.RoleAddRelease), true)
		}

	case withrottle.EventRemoved:
		if ch, ok := c.cfg.ChannelFor(ev.ID); ok {
			c.releaseSlot(ch)
		}

	case withrottle.EventReverse:
		if ch, ok := c.cfg.ChannelFor(ev.ID); ok && c.slots[ch].loco != "" {
			c.slots[ch].reversed = true
			c.led(midi.NewControl(ch, midi.RoleReverse), true)
		}

	case withrottle.EventForward:
		if ch, ok := c.cfg.ChannelFor(ev.ID); ok && c.slots[ch].loco != "" {
			c.slots[ch].reversed = false
			c.led(midi.NewControl(ch, midi.RoleReverse), false)
		}

	case withrottle.EventPowerOn:
		c.powered = true
		c.led(midi.Cycle, true)

	case withrottle.EventPowerOff:
		c.powered = false
		c.led(midi.Cycle, false)

	case withrottle.EventConnected:
		c.serverPort = ev.ID
		c.log.Infof("connected to server port %s", ev.ID)

	case withrottle.EventHeartbeat:
		secs, ok := ev.Interval()
		if !ok {
			return
		}
		c.heartbeatInterval = time.Duration(secs) * time.Second
		c.log.Debugf("heartbeat interval %v", c.heartbeatInterval)
		c.log.Info("received response from withrottle server")
		c.celebrate()
	}
}

// releaseSlot clears a lane the server no longer assigns to us
func (c *Controller) releaseSlot(ch int) {
	s := &c.slots[ch]
	s.loco = ""
	s.speed = 0
	c.led(midi.NewControl(ch, midi.RoleAddRelease), false)
	if s.reversed {
		s.reversed = false
		c.led(midi.NewControl(ch, midi.RoleReverse), false)
	}
	if c.selected == ch {
		c.selected = -1
		c.led(midi.NewControl(ch, midi.RoleSelect), false)
	}
}

// celebrate starts the heartbeat animation: the reverse row lights up one
// LED per ChaseDelay, stays lit for celebratePause, then the lane rows are
// cleared and repainted from state. animate advances it.
func (c *Controller) celebrate() {
	c.celebrating = true
	c.celebrateLED = 0
	c.celebrateAt = c.now()
	c.animate(c.celebrateAt)
}

// animate takes every celebration step that is due at now
func (c *Controller) animate(now time.Time) {
	for c.celebrating && !now.Before(c.celebrateAt) {
		if c.celebrateLED < midi.Lanes {
			c.led(midi.NewControl(c.celebrateLED, midi.RoleReverse), true)
			c.celebrateLED++
			c.celebrateAt = c.celebrateAt.Add(midi.ChaseDelay)
			if c.celebrateLED == midi.Lanes {
				c.celebrateAt = c.celebrateAt.Add(celebratePause)
			}
			continue
		}

		c.celebrating = false
		for _, row := range []int{midi.RoleSelect, midi.RoleAddRelease, midi.RoleReverse} {
			if err := c.surface.AnimateRow(row, false); err != nil {
				c.log.WithError(err).Warn("LED animation")
			}
		}
		c.repaint()
	}
}

// repaint sets every LED to mirror the session state
func (c *Controller) repaint() {
	for i, s := range c.slots {
		c.led(midi.NewControl(i, midi.RoleAddRelease), s.loco != "")
		c.led(midi.NewControl(i, midi.RoleReverse), s.loco != "" && s.reversed)
		c.led(midi.NewControl(i, midi.RoleSelect), c.selected == i)
	}
	c.led(midi.Cycle, c.powered)
}

// flush sends the pending slider positions of lanes holding a loco
func (c *Controller) flush() error {
	for i := range c.slots {
		s := &c.slots[i]
		if !s.dirty {
			continue
		}
		s.dirty = false
		c.log.Debugf("slider %d updated to %d", i, s.pending)
		if s.loco == "" {
			continue
		}
		cmd := withrottle.NewSpeedCommand(laneAddress(c.cfg, i), s.pending)
		if err := c.send(cmd); err != nil {
			return err
		}
		s.speed = min(s.pending, withrottle.MaxSpeed)
	}
	return nil
}

// heartbeat sends a keep-alive once half the server interval has passed
func (c *Controller) heartbeat(now time.Time) error {
	if c.heartbeatInterval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < c.heartbeatInterval/2 {
		return nil
	}
	c.lastHeartbeat = now
	return c.send(withrottle.NewHeartbeatCommand())
}
