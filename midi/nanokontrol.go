package midi

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ledChannel is the MIDI channel the surface reads LED commands from (status 0xBF)
const ledChannel uint8 = 15

const (
	ledOn  uint8 = 127
	ledOff uint8 = 0
)

// ChaseDelay is the pause after each LED when a row is switched on
const ChaseDelay = 150 * time.Millisecond

const eventBuffer = 256

// maxQueued bounds button events waiting for the consumer. Slider moves
// never count against it, they coalesce per slider.
const maxQueued = 4096

// Button control numbers reported by the surface
const (
	firstButton uint8 = 0x20
	lastButton  uint8 = 0x50
	lastSlider  uint8 = 0x0F
)

// ledModeSysEx is the KORG "LED mode" message without the F0/F7 framing.
// The final byte selects internal (0x00) or external (0x01) LED control.
var ledModeSysEx = []byte{0x42, 0x40, 0x00, 0x01, 0x13, 0x00, 0x00, 0x00}

// NanoKontrol drives a KORG nanoKONTROL2: it decodes control changes into
// Events and sends LED feedback.
type NanoKontrol struct {
	id       string
	inPort   drivers.In
	outPort  drivers.Out
	send     func(msg gomidi.Message) error
	stopFunc func()

	mu      sync.RWMutex
	pressed PressedSet
	closed  bool
	queue   []Event

	wake     chan struct{}
	done     chan struct{}
	pumpDone chan struct{}
	events   chan Event
	log    logrus.FieldLogger
	sleep  func(time.Duration)
}

// NewNanoKontrol opens the given ports, switches the LEDs to external control
// and starts listening for control changes.
func NewNanoKontrol(id string, inPort drivers.In, outPort drivers.Out, log logrus.FieldLogger) (*NanoKontrol, error) {
	nk := newNanoKontrol(nil, log)
	nk.id = id
	nk.inPort = inPort
	nk.outPort = outPort

	if outPort != nil {
		send, err := gomidi.SendTo(outPort)
		if err != nil {
			nk.stopPump()
			return nil, fmt.Errorf("open output: %w", err)
		}
		nk.send = send

		if err := nk.SetMode(true); err != nil {
			if err := outPort.Close(); err != nil {
				nk.log.WithError(err).Warn("closing output port")
			}
			nk.stopPump()
			return nil, fmt.Errorf("set external LED mode: %w", err)
		}
	}

	if inPort != nil {
		stop, err := gomidi.ListenTo(inPort, nk.handle)
		if err != nil {
			if nk.send != nil {
				if err := nk.SetMode(false); err != nil {
					nk.log.WithError(err).Warn("restoring internal LED mode")
				}
			}
			if outPort != nil {
				if err := outPort.Close(); err != nil {
					nk.log.WithError(err).Warn("closing output port")
				}
			}
			nk.stopPump()
			return nil, fmt.Errorf("open input: %w", err)
		}
		nk.stopFunc = stop
	}

	return nk, nil
}

func newNanoKontrol(send func(gomidi.Message) error, log logrus.FieldLogger) *NanoKontrol {
	if log == nil {
		log = logrus.StandardLogger()
	}
	nk := &NanoKontrol{
		send:     send,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		events:   make(chan Event, eventBuffer),
		log:      log,
		sleep:    time.Sleep,
	}
	go nk.pump()
	return nk
}

func (nk *NanoKontrol) ID() string {
	return nk.id
}

// Events returns the queue of decoded surface events. It is closed by Close.
func (nk *NanoKontrol) Events() <-chan Event {
	return nk.events
}

// handle runs on the MIDI receive thread and must not block
func (nk *NanoKontrol) handle(msg gomidi.Message, timestampms int32) {
	var channel, cc, value uint8
	if !msg.GetControlChange(&channel, &cc, &value) {
		return
	}

	switch {
	case cc <= lastSlider:
		nk.log.Debugf("slider %d value %d", cc, value)
		nk.emit(Event{Kind: SliderMoved, Control: Control(cc), Value: value})

	case cc >= firstButton && cc <= lastButton:
		c := Control(cc)
		on := value > 0

		nk.mu.Lock()
		nk.pressed = nk.pressed.With(c, on)
		held := nk.pressed
		nk.mu.Unlock()

		nk.log.Debugf("button %s on=%t", c, on)
		nk.emit(Event{Kind: ButtonChanged, Control: c, Value: value, On: on, Held: held})
	}
}

// emit queues an event for the consumer without blocking. A slider move
// replaces a queued move of the same slider so the newest position wins.
func (nk *NanoKontrol) emit(ev Event) {
	nk.mu.Lock()
	if nk.closed {
		nk.mu.Unlock()
		return
	}
	if ev.Kind == SliderMoved {
		for i := range nk.queue {
			if nk.queue[i].Kind == SliderMoved && nk.queue[i].Control == ev.Control {
				nk.queue[i].Value = ev.Value
				nk.mu.Unlock()
				return
			}
		}
	} else if len(nk.queue) >= maxQueued {
		nk.mu.Unlock()
		nk.log.Warnf("event queue full, dropped %s %s", ev.Kind, ev.Control)
		return
	}
	nk.queue = append(nk.queue, ev)
	nk.mu.Unlock()

	select {
	case nk.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the events channel one at a time, so moves
// arriving while the consumer is busy still coalesce in the queue
func (nk *NanoKontrol) pump() {
	defer close(nk.pumpDone)
	defer close(nk.events)

	for {
		select {
		case <-nk.done:
			return
		case <-nk.wake:
		}

		for {
			nk.mu.Lock()
			if len(nk.queue) == 0 {
				nk.queue = nil
				nk.mu.Unlock()
				break
			}
			ev := nk.queue[0]
			nk.queue = nk.queue[1:]
			nk.mu.Unlock()

			select {
			case nk.events <- ev:
			case <-nk.done:
				return
			}
		}
	}
}

func (nk *NanoKontrol) stopPump() {
	nk.mu.Lock()
	if nk.closed {
		nk.mu.Unlock()
		return
	}
	nk.closed = true
	nk.queue = nil
	nk.mu.Unlock()

	close(nk.done)
	<-nk.pumpDone
}

// IsPressed reports whether the button is currently held
func (nk *NanoKontrol) IsPressed(c Control) bool {
	nk.mu.RLock()
	defer nk.mu.RUnlock()
	return nk.pressed.Has(c)
}

// SetLED switches the LED of a single control
func (nk *NanoKontrol) SetLED(c Control, on bool) error {
	if nk.send == nil {
		return nil
	}
	val := ledOff
	if on {
		val = ledOn
	}
	return nk.send(gomidi.ControlChange(ledChannel, uint8(c), val))
}

// SetLaneLED switches the LED for the role row of a lane
func (nk *NanoKontrol) SetLaneLED(channel, role int, on bool) error {
	return nk.SetLED(NewControl(channel, role), on)
}

// AnimateRow switches all 8 LEDs of a row in sequence. Switching on chases
// across the row with ChaseDelay between LEDs, switching off is instant.
func (nk *NanoKontrol) AnimateRow(row int, on bool) error {
	for i := 0; i < Lanes; i++ {
		control := NewControl(i, row)
		nk.log.Debugf("LED %s on=%t", control, on)
		if err := nk.SetLED(control, on); err != nil {
			return err
		}
		if on {
			nk.sleep(ChaseDelay)
		}
	}
	return nil
}

// ClearLEDs turns off every lane LED and the Cycle LED
func (nk *NanoKontrol) ClearLEDs() error {
	for _, row := range []int{RoleSelect, RoleAddRelease, RoleReverse} {
		if err := nk.AnimateRow(row, false); err != nil {
			return err
		}
	}
	return nk.SetLED(Cycle, false)
}

// SetMode hands LED control to the host (external) or back to the device
func (nk *NanoKontrol) SetMode(external bool) error {
	if nk.send == nil {
		return nil
	}
	body := make([]byte, 0, len(ledModeSysEx)+1)
	body = append(body, ledModeSysEx...)
	if external {
		body = append(body, 0x01)
	} else {
		body = append(body, 0x00)
	}
	return nk.send(gomidi.SysEx(body))
}

// Close turns the LEDs off, restores internal LED mode and releases both
// ports. Call it once.
func (nk *NanoKontrol) Close() error {
	var firstErr error
	if nk.send != nil {
		if err := nk.ClearLEDs(); err != nil {
			firstErr = err
		}
		if err := nk.SetMode(false); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	nk.log.Debug("closing midi device")
	if nk.stopFunc != nil {
		nk.stopFunc()
	}
	if nk.inPort != nil {
		nk.inPort.Close()
	}
	if nk.outPort != nil {
		nk.outPort.Close()
	}

	nk.stopPump()
	return firstErr
}
