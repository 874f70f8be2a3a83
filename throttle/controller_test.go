package throttle

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"korg-throttle/config"
	"korg-throttle/midi"
	"korg-throttle/withrottle"
)

type fakeStation struct {
	sent    []string
	events  []withrottle.Event
	sendErr error
	pollErr error
}

func (f *fakeStation) Send(cmd withrottle.Command) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd.Format())
	return nil
}

func (f *fakeStation) PollEvents() ([]withrottle.Event, error) {
	events := f.events
	f.events = nil
	return events, f.pollErr
}

func (f *fakeStation) take() []string {
	sent := f.sent
	f.sent = nil
	return sent
}

type rowCall struct {
	row int
	on  bool
}

type fakeSurface struct {
	leds map[midi.Control]bool
	rows []rowCall
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{leds: make(map[midi.Control]bool)}
}

func (f *fakeSurface) SetLED(c midi.Control, on bool) error {
	f.leds[c] = on
	return nil
}

func (f *fakeSurface) AnimateRow(row int, on bool) error {
	f.rows = append(f.rows, rowCall{row, on})
	for i := 0; i < midi.Lanes; i++ {
		f.leds[midi.NewControl(i, row)] = on
	}
	return nil
}

func fn(n int) *int { return &n }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Channels[0].DCCAddress = "L1"
	cfg.Channels[2].DCCAddress = "L2"
	cfg.Channels[3].DCCAddress = "L3"
	cfg.Channels[3].Functions = &config.Functions{
		Normal: &config.Bank{Play: fn(0), Rec: fn(1)},
		LShift: &config.Bank{Play: fn(5)},
		RShift: &config.Bank{FF: fn(8)},
	}
	return cfg
}

type harness struct {
	c       *Controller
	station *fakeStation
	surface *fakeSurface
	held    midi.PressedSet
	clock   time.Time
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		station: &fakeStation{},
		surface: newFakeSurface(),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	h.c = New(h.station, h.surface, cfg, log)
	h.c.now = func() time.Time { return h.clock }
	h.c.lastHeartbeat = h.clock
	return h
}

func (h *harness) press(t *testing.T, ctl midi.Control) {
	t.Helper()
	h.button(t, ctl, true)
}

func (h *harness) release(t *testing.T, ctl midi.Control) {
	t.Helper()
	h.button(t, ctl, false)
}

func (h *harness) button(t *testing.T, ctl midi.Control, on bool) {
	t.Helper()
	h.held = h.held.With(ctl, on)
	ev := midi.Event{Kind: midi.ButtonChanged, Control: ctl, On: on, Held: h.held}
	if err := h.c.HandleSurface(ev); err != nil {
		t.Fatalf("HandleSurface(%s) error = %v", ctl, err)
	}
}

func (h *harness) slide(t *testing.T, ch int, value uint8) {
	t.Helper()
	ev := midi.Event{Kind: midi.SliderMoved, Control: midi.NewControl(ch, 0), Value: value}
	if err := h.c.HandleSurface(ev); err != nil {
		t.Fatalf("HandleSurface(slider) error = %v", err)
	}
}

// serverSays delivers events on the next tick
func (h *harness) serverSays(t *testing.T, events ...withrottle.Event) {
	t.Helper()
	h.station.events = append(h.station.events, events...)
	if err := h.c.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

// acquire puts a loco on a lane the way the server would
func (h *harness) acquire(t *testing.T, ch int) {
	t.Helper()
	h.press(t, midi.NewControl(ch, midi.RoleAddRelease))
	h.release(t, midi.NewControl(ch, midi.RoleAddRelease))
	h.serverSays(t, withrottle.Event{Kind: withrottle.EventAdded, ID: laneAddress(h.c.cfg, ch)})
	h.station.take()
}

func assertSent(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestAddLocoAndConfirm(t *testing.T) {
	h := newHarness(t, testConfig())

	h.press(t, midi.NewControl(2, midi.RoleAddRelease))
	assertSent(t, h.station.take(), "MT+L2<;>L2")
	if h.c.slots[2].loco != "" {
		t.Fatal("lane must stay free until the server confirms")
	}

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventAdded, ID: "L2"})
	if h.c.slots[2].loco != "L2" {
		t.Errorf("lane 2 loco = %q, want L2", h.c.slots[2].loco)
	}
	if !h.surface.leds[midi.NewControl(2, midi.RoleAddRelease)] {
		t.Error("lane 2 add LED should be on")
	}
}

func TestAddOnInertLaneIgnored(t *testing.T) {
	h := newHarness(t, testConfig())

	h.press(t, midi.NewControl(5, midi.RoleAddRelease))
	assertSent(t, h.station.take())
}

func TestUnknownLocoEventsIgnored(t *testing.T) {
	h := newHarness(t, testConfig())

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventAdded, ID: "L99"})
	for i, s := range h.c.slots {
		if s.loco != "" {
			t.Errorf("lane %d took unknown loco %q", i, s.loco)
		}
	}
}

func TestReleaseClearsReverseAndSelection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 3)

	h.press(t, midi.NewControl(3, midi.RoleReverse))
	h.press(t, midi.NewControl(3, midi.RoleSelect))
	h.station.take()

	h.press(t, midi.NewControl(3, midi.RoleAddRelease))
	assertSent(t, h.station.take(), "MT-L3<;>r")

	if h.c.slots[3].reversed {
		t.Error("reverse flag should be cleared")
	}
	if h.c.selected != -1 {
		t.Errorf("selected = %d, want none", h.c.selected)
	}
	if h.surface.leds[midi.NewControl(3, midi.RoleReverse)] || h.surface.leds[midi.NewControl(3, midi.RoleSelect)] {
		t.Error("reverse and select LEDs should be off")
	}

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventRemoved, ID: "L3"})
	if h.c.slots[3].loco != "" || h.surface.leds[midi.NewControl(3, midi.RoleAddRelease)] {
		t.Error("lane 3 should be free with its LED off")
	}
}

func TestReverseToggle(t *testing.T) {
	h := newHarness(t, testConfig())

	h.press(t, midi.NewControl(0, midi.RoleReverse))
	assertSent(t, h.station.take())

	h.acquire(t, 0)
	h.press(t, midi.NewControl(0, midi.RoleReverse))
	h.press(t, midi.NewControl(0, midi.RoleReverse))
	assertSent(t, h.station.take(), "MTAL1<;>R0", "MTAL1<;>R1")
	if h.surface.leds[midi.NewControl(0, midi.RoleReverse)] {
		t.Error("reverse LED should be off after toggling back")
	}
}

func TestServerDirectionConfirmations(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 0)

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventReverse, ID: "L1"})
	if !h.c.slots[0].reversed || !h.surface.leds[midi.NewControl(0, midi.RoleReverse)] {
		t.Error("reverse confirmation should set flag and LED")
	}
	h.serverSays(t, withrottle.Event{Kind: withrottle.EventForward, ID: "L1"})
	if h.c.slots[0].reversed || h.surface.leds[midi.NewControl(0, midi.RoleReverse)] {
		t.Error("forward confirmation should clear flag and LED")
	}
}

func TestSelectToggle(t *testing.T) {
	h := newHarness(t, testConfig())

	h.press(t, midi.NewControl(0, midi.RoleSelect))
	if h.c.selected != -1 {
		t.Fatal("a lane without loco cannot be selected")
	}

	h.acquire(t, 0)
	h.acquire(t, 2)

	h.press(t, midi.NewControl(0, midi.RoleSelect))
	h.press(t, midi.NewControl(2, midi.RoleSelect))
	if h.c.selected != 2 {
		t.Fatalf("selected = %d, want 2", h.c.selected)
	}
	if h.surface.leds[midi.NewControl(0, midi.RoleSelect)] || !h.surface.leds[midi.NewControl(2, midi.RoleSelect)] {
		t.Error("only lane 2 select LED should be on")
	}

	h.press(t, midi.NewControl(2, midi.RoleSelect))
	if h.c.selected != -1 || h.surface.leds[midi.NewControl(2, midi.RoleSelect)] {
		t.Error("pressing the selected lane again should deselect it")
	}
	assertSent(t, h.station.take())
}

func TestLaneBoundIsExclusive(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	// lane 8 exists on the button grid but has no slot
	h.press(t, midi.NewControl(8, midi.RoleAddRelease))
	h.press(t, midi.NewControl(8, midi.RoleSelect))
	h.press(t, midi.NewControl(8, midi.RoleReverse))
	assertSent(t, h.station.take())
}

func TestFunctionButtonsPressAndRelease(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 3)
	h.press(t, midi.NewControl(3, midi.RoleSelect))

	h.press(t, midi.TrackLeft)
	h.press(t, midi.Play)
	h.release(t, midi.Play)
	h.release(t, midi.TrackLeft)
	assertSent(t, h.station.take(), "MTAL3<;>F05", "MTAL3<;>F15")

	h.press(t, midi.Play)
	h.release(t, midi.Play)
	assertSent(t, h.station.take(), "MTAL3<;>F00", "MTAL3<;>F10")

	h.press(t, midi.TrackRight)
	h.press(t, midi.FastForward)
	h.press(t, midi.Play) // unmapped in rshift
	assertSent(t, h.station.take(), "MTAL3<;>F08")
}

func TestFunctionButtonsNeedSelection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 3)

	h.press(t, midi.Play)
	h.release(t, midi.Play)
	assertSent(t, h.station.take())
}

func TestShiftBankUsesHeldSnapshot(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 3)
	h.press(t, midi.NewControl(3, midi.RoleSelect))

	// TrackLeft went up after Play was decoded: the Play event still carries it
	held := midi.PressedSet{}.With(midi.TrackLeft, true).With(midi.Play, true)
	if err := h.c.HandleSurface(midi.Event{Kind: midi.ButtonChanged, Control: midi.Play, On: true, Held: held}); err != nil {
		t.Fatal(err)
	}
	assertSent(t, h.station.take(), "MTAL3<;>F05")
}

func TestLockBlocksPressesButNotPower(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 0)

	h.press(t, midi.MarkerRight)
	h.press(t, midi.MarkerLeft)
	h.release(t, midi.MarkerLeft)
	h.release(t, midi.MarkerRight)
	if !h.c.locked {
		t.Fatal("marker chord should lock the controls")
	}

	before := h.c.snapshot()
	h.press(t, midi.NewControl(0, midi.RoleSelect))
	h.press(t, midi.NewControl(0, midi.RoleAddRelease))
	h.press(t, midi.Stop)
	assertSent(t, h.station.take())
	if h.c.snapshot() != before {
		t.Error("locked presses must not change state")
	}

	h.press(t, midi.Cycle)
	assertSent(t, h.station.take(), "PPA1")

	h.press(t, midi.MarkerLeft) // no MarkerRight held: stays locked
	if !h.c.locked {
		t.Error("MarkerLeft alone must not unlock")
	}

	h.press(t, midi.MarkerRight)
	h.press(t, midi.MarkerLeft)
	if h.c.locked {
		t.Error("marker chord should unlock")
	}
}

func TestLockedReleaseStillReleasesFunction(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 3)
	h.press(t, midi.NewControl(3, midi.RoleSelect))

	h.press(t, midi.Play)
	h.press(t, midi.MarkerRight)
	h.press(t, midi.MarkerLeft)
	h.release(t, midi.Play)
	assertSent(t, h.station.take(), "MTAL3<;>F00", "MTAL3<;>F10")
}

func TestPowerCycle(t *testing.T) {
	h := newHarness(t, testConfig())

	h.press(t, midi.Cycle)
	assertSent(t, h.station.take(), "PPA1")

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventPowerOn})
	if !h.c.powered || !h.surface.leds[midi.Cycle] {
		t.Fatal("power on confirmation should set state and Cycle LED")
	}

	h.press(t, midi.Cycle)
	assertSent(t, h.station.take(), "PPA0")

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventPowerOff})
	if h.c.powered || h.surface.leds[midi.Cycle] {
		t.Error("power off confirmation should clear state and Cycle LED")
	}
}

func TestStopAllWithoutSelection(t *testing.T) {
	cfg := &config.Config{}
	cfg.Channels[1].DCCAddress = "L7"
	cfg.Channels[4].DCCAddress = "L4"
	h := newHarness(t, cfg)

	h.press(t, midi.Stop)
	assertSent(t, h.station.take(), "MTAL7<;>X", "MTAL4<;>X")
}

func TestStopSelectedOnly(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 2)
	h.press(t, midi.NewControl(2, midi.RoleSelect))

	h.press(t, midi.Stop)
	assertSent(t, h.station.take(), "MTAL2<;>X")
}

func TestSliderFlush(t *testing.T) {
	h := newHarness(t, testConfig())

	h.slide(t, 0, 40)
	assertSent(t, h.station.take())
	h.serverSays(t)
	assertSent(t, h.station.take())
	if h.c.slots[0].dirty {
		t.Error("dirty flag should clear even without a loco")
	}

	h.acquire(t, 0)
	h.slide(t, 0, 10)
	h.slide(t, 0, 127)
	assertSent(t, h.station.take())

	h.serverSays(t)
	assertSent(t, h.station.take(), "MTAL1<;>V126")
	if h.c.Snapshot().Lanes[0].Speed != withrottle.MaxSpeed {
		t.Errorf("snapshot speed = %d, want %d", h.c.Snapshot().Lanes[0].Speed, withrottle.MaxSpeed)
	}

	h.serverSays(t)
	assertSent(t, h.station.take())

	h.slide(t, 9, 50) // beyond the slider lanes
	h.serverSays(t)
	assertSent(t, h.station.take())
}

func TestHeartbeatTimer(t *testing.T) {
	h := newHarness(t, testConfig())

	h.clock = h.clock.Add(400 * time.Millisecond)
	h.serverSays(t)
	assertSent(t, h.station.take())

	h.clock = h.clock.Add(100 * time.Millisecond)
	h.serverSays(t)
	assertSent(t, h.station.take(), "*")

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventHeartbeat, ID: "10"})
	h.station.take()

	h.clock = h.clock.Add(4 * time.Second)
	h.serverSays(t)
	assertSent(t, h.station.take())

	h.clock = h.clock.Add(time.Second)
	h.serverSays(t)
	assertSent(t, h.station.take(), "*")
}

func TestHeartbeatZeroDisablesKeepAlive(t *testing.T) {
	h := newHarness(t, testConfig())

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventHeartbeat, ID: "0"})
	h.station.take()

	h.clock = h.clock.Add(time.Hour)
	h.serverSays(t)
	assertSent(t, h.station.take())
}

func TestHeartbeatAnnouncementCelebratesAndRepaints(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 2)
	h.surface.rows = nil

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventHeartbeat, ID: "10"})
	if h.c.heartbeatInterval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", h.c.heartbeatInterval)
	}
	if !h.surface.leds[midi.NewControl(0, midi.RoleReverse)] || h.surface.leds[midi.NewControl(1, midi.RoleReverse)] {
		t.Fatal("only the first reverse LED should light at once")
	}

	for i := 1; i < midi.Lanes; i++ {
		h.clock = h.clock.Add(midi.ChaseDelay)
		h.c.animate(h.clock)
		if !h.surface.leds[midi.NewControl(i, midi.RoleReverse)] {
			t.Fatalf("reverse LED %d should be lit after %d steps", i, i)
		}
	}

	h.clock = h.clock.Add(midi.ChaseDelay + celebratePause - time.Millisecond)
	h.c.animate(h.clock)
	if len(h.surface.rows) != 0 {
		t.Fatalf("rows cleared before the pause ended: %v", h.surface.rows)
	}

	h.clock = h.clock.Add(time.Millisecond)
	h.c.animate(h.clock)
	want := []rowCall{
		{midi.RoleSelect, false},
		{midi.RoleAddRelease, false},
		{midi.RoleReverse, false},
	}
	if !reflect.DeepEqual(h.surface.rows, want) {
		t.Errorf("row animation = %v, want %v", h.surface.rows, want)
	}
	if !h.surface.leds[midi.NewControl(2, midi.RoleAddRelease)] {
		t.Error("occupied lane LED should be repainted after the animation")
	}
	if h.c.celebrating {
		t.Error("celebration should be over")
	}
}

func TestInputHandledDuringCelebration(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 3)
	h.press(t, midi.NewControl(3, midi.RoleSelect))

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventHeartbeat, ID: "10"})
	h.station.take()

	h.press(t, midi.Play)
	h.release(t, midi.Play)
	assertSent(t, h.station.take(), "MTAL3<;>F00", "MTAL3<;>F10")

	h.slide(t, 3, 90)
	h.serverSays(t)
	assertSent(t, h.station.take(), "MTAL3<;>V90")

	if !h.c.celebrating {
		t.Error("the animation should still be running")
	}
}

func TestDirectionEventOnFreeLaneIgnored(t *testing.T) {
	h := newHarness(t, testConfig())

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventReverse, ID: "L1"})
	if h.c.slots[0].reversed || h.surface.leds[midi.NewControl(0, midi.RoleReverse)] {
		t.Error("a free lane must not show reverse")
	}

	h.acquire(t, 0)
	h.serverSays(t, withrottle.Event{Kind: withrottle.EventReverse, ID: "L1"})
	if !h.c.slots[0].reversed {
		t.Fatal("reverse confirmation should apply to an acquired loco")
	}
	h.serverSays(t, withrottle.Event{Kind: withrottle.EventRemoved, ID: "L1"})
	h.serverSays(t, withrottle.Event{Kind: withrottle.EventForward, ID: "L1"})
	if h.c.slots[0].reversed || h.surface.leds[midi.NewControl(0, midi.RoleReverse)] {
		t.Error("reverse state should be gone with the loco")
	}
}

func TestServerRemovalClearsSelection(t *testing.T) {
	h := newHarness(t, testConfig())
	h.acquire(t, 2)
	h.press(t, midi.NewControl(2, midi.RoleSelect))

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventRemoved, ID: "L2"})
	if h.c.selected != -1 || h.surface.leds[midi.NewControl(2, midi.RoleSelect)] {
		t.Error("removed loco should no longer be selected")
	}
}

func TestConnectedRecordsPort(t *testing.T) {
	h := newHarness(t, testConfig())

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventConnected, ID: "12080"})
	if got := h.c.Snapshot().ServerPort; got != "12080" {
		t.Errorf("ServerPort = %q, want 12080", got)
	}
}

func TestStartSendsName(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.c.Start("Korg0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	assertSent(t, h.station.take(), "NKorg0")
}

func TestObserversNotifiedOnChange(t *testing.T) {
	h := newHarness(t, testConfig())
	var got []Snapshot
	h.c.AddObserver(ObserverFunc(func(s Snapshot) { got = append(got, s) }))

	h.serverSays(t, withrottle.Event{Kind: withrottle.EventPowerOn})
	h.serverSays(t)
	h.serverSays(t, withrottle.Event{Kind: withrottle.EventAdded, ID: "L3"})

	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
	if !got[0].Powered || got[1].Lanes[3].Loco != "L3" {
		t.Errorf("unexpected snapshots %+v", got)
	}
	if !got[1].Lanes[1].Inert || got[1].Lanes[3].Inert {
		t.Error("inert flags should follow the config")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig())
	events := make(chan midi.Event)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx, events) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunReportsClosedSurface(t *testing.T) {
	h := newHarness(t, testConfig())
	events := make(chan midi.Event)
	close(events)

	if err := h.c.Run(context.Background(), events); !errors.Is(err, ErrSurfaceClosed) {
		t.Errorf("Run() error = %v, want ErrSurfaceClosed", err)
	}
}

func TestRunStopsOnStationError(t *testing.T) {
	h := newHarness(t, testConfig())
	lost := &withrottle.ConnectionError{Op: "read", Addr: "test", Err: io.EOF}
	h.station.pollErr = lost

	err := h.c.Run(context.Background(), make(chan midi.Event))
	if !errors.Is(err, io.EOF) {
		t.Errorf("Run() error = %v, want connection error", err)
	}
}

func TestSendErrorIsReturned(t *testing.T) {
	h := newHarness(t, testConfig())
	h.station.sendErr = errors.New("broken pipe")

	ev := midi.Event{Kind: midi.ButtonChanged, Control: midi.Cycle, On: true}
	if err := h.c.HandleSurface(ev); err == nil {
		t.Error("HandleSurface() should return the send error")
	}
}
