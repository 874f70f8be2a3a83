package withrottle

import (
	"regexp"
	"strconv"
)

// EventKind identifies a status line reported by the server
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventRemoved
	EventConnected
	EventHeartbeat
	EventForward
	EventReverse
	EventPowerOn
	EventPowerOff
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventConnected:
		return "connected"
	case EventHeartbeat:
		return "heartbeat"
	case EventForward:
		return "forward"
	case EventReverse:
		return "reverse"
	case EventPowerOn:
		return "power-on"
	case EventPowerOff:
		return "power-off"
	}
	return "unknown"
}

// Event is a decoded server line. ID holds the loco address, the port for
// EventConnected or the interval for EventHeartbeat.
type Event struct {
	Kind EventKind
	ID   string
}

// Interval returns the heartbeat interval in seconds for EventHeartbeat
func (e Event) Interval() (int, bool) {
	if e.Kind != EventHeartbeat {
		return 0, false
	}
	n, err := strconv.Atoi(e.ID)
	if err != nil {
		return 0, false
	}
	return n, true
}

type linePattern struct {
	kind EventKind
	re   *regexp.Regexp
}

// patterns are checked in this order against every line
var patterns = []linePattern{
	{EventAdded, regexp.MustCompile(`^MT\+(.*?)<;>`)},
	{EventRemoved, regexp.MustCompile(`^MT-(.*?)<;>`)},
	{EventReverse, regexp.MustCompile(`^MTA(.*?)<;>R0`)},
	{EventForward, regexp.MustCompile(`^MTA(.*?)<;>R1`)},
	{EventConnected, regexp.MustCompile(`^PW(.*)`)},
	{EventPowerOff, regexp.MustCompile(`^PPA0`)},
	{EventPowerOn, regexp.MustCompile(`^PPA1`)},
	{EventHeartbeat, regexp.MustCompile(`^\*(\d+)`)},
}

// ParseLine decodes one line. A line may match several patterns, every match
// is returned in pattern order. Unknown lines yield no events.
func ParseLine(line string) []Event {
	var events []Event
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var id string
		if len(m) > 1 {
			id = m[1]
		}
		events = append(events, Event{Kind: p.kind, ID: id})
	}
	return events
}
