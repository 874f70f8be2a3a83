package midi

// EventKind distinguishes slider moves from button changes
type EventKind int

const (
	SliderMoved EventKind = iota
	ButtonChanged
)

func (k EventKind) String() string {
	switch k {
	case SliderMoved:
		return "slider"
	case ButtonChanged:
		return "button"
	}
	return "unknown"
}

// Event is sent for every decoded control change from the surface
type Event struct {
	Kind    EventKind
	Control Control
	Value   uint8 // slider position 0-127
	On      bool  // button pressed (true) or released (false)

	// Held is the pressed table as it was right after this event was applied
	Held PressedSet
}
