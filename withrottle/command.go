package withrottle

import "fmt"

// MaxSpeed is the highest speed step accepted by the server
const MaxSpeed = 126

// Separator splits the fields of a throttle command
const Separator = "<;>"

// Command is a single protocol line without its terminator
type Command struct {
	line string
}

// Format returns the command text
func (c Command) Format() string {
	return c.line
}

// FormatLine returns the command as sent on the wire
func (c Command) FormatLine() string {
	return c.line + "\n"
}

func (c Command) String() string {
	return c.line
}

func NewThrottleNameCommand(name string) Command {
	return Command{line: "N" + name}
}

func NewHeartbeatCommand() Command {
	return Command{line: "*"}
}

func NewAddLocoCommand(id string) Command {
	return Command{line: fmt.Sprintf("MT+%s%s%s", id, Separator, id)}
}

func NewReleaseLocoCommand(id string) Command {
	return Command{line: fmt.Sprintf("MT-%s%sr", id, Separator)}
}

// NewDirectionCommand sets the direction: R1 is forward, R0 is reverse
func NewDirectionCommand(id string, forward bool) Command {
	dir := 0
	if forward {
		dir = 1
	}
	return Command{line: fmt.Sprintf("MTA%s%sR%d", id, Separator, dir)}
}

// NewSpeedCommand clamps speed to 0..MaxSpeed
func NewSpeedCommand(id string, speed int) Command {
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	if speed < 0 {
		speed = 0
	}
	return Command{line: fmt.Sprintf("MTA%s%sV%d", id, Separator, speed)}
}

func NewEmergencyStopCommand(id string) Command {
	return Command{line: fmt.Sprintf("MTA%s%sX", id, Separator)}
}

func NewTrackPowerCommand(on bool) Command {
	if on {
		return Command{line: "PPA1"}
	}
	return Command{line: "PPA0"}
}

// NewFunctionCommand triggers a decoder function. The server expects F0 while
// the button is held and F1 when it is let go.
func NewFunctionCommand(id string, fn int, pressed bool) Command {
	state := 1
	if pressed {
		state = 0
	}
	return Command{line: fmt.Sprintf("MTA%s%sF%d%d", id, Separator, state, fn)}
}
