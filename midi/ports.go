package midi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
	"golang.org/x/term"
)

var (
	ErrNoPorts          = errors.New("midi: no input ports available")
	ErrSelectionAborted = errors.New("midi: port selection aborted")
	ErrPortTimeout      = errors.New("midi: timed out listing ports")
)

// portTimeout bounds port enumeration (CoreMIDI can hang)
const portTimeout = 3 * time.Second

// Ports lists the available MIDI input and output ports
func Ports() ([]drivers.In, []drivers.Out, error) {
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}

	ch := make(chan portsResult, 1)
	go func() {
		inPorts := gomidi.GetInPorts()
		outPorts := gomidi.GetOutPorts()
		ch <- portsResult{inPorts: inPorts, outPorts: outPorts}
	}()

	select {
	case result := <-ch:
		return result.inPorts, result.outPorts, nil
	case <-time.After(portTimeout):
		return nil, nil, ErrPortTimeout
	}
}

// Open picks an input port using selector (a port number, part of a port
// name, or empty), finds the matching output port and opens the surface on
// them. With an empty selector a nanoKONTROL is looked up by name, and if
// none is found the user is asked to pick a port on the terminal until ctx
// is cancelled.
func Open(ctx context.Context, selector string, log logrus.FieldLogger) (*NanoKontrol, error) {
	ins, outs, err := Ports()
	if err != nil {
		return nil, err
	}
	if len(ins) == 0 {
		return nil, ErrNoPorts
	}

	inNames := portNames(ins)
	idx, err := ResolvePort(inNames, selector)
	if errors.Is(err, errNeedPrompt) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("%w: no port given and stdin is not a terminal", ErrSelectionAborted)
		}
		idx, err = PromptPort(ctx, inNames, os.Stdin, os.Stderr)
	}
	if err != nil {
		return nil, err
	}

	outIdx := MatchOutput(inNames[idx], idx, portNames(outs))
	var out drivers.Out
	if outIdx >= 0 {
		out = outs[outIdx]
	} else {
		log.Warnf("no output port matches %q, LEDs disabled", inNames[idx])
	}

	log.Infof("using MIDI input %q", inNames[idx])
	return NewNanoKontrol(inNames[idx], ins[idx], out, log)
}

var errNeedPrompt = errors.New("midi: selector needs interactive prompt")

// ResolvePort returns the index of the port named by selector. A numeric
// selector is a port index, anything else matches a port name
// case-insensitively. An empty selector auto-detects a nanoKONTROL.
func ResolvePort(names []string, selector string) (int, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		for i, name := range names {
			if isNanoKontrol(name) {
				return i, nil
			}
		}
		return -1, errNeedPrompt
	}

	if n, err := strconv.Atoi(selector); err == nil {
		if n < 0 || n >= len(names) {
			return -1, fmt.Errorf("midi: port %d out of range (%d ports)", n, len(names))
		}
		return n, nil
	}

	for i, name := range names {
		if containsIgnoreCase(name, selector) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("midi: no port matches %q", selector)
}

// PromptPort lists the ports on w and reads a choice from r. EOF, an empty
// answer or cancelling ctx aborts the selection.
func PromptPort(ctx context.Context, names []string, r io.Reader, w io.Writer) (int, error) {
	fmt.Fprintln(w, "Available MIDI input ports:")
	for i, name := range names {
		fmt.Fprintf(w, "  [%d] %s\n", i, name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the read blocks on the terminal, so it runs apart from the ctx wait
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(w, "Select MIDI input port (Enter to abort): ")
		var answer string
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return -1, fmt.Errorf("%w: %w", ErrSelectionAborted, ctx.Err())
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(w)
				return -1, ErrSelectionAborted
			}
			answer = strings.TrimSpace(line)
		}

		if answer == "" {
			return -1, ErrSelectionAborted
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 0 || n >= len(names) {
			fmt.Fprintf(w, "Invalid port %q\n", answer)
			continue
		}
		return n, nil
	}
}

// MatchOutput finds the output port belonging to an input port: same name
// first, then any nanoKONTROL output, then the same index.
func MatchOutput(inName string, inIdx int, outNames []string) int {
	for i, name := range outNames {
		if strings.EqualFold(name, inName) {
			return i
		}
	}
	if isNanoKontrol(inName) {
		for i, name := range outNames {
			if isNanoKontrol(name) {
				return i
			}
		}
	}
	if inIdx < len(outNames) {
		return inIdx
	}
	return -1
}

func portNames[P interface{ String() string }](ports []P) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

func isNanoKontrol(name string) bool {
	return containsIgnoreCase(name, "nanokontrol")
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
