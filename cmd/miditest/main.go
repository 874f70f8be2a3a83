package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gomidi "gitlab.com/gomidi/midi/v2"

	"korg-throttle/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	defer gomidi.CloseDriver()

	selector := ""
	if len(os.Args) > 2 {
		selector = os.Args[2]
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "detect":
		detect()
	case "sysex":
		testSysEx(selector)
	case "leds":
		testLEDs(selector)
	case "dump":
		dump(selector)
	case "poll":
		pollDevices()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("nanoKONTROL2 test scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list          - List all MIDI ports")
	fmt.Println("  detect        - Find a nanoKONTROL")
	fmt.Println("  sysex [port]  - Toggle external LED mode")
	fmt.Println("  leds [port]   - Chase the LED rows")
	fmt.Println("  dump [port]   - Print decoded slider and button events")
	fmt.Println("  poll          - Poll for device changes")
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ins, outs, err := midi.Ports()
	if err != nil {
		fmt.Println("\nTIMEOUT! The MIDI service is hung.")
		fmt.Println("Fix (macOS): sudo killall coreaudiod midiserver")
		return
	}
	for i, p := range ins {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, p := range outs {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
}

func detect() {
	fmt.Println("Looking for a nanoKONTROL...")

	ins, outs, err := midi.Ports()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	var inNames, outNames []string
	for _, p := range ins {
		inNames = append(inNames, p.String())
	}
	for _, p := range outs {
		outNames = append(outNames, p.String())
	}

	in, err := midi.ResolvePort(inNames, "nanokontrol")
	if err != nil {
		fmt.Println("\nnanoKONTROL not found")
		return
	}
	fmt.Printf("Found input: %d: %s\n", in, inNames[in])
	if out := midi.MatchOutput(inNames[in], in, outNames); out >= 0 {
		fmt.Printf("Found output: %d: %s\n", out, outNames[out])
	} else {
		fmt.Println("No matching output, LEDs will not work")
	}
	fmt.Println("\nnanoKONTROL detected!")
}

func open(selector string) *midi.NanoKontrol {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	nk, err := midi.Open(ctx, selector, quietLog())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return nil
	}
	fmt.Printf("Using: %s\n", nk.ID())
	return nk
}

func testSysEx(selector string) {
	// Open already switches to external LED mode
	nk := open(selector)
	if nk == nil {
		return
	}
	defer nk.Close()

	fmt.Println("Sent: external LED mode")
	nk.SetLED(midi.Cycle, true)
	fmt.Println("Cycle LED should be lit. Press Enter to restore internal mode...")
	fmt.Scanln()
}

func testLEDs(selector string) {
	nk := open(selector)
	if nk == nil {
		return
	}
	defer nk.Close()

	fmt.Println("Chasing S, M and R rows...")
	for _, row := range []int{midi.RoleSelect, midi.RoleAddRelease, midi.RoleReverse} {
		if err := nk.AnimateRow(row, true); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
	}
	nk.SetLED(midi.Cycle, true)

	fmt.Println("Press Enter to clear...")
	fmt.Scanln()

	nk.ClearLEDs()
	fmt.Println("Done!")
}

func dump(selector string) {
	nk := open(selector)
	if nk == nil {
		return
	}
	defer nk.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Move sliders and press buttons. Ctrl+C to exit.")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-nk.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case midi.SliderMoved:
				fmt.Printf("[%s] slider %d = %d\n", time.Now().Format("15:04:05"), ev.Control.Channel(), ev.Value)
			case midi.ButtonChanged:
				state := "up"
				if ev.On {
					state = "down"
				}
				fmt.Printf("[%s] %-12s %s (0x%02X)\n", time.Now().Format("15:04:05"), ev.Control, state, uint8(ev.Control))
				// mirror the button on its LED
				nk.SetLED(ev.Control, ev.On)
			}
		}
	}
}

func pollDevices() {
	fmt.Println("Polling for device changes every 2 seconds...")
	fmt.Println("Connect/disconnect the nanoKONTROL to test. Ctrl+C to exit.")

	lastIn := ""
	lastOut := ""

	for {
		ins := gomidi.GetInPorts()
		outs := gomidi.GetOutPorts()

		var inNames, outNames []string
		for _, p := range ins {
			inNames = append(inNames, p.String())
		}
		for _, p := range outs {
			outNames = append(outNames, p.String())
		}

		currentIn := strings.Join(inNames, ",")
		currentOut := strings.Join(outNames, ",")

		if currentIn != lastIn || currentOut != lastOut {
			fmt.Printf("\n[%s] Device change detected!\n", time.Now().Format("15:04:05"))
			fmt.Printf("  Inputs: %v\n", inNames)
			fmt.Printf("  Outputs: %v\n", outNames)

			for _, name := range inNames {
				if strings.Contains(strings.ToLower(name), "nanokontrol") {
					fmt.Println("  -> nanoKONTROL detected!")
				}
			}

			lastIn = currentIn
			lastOut = currentOut
		}

		time.Sleep(2 * time.Second)
	}
}
