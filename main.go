package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"
	gomidi "gitlab.com/gomidi/midi/v2"

	"korg-throttle/config"
	"korg-throttle/debug"
	"korg-throttle/midi"
	"korg-throttle/publish"
	"korg-throttle/theme"
	"korg-throttle/throttle"
	"korg-throttle/tui"
	"korg-throttle/withrottle"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.2.0"
var version = "dev"

type options struct {
	midiPort   string
	configPath string
	hostname   string
	port       int
	name       string

	verbose bool
	debug   bool
	logFile string

	tui     bool
	palette string

	mqttBroker string
	mqttTopic  string

	showVersion bool
	showHelp    bool
}

func (o *options) verbosity() int {
	switch {
	case o.debug:
		return debug.LevelDebug
	case o.verbose:
		return debug.LevelInfo
	default:
		return debug.LevelWarn
	}
}

func parseFlags(args []string) (*options, *flag.FlagSet, error) {
	o := &options{}
	fs := flag.NewFlagSet("korg-throttle", flag.ContinueOnError)

	// ── devices ──────────────────────────────────────────────────
	fs.StringVarP(&o.midiPort, "midiport", "m", "", "MIDI input port number or name (prompted when omitted)")
	fs.StringVarP(&o.configPath, "config", "c", config.DefaultPath, "Lane configuration file (.json, .yaml)")
	fs.StringVar(&o.hostname, "hostname", "localhost", "WiThrottle server host")
	fs.IntVar(&o.port, "port", withrottle.DefaultPort, "WiThrottle server port")
	fs.StringVarP(&o.name, "name", "n", "", "Throttle name shown by the server (default Korg<midiport>)")

	// ── output ───────────────────────────────────────────────────
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "Log informational messages")
	fs.BoolVarP(&o.debug, "debug", "d", false, "Log debug messages")
	fs.StringVar(&o.logFile, "log-file", "", "Also write the log to this file")
	fs.BoolVar(&o.tui, "tui", false, "Show a status view in the terminal")
	fs.StringVar(&o.palette, "palette", "", "GIMP .gpl palette for the status view")

	// ── mqtt ─────────────────────────────────────────────────────
	fs.StringVar(&o.mqttBroker, "mqtt-broker", "", "Publish session state to this MQTT broker (host:port or URL)")
	fs.StringVar(&o.mqttTopic, "mqtt-topic", publish.DefaultTopic, "MQTT topic prefix")

	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&o.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if fs.NArg() > 0 {
		return nil, fs, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if o.name == "" {
		o.name = "Korg" + o.midiPort
	}
	return o, fs, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `korg-throttle %s

Drive up to eight trains on a WiThrottle server from a KORG nanoKONTROL2.

Usage:
  korg-throttle [options]

Options:
`, version)
	fs.PrintDefaults()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "korg-throttle: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		printUsage(fs)
		return nil
	}
	if opts.showVersion {
		fmt.Printf("korg-throttle %s\n", version)
		return nil
	}

	// the status view owns the terminal
	var console io.Writer = os.Stderr
	if opts.tui {
		console = io.Discard
	}
	logger, err := debug.New(opts.verbosity(), console, opts.logFile)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	defer logger.Close()

	cfg, err := config.Load(config.ResolvePath(opts.configPath), logger.Component("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer gomidi.CloseDriver()

	surface, err := midi.Open(ctx, opts.midiPort, logger.Component("midi"))
	if err != nil {
		return fmt.Errorf("open control surface: %w", err)
	}
	defer func() {
		if err := surface.Close(); err != nil {
			logger.WithError(err).Warn("restoring control surface LEDs")
		}
	}()
	logger.Info("MIDI port opened")
	if err := surface.AnimateRow(midi.RoleSelect, true); err != nil {
		logger.WithError(err).Warn("LED animation")
	}

	client, err := withrottle.Dial(ctx, opts.hostname, opts.port, withrottle.Options{
		Log: logger.Component("withrottle"),
	})
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Infof("connected to %s", client.Addr())
	if err := surface.AnimateRow(midi.RoleAddRelease, true); err != nil {
		logger.WithError(err).Warn("LED animation")
	}

	ctrl := throttle.New(client, surface, cfg, logger.Component("throttle"))

	if opts.mqttBroker != "" {
		pub, err := publish.Connect(publish.Options{
			Broker:   opts.mqttBroker,
			ClientID: opts.name,
			Topic:    opts.mqttTopic,
			Log:      logger.Component("publish"),
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		ctrl.AddObserver(pub)
	}

	var program *tea.Program
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.tui {
		palette := theme.Default()
		if opts.palette != "" {
			if palette, err = theme.LoadGPL(opts.palette); err != nil {
				return err
			}
		}
		feed := tui.NewFeed()
		ctrl.AddObserver(feed)
		program = tea.NewProgram(tui.NewModel(opts.name, feed, theme.New(palette), cancel), tea.WithAltScreen())
	}

	if err := ctrl.Start(opts.name); err != nil {
		return err
	}

	if program == nil {
		err = ctrl.Run(ctx, surface.Events())
	} else {
		err = runWithView(ctx, cancel, program, ctrl, surface.Events())
	}
	if err != nil {
		logger.WithError(err).Error("session ended")
		return err
	}
	logger.Info("Exiting")
	return nil
}

// runWithView runs the control loop next to the status view. Whichever
// finishes first stops the other.
func runWithView(ctx context.Context, cancel func(), program *tea.Program, ctrl *throttle.Controller, events <-chan midi.Event) error {
	done := make(chan error, 1)
	go func() {
		err := ctrl.Run(ctx, events)
		program.Send(tui.DoneMsg{Err: err})
		done <- err
	}()

	_, viewErr := program.Run()
	cancel()
	if err := <-done; err != nil {
		return err
	}
	return viewErr
}
