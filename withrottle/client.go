package withrottle

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPort is the usual WiThrottle server port
const DefaultPort = 12090

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	readChunk           = 4096
)

// Options tunes a Client. Zero values pick the defaults.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Log          logrus.FieldLogger
}

// Client holds the connection to a WiThrottle server. Send may be called from
// any goroutine; PollEvents is meant for a single consumer.
type Client struct {
	conn         net.Conn
	addr         string
	writeTimeout time.Duration
	log          logrus.FieldLogger

	writeMu sync.Mutex

	// filled by the reader goroutine, drained by PollEvents
	mu      sync.Mutex
	buf     []byte
	readErr error

	closed     atomic.Bool
	closeOnce  sync.Once
	readerDone chan struct{}
}

// Dial connects to the server at host:port. A failure is returned as a
// *ConnectionError.
func Dial(ctx context.Context, host string, port int, opts Options) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection and starts reading from it
func NewClient(conn net.Conn, opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	c := &Client{
		conn:         conn,
		addr:         conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
		log:          log,
		readerDone:   make(chan struct{}),
	}
	go c.readerLoop()
	log.Debugf("connected to %s", c.addr)
	return c
}

// Addr returns the server address
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) readerLoop() {
	defer close(c.readerDone)

	chunk := make([]byte, readChunk)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, chunk[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
	}
}

// Send writes one command line. Nothing is awaited from the server.
func (c *Client) Send(cmd Command) error {
	if c.closed.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.log.Debugf("sending %s", cmd)
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return &ConnectionError{Op: "write", Addr: c.addr, Err: err}
	}
	if _, err := io.WriteString(c.conn, cmd.FormatLine()); err != nil {
		return &ConnectionError{Op: "write", Addr: c.addr, Err: err}
	}
	return nil
}

func (c *Client) SetThrottleName(name string) error {
	return c.Send(NewThrottleNameCommand(name))
}

func (c *Client) SendHeartbeat() error {
	return c.Send(NewHeartbeatCommand())
}

func (c *Client) AddLoco(id string) error {
	return c.Send(NewAddLocoCommand(id))
}

func (c *Client) ReleaseLoco(id string) error {
	return c.Send(NewReleaseLocoCommand(id))
}

func (c *Client) SetDirection(id string, forward bool) error {
	return c.Send(NewDirectionCommand(id, forward))
}

// SetSpeed saturates speeds above MaxSpeed
func (c *Client) SetSpeed(id string, speed int) error {
	return c.Send(NewSpeedCommand(id, speed))
}

func (c *Client) EmergencyStop(id string) error {
	return c.Send(NewEmergencyStopCommand(id))
}

func (c *Client) SetTrackPower(on bool) error {
	return c.Send(NewTrackPowerCommand(on))
}

func (c *Client) SendFunction(id string, fn int, pressed bool) error {
	return c.Send(NewFunctionCommand(id, fn, pressed))
}

// PollEvents decodes every complete line received since the last call. It
// never blocks: with nothing new it returns no events. A trailing fragment
// without its newline is kept until the rest of the line arrives. Once the
// server has gone away and all buffered lines are consumed, a
// *ConnectionError is returned.
func (c *Client) PollEvents() ([]Event, error) {
	if c.closed.Load() {
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	var complete []byte
	if idx := bytes.LastIndexByte(c.buf, '\n'); idx >= 0 {
		complete = c.buf[:idx+1]
		c.buf = append([]byte(nil), c.buf[idx+1:]...)
	}
	readErr := c.readErr
	c.mu.Unlock()

	if complete == nil {
		if readErr != nil {
			return nil, &ConnectionError{Op: "read", Addr: c.addr, Err: readErr}
		}
		return nil, nil
	}

	c.log.Debugf("received %q", complete)

	var events []Event
	for _, line := range strings.Split(string(complete), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		for _, ev := range ParseLine(line) {
			c.log.Debugf("decoded %s %q", ev.Kind, ev.ID)
			events = append(events, ev)
		}
	}
	return events, nil
}

// Close shuts the connection and waits for the reader to stop
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		<-c.readerDone
		c.log.Debug("connection closed")
	})
	return err
}
