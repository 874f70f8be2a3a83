package withrottle

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("withrottle: not connected")
)

// ConnectionError reports a failure talking to the command station. It is
// fatal: the client does not reconnect.
type ConnectionError struct {
	Op   string // "dial", "write", "read"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("withrottle %s %s", e.Op, e.Addr)
	}
	return fmt.Sprintf("withrottle %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err was caused by the server connection
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
