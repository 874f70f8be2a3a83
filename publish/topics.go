package publish

import (
	"strconv"
	"strings"
)

// DefaultTopic is the prefix used when none is configured
const DefaultTopic = "korg-throttle"

// Topics builds the topic names below a prefix:
//
//	<prefix>/lane/<n>   retained JSON lane state
//	<prefix>/power      "on" / "off"
//	<prefix>/locked     "true" / "false"
//	<prefix>/status     "online" / "offline" (last will)
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	return strings.TrimRight(t.Prefix, "/") + "/" + strings.Join(parts, "/")
}

func (t Topics) Lane(n int) string {
	return t.join("lane", strconv.Itoa(n))
}

func (t Topics) Power() string {
	return t.join("power")
}

func (t Topics) Locked() string {
	return t.join("locked")
}

func (t Topics) Status() string {
	return t.join("status")
}
