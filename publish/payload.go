package publish

import (
	"encoding/json"
	"strconv"

	"korg-throttle/throttle"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// lanePayload is the JSON published for each lane
type lanePayload struct {
	Lane     int    `json:"lane"`
	Address  string `json:"address,omitempty"`
	Loco     string `json:"loco,omitempty"`
	Reversed bool   `json:"reversed"`
	Selected bool   `json:"selected"`
	Speed    int    `json:"speed"`
	Inert    bool   `json:"inert,omitempty"`
}

func encodeLane(n int, l throttle.Lane) []byte {
	b, _ := json.Marshal(lanePayload{
		Lane:     n,
		Address:  l.Address,
		Loco:     l.Loco,
		Reversed: l.Reversed,
		Selected: l.Selected,
		Speed:    l.Speed,
		Inert:    l.Inert,
	})
	return b
}

func encodePower(on bool) []byte {
	if on {
		return []byte("on")
	}
	return []byte("off")
}

type message struct {
	topic   string
	payload []byte
}

// changes lists the messages needed to move subscribers from prev to s.
// A nil prev publishes everything.
func changes(t Topics, prev *throttle.Snapshot, s throttle.Snapshot) []message {
	var out []message
	for i, l := range s.Lanes {
		if prev != nil && prev.Lanes[i] == l {
			continue
		}
		out = append(out, message{t.Lane(i), encodeLane(i, l)})
	}
	if prev == nil || prev.Powered != s.Powered {
		out = append(out, message{t.Power(), encodePower(s.Powered)})
	}
	if prev == nil || prev.Locked != s.Locked {
		out = append(out, message{t.Locked(), []byte(strconv.FormatBool(s.Locked))})
	}
	return out
}
