package theme

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type RGB [3]uint8

type Palette struct {
	Name   string
	Colors []RGB
}

// Default is the built-in palette, dark slate through signal green to amber
func Default() *Palette {
	return &Palette{
		Name: "signal",
		Colors: []RGB{
			{0x1b, 0x1f, 0x27},
			{0x2b, 0x31, 0x3c},
			{0x4c, 0x56, 0x6a},
			{0x81, 0x8c, 0xa0},
			{0xd8, 0xde, 0xe9},
			{0x5e, 0x81, 0xac},
			{0x88, 0xc0, 0xd0},
			{0xa3, 0xbe, 0x8c},
			{0xeb, 0xcb, 0x8b},
			{0xd0, 0x87, 0x70},
			{0xbf, 0x61, 0x6a},
		},
	}
}

// LoadGPL reads a GIMP palette file
func LoadGPL(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := ParseGPL(f)
	if err != nil {
		return nil, fmt.Errorf("palette %s: %w", path, err)
	}
	return p, nil
}

// ParseGPL parses GIMP palette text: an optional Name: header followed by
// "R G B [name]" lines.
func ParseGPL(r io.Reader) (*Palette, error) {
	p := &Palette{}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "Name:") {
			p.Name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
			continue
		}

		// Skip headers and comments
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "GIMP") || strings.HasPrefix(line, "Columns") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		var c RGB
		ok := true
		for i := range c {
			n, err := strconv.Atoi(fields[i])
			if err != nil || n < 0 || n > 255 {
				ok = false
				break
			}
			c[i] = uint8(n)
		}
		if ok {
			p.Colors = append(p.Colors, c)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(p.Colors) == 0 {
		return nil, fmt.Errorf("no colors found")
	}
	return p, nil
}

// Lookup returns interpolated color for normalized value 0-1
func (p *Palette) Lookup(norm float64) RGB {
	if norm <= 0 || len(p.Colors) == 1 {
		return p.Colors[0]
	}
	if norm >= 1 {
		return p.Colors[len(p.Colors)-1]
	}

	pos := norm * float64(len(p.Colors)-1)
	i := int(pos)
	frac := pos - float64(i)

	c0 := p.Colors[i]
	c1 := p.Colors[i+1]

	return RGB{
		lerp(c0[0], c1[0], frac),
		lerp(c0[1], c1[1], frac),
		lerp(c0[2], c1[2], frac),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a)*(1-t) + float64(b)*t)
}
