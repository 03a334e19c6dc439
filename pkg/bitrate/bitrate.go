// Package bitrate implements the BitRate string grammar used by session
// create requests and session reporting: "<decimal> [<unit>]" where unit
// is one of bps, Kbps, Mbps, Gbps, Tbps and a missing unit means bps.
//
// Format chooses the most readable unit for a value (auto-selecting
// bps/Kbps/Mbps/Gbps/Tbps by magnitude) rather than requiring the
// caller to pick one upfront.
package bitrate

import (
	"fmt"
	"strconv"
	"strings"
)

// Units selects how Format renders a bit rate.
type Units int

const (
	// Auto picks the largest unit that keeps the mantissa >= 1.
	Auto Units = iota
	Bps
	Kbps
	Mbps
	Gbps
	Tbps
)

var unitMultiplier = map[string]float64{
	"":     1,
	"bps":  1,
	"Kbps": 1e3,
	"Mbps": 1e6,
	"Gbps": 1e9,
	"Tbps": 1e12,
}

var unitSuffix = map[Units]string{
	Bps:  "bps",
	Kbps: "Kbps",
	Mbps: "Mbps",
	Gbps: "Gbps",
	Tbps: "Tbps",
}

var unitDivisor = map[Units]float64{
	Bps:  1,
	Kbps: 1e3,
	Mbps: 1e6,
	Gbps: 1e9,
	Tbps: 1e12,
}

// Parse parses a BitRate string into a number of bits per second. A string
// with no space is parsed as a plain decimal number of bps. Otherwise the
// string is split on the first space into a numeric prefix and a unit
// suffix; an unrecognised unit, or trailing garbage in the numeric prefix,
// is an error.
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bitrate: empty string")
	}

	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("bitrate: invalid number %q: %w", s, err)
		}
		return v, nil
	}

	numPart := s[:idx]
	unitPart := strings.TrimSpace(s[idx+1:])

	mult, ok := unitMultiplier[unitPart]
	if !ok {
		return 0, fmt.Errorf("bitrate: unrecognised unit %q", unitPart)
	}

	v, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("bitrate: invalid number %q: %w", numPart, err)
	}
	return v * mult, nil
}

// Format renders bps bits/sec using the given Units. Auto selects Tbps,
// Gbps, Mbps or Kbps when bps is large enough to keep the mantissa >= 1,
// falling back to a raw bps value (no suffix) otherwise.
func Format(bps float64, units Units) string {
	u := units
	if u == Auto {
		switch {
		case bps >= 1e12:
			u = Tbps
		case bps >= 1e9:
			u = Gbps
		case bps >= 1e6:
			u = Mbps
		case bps >= 1e3:
			u = Kbps
		default:
			return strconv.FormatFloat(bps, 'g', -1, 64)
		}
	}
	if u == Bps {
		return strconv.FormatFloat(bps, 'g', -1, 64) + "bps"
	}
	div := unitDivisor[u]
	suffix := unitSuffix[u]
	return strconv.FormatFloat(bps/div, 'g', -1, 64) + suffix
}
