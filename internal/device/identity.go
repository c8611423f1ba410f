package device

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Identity is the parsed form of a composite device id.
type Identity struct {
	FullID   string
	BaseID   string
	GroupUID string
	Flags    map[string]bool
	Pins     []int // distinct, ascending
}

// HasFlag reports whether the base id carried flag (case-insensitive).
func (id Identity) HasFlag(flag string) bool {
	return id.Flags[strings.ToUpper(flag)]
}

// ParseIdentity splits "[prefix:]<base_id>/<group_uid>" into its parts.
// Alphabetic base id tokens become upper-cased flags, numeric tokens become
// pins, anything else is ignored.
func ParseIdentity(fullID string) (Identity, error) {
	rest := fullID
	if _, after, found := strings.Cut(fullID, ":"); found {
		rest = after
	}

	segments := strings.Split(rest, "/")
	baseID := strings.TrimSpace(segments[0])
	groupUID := ""
	if len(segments) > 1 {
		groupUID = strings.TrimSpace(segments[1])
	}
	if baseID == "" || groupUID == "" {
		return Identity{}, fmt.Errorf("%w: %q", ErrMalformedIdentity, fullID)
	}

	id := Identity{
		FullID:   fullID,
		BaseID:   baseID,
		GroupUID: groupUID,
		Flags:    make(map[string]bool),
	}

	seen := make(map[int]bool)
	for _, tok := range strings.Split(baseID, "-") {
		switch {
		case tok == "":
		case isAlpha(tok):
			id.Flags[strings.ToUpper(tok)] = true
		case isDigits(tok):
			pin, err := strconv.Atoi(tok)
			if err != nil || seen[pin] {
				continue
			}
			seen[pin] = true
			id.Pins = append(id.Pins, pin)
		}
	}
	sort.Ints(id.Pins)

	return id, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// desiredDevice is one logical device a handshake should have.
type desiredDevice struct {
	kind        Kind
	pin         *int
	switchIndex int // 1-based, switches only
}

// desiredDevices lists the logical devices implied by id: IR for flag I
// or IR, RGB for flag R or RGB, then one switch per pin in ascending pin
// order.
func desiredDevices(id Identity) []desiredDevice {
	var out []desiredDevice
	if id.HasFlag("I") || id.HasFlag("IR") {
		out = append(out, desiredDevice{kind: KindIR})
	}
	if id.HasFlag("R") || id.HasFlag("RGB") {
		out = append(out, desiredDevice{kind: KindRGB})
	}
	for i, pin := range id.Pins {
		p := pin
		out = append(out, desiredDevice{kind: KindSwitch, pin: &p, switchIndex: i + 1})
	}
	return out
}

// displayName returns the name for d, built from the nickname when one is
// given and from the base id otherwise.
func (d desiredDevice) displayName(prefix string, nickname bool) string {
	sep := "-"
	if nickname {
		sep = " "
	}
	switch d.kind {
	case KindIR:
		return prefix + sep + "IR"
	case KindRGB:
		return prefix + sep + "RGB"
	default:
		return fmt.Sprintf("%s%sSW-%d", prefix, sep, d.switchIndex)
	}
}
