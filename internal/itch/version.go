package itch

import "fmt"

// Version is an ITCH protocol version. It is fixed for a whole file.
type Version uint8

const (
	V40 Version = iota + 1
	V41
	V50
)

// Versions lists every supported protocol version.
var Versions = []Version{V40, V41, V50}

func (v Version) String() string {
	switch v {
	case V40:
		return "4.0"
	case V41:
		return "4.1"
	case V50:
		return "5.0"
	default:
		return fmt.Sprintf("v?(%d)", uint8(v))
	}
}

// ParseVersion accepts "4.0", "4.1" or "5.0" (a leading "v" is allowed).
func ParseVersion(s string) (Version, error) {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		s = s[1:]
	}
	switch s {
	case "4", "4.0":
		return V40, nil
	case "4.1":
		return V41, nil
	case "5", "5.0":
		return V50, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

// HasSecondsMessages reports whether the version carries seconds in separate 'T' messages.
// Version 5.0 embeds a full nanoseconds-since-midnight timestamp in every message instead.
func (v Version) HasSecondsMessages() bool {
	return v == V40 || v == V41
}
