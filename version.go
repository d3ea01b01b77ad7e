package peppi

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// FirstIndex is the frame id the game emits for the very first in-game
// frame of a match. Frame ids before it (Melee's loading/intro frames)
// never appear in a replay's frame stream.
const FirstIndex int32 = -123

// MaxSupportedMajor and MaxSupportedMinor bound the highest replay version
// this encoder knows how to re-emit byte-identically. Replays newer than
// this can still be decoded (unknown trailing fields are simply never
// read), but Write refuses to encode them.
const (
	MaxSupportedMajor uint64 = 3
	MaxSupportedMinor uint64 = 18
)

// A Version is the (major, minor, revision) triple stamped into every
// Game Start event. Ordering is lexicographic; only GTE(major, minor) is
// used to gate optional fields - revision is informational only.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint8
}

// GTE reports whether v is greater than or equal to (major, minor),
// ignoring revision.
func (v Version) GTE(major, minor uint8) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// LT is the complement of GTE.
func (v Version) LT(major, minor uint8) bool {
	return !v.GTE(major, minor)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Semver converts v to a github.com/blang/semver/v4 Version, for callers
// that want to compare against a parsed constraint (e.g. "Is this replay
// from before the public 1.0 release?").
func (v Version) Semver() semver.Version {
	return semver.Version{
		Major: uint64(v.Major),
		Minor: uint64(v.Minor),
		Patch: uint64(v.Revision),
	}
}

// unsupported reports whether v exceeds the highest version this package's
// encoder knows how to re-emit.
func (v Version) unsupported() bool {
	if uint64(v.Major) != MaxSupportedMajor {
		return uint64(v.Major) > MaxSupportedMajor
	}
	return uint64(v.Minor) > MaxSupportedMinor
}
