package peppi

import (
	"golang.org/x/text/encoding/japanese"
)

// decodeMeleeString decodes a fixed-length Shift-JIS byte buffer taken
// from a player-slot region (name tag, netplay name, connect code) into
// a Unicode string, truncated at the first NUL. This mirrors the
// teacher's decodeShiftJIS helper, extracted so it can be reused outside
// the event decoder (e.g. when reconstituting Start from raw bytes).
func decodeMeleeString(b []byte) (string, error) {
	dst := make([]byte, len(b)*4)
	n, _, err := japanese.ShiftJIS.NewDecoder().Transform(dst, nullTerminate(b), true)
	if err != nil {
		return "", decodeErr(-1, "invalid Shift-JIS sequence: %w", err)
	}
	return string(dst[:n]), nil
}

// encodeMeleeString is the inverse of decodeMeleeString: it encodes s to
// Shift-JIS and zero-pads (or truncates) the result to exactly size
// bytes, for round-tripping into a fixed-width player-slot field.
func encodeMeleeString(s string, size int) ([]byte, error) {
	out := make([]byte, size)
	src := []byte(s)
	dst := make([]byte, size*4)
	n, _, err := japanese.ShiftJIS.NewEncoder().Transform(dst, src, true)
	if err != nil {
		return nil, encodeErr("invalid string for Shift-JIS encoding %q: %w", s, err)
	}
	if n > size {
		n = size
	}
	copy(out, dst[:n])
	return out, nil
}

func nullTerminate(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// normalizeMeleeString maps the fullwidth/ideographic codepoints Melee's
// in-game keyboard can produce to their ASCII counterparts, per
// spec.md §4.2. The mapping is pure: it does not mutate its input, and
// is idempotent (normalizing an already-normalized string is a no-op).
func normalizeMeleeString(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, normalizeRune(r))
	}
	return string(out)
}

func normalizeRune(r rune) rune {
	switch {
	case r >= 0xFF01 && r <= 0xFF5E:
		return r - 0xFEE0
	case r == 0x3000:
		return 0x0020
	case r == 0x2019:
		return 0x0027
	case r == 0x201D:
		return 0x0022
	default:
		return r
	}
}
