package peppi

// This file follows the teacher's pseudo-enum idiom (events.go:
// `type X uint8` plus a `const` block), generalized per design note
// "macro-driven pseudo-enums and pseudo-bitmasks": fields whose wire
// value space is genuinely open (future game updates may add values)
// preserve unknown bytes bit-exactly instead of rejecting them. Only the
// enums spec.md §4.4 explicitly names as validated
// (end method, dash-back, shield-drop, language, port, player type)
// reject out-of-range values with invalid_enum.

// A Port identifies one of the four controller ports a player can occupy.
type Port uint8

// Valid ports.
const (
	Port1 Port = iota
	Port2
	Port3
	Port4
)

func parsePort(b byte) (Port, error) {
	if b > 3 {
		return 0, decodeErr(-1, "invalid port: %d", b)
	}
	return Port(b), nil
}

// PlayerType enumerates the occupant kind of a player slot.
type PlayerType uint8

// PlayerTypes. Only Human, CPU, and Demo produce a parsed Start.Players
// entry (spec.md §3 "Start record").
const (
	PlayerHuman PlayerType = iota
	PlayerCPU
	PlayerDemo
	PlayerEmpty
)

func parsePlayerType(b byte) (PlayerType, error) {
	if b > 3 {
		return 0, decodeErr(-1, "invalid player type: %d", b)
	}
	return PlayerType(b), nil
}

// EndMethod enumerates how a game concluded.
type EndMethod uint8

// EndMethods.
const (
	EndUnresolved EndMethod = 0
	EndTime       EndMethod = 1
	EndGame       EndMethod = 2
	EndResolved   EndMethod = 3
	EndNoContest  EndMethod = 7
)

func parseEndMethod(b byte) (EndMethod, error) {
	switch b {
	case 0, 1, 2, 3, 7:
		return EndMethod(b), nil
	default:
		return 0, decodeErr(-1, "invalid game end method: %d", b)
	}
}

// DashBack enumerates the UCF/Dween dashback controller fix applied.
type DashBack uint32

// DashBacks. Zero on the wire means "no fix"; decoders translate that to
// an absent *DashBack rather than a DashBackOff value (original_source's
// `match x { 0 => None, x => Some(...) }`).
const (
	DashBackUCF   DashBack = 1
	DashBackDween DashBack = 2
)

func parseDashBack(v uint32) (*DashBack, error) {
	switch v {
	case 0:
		return nil, nil
	case 1, 2:
		d := DashBack(v)
		return &d, nil
	default:
		return nil, decodeErr(-1, "invalid dashback fix: %d", v)
	}
}

// ShieldDrop enumerates the UCF/Dween shield-drop controller fix applied.
type ShieldDrop uint32

// ShieldDrops.
const (
	ShieldDropUCF   ShieldDrop = 1
	ShieldDropDween ShieldDrop = 2
)

func parseShieldDrop(v uint32) (*ShieldDrop, error) {
	switch v {
	case 0:
		return nil, nil
	case 1, 2:
		d := ShieldDrop(v)
		return &d, nil
	default:
		return nil, decodeErr(-1, "invalid shield drop fix: %d", v)
	}
}

// Language enumerates the in-game language setting (since v3.12).
type Language uint8

// Languages.
const (
	LanguageJapanese Language = iota
	LanguageEnglish
)

func parseLanguage(b byte) (Language, error) {
	if b > 1 {
		return 0, decodeErr(-1, "invalid language: %d", b)
	}
	return Language(b), nil
}

// LCancel is the tri-state result of an L-cancel attempt. Zero means "no
// attempt this frame"; unlike the validated enums above, any other byte
// value is preserved as-is rather than rejected, since the wire format
// treats this as an open value space.
type LCancel uint8

// LCancel states.
const (
	LCancelNone LCancel = iota
	LCancelSuccessful
	LCancelUnsuccessful
)

// HurtboxState enumerates hit-vulnerability (since v2.1). Open: unknown
// values pass through unchanged.
type HurtboxState uint8

// HurtboxStates.
const (
	HurtboxVulnerable HurtboxState = iota
	HurtboxInvulnerable
	HurtboxIntangible
)

// StateFlags is a packed bitmask (5 bytes on the wire, little-endian,
// widened to 64 bits), open per design note "macro-driven... pseudo
// bitmasks": unknown bits are preserved bit-exactly through round-trip.
type StateFlags uint64

// Known StateFlags bits, grounded on original_source/src/frame.rs.
const (
	StateFlagReflect     StateFlags = 1 << 4
	StateFlagUntouchable StateFlags = 1 << 10
	StateFlagFastFall    StateFlags = 1 << 11
	StateFlagHitLag      StateFlags = 1 << 13
	StateFlagShield      StateFlags = 1 << 23
	StateFlagHitStun     StateFlags = 1 << 25
	StateFlagShieldTouch StateFlags = 1 << 26
	StateFlagPowerShield StateFlags = 1 << 29
	StateFlagFollower    StateFlags = 1 << 35
	StateFlagSleep       StateFlags = 1 << 36
	StateFlagDead        StateFlags = 1 << 38
	StateFlagOffScreen   StateFlags = 1 << 39
)

// ItemType is Melee's internal item type id. Open: this package does not
// maintain a name table for it (that lookup table is explicitly out of
// core scope per spec.md §1).
type ItemType uint16

// A handful of item types exercised by tests (spec.md §8 scenario f).
const (
	ItemPeachTurnip ItemType = 0xD
)

// Direction is the facing direction of a character or item: +1 for
// right, -1 for left. It is stored on the wire as a float32, not an
// integer enum, but is modeled as a distinct type for readability.
type Direction float32

// Known directions.
const (
	DirectionLeft  Direction = -1
	DirectionRight Direction = 1
)
