package peppi

import "encoding/binary"

const maxPlayerSlots = 6 // slots 4-5 are spectator/demo-only, never human
const numPorts = 4

// Scene identifies the stage-select "scene" variant, present since v3.7.
type Scene struct {
	Minor uint8
	Major uint8
}

// Match carries the netplay match-making context, present since v3.14.
type Match struct {
	ID         string
	Game       uint32
	Tiebreaker uint32
}

// Team is a player's team assignment when the game bitfield enables
// teams play.
type Team struct {
	Color uint8
	Shade uint8
}

// Netplay is the online identity attached to a player slot since v3.9,
// with the Slippi UID added in v3.11.
type Netplay struct {
	Name string
	Code string
	SUID *string
}

// PlayerInfo is the parsed view of one occupied player slot (spec.md §3
// "Start record": "a player slot produces a parsed entry only when its
// type byte is one of {human, CPU, demo}").
type PlayerInfo struct {
	Port      Port
	Character uint8
	Type      PlayerType
	Stocks    uint8
	Costume   uint8
	Team      *Team
	Handicap  uint8
	Bitfield  uint8
	CPULevel  *uint8

	DamageStart    uint16
	DamageSpawn    uint16
	OffenseRatio   float32
	DefenseRatio   float32
	ModelScale     float32

	// Since v1.0.
	DashBack   *DashBack
	ShieldDrop *ShieldDrop
	// Since v1.3.
	NameTag *string
	// Since v3.9 (+ v3.11 SUID).
	Netplay *Netplay
}

// Start is the game-start record: the raw payload bytes plus a parsed
// view (spec.md §3 "Start record").
type Start struct {
	Raw []byte

	Version Version

	Bitfield           [4]byte
	IsRainingBombs     bool
	IsTeams            bool
	ItemSpawnFrequency int8
	SelfDestructScore  int8
	Stage              uint16
	Timer              uint32
	ItemSpawnBitfield  [5]byte
	DamageRatio        float32
	Players            []PlayerInfo
	RandomSeed         uint32

	// Since v1.5.
	IsPAL *bool
	// Since v2.0.
	IsFrozenPS *bool
	// Since v3.7.
	Scene *Scene
	// Since v3.12.
	Language *Language
	// Since v3.14.
	Match *Match
}

// gameStartPayloadSize returns the game-start payload size for version
// v, grounded on original_source's game_start() byte layout (signature
// version+build, 0x65-byte preamble, six 36-byte player slots, random
// seed, then per-slot version-gated blocks).
func gameStartPayloadSize(v Version) uint16 {
	// 4 bytes version+build, then the fixed 0x65-byte preamble up to the
	// first player slot, then six 36-byte slots, then the 4-byte seed.
	size := uint16(4 + 0x65 + 36*maxPlayerSlots + 4)
	if v.GTE(1, 0) {
		size += 8 * numPorts
	}
	if v.GTE(1, 3) {
		size += 16 * numPorts
	}
	if v.GTE(1, 5) {
		size++
	}
	if v.GTE(2, 0) {
		size++
	}
	if v.GTE(3, 7) {
		size += 2
	}
	if v.GTE(3, 9) {
		size += (31 + 10) * numPorts
	}
	if v.GTE(3, 11) {
		size += 29 * numPorts
	}
	if v.GTE(3, 12) {
		size++
	}
	if v.GTE(3, 14) {
		size += 51 + 4 + 4
	}
	return size
}

// decodeStart parses a game-start payload into a Start, retaining the
// raw bytes for lossless round-trip (spec.md §4.6 step 4: "game-start
// bytes round-tripped verbatim").
func decodeStart(buf []byte) (*Start, error) {
	raw := append([]byte(nil), buf...)
	if len(buf) < 4 {
		return nil, decodeErr(0, "game-start payload too short")
	}
	v := Version{Major: buf[0], Minor: buf[1], Revision: buf[2]}
	// buf[3] is the unused build byte.
	s := &Start{Raw: raw, Version: v}

	r := buf[4:]
	if len(r) < 0x65+36*maxPlayerSlots+4 {
		return nil, decodeErr(4, "game-start payload too short for v0 fields")
	}
	copy(s.Bitfield[:], r[0:4])
	s.IsRainingBombs = r[6] != 0
	s.IsTeams = r[8] != 0
	s.ItemSpawnFrequency = int8(r[11])
	s.SelfDestructScore = int8(r[12])
	s.Stage = readU16(r, 14)
	s.Timer = readU32(r, 16)
	copy(s.ItemSpawnBitfield[:], r[0x25:0x2A])
	s.DamageRatio = readF32(r, 0x34)

	// @0x65: six 36-byte player slots.
	const playerSlotsOffset = 0x65
	const playerSlotSize = 36
	slotBase := r[playerSlotsOffset:]
	slots := make([][playerSlotSize]byte, maxPlayerSlots)
	for i := 0; i < maxPlayerSlots; i++ {
		copy(slots[i][:], slotBase[i*playerSlotSize:(i+1)*playerSlotSize])
	}
	seedOffset := playerSlotsOffset + playerSlotSize*maxPlayerSlots
	s.RandomSeed = readU32(r, seedOffset)

	off := seedOffset + 4
	var ucfBlocks [][8]byte
	if v.GTE(1, 0) {
		ucfBlocks = make([][8]byte, numPorts)
		for i := 0; i < numPorts; i++ {
			copy(ucfBlocks[i][:], r[off:off+8])
			off += 8
		}
	}
	var nameBlocks [][16]byte
	if v.GTE(1, 3) {
		nameBlocks = make([][16]byte, numPorts)
		for i := 0; i < numPorts; i++ {
			copy(nameBlocks[i][:], r[off:off+16])
			off += 16
		}
	}
	if v.GTE(1, 5) {
		b := r[off] != 0
		s.IsPAL = &b
		off++
	}
	if v.GTE(2, 0) {
		b := r[off] != 0
		s.IsFrozenPS = &b
		off++
	}
	if v.GTE(3, 7) {
		s.Scene = &Scene{Minor: r[off], Major: r[off+1]}
		off += 2
	}
	var netplayNames [][31]byte
	var netplayCodeBlocks [][10]byte
	if v.GTE(3, 9) {
		netplayNames = make([][31]byte, numPorts)
		for i := 0; i < numPorts; i++ {
			copy(netplayNames[i][:], r[off:off+31])
			off += 31
		}
		netplayCodeBlocks = make([][10]byte, numPorts)
		for i := 0; i < numPorts; i++ {
			copy(netplayCodeBlocks[i][:], r[off:off+10])
			off += 10
		}
	}
	var suidBlocks [][29]byte
	if v.GTE(3, 11) {
		suidBlocks = make([][29]byte, numPorts)
		for i := 0; i < numPorts; i++ {
			copy(suidBlocks[i][:], r[off:off+29])
			off += 29
		}
	}
	if v.GTE(3, 12) {
		lang, err := parseLanguage(r[off])
		if err != nil {
			return nil, decodeErr(int64(playerSlotsOffset+off), "%w", err)
		}
		s.Language = &lang
		off++
	}
	if v.GTE(3, 14) {
		idBytes := r[off : off+51]
		id := string(nullTerminate(idBytes))
		off += 51
		game := readU32(r, off)
		off += 4
		tiebreaker := readU32(r, off)
		off += 4
		s.Match = &Match{ID: id, Game: game, Tiebreaker: tiebreaker}
	}

	for n := 0; n < numPorts; n++ {
		typeByte := slots[n][1]
		pt, err := parsePlayerType(typeByte)
		if err != nil || pt == PlayerEmpty {
			continue
		}
		pi, err := parsePlayerSlot(Port(n), slots[n], s.IsTeams)
		if err != nil {
			return nil, err
		}
		if v.GTE(1, 0) {
			db, err := parseDashBack(readU32(ucfBlocks[n][:], 0))
			if err != nil {
				return nil, err
			}
			sd, err := parseShieldDrop(readU32(ucfBlocks[n][4:], 0))
			if err != nil {
				return nil, err
			}
			pi.DashBack = db
			pi.ShieldDrop = sd
		}
		if v.GTE(1, 3) {
			name, err := decodeMeleeString(nameBlocks[n][:])
			if err != nil {
				return nil, err
			}
			pi.NameTag = &name
		}
		if v.GTE(3, 9) {
			name, err := decodeMeleeString(netplayNames[n][:])
			if err != nil {
				return nil, err
			}
			code, err := decodeMeleeString(netplayCodeBlocks[n][:])
			if err != nil {
				return nil, err
			}
			np := &Netplay{Name: name, Code: code}
			if v.GTE(3, 11) {
				suid := string(nullTerminate(suidBlocks[n][:]))
				np.SUID = &suid
			}
			pi.Netplay = np
		}
		s.Players = append(s.Players, pi)
	}

	return s, nil
}

// parsePlayerSlot decodes the fixed 36-byte v0 player-slot fields
// common to every version, grounded on original_source's player().
func parsePlayerSlot(port Port, slot [36]byte, isTeams bool) (PlayerInfo, error) {
	pt, err := parsePlayerType(slot[1])
	if err != nil {
		return PlayerInfo{}, err
	}
	pi := PlayerInfo{
		Port:      port,
		Character: slot[0],
		Type:      pt,
		Stocks:    slot[2],
		Costume:   slot[3],
	}
	teamShade := slot[7]
	pi.Handicap = slot[8]
	teamColor := slot[9]
	if isTeams {
		pi.Team = &Team{Color: teamColor, Shade: teamShade}
	}
	pi.Bitfield = slot[12]
	cpuLevel := slot[15]
	if pt == PlayerCPU {
		pi.CPULevel = &cpuLevel
	}
	pi.DamageStart = readU16(slot[16:], 0)
	pi.DamageSpawn = readU16(slot[18:], 0)
	pi.OffenseRatio = readF32(slot[24:], 0)
	pi.DefenseRatio = readF32(slot[28:], 0)
	pi.ModelScale = readF32(slot[32:], 0)
	return pi, nil
}

// PlayerEnd is one player's end-of-game placement (since v3.13).
type PlayerEnd struct {
	Port      Port
	Placement uint8
}

// End is the game-end record: raw bytes plus parsed view (spec.md §3
// "End record").
type End struct {
	Raw           []byte
	Method        EndMethod
	LRASInitiator *Port // since v2.0; nil means sentinel 0xFF ("no LRAS")
	Players       []PlayerEnd
}

func gameEndPayloadSize(v Version) uint16 {
	size := uint16(1)
	if v.GTE(2, 0) {
		size++
	}
	if v.GTE(3, 13) {
		size += 4
	}
	return size
}

func decodeEnd(buf []byte) (*End, error) {
	raw := append([]byte(nil), buf...)
	if len(buf) < 1 {
		return nil, decodeErr(0, "game-end payload too short")
	}
	method, err := parseEndMethod(buf[0])
	if err != nil {
		return nil, err
	}
	e := &End{Raw: raw, Method: method}
	if len(buf) > 1 {
		b := buf[1]
		if b != 0xFF {
			p, err := parsePort(b)
			if err != nil {
				return nil, err
			}
			e.LRASInitiator = &p
		}
	}
	if len(buf) >= 6 {
		for n := 0; n < numPorts; n++ {
			placement := int8(buf[2+n])
			if placement < 0 || placement > 3 {
				continue
			}
			e.Players = append(e.Players, PlayerEnd{Port: Port(n), Placement: uint8(placement)})
		}
	}
	return e, nil
}

// GeckoCodes is the opaque Gecko code list blob carried by the
// message-splitter (spec.md §3 "Gecko codes blob").
type GeckoCodes struct {
	Bytes      []byte
	ActualSize uint32
}

// Quirks records decode-time observations about the input that do not
// fit the normal record shapes but matter for exact round-trip, e.g.
// the duplicated trailing game-end event some replays carry
// (original_source/src/io/slippi/de.rs's `read()` double-game-end
// detection).
type Quirks struct {
	DoubleGameEnd bool
}

// Game is the fully decoded, immutable result of reading one replay
// (spec.md §2 "Data flow on decode").
type Game struct {
	Start      *Start
	End        *End
	Frames     *Frames
	Metadata   *Map
	GeckoCodes *GeckoCodes
	Quirks     Quirks
	Hash       string // "xxh3:<hex>", empty if hashing was not requested

	// EventCounts records how many of each event code were seen during
	// decode, grounded on original_source's ParseState.event_counts
	// (spec.md §7 error diagnostics; kept for parity).
	EventCounts map[byte]int
}

// portOccupancy derives §3's "Port occupancy" from the parsed player
// list: only Ice Climbers (character id 0xE, grounded on the teacher's
// events.go character table) has a follower.
func portOccupancy(players []PlayerInfo) []PortOccupancy {
	const iceClimbersCharacterID = 0xE
	occ := make([]PortOccupancy, 0, len(players))
	for _, p := range players {
		occ = append(occ, PortOccupancy{
			Port:        p.Port,
			HasFollower: p.Character == iceClimbersCharacterID,
		})
	}
	return occ
}

func putU32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}
