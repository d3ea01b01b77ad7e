package peppi

import (
	"encoding/binary"
	"math"
	"testing"
)

// slotSpec describes the handful of v0 player-slot fields these tests
// care about; everything else in the 36-byte slot is left zeroed.
type slotSpec struct {
	character byte
	typ       byte
	stocks    byte
	costume   byte
}

// buildStartPayload constructs a well-formed game-start payload for v,
// filling in only the fields these tests assert on. It is sized exactly
// gameStartPayloadSize(v) so decodeStart never sees a short buffer.
func buildStartPayload(v Version, slots [maxPlayerSlots]slotSpec, stage uint16, isTeams bool) []byte {
	buf := make([]byte, gameStartPayloadSize(v))
	buf[0], buf[1], buf[2] = v.Major, v.Minor, v.Revision
	r := buf[4:]
	if isTeams {
		r[8] = 1
	}
	binary.BigEndian.PutUint16(r[14:16], stage)
	binary.BigEndian.PutUint32(r[16:20], 480)
	binary.BigEndian.PutUint32(r[0x34:0x38], math.Float32bits(1.0))
	for i, s := range slots {
		base := 0x65 + i*36
		r[base+0] = s.character
		r[base+1] = s.typ
		r[base+2] = s.stocks
		r[base+3] = s.costume
	}
	seedOff := 0x65 + 36*maxPlayerSlots
	binary.BigEndian.PutUint32(r[seedOff:seedOff+4], 0xC0FFEE)
	return buf
}

func TestDecodeStartTwoPlayer(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	empty := slotSpec{typ: byte(PlayerEmpty)}
	slots := [maxPlayerSlots]slotSpec{
		{character: 0x02, typ: byte(PlayerHuman), stocks: 4, costume: 0},
		{character: 0x14, typ: byte(PlayerHuman), stocks: 4, costume: 1},
		empty, empty, empty, empty,
	}
	buf := buildStartPayload(v, slots, 0x08, false)

	start, err := decodeStart(buf)
	if err != nil {
		t.Fatalf("decodeStart: %v", err)
	}
	if start.Version != v {
		t.Errorf("Version = %v, want %v", start.Version, v)
	}
	if len(start.Raw) != len(buf) {
		t.Errorf("len(Raw) = %d, want %d", len(start.Raw), len(buf))
	}
	if start.Stage != 0x08 {
		t.Errorf("Stage = %d, want 8", start.Stage)
	}
	if len(start.Players) != 2 {
		t.Fatalf("len(Players) = %d, want 2", len(start.Players))
	}
	if start.Players[0].Character != 0x02 || start.Players[0].Stocks != 4 {
		t.Errorf("Players[0] = %+v", start.Players[0])
	}
	if start.Players[0].Port != Port1 {
		t.Errorf("Players[0].Port = %v, want Port1", start.Players[0].Port)
	}
	if start.Players[1].Port != Port2 || start.Players[1].Character != 0x14 {
		t.Errorf("Players[1] = %+v", start.Players[1])
	}
	if start.Players[0].Team != nil {
		t.Error("Team should be nil when IsTeams is false")
	}
	if start.Players[0].DashBack != nil {
		t.Error("DashBack should be nil for an all-zero UCF block")
	}
}

func TestPortOccupancyIceClimbersFollower(t *testing.T) {
	const iceClimbers = 0xE
	v := Version{Major: 1, Minor: 0}
	empty := slotSpec{typ: byte(PlayerEmpty)}
	slots := [maxPlayerSlots]slotSpec{
		{character: iceClimbers, typ: byte(PlayerHuman), stocks: 4},
		{character: 0x02, typ: byte(PlayerHuman), stocks: 4},
		empty, empty, empty, empty,
	}
	buf := buildStartPayload(v, slots, 0x03, false)
	start, err := decodeStart(buf)
	if err != nil {
		t.Fatalf("decodeStart: %v", err)
	}
	occ := portOccupancy(start.Players)
	if len(occ) != 2 {
		t.Fatalf("len(occ) = %d, want 2", len(occ))
	}
	if !occ[0].HasFollower {
		t.Error("Ice Climbers' port should report HasFollower")
	}
	if occ[1].HasFollower {
		t.Error("a non-Ice-Climbers port should not report HasFollower")
	}
}

func TestDecodeStartTeams(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	empty := slotSpec{typ: byte(PlayerEmpty)}
	slots := [maxPlayerSlots]slotSpec{
		{character: 0x02, typ: byte(PlayerHuman), stocks: 4},
		empty, empty, empty, empty, empty,
	}
	buf := buildStartPayload(v, slots, 0x02, true)
	start, err := decodeStart(buf)
	if err != nil {
		t.Fatalf("decodeStart: %v", err)
	}
	if !start.IsTeams {
		t.Error("IsTeams should be true")
	}
	if start.Players[0].Team == nil {
		t.Error("Team should be populated when IsTeams is true")
	}
}

func TestDecodeEndWithPlacements(t *testing.T) {
	v := Version{Major: 3, Minor: 13}
	buf := make([]byte, gameEndPayloadSize(v))
	buf[0] = byte(EndResolved)
	buf[1] = byte(Port2)
	buf[2] = 1    // port0 placement
	buf[3] = 0    // port1 placement
	buf[4] = 0xFF // port2: int8(-1), no placement
	buf[5] = 0xFF // port3: no placement

	end, err := decodeEnd(buf)
	if err != nil {
		t.Fatalf("decodeEnd: %v", err)
	}
	if end.Method != EndResolved {
		t.Errorf("Method = %v, want EndResolved", end.Method)
	}
	if end.LRASInitiator == nil || *end.LRASInitiator != Port2 {
		t.Errorf("LRASInitiator = %v, want Port2", end.LRASInitiator)
	}
	if len(end.Players) != 2 {
		t.Fatalf("len(Players) = %d, want 2 (got %+v)", len(end.Players), end.Players)
	}
}

func TestDecodeEndNoLRAS(t *testing.T) {
	v := Version{Major: 2, Minor: 0}
	buf := make([]byte, gameEndPayloadSize(v))
	buf[0] = byte(EndGame)
	buf[1] = 0xFF
	end, err := decodeEnd(buf)
	if err != nil {
		t.Fatalf("decodeEnd: %v", err)
	}
	if end.LRASInitiator != nil {
		t.Errorf("LRASInitiator = %v, want nil for sentinel 0xFF", *end.LRASInitiator)
	}
}
