package peppi

import (
	"bytes"
	"testing"
)

func TestPageWriteReadRoundTrip(t *testing.T) {
	valid := newBitVectorTrue(0)
	valid.Push(true)
	valid.Push(false)
	valid.Push(true)
	p := &page{
		Rows: 3,
		Fields: []pageField{
			{Name: "id", Type: fieldI32, Data: i32sToBytes([]int32{1, 2, 3})},
			{Name: "nullable_u32", Type: fieldU32, Valid: valid, Data: u32sToBytes([]uint32{10, 0, 30})},
		},
	}

	var buf bytes.Buffer
	if err := writePage(&buf, p); err != nil {
		t.Fatalf("writePage: %v", err)
	}
	got, err := readPage(&buf)
	if err != nil {
		t.Fatalf("readPage: %v", err)
	}
	if got.Rows != 3 || len(got.Fields) != 2 {
		t.Fatalf("page = %+v", got)
	}
	idField, err := findField(got, "id")
	if err != nil {
		t.Fatalf("findField(id): %v", err)
	}
	for i, want := range []int32{1, 2, 3} {
		if got := readI32(idField.Data, i*4); got != want {
			t.Errorf("id[%d] = %d, want %d", i, got, want)
		}
	}
	nuField, err := findField(got, "nullable_u32")
	if err != nil {
		t.Fatalf("findField(nullable_u32): %v", err)
	}
	if nuField.Valid == nil {
		t.Fatal("nullable_u32 should carry a validity bitmap")
	}
	if !nuField.Valid.Get(0) || nuField.Valid.Get(1) || !nuField.Valid.Get(2) {
		t.Errorf("nullable_u32 validity = [%v %v %v], want [true false true]",
			nuField.Valid.Get(0), nuField.Valid.Get(1), nuField.Valid.Get(2))
	}
}

// buildItemsGame constructs a two-frame, one-port v3.6 game whose first
// frame spawns one item (with an owner port, exercising the **Port
// present-and-set case), so encodeFramesArrow/decodeFramesArrow's items
// page path gets exercised end to end.
func buildItemsGame(t *testing.T) (*Game, *MutableFrames) {
	t.Helper()
	v := Version{Major: 3, Minor: 6}
	empty := slotSpec{typ: byte(PlayerEmpty)}
	slots := [maxPlayerSlots]slotSpec{
		{character: 0x02, typ: byte(PlayerHuman), stocks: 4},
		empty, empty, empty, empty, empty,
	}
	startBuf := buildStartPayload(v, slots, 0x03, false)
	start, err := decodeStart(startBuf)
	if err != nil {
		t.Fatalf("decodeStart: %v", err)
	}
	occ := portOccupancy(start.Players)
	mf := newMutableFrames(v, occ)

	mf.pushID(FirstIndex)
	mf.Start.RandomSeed.Push(1)
	mf.Ports[0].Leader.Pre.Push(Pre{RandomSeed: 1})
	mf.Ports[0].Leader.Post.Push(Post{Character: 2, StocksRemaining: 4})
	owner := Port1
	ownerPtr := &owner
	mf.Items.push(Item{
		ID:              7,
		Type:            ItemPeachTurnip,
		State:           1,
		Position:        Position{X: 10, Y: 20},
		Velocity:        Velocity{X: 0.5, Y: -0.5},
		DamageTaken:     3,
		ExpirationTimer: 120,
		Owner:           &ownerPtr,
	})
	mf.closeFrame()

	mf.pushID(FirstIndex + 1)
	mf.Start.RandomSeed.Push(2)
	mf.Ports[0].Leader.Pre.Push(Pre{RandomSeed: 2})
	mf.Ports[0].Leader.Post.Push(Post{Character: 2, StocksRemaining: 4})
	mf.closeFrame()

	game := &Game{Start: start, End: &End{Method: EndGame}, Frames: mf.finish()}
	return game, mf
}

func TestFramesArrowRoundTripWithItems(t *testing.T) {
	game, _ := buildItemsGame(t)

	data, err := encodeFramesArrow(game.Frames)
	if err != nil {
		t.Fatalf("encodeFramesArrow: %v", err)
	}
	occ := portOccupancy(game.Start.Players)
	got, err := decodeFramesArrow(data, game.Start.Version, occ)
	if err != nil {
		t.Fatalf("decodeFramesArrow: %v", err)
	}

	if got.Len() != 2 {
		t.Fatalf("Frames.Len() = %d, want 2", got.Len())
	}
	start, end := got.Items.Offsets.Range(0)
	if end-start != 1 {
		t.Fatalf("frame 0 item count = %d, want 1", end-start)
	}
	id, ok := got.Items.ID.At(int(start))
	if !ok || id != 7 {
		t.Errorf("item id = %d, ok=%v, want 7", id, ok)
	}
	typ, _ := got.Items.Type.At(int(start))
	if typ != ItemPeachTurnip {
		t.Errorf("item type = %v, want ItemPeachTurnip", typ)
	}
	owner, ok := got.Items.Owner.At(int(start))
	if !ok || owner != Port1 {
		t.Errorf("item owner = %v, ok=%v, want Port1", owner, ok)
	}

	start1, end1 := got.Items.Offsets.Range(1)
	if end1-start1 != 0 {
		t.Errorf("frame 1 item count = %d, want 0", end1-start1)
	}
}

func TestFramesArrowRoundTripNoItems(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildMinimalGame(v)

	data, err := encodeFramesArrow(game.Frames)
	if err != nil {
		t.Fatalf("encodeFramesArrow: %v", err)
	}
	occ := portOccupancy(game.Start.Players)
	got, err := decodeFramesArrow(data, v, occ)
	if err != nil {
		t.Fatalf("decodeFramesArrow: %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("Frames.Len() = %d, want 1", got.Len())
	}
	if got.Items != nil {
		t.Error("Items should be nil for a pre-3.0 version")
	}
}
