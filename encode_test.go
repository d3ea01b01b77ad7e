package peppi

import (
	"bytes"
	"testing"
)

// buildMinimalGame constructs a one-frame, one-port Game for version v,
// reusing twoPlayerStartBuf's slot layout trimmed to a single player so
// encode/decode round-trip tests don't need their own start fixture.
func buildMinimalGame(v Version) *Game {
	empty := slotSpec{typ: byte(PlayerEmpty)}
	slots := [maxPlayerSlots]slotSpec{
		{character: 0x02, typ: byte(PlayerHuman), stocks: 4},
		empty, empty, empty, empty, empty,
	}
	startBuf := buildStartPayload(v, slots, 0x03, false)
	start, err := decodeStart(startBuf)
	if err != nil {
		panic(err)
	}

	occ := portOccupancy(start.Players)
	mf := newMutableFrames(v, occ)
	mf.pushID(FirstIndex)
	if mf.Start != nil {
		mf.Start.RandomSeed.Push(42)
	}
	mf.Ports[0].Leader.Pre.Push(Pre{RandomSeed: 42, Position: Position{X: 3, Y: 4}})
	mf.Ports[0].Leader.Post.Push(Post{Character: 2, StocksRemaining: 4})
	if v.GTE(3, 0) {
		mf.closeFrame()
	}
	frames := mf.finish()

	return &Game{Start: start, End: &End{Method: EndGame}, Frames: frames}
}

func TestWriteReadRoundTrip(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildMinimalGame(v)

	var buf bytes.Buffer
	if err := Write(&buf, game, &WriteOpts{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf, &ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Start.Version != v {
		t.Errorf("Version = %v, want %v", got.Start.Version, v)
	}
	if !bytes.Equal(got.Start.Raw, game.Start.Raw) {
		t.Error("Start.Raw did not round-trip verbatim")
	}
	if got.Frames.Len() != 1 {
		t.Fatalf("Frames.Len() = %d, want 1", got.Frames.Len())
	}
	gotPre, ok := got.Frames.Ports[0].Leader.Pre.At(0)
	if !ok || gotPre.RandomSeed != 42 || gotPre.Position.X != 3 {
		t.Errorf("round-tripped pre = %+v", gotPre)
	}
	gotPost, ok := got.Frames.Ports[0].Leader.Post.At(0)
	if !ok || gotPost.StocksRemaining != 4 {
		t.Errorf("round-tripped post = %+v", gotPost)
	}
	if got.End == nil || got.End.Method != EndGame {
		t.Errorf("End = %+v", got.End)
	}
}

func TestWriteReadRoundTripV3(t *testing.T) {
	// v3.0 exercises frame-start/frame-end events and the items column
	// gate, none of which the v1.0 round trip above touches.
	v := Version{Major: 3, Minor: 0}
	game := buildMinimalGame(v)

	var buf bytes.Buffer
	if err := Write(&buf, game, &WriteOpts{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf, &ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Frames.Len() != 1 {
		t.Fatalf("Frames.Len() = %d, want 1", got.Frames.Len())
	}
	gotPost, ok := got.Frames.Ports[0].Leader.Post.At(0)
	if !ok || gotPost.StocksRemaining != 4 {
		t.Errorf("round-tripped post = %+v", gotPost)
	}
}

func TestWriteRejectsUnsupportedVersion(t *testing.T) {
	v := Version{Major: uint8(MaxSupportedMajor) + 1}
	game := buildMinimalGame(Version{Major: 1})
	game.Start.Version = v
	var buf bytes.Buffer
	if err := Write(&buf, game, &WriteOpts{}); err == nil {
		t.Fatal("Write should reject a version newer than this writer supports")
	}
}

func TestWriteHashing(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildMinimalGame(v)
	var buf bytes.Buffer
	if err := Write(&buf, game, &WriteOpts{Hash: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(bytes.NewReader(buf.Bytes()), &ReadOpts{Hash: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Hash == "" {
		t.Error("Hash should be populated when ReadOpts.Hash is set")
	}
}

func TestComputeRawLenMatchesWrittenBytes(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildMinimalGame(v)
	table := buildPayloadSizeTable(game.Start.Version, false)
	want := computeRawLen(game, table)

	var buf bytes.Buffer
	if err := Write(&buf, game, &WriteOpts{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// raw_len covers everything after its own 4 bytes up to (but not
	// including) the trailing '}'/metadata section.
	got := int64(buf.Len()) - int64(len(fileSignature)) - 4 - 1
	if got != want {
		t.Errorf("written raw_len region = %d bytes, computeRawLen = %d", got, want)
	}
}
