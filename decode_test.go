package peppi

import (
	"bytes"
	"testing"
)

// buildPayloadSizesEvent encodes the 0x35 payload-sizes event body for
// the given code->size entries, in ascending code order.
func buildPayloadSizesEvent(entries map[byte]uint16) []byte {
	var body []byte
	for code := 0; code < 256; code++ {
		if sz, ok := entries[byte(code)]; ok {
			var szBuf [2]byte
			putU16At(szBuf[:], 0, sz)
			body = append(body, byte(code), szBuf[0], szBuf[1])
		}
	}
	size := byte(len(body) + 1)
	out := []byte{evPayloadSizes, size}
	return append(out, body...)
}

func twoPlayerStartBuf(v Version) []byte {
	empty := slotSpec{typ: byte(PlayerEmpty)}
	slots := [maxPlayerSlots]slotSpec{
		{character: 0x02, typ: byte(PlayerHuman), stocks: 4},
		{character: 0x14, typ: byte(PlayerHuman), stocks: 4},
		empty, empty, empty, empty,
	}
	return buildStartPayload(v, slots, 0x08, false)
}

// TestReadMinimalTwoPlayerReplay builds a synthetic pre-2.2 (v1.0.0)
// event stream by hand - no frame-start/frame-end events, a single
// pre/post pair, and an immediate game-end - exercising Read's legacy
// auto-open-frame path and its raw_len=0 (in-progress replay) handling.
func TestReadMinimalTwoPlayerReplay(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	startBuf := twoPlayerStartBuf(v)

	sizes := map[byte]uint16{
		evGameStart: uint16(len(startBuf)),
		evFramePre:  framePrePayloadSize(v),
		evFramePost: framePostPayloadSize(v),
		evGameEnd:   gameEndPayloadSize(v),
	}

	var buf bytes.Buffer
	buf.Write(fileSignature[:])
	buf.Write([]byte{0, 0, 0, 0}) // raw_len = 0: rely on evGameEnd to stop
	buf.Write(buildPayloadSizesEvent(sizes))

	buf.WriteByte(evGameStart)
	buf.Write(startBuf)

	pre := Pre{Position: Position{X: 1, Y: 2}, FacingDirection: DirectionRight, RandomSeed: 7}
	preBody := encodePre(pre, v)
	preEvent := make([]byte, 6+len(preBody))
	putI32At(preEvent, 0, FirstIndex)
	preEvent[4] = byte(Port1)
	copy(preEvent[6:], preBody)
	buf.WriteByte(evFramePre)
	buf.Write(preEvent)

	post := Post{Character: 0x02, Percent: 12.5, StocksRemaining: 4}
	postBody := encodePost(post, v)
	postEvent := make([]byte, 6+len(postBody))
	putI32At(postEvent, 0, FirstIndex)
	postEvent[4] = byte(Port1)
	copy(postEvent[6:], postBody)
	buf.WriteByte(evFramePost)
	buf.Write(postEvent)

	endBuf := make([]byte, gameEndPayloadSize(v))
	endBuf[0] = byte(EndGame)
	buf.WriteByte(evGameEnd)
	buf.Write(endBuf)
	buf.WriteByte('}') // no metadata

	game, err := Read(&buf, &ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if game.Start.Version != v {
		t.Errorf("Start.Version = %v, want %v", game.Start.Version, v)
	}
	if len(game.Start.Players) != 2 {
		t.Fatalf("len(Players) = %d, want 2", len(game.Start.Players))
	}
	if game.Frames.Len() != 1 {
		t.Fatalf("Frames.Len() = %d, want 1", game.Frames.Len())
	}
	id, _ := game.Frames.ID.At(0)
	if id != FirstIndex {
		t.Errorf("frame id = %d, want %d", id, FirstIndex)
	}
	if len(game.Frames.Ports) == 0 || game.Frames.Ports[0].Port != Port1 {
		t.Fatalf("Ports[0] missing or wrong port: %+v", game.Frames.Ports)
	}
	gotPre, ok := game.Frames.Ports[0].Leader.Pre.At(0)
	if !ok {
		t.Fatal("leader pre not valid")
	}
	if gotPre.RandomSeed != 7 || gotPre.Position.X != 1 {
		t.Errorf("decoded pre = %+v, want RandomSeed=7 Position.X=1", gotPre)
	}
	gotPost, ok := game.Frames.Ports[0].Leader.Post.At(0)
	if !ok {
		t.Fatal("leader post not valid")
	}
	if gotPost.StocksRemaining != 4 {
		t.Errorf("decoded post.StocksRemaining = %d, want 4", gotPost.StocksRemaining)
	}
	if game.End == nil || game.End.Method != EndGame {
		t.Errorf("End = %+v", game.End)
	}
	if game.EventCounts[evFramePre] != 1 {
		t.Errorf("EventCounts[evFramePre] = %d, want 1", game.EventCounts[evFramePre])
	}
}

func TestReadRejectsBadSignature(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte("not-a-slippi-file"))
	if _, err := Read(&buf, &ReadOpts{}); err == nil {
		t.Fatal("Read should reject a stream with a bad file signature")
	}
}

func TestReadRejectsMissingGameEndInTable(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	startBuf := twoPlayerStartBuf(v)
	sizes := map[byte]uint16{
		evGameStart: uint16(len(startBuf)),
	}
	var buf bytes.Buffer
	buf.Write(fileSignature[:])
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(buildPayloadSizesEvent(sizes))
	if _, err := Read(&buf, &ReadOpts{}); err == nil {
		t.Fatal("Read should reject a payload-size table missing the game-end entry")
	}
}

func TestReadSkipFrames(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	startBuf := twoPlayerStartBuf(v)
	sizes := map[byte]uint16{
		evGameStart: uint16(len(startBuf)),
		evFramePre:  framePrePayloadSize(v),
		evFramePost: framePostPayloadSize(v),
		evGameEnd:   gameEndPayloadSize(v),
	}

	sizesEvent := buildPayloadSizesEvent(sizes)

	pre := Pre{RandomSeed: 99}
	preBody := encodePre(pre, v)
	preEvent := make([]byte, 6+len(preBody))
	putI32At(preEvent, 0, FirstIndex)
	preEvent[4] = byte(Port1)
	copy(preEvent[6:], preBody)

	post := Post{Character: 0x02, StocksRemaining: 4}
	postBody := encodePost(post, v)
	postEvent := make([]byte, 6+len(postBody))
	putI32At(postEvent, 0, FirstIndex)
	postEvent[4] = byte(Port1)
	copy(postEvent[6:], postBody)

	endBuf := make([]byte, gameEndPayloadSize(v))
	endBuf[0] = byte(EndGame)

	// Everything from just past raw_len's 4 bytes through the end of the
	// game-end payload counts toward raw_len (spec.md §4.4's skip-path
	// math uses the same byte accounting Read does internally).
	var body bytes.Buffer
	body.Write(sizesEvent)
	body.WriteByte(evGameStart)
	body.Write(startBuf)
	body.WriteByte(evFramePre)
	body.Write(preEvent)
	body.WriteByte(evFramePost)
	body.Write(postEvent)
	body.WriteByte(evGameEnd)
	body.Write(endBuf)

	var buf bytes.Buffer
	buf.Write(fileSignature[:])
	var rawLenBuf [4]byte
	putU32At(rawLenBuf[:], 0, uint32(body.Len()))
	buf.Write(rawLenBuf[:])
	buf.Write(body.Bytes())
	buf.WriteByte('}')

	game, err := Read(&buf, &ReadOpts{SkipFrames: true})
	if err != nil {
		t.Fatalf("Read with SkipFrames: %v", err)
	}
	if game.Frames != nil && game.Frames.Len() != 0 {
		t.Errorf("Frames.Len() = %d, want 0 when SkipFrames is set", game.Frames.Len())
	}
	if game.End == nil || game.End.Method != EndGame {
		t.Errorf("End = %+v", game.End)
	}
}

func TestReadHashing(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	startBuf := twoPlayerStartBuf(v)
	sizes := map[byte]uint16{
		evGameStart: uint16(len(startBuf)),
		evFramePre:  framePrePayloadSize(v),
		evFramePost: framePostPayloadSize(v),
		evGameEnd:   gameEndPayloadSize(v),
	}
	var buf bytes.Buffer
	buf.Write(fileSignature[:])
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(buildPayloadSizesEvent(sizes))
	buf.WriteByte(evGameStart)
	buf.Write(startBuf)
	endBuf := make([]byte, gameEndPayloadSize(v))
	endBuf[0] = byte(EndGame)
	buf.WriteByte(evGameEnd)
	buf.Write(endBuf)
	buf.WriteByte('}')

	game, err := Read(bytes.NewReader(buf.Bytes()), &ReadOpts{Hash: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if game.Hash == "" {
		t.Error("Hash should be populated when ReadOpts.Hash is set")
	}
}
