package peppi

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"testing"
)

// buildArchivableGame is like buildMinimalGame but decodes End through
// decodeEnd so End.Raw is populated at its canonical size - WriteArchive
// writes End.Raw verbatim as end.raw, and an empty Raw would make
// ReadArchive's decodeEnd call fail on a too-short payload.
func buildArchivableGame(v Version) *Game {
	game := buildMinimalGame(v)
	endBuf := make([]byte, gameEndPayloadSize(v))
	endBuf[0] = byte(EndGame)
	end, err := decodeEnd(endBuf)
	if err != nil {
		panic(err)
	}
	game.End = end
	return game
}

func TestArchiveRoundTrip(t *testing.T) {
	v := Version{Major: 3, Minor: 0}
	game := buildArchivableGame(v)
	game.Hash = "xxh3:deadbeefdeadbeef"

	var buf bytes.Buffer
	if err := WriteArchive(&buf, game, &ArchiveOpts{}); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	got, hash, err := ReadArchive(bytes.NewReader(buf.Bytes()), &ArchiveOpts{})
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if hash != game.Hash {
		t.Errorf("archive hash = %q, want %q", hash, game.Hash)
	}
	if got.Start.Version != v {
		t.Errorf("Version = %v, want %v", got.Start.Version, v)
	}
	if got.End == nil || got.End.Method != EndGame {
		t.Errorf("End = %+v", got.End)
	}
	if got.Frames == nil || got.Frames.Len() != 1 {
		t.Fatalf("Frames = %+v", got.Frames)
	}
	gotPost, ok := got.Frames.Ports[0].Leader.Post.At(0)
	if !ok || gotPost.StocksRemaining != 4 {
		t.Errorf("round-tripped post = %+v", gotPost)
	}
}

func TestArchiveVerifyHashSuccess(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildArchivableGame(v)

	var slpBuf bytes.Buffer
	if err := Write(&slpBuf, game, &WriteOpts{Hash: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	replayed, err := Read(bytes.NewReader(slpBuf.Bytes()), &ReadOpts{Hash: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var archiveBuf bytes.Buffer
	if err := WriteArchive(&archiveBuf, replayed, &ArchiveOpts{SlpHash: replayed.Hash}); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if _, _, err := ReadArchive(bytes.NewReader(archiveBuf.Bytes()), &ArchiveOpts{VerifyHash: true}); err != nil {
		t.Fatalf("ReadArchive with VerifyHash: %v", err)
	}
}

func TestArchiveVerifyHashMismatch(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildArchivableGame(v)

	var buf bytes.Buffer
	if err := WriteArchive(&buf, game, &ArchiveOpts{SlpHash: "xxh3:0000000000000000"}); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if _, _, err := ReadArchive(bytes.NewReader(buf.Bytes()), &ArchiveOpts{VerifyHash: true}); err == nil {
		t.Fatal("ReadArchive with VerifyHash should reject a tampered slp_hash")
	}
}

func TestArchiveRejectsOldFormatVersion(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	game := buildArchivableGame(v)

	desc := archiveDescriptor{Version: "0.9.0"}
	descBytes, err := json.Marshal(desc)
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeTarMember(tw, "peppi.json", descBytes); err != nil {
		t.Fatalf("writeTarMember peppi.json: %v", err)
	}
	if err := writeTarMember(tw, "start.raw", game.Start.Raw); err != nil {
		t.Fatalf("writeTarMember start.raw: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}

	if _, _, err := ReadArchive(bytes.NewReader(buf.Bytes()), &ArchiveOpts{}); err == nil {
		t.Fatal("ReadArchive should reject an archive format version older than minArchiveMajor")
	}
}

func TestArchiveMissingDescriptorRejected(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeTarMember(tw, "start.raw", []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeTarMember: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if _, _, err := ReadArchive(bytes.NewReader(buf.Bytes()), &ArchiveOpts{}); err == nil {
		t.Fatal("ReadArchive should reject an archive whose first member isn't peppi.json")
	}
}
