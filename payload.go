package peppi

import (
	"encoding/binary"
	"io"
)

// Event codes, per spec.md §6.2. Grouped under one block following the
// teacher's Command enum in events.go.
const (
	evMessageSplitter byte = 0x10
	evPayloadSizes    byte = 0x35
	evGameStart       byte = 0x36
	evFramePre        byte = 0x37
	evFramePost       byte = 0x38
	evGameEnd         byte = 0x39
	evFrameStart      byte = 0x3A
	evItem            byte = 0x3B
	evFrameEnd        byte = 0x3C
	evGeckoCodes      byte = 0x3D
)

// fileSignature is the fixed 11-byte header every replay starts with:
// "{U\x03raw[$U#l".
var fileSignature = [11]byte{
	0x7B, 0x55, 0x03, 0x72, 0x61, 0x77, 0x5B, 0x24, 0x55, 0x23, 0x6C,
}

// payloadSizeTable maps an event code to its declared payload size, as
// discovered once at the start of the raw section (spec.md §4.4 step 3).
// A zero entry means "not present in this replay's table".
type payloadSizeTable [256]uint16

func (t *payloadSizeTable) has(code byte) bool {
	return t[code] != 0
}

// readPayloadSizes reads the self-describing event payload-sizes event
// (code 0x35), which must be the very first event in the raw section.
// It returns the table and the number of bytes consumed, including the
// leading event-code byte.
func readPayloadSizes(r io.Reader) (payloadSizeTable, int, error) {
	var table payloadSizeTable
	var codeBuf [1]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return table, 0, decodeErr(0, "reading payload-sizes event code: %w", err)
	}
	if codeBuf[0] != evPayloadSizes {
		return table, 0, decodeErr(0, "expected payload-sizes event (%#x), got %#x", evPayloadSizes, codeBuf[0])
	}

	var sizeBuf [1]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return table, 0, decodeErr(1, "reading payload-sizes length: %w", err)
	}
	size := sizeBuf[0]
	// Declared length includes the size byte itself, and the remainder
	// must be divisible by 3 ((event code, payload size) triples).
	if size%3 != 1 {
		return table, 0, decodeErr(1, "invalid payload-size length %d (not 1 mod 3)", size)
	}

	body := make([]byte, int(size)-1)
	if _, err := io.ReadFull(r, body); err != nil {
		return table, 0, decodeErr(2, "reading payload-sizes body: %w", err)
	}

	for i := 0; i+3 <= len(body); i += 3 {
		code := body[i]
		sz := binary.BigEndian.Uint16(body[i+1 : i+3])
		if sz == 0 {
			return table, 0, decodeErr(int64(2+i), "zero-size event payload for code %#x", code)
		}
		table[code] = sz
	}

	if !table.has(evGameStart) {
		return table, 0, decodeErr(0, "payload-size table missing Game Start entry")
	}
	if !table.has(evGameEnd) {
		return table, 0, decodeErr(0, "payload-size table missing Game End entry")
	}

	return table, 1 + int(size), nil
}

// buildPayloadSizeTable recomputes the table the encoder must emit for a
// given version and whether gecko codes are present, per spec.md §4.6.
func buildPayloadSizeTable(v Version, hasGecko bool) payloadSizeTable {
	var t payloadSizeTable
	t[evGameStart] = gameStartPayloadSize(v)
	t[evGameEnd] = gameEndPayloadSize(v)
	t[evFramePre] = framePrePayloadSize(v)
	t[evFramePost] = framePostPayloadSize(v)
	if v.GTE(2, 2) {
		t[evFrameStart] = frameStartPayloadSize(v)
	}
	if v.GTE(3, 0) {
		t[evItem] = itemPayloadSize(v)
		t[evFrameEnd] = frameEndPayloadSize(v)
	}
	if hasGecko && v.GTE(3, 3) {
		t[evMessageSplitter] = 516
	}
	return t
}

// writePayloadSizes emits the payload-sizes event for t, in the stable
// ascending-code order the original format uses.
func writePayloadSizes(w io.Writer, t payloadSizeTable) error {
	var entries []byte
	for code := 0; code < 256; code++ {
		if t[code] == 0 {
			continue
		}
		var szBuf [2]byte
		binary.BigEndian.PutUint16(szBuf[:], t[code])
		entries = append(entries, byte(code), szBuf[0], szBuf[1])
	}
	size := byte(len(entries) + 1)
	header := []byte{evPayloadSizes, size}
	if _, err := w.Write(header); err != nil {
		return encodeErr("writing payload-sizes header: %w", err)
	}
	if _, err := w.Write(entries); err != nil {
		return encodeErr("writing payload-sizes body: %w", err)
	}
	return nil
}
