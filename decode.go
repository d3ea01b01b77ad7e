package peppi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// ReadOpts configures Read. The zero value reads every frame without
// hashing, with Strict off.
type ReadOpts struct {
	// SkipFrames enables the fast path from spec.md §4.4's last
	// paragraph: read and discard the frame stream's bytes straight to
	// game-end, when raw_len is known (the reader is never seeked).
	// Fails on an in-progress replay.
	SkipFrames bool
	// Hash feeds every byte read through an xxhash digest and records
	// the result on the returned Game (spec.md §4.7 round-trip check).
	Hash bool
	// Strict controls handling of event codes that the payload-size
	// table declares but this decoder does not handle: true fails with a
	// format error, false skips the payload and logs a warning. Codes
	// missing from the table fail in either mode, since their payload
	// size is unknown (spec.md §4.4 error taxonomy).
	Strict bool
	// DebugDir, if set, dumps every event's raw payload under
	// {DebugDir}/{event code}/{n}, mirroring original_source's
	// Debug{dir} dump (spec.md §6.3 names debug_dir without detailing
	// it; see DESIGN.md).
	DebugDir string
}

// debugDump writes one event payload under opts.DebugDir, named by its
// event code and the number of times that code has been seen so far.
func debugDump(dir string, code byte, n int, payload []byte) error {
	codeDir := filepath.Join(dir, fmt.Sprintf("%#02x", code))
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(codeDir, fmt.Sprintf("%d", n)), payload, 0o644)
}

// splitAccumulator reassembles a message-splitter chunk train into one
// logical event, grounded on original_source's SplitAccumulator.
type splitAccumulator struct {
	raw        []byte
	actualSize uint32
}

func (a *splitAccumulator) reset() {
	a.raw = nil
	a.actualSize = 0
}

// handleSplitterEvent implements spec.md §4.4's 0x10 case: accumulate
// the first 512 bytes, add the declared actual-size, and report the
// wrapped event code once the is-final flag is set.
func handleSplitterEvent(payload []byte, acc *splitAccumulator) (wrapped byte, final bool, err error) {
	if len(payload) != 516 {
		return 0, false, decodeErr(-1, "message-splitter payload must be 516 bytes, got %d", len(payload))
	}
	acc.raw = append(acc.raw, payload[:512]...)
	acc.actualSize += uint32(readU16(payload, 512))
	return payload[514], payload[515] != 0, nil
}

// decodeState is the decoder's mutable working set: the frame column
// builder plus the bookkeeping original_source's ParseState keeps
// (last frame id, per-code event counts, splitter accumulator).
type decodeState struct {
	version     Version
	frames      *MutableFrames
	eventCounts map[byte]int
	split       splitAccumulator
}

func (d *decodeState) lastID() (int32, bool) {
	n := d.frames.ID.Len()
	if n == 0 {
		return 0, false
	}
	id, _ := d.frames.ID.At(n - 1)
	return id, true
}

// openFrame implements `frame_open`: pushes a new frame index and, if
// the version carries a start-of-frame column, its values.
func (d *decodeState) openFrame(id int32, fs FrameStart) {
	d.frames.pushID(id)
	if d.frames.Start != nil {
		d.frames.Start.RandomSeed.Push(fs.RandomSeed)
		if d.frames.Start.SceneFrameCounter != nil {
			if fs.SceneFrameCounter != nil {
				d.frames.Start.SceneFrameCounter.Push(*fs.SceneFrameCounter)
			} else {
				d.frames.Start.SceneFrameCounter.PushNull()
			}
		}
	}
}

// pushFrameEnd records the end-of-frame column values and then closes
// the frame (padding followers, appending the item offset).
func (d *decodeState) pushFrameEnd(fe FrameEnd) {
	if d.frames.End != nil && d.frames.End.LatestFinalizedFrame != nil {
		if fe.LatestFinalizedFrame != nil {
			d.frames.End.LatestFinalizedFrame.Push(*fe.LatestFinalizedFrame)
		} else {
			d.frames.End.LatestFinalizedFrame.PushNull()
		}
	}
	d.frames.closeFrame()
}

// Read decodes a full .slp replay from r, implementing the event-stream
// decoder of spec.md §4.4.
func Read(r io.Reader, opts *ReadOpts) (*Game, error) {
	if opts == nil {
		opts = &ReadOpts{}
	}

	var base io.Reader = r
	var hr *hashingReader
	if opts.Hash {
		hr = newHashingReader(r)
		base = hr
	}
	br := bufio.NewReader(base)

	var sig [11]byte
	if _, err := io.ReadFull(br, sig[:]); err != nil {
		return nil, decodeErr(0, "reading file signature: %w", err)
	}
	if sig != fileSignature {
		return nil, decodeErr(0, "invalid file signature")
	}

	var rawLenBuf [4]byte
	if _, err := io.ReadFull(br, rawLenBuf[:]); err != nil {
		return nil, decodeErr(11, "reading raw length: %w", err)
	}
	rawLen := binary.BigEndian.Uint32(rawLenBuf[:])

	table, tableConsumed, err := readPayloadSizes(br)
	if err != nil {
		return nil, err
	}
	bytesRead := int64(tableConsumed)

	var startCode [1]byte
	if _, err := io.ReadFull(br, startCode[:]); err != nil {
		return nil, decodeErr(15+bytesRead, "reading game-start event code: %w", err)
	}
	if startCode[0] != evGameStart {
		return nil, decodeErr(15+bytesRead, "expected game-start event (%#x), got %#x", evGameStart, startCode[0])
	}
	startSize := table[evGameStart]
	startBuf := make([]byte, startSize)
	if _, err := io.ReadFull(br, startBuf); err != nil {
		return nil, decodeErr(15+bytesRead+1, "reading game-start payload: %w", err)
	}
	bytesRead += 1 + int64(startSize)

	start, err := decodeStart(startBuf)
	if err != nil {
		return nil, err
	}

	occ := portOccupancy(start.Players)
	frames := newMutableFrames(start.Version, occ)
	state := &decodeState{version: start.Version, frames: frames, eventCounts: map[byte]int{evPayloadSizes: 1, evGameStart: 1}}

	var end *End
	var gecko *GeckoCodes
	var quirks Quirks

	if opts.SkipFrames {
		if rawLen == 0 {
			return nil, decodeErr(15+bytesRead, "cannot skip frames on an in-progress (raw_len=0) replay")
		}
		endSize := int64(gameEndPayloadSize(start.Version))
		skip := int64(rawLen) - bytesRead - endSize - 1
		if skip < 0 {
			return nil, decodeErr(15+bytesRead, "declared raw length too short to contain a game-end event")
		}
		if skip > 0 {
			if _, err := io.CopyN(io.Discard, br, skip); err != nil {
				return nil, decodeErr(15+bytesRead, "discarding skipped frame bytes: %w", err)
			}
			bytesRead += skip
		}
		var code [1]byte
		if _, err := io.ReadFull(br, code[:]); err != nil {
			return nil, decodeErr(15+bytesRead, "reading game-end event code: %w", err)
		}
		if code[0] != evGameEnd {
			return nil, decodeErr(15+bytesRead, "expected game-end event (%#x) after skip, got %#x", evGameEnd, code[0])
		}
		endBuf := make([]byte, endSize)
		if _, err := io.ReadFull(br, endBuf); err != nil {
			return nil, decodeErr(15+bytesRead+1, "reading game-end payload: %w", err)
		}
		end, err = decodeEnd(endBuf)
		if err != nil {
			return nil, err
		}
	} else {
	loop:
		for {
			var codeBuf [1]byte
			if _, err := io.ReadFull(br, codeBuf[:]); err != nil {
				if err == io.EOF && rawLen == 0 {
					break loop
				}
				return nil, decodeErr(15+bytesRead, "reading event code: %w", err)
			}
			code := codeBuf[0]

			size, known := table[code], table.has(code)
			if !known {
				if opts.Strict {
					return nil, decodeErr(15+bytesRead, "unknown event code %#x", code)
				}
				return nil, decodeErr(15+bytesRead, "unknown event code %#x (cannot skip: size unknown)", code)
			}
			payload := make([]byte, size)
			if _, err := io.ReadFull(br, payload); err != nil {
				return nil, decodeErr(15+bytesRead+1, "reading payload for event %#x: %w", code, err)
			}
			bytesRead += 1 + int64(size)

			if code == evMessageSplitter {
				wrapped, final, err := handleSplitterEvent(payload, &state.split)
				if err != nil {
					return nil, err
				}
				if !final {
					continue
				}
				code = wrapped
				payload = state.split.raw
			}
			state.eventCounts[code]++
			if opts.DebugDir != "" {
				if err := debugDump(opts.DebugDir, code, state.eventCounts[code], payload); err != nil {
					return nil, decodeErr(15+bytesRead, "writing debug dump: %w", err)
				}
			}

			switch code {
			case evPayloadSizes:
				return nil, decodeErr(15+bytesRead, "duplicate payload-sizes event")
			case evGameStart:
				return nil, decodeErr(15+bytesRead, "duplicate game-start event")
			case evGeckoCodes:
				gecko = &GeckoCodes{
					Bytes:      append([]byte(nil), payload...),
					ActualSize: state.split.actualSize,
				}
				state.split.reset()
			case evFrameStart:
				if state.version.LT(3, 0) {
					state.frames.closeFrame()
				}
				if len(payload) < 4 {
					return nil, decodeErr(15+bytesRead, "frame-start payload too short")
				}
				id := readI32(payload, 0)
				fs, err := decodeFrameStart(payload[4:], state.version)
				if err != nil {
					return nil, err
				}
				state.openFrame(id, fs)
			case evFramePre:
				if len(payload) < 6 {
					return nil, decodeErr(15+bytesRead, "pre-frame payload too short")
				}
				id := readI32(payload, 0)
				portCode := payload[4]
				isFollower := payload[5] != 0
				if state.version.GTE(2, 2) {
					last, ok := state.lastID()
					if !ok || id != last {
						return nil, decodeErr(15+bytesRead, "pre-frame id %d does not match open frame", id)
					}
				} else {
					last, ok := state.lastID()
					if !ok {
						last = FirstIndex - 1
					}
					if last+1 == id {
						state.openFrame(id, FrameStart{})
					} else if id != last {
						return nil, decodeErr(15+bytesRead, "pre-frame id %d does not match open frame", id)
					}
				}
				pd, err := frames.portByCode(portCode)
				if err != nil {
					return nil, err
				}
				pre, err := decodePre(payload[6:], state.version)
				if err != nil {
					return nil, err
				}
				target := pd.Leader
				if isFollower {
					target = pd.Follower
				}
				if target == nil {
					return nil, decodeErr(15+bytesRead, "pre-frame event for follower on a port without one")
				}
				target.Pre.Push(pre)
			case evFramePost:
				if len(payload) < 6 {
					return nil, decodeErr(15+bytesRead, "post-frame payload too short")
				}
				id := readI32(payload, 0)
				portCode := payload[4]
				isFollower := payload[5] != 0
				if last, ok := state.lastID(); !ok || id != last {
					return nil, decodeErr(15+bytesRead, "post-frame id %d does not match open frame", id)
				}
				pd, err := frames.portByCode(portCode)
				if err != nil {
					return nil, err
				}
				post, err := decodePost(payload[6:], state.version)
				if err != nil {
					return nil, err
				}
				target := pd.Leader
				if isFollower {
					target = pd.Follower
				}
				if target == nil {
					return nil, decodeErr(15+bytesRead, "post-frame event for follower on a port without one")
				}
				target.Post.Push(post)
			case evFrameEnd:
				if len(payload) < 4 {
					return nil, decodeErr(15+bytesRead, "frame-end payload too short")
				}
				id := readI32(payload, 0)
				if last, ok := state.lastID(); !ok || id != last {
					return nil, decodeErr(15+bytesRead, "frame-end id %d does not match open frame", id)
				}
				fe, err := decodeFrameEnd(payload[4:], state.version)
				if err != nil {
					return nil, err
				}
				state.pushFrameEnd(fe)
			case evItem:
				if len(payload) < 4 {
					return nil, decodeErr(15+bytesRead, "item payload too short")
				}
				id := readI32(payload, 0)
				if last, ok := state.lastID(); !ok || id != last {
					return nil, decodeErr(15+bytesRead, "item id %d does not match open frame", id)
				}
				item, err := decodeItem(payload[4:], state.version)
				if err != nil {
					return nil, err
				}
				frames.Items.push(item)
			case evGameEnd:
				end, err = decodeEnd(payload)
				if err != nil {
					return nil, err
				}
				break loop
			default:
				if opts.Strict {
					return nil, decodeErr(15+bytesRead, "unexpected event code %#x", code)
				}
				log.Printf("peppi: skipping unhandled event %#x at offset %d", code, 15+bytesRead)
			}

			if rawLen != 0 && bytesRead >= int64(rawLen) {
				break loop
			}
		}

		// Step 6: a trailing duplicate game-end quirk. Some replays carry
		// a second copy of the game-end event; if the remaining declared
		// bytes exactly match one, consume it silently and record the
		// quirk instead of treating it as trailing garbage.
		if rawLen != 0 {
			remaining := int64(rawLen) - bytesRead
			endSize := int64(gameEndPayloadSize(state.version))
			if remaining == 1+endSize {
				peeked, err := br.Peek(1)
				if err == nil && len(peeked) == 1 && peeked[0] == evGameEnd {
					var dupCode [1]byte
					io.ReadFull(br, dupCode[:])
					dupBuf := make([]byte, endSize)
					if _, err := io.ReadFull(br, dupBuf); err == nil {
						bytesRead += 1 + endSize
						quirks.DoubleGameEnd = true
					}
				}
			}
			if !quirks.DoubleGameEnd && remaining > 0 {
				log.Printf("peppi: %d trailing bytes in the raw section after the last event", remaining)
			}
		}
	}

	metadata, err := readMetadataSection(br)
	if err != nil {
		return nil, err
	}

	game := &Game{
		Start:       start,
		End:         end,
		Frames:      frames.finish(),
		Metadata:    metadata,
		GeckoCodes:  gecko,
		Quirks:      quirks,
		EventCounts: state.eventCounts,
	}
	if hr != nil {
		game.Hash = hr.Sum()
	}
	return game, nil
}

// readMetadataSection implements spec.md §4.4 step 7: look for the
// `U\x08metadata` key; if found, parse one object and expect the
// top-level closing `}`. A replay with no metadata has only the
// closing `}`.
func readMetadataSection(br *bufio.Reader) (*Map, error) {
	tag, err := br.ReadByte()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, decodeErr(-1, "reading metadata section tag: %w", err)
	}
	if tag == '}' {
		return nil, nil
	}
	if tag != 'U' {
		return nil, decodeErr(-1, "expected 'U' metadata key or '}', got %#x", tag)
	}
	length, err := br.ReadByte()
	if err != nil {
		return nil, decodeErr(-1, "reading metadata key length: %w", err)
	}
	key := make([]byte, length)
	if _, err := io.ReadFull(br, key); err != nil {
		return nil, decodeErr(-1, "reading metadata key: %w", err)
	}
	if string(key) != "metadata" {
		return nil, decodeErr(-1, "expected metadata key, got %q", key)
	}
	openBrace, err := br.ReadByte()
	if err != nil {
		return nil, decodeErr(-1, "reading metadata open brace: %w", err)
	}
	if openBrace != '{' {
		return nil, decodeErr(-1, "expected '{' opening metadata object, got %#x", openBrace)
	}
	m, err := readMap(br)
	if err != nil {
		return nil, err
	}
	closeBrace, err := br.ReadByte()
	if err != nil {
		return nil, decodeErr(-1, "reading top-level close: %w", err)
	}
	if closeBrace != '}' {
		return nil, decodeErr(-1, "expected top-level '}', got %#x", closeBrace)
	}
	return m, nil
}
