package peppi

import (
	"encoding/binary"
	"io"
)

// WriteOpts configures Write. The zero value emits with hashing off.
type WriteOpts struct {
	// Hash feeds every byte written through an xxhash digest. Write
	// returns only an error, so the resulting sum is not exposed to the
	// caller.
	Hash bool
}

// writeEvent writes one event code byte followed by its payload.
func writeEvent(w io.Writer, code byte, payload []byte) error {
	if _, err := w.Write([]byte{code}); err != nil {
		return encodeErr("writing event code %#x: %w", code, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return encodeErr("writing payload for event %#x: %w", code, err)
		}
	}
	return nil
}

// countValid returns how many of c's rows are present: Len() if the
// column carries no validity bitmap (every row is always present), or
// the number of set bits otherwise.
func countValid[T any](c *column[T]) int {
	if c == nil {
		return 0
	}
	if c.Valid == nil {
		return c.Len()
	}
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.Valid.Get(i) {
			n++
		}
	}
	return n
}

// computeRawLen implements spec.md §4.6's raw_len formula.
func computeRawLen(game *Game, table payloadSizeTable) int64 {
	n := 0
	for code := 0; code < 256; code++ {
		if table[code] != 0 {
			n++
		}
	}
	var total int64
	total += int64(1 + (3*n + 1)) // payload-sizes event

	total += int64(1 + len(game.Start.Raw)) // game-start

	frames := game.Frames
	numFrames := 0
	if frames != nil {
		numFrames = frames.Len()
	}

	frameStartSize := int64(frameStartPayloadSize(game.Start.Version))
	frameEndSize := int64(frameEndPayloadSize(game.Start.Version))
	preSize := int64(framePrePayloadSize(game.Start.Version))
	postSize := int64(framePostPayloadSize(game.Start.Version))
	itemSize := int64(itemPayloadSize(game.Start.Version))

	if game.Start.Version.GTE(2, 2) {
		total += int64(numFrames) * (1 + frameStartSize)
	}
	if game.Start.Version.GTE(3, 0) {
		total += int64(numFrames) * (1 + frameEndSize)
	}

	if frames != nil {
		for _, pd := range frames.Ports {
			total += int64(countValid(pd.Leader.Pre)) * (1 + preSize)
			total += int64(countValid(pd.Leader.Post)) * (1 + postSize)
			if pd.Follower != nil {
				total += int64(countValid(pd.Follower.Pre)) * (1 + preSize)
				total += int64(countValid(pd.Follower.Post)) * (1 + postSize)
			}
		}
		if frames.Items != nil {
			total += int64(frames.Items.ID.Len()) * (1 + itemSize)
		}
	}

	if game.End != nil {
		total += int64(1 + int(gameEndPayloadSize(game.Start.Version)))
		if game.Quirks.DoubleGameEnd {
			total += int64(1 + int(gameEndPayloadSize(game.Start.Version)))
		}
	}

	if game.GeckoCodes != nil {
		numBlocks := (len(game.GeckoCodes.Bytes) + 511) / 512
		total += int64(numBlocks) * 517
	}

	return total
}

// Write re-emits game as a byte stream, the inverse of Read (spec.md
// §4.6). It fails with an unsupported-version error when the replay's
// version is newer than this package's writer knows how to reproduce.
func Write(w io.Writer, game *Game, opts *WriteOpts) error {
	if opts == nil {
		opts = &WriteOpts{}
	}
	if game.Start.Version.unsupported() {
		return encodeErr("version %s exceeds the highest version this writer supports (%d.%d)",
			game.Start.Version, MaxSupportedMajor, MaxSupportedMinor)
	}

	var base io.Writer = w
	var hw *hashingWriter
	if opts.Hash {
		hw = newHashingWriter(w)
		base = hw
	}

	if _, err := base.Write(fileSignature[:]); err != nil {
		return encodeErr("writing file signature: %w", err)
	}

	table := buildPayloadSizeTable(game.Start.Version, game.GeckoCodes != nil)
	rawLen := computeRawLen(game, table)

	var rawLenBuf [4]byte
	binary.BigEndian.PutUint32(rawLenBuf[:], uint32(rawLen))
	if _, err := base.Write(rawLenBuf[:]); err != nil {
		return encodeErr("writing raw length: %w", err)
	}

	if err := writePayloadSizes(base, table); err != nil {
		return err
	}

	if err := writeEvent(base, evGameStart, game.Start.Raw); err != nil {
		return err
	}

	if game.GeckoCodes != nil {
		if err := writeGeckoCodes(base, game.GeckoCodes); err != nil {
			return err
		}
	}

	if game.Frames != nil {
		if err := writeFrames(base, game.Frames, game.Start.Version); err != nil {
			return err
		}
	}

	if game.End != nil {
		if err := writeEnd(base, game.End, game.Start.Version); err != nil {
			return err
		}
		if game.Quirks.DoubleGameEnd {
			if err := writeEnd(base, game.End, game.Start.Version); err != nil {
				return err
			}
		}
	}

	if game.Metadata != nil {
		if _, err := base.Write([]byte{'U', 8}); err != nil {
			return encodeErr("writing metadata key: %w", err)
		}
		if _, err := base.Write([]byte("metadata")); err != nil {
			return encodeErr("writing metadata key: %w", err)
		}
		if err := writeMapBody(base, game.Metadata); err != nil {
			return err
		}
	}

	if _, err := base.Write([]byte{'}'}); err != nil {
		return encodeErr("writing top-level close: %w", err)
	}
	return nil
}

// writeGeckoCodes re-chunks a gecko-code blob through the
// message-splitter framing (spec.md §4.6 step 5).
func writeGeckoCodes(w io.Writer, g *GeckoCodes) error {
	remaining := g.ActualSize
	for off := 0; off < len(g.Bytes); off += 512 {
		end := off + 512
		var chunk [512]byte
		if end > len(g.Bytes) {
			copy(chunk[:], g.Bytes[off:])
		} else {
			copy(chunk[:], g.Bytes[off:end])
		}
		declared := remaining
		if declared > 512 {
			declared = 512
		}
		remaining -= declared
		isFinal := end >= len(g.Bytes)

		payload := make([]byte, 516)
		copy(payload[:512], chunk[:])
		binary.BigEndian.PutUint16(payload[512:514], uint16(declared))
		payload[514] = evGeckoCodes
		if isFinal {
			payload[515] = 1
		}
		if err := writeEvent(w, evMessageSplitter, payload); err != nil {
			return err
		}
	}
	return nil
}

// writeFrames implements spec.md §4.5's `write(w, version)`: for each
// row, emit frame-start (if gated in), leader/follower pre, items (if
// gated in), leader/follower post, then frame-end (if gated in).
func writeFrames(w io.Writer, f *Frames, v Version) error {
	n := f.Len()
	for i := 0; i < n; i++ {
		id, _ := f.ID.At(i)

		if v.GTE(2, 2) {
			seed, _ := f.Start.RandomSeed.At(i)
			fs := FrameStart{RandomSeed: seed}
			if f.Start.SceneFrameCounter != nil {
				if c, ok := f.Start.SceneFrameCounter.At(i); ok {
					fs.SceneFrameCounter = &c
				}
			}
			body := make([]byte, 4+len(encodeFrameStart(fs, v)))
			putI32At(body, 0, id)
			copy(body[4:], encodeFrameStart(fs, v))
			if err := writeEvent(w, evFrameStart, body); err != nil {
				return err
			}
		}

		for _, pd := range f.Ports {
			if err := writePrePost(w, evFramePre, id, byte(pd.Port), false, pd.Leader.Pre.Values[i], v, encodePre); err != nil {
				return err
			}
			if pd.Follower != nil && pd.Follower.Pre.IsValid(i) {
				if err := writePrePost(w, evFramePre, id, byte(pd.Port), true, pd.Follower.Pre.Values[i], v, encodePre); err != nil {
					return err
				}
			}
		}

		if v.GTE(3, 0) && f.Items != nil {
			start, end := f.Items.Offsets.Range(i)
			for row := start; row < end; row++ {
				itemID, _ := f.Items.ID.At(int(row))
				itemType, _ := f.Items.Type.At(int(row))
				state, _ := f.Items.State.At(int(row))
				pos, _ := f.Items.Position.At(int(row))
				vel, _ := f.Items.Velocity.At(int(row))
				dmg, _ := f.Items.DamageTaken.At(int(row))
				timer, _ := f.Items.ExpirationTimer.At(int(row))
				it := Item{ID: itemID, Type: itemType, State: state, Position: pos, Velocity: vel, DamageTaken: dmg, ExpirationTimer: timer}
				if dir, ok := f.Items.FacingDirection.At(int(row)); ok {
					it.FacingDirection = &dir
				}
				if misc, ok := f.Items.Misc.At(int(row)); ok {
					it.Misc = &misc
				}
				if owner, ok := f.Items.Owner.At(int(row)); ok {
					p := owner
					op := &p
					it.Owner = &op
				}
				body := make([]byte, 4+len(encodeItem(it, v)))
				putI32At(body, 0, id)
				copy(body[4:], encodeItem(it, v))
				if err := writeEvent(w, evItem, body); err != nil {
					return err
				}
			}
		}

		for _, pd := range f.Ports {
			if err := writePrePost(w, evFramePost, id, byte(pd.Port), false, pd.Leader.Post.Values[i], v, encodePost); err != nil {
				return err
			}
			if pd.Follower != nil && pd.Follower.Post.IsValid(i) {
				if err := writePrePost(w, evFramePost, id, byte(pd.Port), true, pd.Follower.Post.Values[i], v, encodePost); err != nil {
					return err
				}
			}
		}

		if v.GTE(3, 0) {
			fe := FrameEnd{}
			if f.End.LatestFinalizedFrame != nil {
				if lf, ok := f.End.LatestFinalizedFrame.At(i); ok {
					fe.LatestFinalizedFrame = &lf
				}
			}
			body := make([]byte, 4+len(encodeFrameEnd(fe, v)))
			putI32At(body, 0, id)
			copy(body[4:], encodeFrameEnd(fe, v))
			if err := writeEvent(w, evFrameEnd, body); err != nil {
				return err
			}
		}
	}
	return nil
}

// writePrePost writes a per-port pre/post event: 4-byte index, port,
// follower flag, then the version-encoded body.
func writePrePost[T any](w io.Writer, code byte, id int32, port byte, isFollower bool, payload T, v Version, encode func(T, Version) []byte) error {
	body := encode(payload, v)
	out := make([]byte, 6+len(body))
	putI32At(out, 0, id)
	out[4] = port
	if isFollower {
		out[5] = 1
	}
	copy(out[6:], body)
	return writeEvent(w, code, out)
}

// writeEnd writes the game-end event: raw method/placement bytes are
// re-derived from the parsed End rather than replayed verbatim, since
// callers may have mutated End after decode.
func writeEnd(w io.Writer, e *End, v Version) error {
	size := int(gameEndPayloadSize(v))
	body := make([]byte, size)
	body[0] = byte(e.Method)
	off := 1
	if v.GTE(2, 0) && off < size {
		if e.LRASInitiator != nil {
			body[off] = byte(*e.LRASInitiator)
		} else {
			body[off] = 0xFF
		}
		off++
	}
	if v.GTE(3, 13) && off+4 <= size {
		placements := [4]int8{-1, -1, -1, -1}
		for _, pe := range e.Players {
			placements[int(pe.Port)] = int8(pe.Placement)
		}
		for i, p := range placements {
			body[off+i] = byte(p)
		}
	}
	return writeEvent(w, evGameEnd, body)
}
