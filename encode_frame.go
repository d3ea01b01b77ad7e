package peppi

import (
	"encoding/binary"
	"math"
)

// This file is the write-side mirror of frame.go's decode* functions:
// one encode* function per frame event body, each producing exactly
// the bytes its decode counterpart consumes (spec.md §4.6 "inverse of
// the decoder").

func putF32(b []byte, off int, v float32) {
	binary.BigEndian.PutUint32(b[off:off+4], math.Float32bits(v))
}

func putU32At(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

func putI32At(b []byte, off int, v int32) {
	binary.BigEndian.PutUint32(b[off:off+4], uint32(v))
}

func putU16At(b []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(b[off:off+2], v)
}

// encodePre is the inverse of decodePre.
func encodePre(p Pre, v Version) []byte {
	b := make([]byte, framePrePayloadSize(v)-6)
	putF32(b, 0, p.Position.X)
	putF32(b, 4, p.Position.Y)
	putF32(b, 8, float32(p.FacingDirection))
	putF32(b, 12, p.Joystick.X)
	putF32(b, 16, p.Joystick.Y)
	putF32(b, 20, p.Cstick.X)
	putF32(b, 24, p.Cstick.Y)
	putF32(b, 28, p.Triggers.Logical)
	putU32At(b, 32, p.RandomSeed)
	putU32At(b, 36, p.Buttons.Logical)
	putU16At(b, 40, p.Buttons.Physical)
	putU16At(b, 42, p.State)
	off := 44
	putF32(b, off, p.Triggers.PhysicalL)
	off += 4
	putF32(b, off, p.Triggers.PhysicalR)
	off += 4
	if v.GTE(1, 2) && off < len(b) {
		if p.RawAnalogX != nil {
			b[off] = byte(*p.RawAnalogX)
		}
		off++
	}
	if v.GTE(1, 4) && off+4 <= len(b) {
		if p.Percent != nil {
			putF32(b, off, *p.Percent)
		}
	}
	return b
}

// encodePost is the inverse of decodePost.
func encodePost(p Post, v Version) []byte {
	b := make([]byte, framePostPayloadSize(v)-6)
	b[0] = p.Character
	putU16At(b, 1, p.State)
	putF32(b, 3, p.Position.X)
	putF32(b, 7, p.Position.Y)
	putF32(b, 11, float32(p.FacingDirection))
	putF32(b, 15, p.Percent)
	putF32(b, 19, p.ShieldHealth)
	b[23] = p.LastAttackLanded
	b[24] = p.ComboCount
	b[25] = p.LastHitBy
	b[26] = p.StocksRemaining
	off := 27
	if v.GTE(0, 2) && off+4 <= len(b) {
		if p.StateAge != nil {
			putF32(b, off, *p.StateAge)
		}
		off += 4
	}
	if v.GTE(2, 0) && off+5+4+2+1+1+1 <= len(b) {
		if p.Flags != nil {
			flags := uint64(*p.Flags)
			b[off] = byte(flags)
			b[off+1] = byte(flags >> 8)
			b[off+2] = byte(flags >> 16)
			b[off+3] = byte(flags >> 24)
			b[off+4] = byte(flags >> 32)
		}
		off += 5
		if p.MiscAS != nil {
			putF32(b, off, *p.MiscAS)
		}
		off += 4
		if p.IsAirborne != nil && *p.IsAirborne {
			b[off] = 1
		}
		off++
		if p.LastGroundID != nil {
			putU16At(b, off, *p.LastGroundID)
		}
		off += 2
		if p.JumpsRemaining != nil {
			b[off] = *p.JumpsRemaining
		}
		off++
		if p.LCancel != nil {
			b[off] = byte(*p.LCancel)
		}
		off++
	}
	if v.GTE(2, 1) && off < len(b) {
		if p.HurtboxState != nil {
			b[off] = byte(*p.HurtboxState)
		}
		off++
	}
	if v.GTE(3, 5) && off+20 <= len(b) {
		if p.SelfInducedAirX != nil {
			putF32(b, off, *p.SelfInducedAirX)
		}
		off += 4
		if p.SelfInducedY != nil {
			putF32(b, off, *p.SelfInducedY)
		}
		off += 4
		if p.KnockbackX != nil {
			putF32(b, off, *p.KnockbackX)
		}
		off += 4
		if p.KnockbackY != nil {
			putF32(b, off, *p.KnockbackY)
		}
		off += 4
		if p.SelfInducedGroundX != nil {
			putF32(b, off, *p.SelfInducedGroundX)
		}
		off += 4
	}
	if v.GTE(3, 8) && off+4 <= len(b) {
		if p.HitlagRemaining != nil {
			putF32(b, off, *p.HitlagRemaining)
		}
		off += 4
	}
	if v.GTE(3, 11) && off+4 <= len(b) {
		if p.AnimationIndex != nil {
			putU32At(b, off, *p.AnimationIndex)
		}
	}
	return b
}

// encodeFrameStart is the inverse of decodeFrameStart.
func encodeFrameStart(fs FrameStart, v Version) []byte {
	b := make([]byte, frameStartPayloadSize(v)-4)
	putU32At(b, 0, fs.RandomSeed)
	if v.GTE(3, 10) && len(b) >= 8 && fs.SceneFrameCounter != nil {
		putU32At(b, 4, *fs.SceneFrameCounter)
	}
	return b
}

// encodeFrameEnd is the inverse of decodeFrameEnd.
func encodeFrameEnd(fe FrameEnd, v Version) []byte {
	b := make([]byte, frameEndPayloadSize(v)-4)
	if v.GTE(3, 7) && len(b) >= 4 && fe.LatestFinalizedFrame != nil {
		putI32At(b, 0, *fe.LatestFinalizedFrame)
	}
	return b
}

// encodeItem is the inverse of decodeItem.
func encodeItem(it Item, v Version) []byte {
	b := make([]byte, itemPayloadSize(v)-4)
	putU16At(b, 0, uint16(it.Type))
	b[2] = it.State
	if it.FacingDirection != nil {
		putF32(b, 3, float32(*it.FacingDirection))
	}
	putF32(b, 7, it.Position.X)
	putF32(b, 11, it.Position.Y)
	putU32At(b, 15, it.ID)
	putF32(b, 19, it.Velocity.X)
	putF32(b, 23, it.Velocity.Y)
	off := 27
	if off+2 <= len(b) {
		putU16At(b, off, it.DamageTaken)
		off += 2
	}
	if off+4 <= len(b) {
		putF32(b, off, it.ExpirationTimer)
		off += 4
	}
	if v.GTE(3, 2) && off+4 <= len(b) {
		if it.Misc != nil {
			copy(b[off:off+4], it.Misc[:])
		}
		off += 4
	}
	if v.GTE(3, 6) && off < len(b) {
		if it.Owner != nil && *it.Owner != nil {
			b[off] = byte(**it.Owner)
		} else {
			b[off] = 0xFF
		}
	}
	return b
}
