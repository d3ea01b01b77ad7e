package peppi

import (
	"encoding/binary"
	"math"
)

// Position is an (x, y) pair, used for character and item position,
// joystick and C-stick coordinates.
type Position struct {
	X, Y float32
}

// Velocity is an (x, y) velocity pair, used for item velocity.
type Velocity struct {
	X, Y float32
}

// Buttons is the controller button state captured on a pre-frame event:
// the logical (engine) bitfield and the physical (console) bitfield.
type Buttons struct {
	Logical  uint32
	Physical uint16
}

// Triggers is the analog trigger state: the logical value the engine
// used, and the two physical trigger readings.
type Triggers struct {
	Logical      float32
	PhysicalL    float32
	PhysicalR    float32
}

func readF32(b []byte, off int) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4]))
}

func readU32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

func readI32(b []byte, off int) int32 {
	return int32(binary.BigEndian.Uint32(b[off : off+4]))
}

func readU16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off : off+2])
}

func readI16(b []byte, off int) int16 {
	return int16(binary.BigEndian.Uint16(b[off : off+2]))
}

// Pre is one port's pre-frame state: everything the engine had
// available before processing inputs for the frame, grounded on
// original_source/peppi/src/model/frame.rs's Pre struct. Required since
// the first recorded version.
type Pre struct {
	Position        Position
	FacingDirection Direction
	Joystick        Position
	Cstick          Position
	Triggers        Triggers
	RandomSeed      uint32
	Buttons         Buttons
	State           uint16

	// RawAnalogX is non-nil since v1.2.
	RawAnalogX *int8
	// Percent is non-nil since v1.4.
	Percent *float32
}

// framePrePayloadSize returns the pre-frame-update payload size in bytes for
// version v, including the leading 4-byte index, 1-byte port, and
// 1-byte follower flag.
func framePrePayloadSize(v Version) uint16 {
	// header (index+port+follower) 6, then position 8, facing direction 4,
	// joystick 8, cstick 8, triggers.logical 4, random seed 4,
	// buttons.logical 4, buttons.physical 2, action state 2,
	// triggers.physicalL 4, triggers.physicalR 4.
	size := uint16(4 + 1 + 1 + 8 + 4 + 8 + 8 + 4 + 4 + 4 + 2 + 2 + 4 + 4)
	if v.GTE(1, 2) {
		size++
	}
	if v.GTE(1, 4) {
		size += 4
	}
	return size
}

// decodePre parses a pre-frame event body (after index/port/follower have
// already been consumed by the caller) into a Pre.
func decodePre(b []byte, v Version) (Pre, error) {
	if len(b) < 52 {
		return Pre{}, decodeErr(-1, "pre-frame payload too short: %d bytes", len(b))
	}
	p := Pre{
		Position:        Position{X: readF32(b, 0), Y: readF32(b, 4)},
		FacingDirection: Direction(readF32(b, 8)),
		Joystick:        Position{X: readF32(b, 12), Y: readF32(b, 16)},
		Cstick:          Position{X: readF32(b, 20), Y: readF32(b, 24)},
		Triggers: Triggers{
			Logical: readF32(b, 28),
		},
		RandomSeed: readU32(b, 32),
		Buttons: Buttons{
			Logical:  readU32(b, 36),
			Physical: readU16(b, 40),
		},
		State: readU16(b, 42),
	}
	off := 44
	p.Triggers.PhysicalL = readF32(b, off)
	off += 4
	p.Triggers.PhysicalR = readF32(b, off)
	off += 4
	if v.GTE(1, 2) && off < len(b) {
		x := int8(b[off])
		p.RawAnalogX = &x
		off++
	}
	if v.GTE(1, 4) && off+4 <= len(b) {
		pc := readF32(b, off)
		p.Percent = &pc
	}
	return p, nil
}

// Post is one port's post-frame state, captured after collision
// resolution. Required since the first recorded version; the rest of
// the fields are version-gated per spec.md §3.
type Post struct {
	Character         uint8
	State             uint16
	Position          Position
	FacingDirection   Direction
	Percent           float32
	ShieldHealth      float32
	LastAttackLanded  uint8
	ComboCount        uint8
	LastHitBy         uint8
	StocksRemaining   uint8

	// Since v0.2.
	StateAge *float32
	// Since v2.0.
	Flags         *StateFlags
	MiscAS        *float32
	IsAirborne    *bool
	LastGroundID  *uint16
	JumpsRemaining *uint8
	LCancel       *LCancel
	// Since v2.1.
	HurtboxState *HurtboxState
	// Since v3.5.
	SelfInducedAirX  *float32
	SelfInducedY     *float32
	KnockbackX       *float32
	KnockbackY       *float32
	SelfInducedGroundX *float32
	// Since v3.8.
	HitlagRemaining *float32
	// Since v3.11.
	AnimationIndex *uint32
}

func framePostPayloadSize(v Version) uint16 {
	// header 6, then character 1, state 2, position.x 4, position.y 4,
	// facing direction 4, percent 4, shield health 4, last-attack/combo/
	// last-hit/stocks 1 each.
	size := uint16(4 + 1 + 1 + 1 + 2 + 4 + 4 + 4 + 4 + 4 + 1 + 1 + 1 + 1)
	if v.GTE(0, 2) {
		size += 4
	}
	if v.GTE(2, 0) {
		size += 5 + 4 + 2 + 1 + 1 + 1
	}
	if v.GTE(2, 1) {
		size++
	}
	if v.GTE(3, 5) {
		size += 4 * 5
	}
	if v.GTE(3, 8) {
		size += 4
	}
	if v.GTE(3, 11) {
		size += 4
	}
	return size
}

func decodePost(b []byte, v Version) (Post, error) {
	if len(b) < 27 {
		return Post{}, decodeErr(-1, "post-frame payload too short: %d bytes", len(b))
	}
	p := Post{
		Character:       b[0],
		State:           readU16(b, 1),
		Position:        Position{X: readF32(b, 3), Y: readF32(b, 7)},
		FacingDirection: Direction(readF32(b, 11)),
		Percent:         readF32(b, 15),
		ShieldHealth:    readF32(b, 19),
		LastAttackLanded: b[23],
		ComboCount:       b[24],
		LastHitBy:        b[25],
		StocksRemaining:  b[26],
	}
	off := 27
	if v.GTE(0, 2) && off+4 <= len(b) {
		age := readF32(b, off)
		p.StateAge = &age
		off += 4
	}
	if v.GTE(2, 0) && off+5+4+2+1+1+1 <= len(b) {
		flags := StateFlags(uint64(b[off]) | uint64(b[off+1])<<8 | uint64(b[off+2])<<16 | uint64(b[off+3])<<24 | uint64(b[off+4])<<32)
		p.Flags = &flags
		off += 5
		misc := readF32(b, off)
		p.MiscAS = &misc
		off += 4
		air := b[off] != 0
		p.IsAirborne = &air
		off++
		ground := readU16(b, off)
		p.LastGroundID = &ground
		off += 2
		jumps := b[off]
		p.JumpsRemaining = &jumps
		off++
		lc := LCancel(b[off])
		p.LCancel = &lc
		off++
	}
	if v.GTE(2, 1) && off < len(b) {
		hb := HurtboxState(b[off])
		p.HurtboxState = &hb
		off++
	}
	if v.GTE(3, 5) && off+20 <= len(b) {
		airX := readF32(b, off)
		p.SelfInducedAirX = &airX
		off += 4
		y := readF32(b, off)
		p.SelfInducedY = &y
		off += 4
		kx := readF32(b, off)
		p.KnockbackX = &kx
		off += 4
		ky := readF32(b, off)
		p.KnockbackY = &ky
		off += 4
		groundX := readF32(b, off)
		p.SelfInducedGroundX = &groundX
		off += 4
	}
	if v.GTE(3, 8) && off+4 <= len(b) {
		hl := readF32(b, off)
		p.HitlagRemaining = &hl
		off += 4
	}
	if v.GTE(3, 11) && off+4 <= len(b) {
		anim := readU32(b, off)
		p.AnimationIndex = &anim
	}
	return p, nil
}

// FrameStart is start-of-frame data, present only since v2.2.
type FrameStart struct {
	RandomSeed uint32
	// SceneFrameCounter is non-nil since v3.10.
	SceneFrameCounter *uint32
}

func frameStartPayloadSize(v Version) uint16 {
	size := uint16(4 + 4)
	if v.GTE(3, 10) {
		size += 4
	}
	return size
}

func decodeFrameStart(b []byte, v Version) (FrameStart, error) {
	if len(b) < 4 {
		return FrameStart{}, decodeErr(-1, "frame-start payload too short: %d bytes", len(b))
	}
	fs := FrameStart{RandomSeed: readU32(b, 0)}
	if v.GTE(3, 10) && len(b) >= 8 {
		c := readU32(b, 4)
		fs.SceneFrameCounter = &c
	}
	return fs, nil
}

// FrameEnd is end-of-frame data, present only since v3.0.
type FrameEnd struct {
	// LatestFinalizedFrame is non-nil since v3.7.
	LatestFinalizedFrame *int32
}

func frameEndPayloadSize(v Version) uint16 {
	size := uint16(4)
	if v.GTE(3, 7) {
		size += 4
	}
	return size
}

func decodeFrameEnd(b []byte, v Version) (FrameEnd, error) {
	var fe FrameEnd
	if v.GTE(3, 7) && len(b) >= 4 {
		lf := readI32(b, 0)
		fe.LatestFinalizedFrame = &lf
	}
	return fe, nil
}

// Item is one entry in the per-frame items table (spec.md §3 "Item
// column"), grounded on original_source/peppi/src/model/item.rs.
type Item struct {
	ID                 uint32
	Type               ItemType
	State              uint8
	FacingDirection    *Direction
	Position           Position
	Velocity           Velocity
	DamageTaken        uint16
	ExpirationTimer    float32
	// Misc is non-nil since v3.2.
	Misc *[4]byte
	// Owner is non-nil since v3.6; a nil *Port inside means "no owner"
	// (sentinel 0xFF on the wire).
	Owner **Port
}

func itemPayloadSize(v Version) uint16 {
	// header (frame index) 4, then type 2, state 1, facing direction 4,
	// position.x 4, position.y 4, id 4, velocity.x 4, velocity.y 4,
	// damage taken 2, expiration timer 4.
	size := uint16(4 + 2 + 1 + 4 + 4 + 4 + 4 + 4 + 4 + 2 + 4)
	if v.GTE(3, 2) {
		size += 4
	}
	if v.GTE(3, 6) {
		size++
	}
	return size
}

func decodeItem(b []byte, v Version) (Item, error) {
	if len(b) < 27 {
		return Item{}, decodeErr(-1, "item payload too short: %d bytes", len(b))
	}
	it := Item{
		ID:    readU32(b, 15),
		Type:  ItemType(readU16(b, 0)),
		State: b[2],
	}
	dir := Direction(readF32(b, 3))
	it.FacingDirection = &dir
	it.Position = Position{X: readF32(b, 7), Y: readF32(b, 11)}
	// Note: velocity/damage/timer fields share the same prefix as the
	// original layout; the offsets here match encodeItem's.
	it.Velocity = Velocity{X: readF32(b, 19), Y: readF32(b, 23)}
	off := 27
	if off+2 <= len(b) {
		it.DamageTaken = readU16(b, off)
		off += 2
	}
	if off+4 <= len(b) {
		it.ExpirationTimer = readF32(b, off)
		off += 4
	}
	if v.GTE(3, 2) && off+4 <= len(b) {
		var misc [4]byte
		copy(misc[:], b[off:off+4])
		it.Misc = &misc
		off += 4
	}
	if v.GTE(3, 6) && off < len(b) {
		raw := b[off]
		owner := new(*Port)
		if raw != 0xFF {
			port := Port(raw)
			*owner = &port
		}
		it.Owner = owner
	}
	return it, nil
}

// Data is one port's leader or follower frame pair.
type Data struct {
	Pre  *column[Pre]
	Post *column[Post]
}

func newData(n int) *Data {
	return &Data{
		Pre:  newColumn[Pre](true),
		Post: newColumn[Post](true),
	}
}

// PortData holds a port's leader character and, for Ice Climbers, its
// follower's parallel columns. The Pre/Post columns' validity bitmaps
// record which frame rows this port actually produced events for
// (spec.md §3 "Per-port frame data").
type PortData struct {
	Port     Port
	Leader   *Data
	Follower *Data // nil unless this port's character has a follower
}

// items is the struct-of-arrays backing for the items list column:
// a flat table of item fields plus the offsets buffer addressing it
// per frame (spec.md §4.5 "list-of-struct column").
type items struct {
	ID              *column[uint32]
	Type            *column[ItemType]
	State           *column[uint8]
	FacingDirection *column[Direction]
	Position        *column[Position]
	Velocity        *column[Velocity]
	DamageTaken     *column[uint16]
	ExpirationTimer *column[float32]
	Misc            *column[[4]byte]
	Owner           *column[Port]

	Offsets *offsets
}

func newItems() *items {
	return &items{
		ID:              newColumn[uint32](false),
		Type:            newColumn[ItemType](false),
		State:           newColumn[uint8](false),
		FacingDirection: newColumn[Direction](true),
		Position:        newColumn[Position](false),
		Velocity:        newColumn[Velocity](false),
		DamageTaken:     newColumn[uint16](false),
		ExpirationTimer: newColumn[float32](false),
		Misc:            newColumn[[4]byte](true),
		Owner:           newColumn[Port](true),
		Offsets:         newOffsets(),
	}
}

func (it *items) push(i Item) {
	it.ID.Push(i.ID)
	it.Type.Push(i.Type)
	it.State.Push(i.State)
	if i.FacingDirection != nil {
		it.FacingDirection.Push(*i.FacingDirection)
	} else {
		it.FacingDirection.PushNull()
	}
	it.Position.Push(i.Position)
	it.Velocity.Push(i.Velocity)
	it.DamageTaken.Push(i.DamageTaken)
	it.ExpirationTimer.Push(i.ExpirationTimer)
	if i.Misc != nil {
		it.Misc.Push(*i.Misc)
	} else {
		it.Misc.PushNull()
	}
	if i.Owner != nil && *i.Owner != nil {
		it.Owner.Push(**i.Owner)
	} else {
		it.Owner.PushNull()
	}
}

// Start is version-gated start-of-frame columnar data (present since
// v2.2), and End is version-gated end-of-frame data (present since
// v3.0); both are optional columns at the MutableFrames level, per
// spec.md §3 "Start/end frame columns".
type frameStartColumn struct {
	RandomSeed        *column[uint32]
	SceneFrameCounter *column[uint32]
}

type frameEndColumn struct {
	LatestFinalizedFrame *column[int32]
}

// MutableFrames is the frame-by-frame builder: the struct-of-arrays
// growing column store described in spec.md §4.5. It is created once
// per decode with the version and port occupancy fixed, and frozen into
// an immutable Frames by finish().
type MutableFrames struct {
	version  Version
	occupied []PortOccupancy

	ID    *column[int32]
	Ports []*PortData

	Start *frameStartColumn // nil if version < 2.2
	End   *frameEndColumn   // nil if version < 3.0
	Items *items            // nil if version < 3.0
}

// PortOccupancy records which port holds which character and whether it
// has a follower (only Ice Climbers does), derived from the start
// record (spec.md §3 "Port occupancy").
type PortOccupancy struct {
	Port        Port
	HasFollower bool
}

// newMutableFrames implements `with_capacity` from spec.md §4.5: it
// allocates exactly the columns the version enables.
func newMutableFrames(v Version, occupied []PortOccupancy) *MutableFrames {
	f := &MutableFrames{
		version:  v,
		occupied: occupied,
		ID:       newColumn[int32](false),
	}
	for _, occ := range occupied {
		pd := &PortData{Port: occ.Port, Leader: newData(0)}
		if occ.HasFollower {
			pd.Follower = newData(0)
		}
		f.Ports = append(f.Ports, pd)
	}
	if v.GTE(2, 2) {
		f.Start = &frameStartColumn{
			RandomSeed: newColumn[uint32](false),
		}
		if v.GTE(3, 10) {
			f.Start.SceneFrameCounter = newColumn[uint32](true)
		}
	}
	if v.GTE(3, 0) {
		f.End = &frameEndColumn{}
		if v.GTE(3, 7) {
			f.End.LatestFinalizedFrame = newColumn[int32](true)
		}
		f.Items = newItems()
	}
	return f
}

// portByCode maps a wire port byte to its column-store slot, mirroring
// original_source's `state.port_indexes` lookup table.
func (f *MutableFrames) portByCode(code byte) (*PortData, error) {
	for _, pd := range f.Ports {
		if byte(pd.Port) == code {
			return pd, nil
		}
	}
	return nil, decodeErr(-1, "frame event references unoccupied port %d", code)
}

// pushID implements `push_id(i)`: before appending the new frame index,
// it pads every port's leader and follower columns to the current frame
// count with null rows, so a frame that was never explicitly closed
// (replays without frame-end events) leaves all columns the same length.
func (f *MutableFrames) pushID(id int32) {
	n := f.ID.Len()
	for _, pd := range f.Ports {
		padData(pd.Leader, n)
		if pd.Follower != nil {
			padData(pd.Follower, n)
		}
	}
	f.ID.Push(id)
}

// closeFrame implements `close_frame()`: pads every port's leader and
// follower columns to the current frame length with null rows, and
// appends one item-offset entry.
func (f *MutableFrames) closeFrame() {
	n := f.ID.Len()
	for _, pd := range f.Ports {
		padData(pd.Leader, n)
		if pd.Follower != nil {
			padData(pd.Follower, n)
		}
	}
	if f.Items != nil {
		f.Items.Offsets.push(int32(f.Items.ID.Len()))
	}
}

func padData(d *Data, n int) {
	for d.Pre.Len() < n {
		d.Pre.PushNull()
	}
	for d.Post.Len() < n {
		d.Post.PushNull()
	}
}

// Frames is the immutable, frozen view of a MutableFrames (spec.md
// §4.5 "immutable frame store").
type Frames struct {
	version Version
	MutableFrames
}

// finish implements `finish()`: freezes every column's validity bitmap,
// dropping any that turned out to be all-true.
func (f *MutableFrames) finish() *Frames {
	f.ID.freeze()
	for _, pd := range f.Ports {
		pd.Leader.Pre.freeze()
		pd.Leader.Post.freeze()
		if pd.Follower != nil {
			pd.Follower.Pre.freeze()
			pd.Follower.Post.freeze()
		}
	}
	if f.Start != nil {
		f.Start.RandomSeed.freeze()
		if f.Start.SceneFrameCounter != nil {
			f.Start.SceneFrameCounter.freeze()
		}
	}
	if f.End != nil && f.End.LatestFinalizedFrame != nil {
		f.End.LatestFinalizedFrame.freeze()
	}
	if f.Items != nil {
		f.Items.ID.freeze()
		f.Items.Type.freeze()
		f.Items.State.freeze()
		f.Items.FacingDirection.freeze()
		f.Items.Position.freeze()
		f.Items.Velocity.freeze()
		f.Items.DamageTaken.freeze()
		f.Items.ExpirationTimer.freeze()
		f.Items.Misc.freeze()
		f.Items.Owner.freeze()
	}
	return &Frames{version: f.version, MutableFrames: *f}
}

// Len returns the number of frame rows.
func (f *Frames) Len() int {
	return f.ID.Len()
}

// TransposedFrame is the slow, convenience single-row view produced by
// TransposeOne (spec.md §4.5: "explicitly marked as a slow, convenience
// operation; callers processing many frames should read columns
// directly").
type TransposedFrame struct {
	Index int32
	Ports map[Port]TransposedPortData
	Start *FrameStart
	End   *FrameEnd
	Items []Item
}

// TransposedPortData is one port's leader/optional-follower pre/post
// pair for a single transposed frame row.
type TransposedPortData struct {
	LeaderPre    Pre
	LeaderPost   Post
	FollowerPre  *Pre
	FollowerPost *Post
}

// TransposeOne materializes row i as a struct view.
func (f *Frames) TransposeOne(i int) TransposedFrame {
	id, _ := f.ID.At(i)
	tf := TransposedFrame{Index: id, Ports: make(map[Port]TransposedPortData, len(f.Ports))}
	for _, pd := range f.Ports {
		lpre, _ := pd.Leader.Pre.At(i)
		lpost, _ := pd.Leader.Post.At(i)
		tpd := TransposedPortData{LeaderPre: lpre, LeaderPost: lpost}
		if pd.Follower != nil && pd.Follower.Pre.IsValid(i) {
			fpre, _ := pd.Follower.Pre.At(i)
			fpost, _ := pd.Follower.Post.At(i)
			tpd.FollowerPre = &fpre
			tpd.FollowerPost = &fpost
		}
		tf.Ports[pd.Port] = tpd
	}
	if f.Start != nil {
		seed, _ := f.Start.RandomSeed.At(i)
		fs := &FrameStart{RandomSeed: seed}
		if f.Start.SceneFrameCounter != nil {
			c, ok := f.Start.SceneFrameCounter.At(i)
			if ok {
				fs.SceneFrameCounter = &c
			}
		}
		tf.Start = fs
	}
	if f.End != nil {
		fe := &FrameEnd{}
		if f.End.LatestFinalizedFrame != nil {
			lf, ok := f.End.LatestFinalizedFrame.At(i)
			if ok {
				fe.LatestFinalizedFrame = &lf
			}
		}
		tf.End = fe
	}
	if f.Items != nil {
		start, end := f.Items.Offsets.Range(i)
		for row := start; row < end; row++ {
			id, _ := f.Items.ID.At(int(row))
			typ, _ := f.Items.Type.At(int(row))
			state, _ := f.Items.State.At(int(row))
			pos, _ := f.Items.Position.At(int(row))
			vel, _ := f.Items.Velocity.At(int(row))
			dmg, _ := f.Items.DamageTaken.At(int(row))
			timer, _ := f.Items.ExpirationTimer.At(int(row))
			item := Item{ID: id, Type: typ, State: state, Position: pos, Velocity: vel, DamageTaken: dmg, ExpirationTimer: timer}
			if dir, ok := f.Items.FacingDirection.At(int(row)); ok {
				item.FacingDirection = &dir
			}
			if misc, ok := f.Items.Misc.At(int(row)); ok {
				item.Misc = &misc
			}
			if owner, ok := f.Items.Owner.At(int(row)); ok {
				p := owner
				op := &p
				item.Owner = &op
			} else if f.version.GTE(3, 6) {
				nilp := new(*Port)
				item.Owner = nilp
			}
			tf.Items = append(tf.Items, item)
		}
	}
	return tf
}
