package peppi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// This file is a from-scratch columnar page codec standing in for an
// Arrow IPC writer: nothing in the retrieval pack vendors an Arrow
// library (see DESIGN.md), so the frame store is instead serialized as
// a sequence of named, typed, optionally-nullable flat buffers,
// addressed by a dotted path the way original_source/src/arrow.rs's
// Buffer.name does ("ports.0.leader.pre"). Item fields get one buffer
// each; a port role's Pre and Post are each a single fieldBytes buffer
// holding one wire-encoded blob per row.
// The page's physical layout (fixed header, then a field index, then
// payload bytes) is grounded on the mebo blob format
// (other_examples/6377ade4_arloliu-mebo__section-doc.go.go): a 32-bit
// magic, a row/field count pair, then one variable-size index entry per
// field (u16 name length, name, type, nullable flag, u16 element width,
// u32 data length), then each field's validity bitmap (if nullable)
// followed by its raw data bytes.

var pageMagic = [4]byte{'P', 'P', 'F', 'B'}

// fieldType tags the physical element width/kind of one column.
type fieldType uint8

const (
	fieldBool fieldType = iota
	fieldI8
	fieldU8
	fieldI16
	fieldU16
	fieldI32
	fieldU32
	fieldF32
	// fieldBytes is a fixed-width opaque record column: used for Pre/Post,
	// which are stored as one encodePre/encodePost-width blob per row
	// rather than split into one primitive column per leaf field (see
	// DESIGN.md - this reuses the exact wire codec instead of duplicating
	// a per-field schema).
	fieldBytes
)

// pageField is one leaf column: a dotted name, its element type, an
// optional validity bitmap, and its packed data bytes (little-endian for
// primitive columns; fieldBytes Pre/Post blobs keep the big-endian wire
// encoding).
// ElemWidth is only meaningful for fieldBytes columns.
type pageField struct {
	Name      string
	Type      fieldType
	ElemWidth int
	Valid     *bitVector // nil if not nullable
	Data      []byte
}

// page is a full columnar section: all of one frame store's leaf
// columns at a shared row count, ready to write as one archive member.
type page struct {
	Rows   int
	Fields []pageField
}

func writePage(w io.Writer, p *page) error {
	if _, err := w.Write(pageMagic[:]); err != nil {
		return err
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(p.Rows))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(p.Fields)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, f := range p.Fields {
		if err := writePageFieldHeader(w, f); err != nil {
			return err
		}
	}
	for _, f := range p.Fields {
		if f.Valid != nil {
			if _, err := w.Write(bitVectorBytes(f.Valid, p.Rows)); err != nil {
				return err
			}
		}
		if _, err := w.Write(f.Data); err != nil {
			return err
		}
	}
	return nil
}

func writePageFieldHeader(w io.Writer, f pageField) error {
	nameBytes := []byte(f.Name)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(nameBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(nameBytes); err != nil {
		return err
	}
	nullable := byte(0)
	if f.Valid != nil {
		nullable = 1
	}
	if _, err := w.Write([]byte{byte(f.Type), nullable}); err != nil {
		return err
	}
	var widthBuf [2]byte
	binary.LittleEndian.PutUint16(widthBuf[:], uint16(f.ElemWidth))
	if _, err := w.Write(widthBuf[:]); err != nil {
		return err
	}
	var dataLenBuf [4]byte
	binary.LittleEndian.PutUint32(dataLenBuf[:], uint32(len(f.Data)))
	_, err := w.Write(dataLenBuf[:])
	return err
}

func readPage(r io.Reader) (*page, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, encodeErr("reading page magic: %w", err)
	}
	if magic != pageMagic {
		return nil, encodeErr("bad columnar page magic %x", magic)
	}
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, encodeErr("reading page header: %w", err)
	}
	rows := int(binary.LittleEndian.Uint32(hdr[0:4]))
	numFields := int(binary.LittleEndian.Uint32(hdr[4:8]))

	type fieldHeader struct {
		Name      string
		Type      fieldType
		Nullable  bool
		ElemWidth int
		DataLen   int
	}
	headers := make([]fieldHeader, numFields)
	for i := range headers {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, encodeErr("reading field name length: %w", err)
		}
		nameLen := binary.LittleEndian.Uint16(lenBuf[:])
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, encodeErr("reading field name: %w", err)
		}
		var typeNullable [2]byte
		if _, err := io.ReadFull(r, typeNullable[:]); err != nil {
			return nil, encodeErr("reading field type: %w", err)
		}
		var widthBuf [2]byte
		if _, err := io.ReadFull(r, widthBuf[:]); err != nil {
			return nil, encodeErr("reading field elem width: %w", err)
		}
		var dataLenBuf [4]byte
		if _, err := io.ReadFull(r, dataLenBuf[:]); err != nil {
			return nil, encodeErr("reading field data length: %w", err)
		}
		headers[i] = fieldHeader{
			Name:      string(name),
			Type:      fieldType(typeNullable[0]),
			Nullable:  typeNullable[1] != 0,
			ElemWidth: int(binary.LittleEndian.Uint16(widthBuf[:])),
			DataLen:   int(binary.LittleEndian.Uint32(dataLenBuf[:])),
		}
	}

	p := &page{Rows: rows, Fields: make([]pageField, numFields)}
	for i, h := range headers {
		f := pageField{Name: h.Name, Type: h.Type, ElemWidth: h.ElemWidth}
		if h.Nullable {
			bitmapBytes := (rows + 7) / 8
			raw := make([]byte, bitmapBytes)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, encodeErr("reading field validity bitmap: %w", err)
			}
			f.Valid = bitVectorFromBytes(raw, rows)
		}
		data := make([]byte, h.DataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, encodeErr("reading field data: %w", err)
		}
		f.Data = data
		p.Fields[i] = f
	}
	return p, nil
}

// bitVectorBytes packs the first n bits of v into little-endian bytes.
func bitVectorBytes(v *bitVector, n int) []byte {
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if v.Get(i) {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func bitVectorFromBytes(raw []byte, n int) *bitVector {
	v := newBitVectorTrue(0)
	for i := 0; i < n; i++ {
		bit := raw[i/8]&(1<<uint(i%8)) != 0
		v.Push(bit)
	}
	return v
}

func appendF32(data []byte, v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(data, b[:]...)
}

func appendU32(data []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(data, b[:]...)
}

func appendI32(data []byte, v int32) []byte {
	return appendU32(data, uint32(v))
}

func appendU16(data []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(data, b[:]...)
}

func appendU8(data []byte, v uint8) []byte {
	return append(data, v)
}

func appendPosition(data []byte, p Position) []byte {
	data = appendF32(data, p.X)
	return appendF32(data, p.Y)
}

func appendVelocity(data []byte, v Velocity) []byte {
	data = appendF32(data, v.X)
	return appendF32(data, v.Y)
}

func readPosition(b []byte, off int) Position {
	return Position{X: readF32(b, off), Y: readF32(b, off+4)}
}

func readVelocity(b []byte, off int) Velocity {
	return Velocity{X: readF32(b, off), Y: readF32(b, off+4)}
}

// The rest of this file maps Frames/MutableFrames onto the page format
// above: one "frame" page holding the id column, every port's leader/
// follower Pre/Post (as fieldBytes blobs, reusing encodePre/encodePost
// verbatim), the optional start/end columns and the items offsets, plus
// a second "items" page holding the flat item table, present only when
// the replay version carries one (spec.md §4.7's frames.arrow member).

func findField(p *page, name string) (*pageField, error) {
	for i := range p.Fields {
		if p.Fields[i].Name == name {
			return &p.Fields[i], nil
		}
	}
	return nil, encodeErr("columnar page missing field %q", name)
}

// encodeFramesArrow serializes f as this package's columnar page format:
// a leading hasItems flag byte, the frame page, and (if hasItems) the
// items page.
func encodeFramesArrow(f *Frames) ([]byte, error) {
	var buf []byte
	hasItems := f.Items != nil
	if hasItems {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	framePage := buildFramePage(f)
	var framePageBuf bytes.Buffer
	if err := writePage(&framePageBuf, framePage); err != nil {
		return nil, err
	}
	buf = append(buf, framePageBuf.Bytes()...)

	if hasItems {
		itemsPage := buildItemsPage(f.Items)
		var itemsPageBuf bytes.Buffer
		if err := writePage(&itemsPageBuf, itemsPage); err != nil {
			return nil, err
		}
		buf = append(buf, itemsPageBuf.Bytes()...)
	}
	return buf, nil
}

func buildFramePage(f *Frames) *page {
	rows := f.Len()
	v := f.version
	var fields []pageField

	fields = append(fields, pageField{Name: "id", Type: fieldI32, Data: i32sToBytes(f.ID.Values)})

	preWidth := int(framePrePayloadSize(v) - 6)
	postWidth := int(framePostPayloadSize(v) - 6)
	for _, pd := range f.Ports {
		fields = append(fields, buildDataFields(fmt32Prefix(pd.Port, "leader"), pd.Leader, v, preWidth, postWidth)...)
		if pd.Follower != nil {
			fields = append(fields, buildDataFields(fmt32Prefix(pd.Port, "follower"), pd.Follower, v, preWidth, postWidth)...)
		}
	}

	if f.Start != nil {
		fields = append(fields, pageField{
			Name: "start.random_seed", Type: fieldU32,
			Data: u32sToBytes(f.Start.RandomSeed.Values),
		})
		if f.Start.SceneFrameCounter != nil {
			fields = append(fields, pageField{
				Name: "start.scene_frame_counter", Type: fieldU32,
				Valid: f.Start.SceneFrameCounter.Valid,
				Data:  u32sToBytes(f.Start.SceneFrameCounter.Values),
			})
		}
	}
	if f.End != nil && f.End.LatestFinalizedFrame != nil {
		fields = append(fields, pageField{
			Name: "end.latest_finalized_frame", Type: fieldI32,
			Valid: f.End.LatestFinalizedFrame.Valid,
			Data:  i32sToBytes(f.End.LatestFinalizedFrame.Values),
		})
	}
	if f.Items != nil {
		offData := i32sToBytes(f.Items.Offsets.Values[1:])
		fields = append(fields, pageField{Name: "items.offsets", Type: fieldI32, Data: offData})
	}

	return &page{Rows: rows, Fields: fields}
}

func fmt32Prefix(port Port, role string) string {
	return fmt.Sprintf("ports.%d.%s", port, role)
}

func buildDataFields(prefix string, d *Data, v Version, preWidth, postWidth int) []pageField {
	preData := make([]byte, 0, len(d.Pre.Values)*preWidth)
	for _, p := range d.Pre.Values {
		preData = append(preData, encodePre(p, v)...)
	}
	postData := make([]byte, 0, len(d.Post.Values)*postWidth)
	for _, p := range d.Post.Values {
		postData = append(postData, encodePost(p, v)...)
	}
	return []pageField{
		{Name: prefix + ".pre", Type: fieldBytes, ElemWidth: preWidth, Valid: d.Pre.Valid, Data: preData},
		{Name: prefix + ".post", Type: fieldBytes, ElemWidth: postWidth, Valid: d.Post.Valid, Data: postData},
	}
}

func buildItemsPage(it *items) *page {
	rows := it.ID.Len()
	fields := []pageField{
		{Name: "id", Type: fieldU32, Data: u32sToBytes(it.ID.Values)},
		{Name: "type", Type: fieldU16, Data: itemTypesToBytes(it.Type.Values)},
		{Name: "state", Type: fieldU8, Data: append([]byte(nil), it.State.Values...)},
		{Name: "facing_direction", Type: fieldF32, Valid: it.FacingDirection.Valid, Data: directionsToBytes(it.FacingDirection.Values)},
		{Name: "position", Type: fieldBytes, ElemWidth: 8, Data: positionsToBytes(it.Position.Values)},
		{Name: "velocity", Type: fieldBytes, ElemWidth: 8, Data: velocitiesToBytes(it.Velocity.Values)},
		{Name: "damage_taken", Type: fieldU16, Data: u16sToBytes(it.DamageTaken.Values)},
		{Name: "expiration_timer", Type: fieldF32, Data: f32sToBytes(it.ExpirationTimer.Values)},
		{Name: "misc", Type: fieldBytes, ElemWidth: 4, Valid: it.Misc.Valid, Data: miscsToBytes(it.Misc.Values)},
		{Name: "owner", Type: fieldU8, Valid: it.Owner.Valid, Data: portsToBytes(it.Owner.Values)},
	}
	return &page{Rows: rows, Fields: fields}
}

func i32sToBytes(vs []int32) []byte {
	b := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		b = appendI32(b, v)
	}
	return b
}

func u32sToBytes(vs []uint32) []byte {
	b := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		b = appendU32(b, v)
	}
	return b
}

func u16sToBytes(vs []uint16) []byte {
	b := make([]byte, 0, len(vs)*2)
	for _, v := range vs {
		b = appendU16(b, v)
	}
	return b
}

func f32sToBytes(vs []float32) []byte {
	b := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		b = appendF32(b, v)
	}
	return b
}

func directionsToBytes(vs []Direction) []byte {
	b := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		b = appendF32(b, float32(v))
	}
	return b
}

func itemTypesToBytes(vs []ItemType) []byte {
	b := make([]byte, 0, len(vs)*2)
	for _, v := range vs {
		b = appendU16(b, uint16(v))
	}
	return b
}

func positionsToBytes(vs []Position) []byte {
	b := make([]byte, 0, len(vs)*8)
	for _, v := range vs {
		b = appendPosition(b, v)
	}
	return b
}

func velocitiesToBytes(vs []Velocity) []byte {
	b := make([]byte, 0, len(vs)*8)
	for _, v := range vs {
		b = appendVelocity(b, v)
	}
	return b
}

func miscsToBytes(vs [][4]byte) []byte {
	b := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		b = append(b, v[:]...)
	}
	return b
}

func portsToBytes(vs []Port) []byte {
	b := make([]byte, 0, len(vs))
	for _, v := range vs {
		b = appendU8(b, uint8(v))
	}
	return b
}

// decodeFramesArrow is the inverse of encodeFramesArrow: it reconstructs
// a Frames from its columnar page encoding, given the replay version and
// port occupancy that shaped it (both recovered from the archive's
// start.raw member, since the page itself carries no schema beyond
// field names).
func decodeFramesArrow(data []byte, v Version, occ []PortOccupancy) (*Frames, error) {
	r := bytes.NewReader(data)
	hasItemsByte, err := r.ReadByte()
	if err != nil {
		return nil, encodeErr("reading frames.arrow header: %w", err)
	}
	framePage, err := readPage(r)
	if err != nil {
		return nil, err
	}
	var itemsPage *page
	if hasItemsByte != 0 {
		itemsPage, err = readPage(r)
		if err != nil {
			return nil, err
		}
	}

	mf := newMutableFrames(v, occ)
	rows := framePage.Rows

	idField, err := findField(framePage, "id")
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		mf.ID.Push(readI32(idField.Data, i*4))
	}

	preWidth := int(framePrePayloadSize(v) - 6)
	postWidth := int(framePostPayloadSize(v) - 6)
	for _, pd := range mf.Ports {
		if err := fillDataFromPage(pd.Leader, framePage, fmt32Prefix(pd.Port, "leader"), v, preWidth, postWidth, rows); err != nil {
			return nil, err
		}
		if pd.Follower != nil {
			if err := fillDataFromPage(pd.Follower, framePage, fmt32Prefix(pd.Port, "follower"), v, preWidth, postWidth, rows); err != nil {
				return nil, err
			}
		}
	}

	if mf.Start != nil {
		rsField, err := findField(framePage, "start.random_seed")
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows; i++ {
			mf.Start.RandomSeed.Push(readU32(rsField.Data, i*4))
		}
		if mf.Start.SceneFrameCounter != nil {
			sfField, err := findField(framePage, "start.scene_frame_counter")
			if err != nil {
				return nil, err
			}
			for i := 0; i < rows; i++ {
				if sfField.Valid != nil && !sfField.Valid.Get(i) {
					mf.Start.SceneFrameCounter.PushNull()
				} else {
					mf.Start.SceneFrameCounter.Push(readU32(sfField.Data, i*4))
				}
			}
		}
	}
	if mf.End != nil && mf.End.LatestFinalizedFrame != nil {
		efField, err := findField(framePage, "end.latest_finalized_frame")
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows; i++ {
			if efField.Valid != nil && !efField.Valid.Get(i) {
				mf.End.LatestFinalizedFrame.PushNull()
			} else {
				mf.End.LatestFinalizedFrame.Push(readI32(efField.Data, i*4))
			}
		}
	}
	if mf.Items != nil {
		offField, err := findField(framePage, "items.offsets")
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows; i++ {
			mf.Items.Offsets.push(readI32(offField.Data, i*4))
		}
		if itemsPage != nil {
			if err := fillItemsFromPage(mf.Items, itemsPage); err != nil {
				return nil, err
			}
		}
	}

	return mf.finish(), nil
}

func fillDataFromPage(d *Data, p *page, prefix string, v Version, preWidth, postWidth, rows int) error {
	preField, err := findField(p, prefix+".pre")
	if err != nil {
		return err
	}
	postField, err := findField(p, prefix+".post")
	if err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		if preField.Valid != nil && !preField.Valid.Get(i) {
			d.Pre.PushNull()
		} else {
			pre, err := decodePre(preField.Data[i*preWidth:(i+1)*preWidth], v)
			if err != nil {
				return err
			}
			d.Pre.Push(pre)
		}
		if postField.Valid != nil && !postField.Valid.Get(i) {
			d.Post.PushNull()
		} else {
			post, err := decodePost(postField.Data[i*postWidth:(i+1)*postWidth], v)
			if err != nil {
				return err
			}
			d.Post.Push(post)
		}
	}
	return nil
}

func fillItemsFromPage(it *items, p *page) error {
	rows := p.Rows
	idF, err := findField(p, "id")
	if err != nil {
		return err
	}
	typeF, err := findField(p, "type")
	if err != nil {
		return err
	}
	stateF, err := findField(p, "state")
	if err != nil {
		return err
	}
	facingF, err := findField(p, "facing_direction")
	if err != nil {
		return err
	}
	posF, err := findField(p, "position")
	if err != nil {
		return err
	}
	velF, err := findField(p, "velocity")
	if err != nil {
		return err
	}
	dmgF, err := findField(p, "damage_taken")
	if err != nil {
		return err
	}
	expF, err := findField(p, "expiration_timer")
	if err != nil {
		return err
	}
	miscF, err := findField(p, "misc")
	if err != nil {
		return err
	}
	ownerF, err := findField(p, "owner")
	if err != nil {
		return err
	}

	for i := 0; i < rows; i++ {
		it.ID.Push(readU32(idF.Data, i*4))
		it.Type.Push(ItemType(readU16(typeF.Data, i*2)))
		it.State.Push(stateF.Data[i])
		if facingF.Valid != nil && !facingF.Valid.Get(i) {
			it.FacingDirection.PushNull()
		} else {
			it.FacingDirection.Push(Direction(readF32(facingF.Data, i*4)))
		}
		it.Position.Push(readPosition(posF.Data, i*8))
		it.Velocity.Push(readVelocity(velF.Data, i*8))
		it.DamageTaken.Push(readU16(dmgF.Data, i*2))
		it.ExpirationTimer.Push(readF32(expF.Data, i*4))
		if miscF.Valid != nil && !miscF.Valid.Get(i) {
			it.Misc.PushNull()
		} else {
			var arr [4]byte
			copy(arr[:], miscF.Data[i*4:i*4+4])
			it.Misc.Push(arr)
		}
		if ownerF.Valid != nil && !ownerF.Valid.Get(i) {
			it.Owner.PushNull()
		} else {
			it.Owner.Push(Port(ownerF.Data[i]))
		}
	}
	return nil
}
