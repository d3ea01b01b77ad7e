package peppi

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"strconv"
)

// A Map is an ordered UBJSON object: insertion order is preserved and
// observable (spec.md §4.3) but not semantically significant to this
// package. Values are one of string, int32, or *Map.
type Map struct {
	Keys   []string
	Values []interface{}
}

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return &Map{}
}

// Set appends or replaces a key in insertion order.
func (m *Map) Set(key string, value interface{}) {
	for i, k := range m.Keys {
		if k == key {
			m.Values[i] = value
			return
		}
	}
	m.Keys = append(m.Keys, key)
	m.Values = append(m.Values, value)
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (interface{}, bool) {
	for i, k := range m.Keys {
		if k == key {
			return m.Values[i], true
		}
	}
	return nil, false
}

// ubjsonReader implements the restricted read side of spec.md §4.3: only
// the S (string), l (int32), and {...} (nested map) tags are understood.
// Unknown tags are a format error - this is not a general UBJSON decoder.
type ubjsonReader struct {
	r      io.Reader
	offset int64
}

func newUBJSONReader(r io.Reader) *ubjsonReader {
	return &ubjsonReader{r: r}
}

func (u *ubjsonReader) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(u.r, b[:]); err != nil {
		return 0, decodeErr(u.offset, "ubjson: %w", err)
	}
	u.offset++
	return b[0], nil
}

func (u *ubjsonReader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(u.r, buf); err != nil {
		return nil, decodeErr(u.offset, "ubjson: %w", err)
	}
	u.offset += int64(n)
	return buf, nil
}

// readUString reads a 'U'-tagged length byte followed by that many
// bytes, used for string value contents (object keys are read inline by
// readMapBody).
func (u *ubjsonReader) readUString() (string, error) {
	tag, err := u.readByte()
	if err != nil {
		return "", err
	}
	if tag != 'U' {
		return "", decodeErr(u.offset, "ubjson: expected 'U' length prefix, got %#x", tag)
	}
	length, err := u.readByte()
	if err != nil {
		return "", err
	}
	raw, err := u.readN(int(length))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// readValue reads one tagged value: a string ('S'), a 32-bit signed
// integer ('l'), or a nested object ('{' ... '}').
func (u *ubjsonReader) readValue() (interface{}, error) {
	tag, err := u.readByte()
	if err != nil {
		return nil, err
	}
	return u.readValueTagged(tag)
}

func (u *ubjsonReader) readValueTagged(tag byte) (interface{}, error) {
	switch tag {
	case 'S':
		return u.readUString()
	case 'l':
		raw, err := u.readN(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(raw)), nil
	case '{':
		return u.readMapBody()
	default:
		return nil, decodeErr(u.offset, "ubjson: unknown tag %#x", tag)
	}
}

// readMapBody reads key/value pairs until the closing '}', which it
// consumes. Keys are always 'U'-prefixed length-prefixed strings.
func (u *ubjsonReader) readMapBody() (*Map, error) {
	m := NewMap()
	for {
		tag, err := u.readByte()
		if err != nil {
			return nil, err
		}
		if tag == '}' {
			return m, nil
		}
		if tag != 'U' {
			return nil, decodeErr(u.offset, "ubjson: expected key or '}', got %#x", tag)
		}
		length, err := u.readByte()
		if err != nil {
			return nil, err
		}
		rawKey, err := u.readN(int(length))
		if err != nil {
			return nil, err
		}
		value, err := u.readValue()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, string(rawKey))
		m.Values = append(m.Values, value)
	}
}

// readMap reads a full top-level map, assuming the caller has already
// consumed the opening '{'.
func readMap(r io.Reader) (*Map, error) {
	u := newUBJSONReader(r)
	return u.readMapBody()
}

// ubjsonWriter implements the write side of the same restricted subset.
type ubjsonWriter struct {
	w io.Writer
}

func newUBJSONWriter(w io.Writer) *ubjsonWriter {
	return &ubjsonWriter{w: w}
}

func (u *ubjsonWriter) writeBytes(b []byte) error {
	_, err := u.w.Write(b)
	if err != nil {
		return encodeErr("ubjson: %w", err)
	}
	return nil
}

func (u *ubjsonWriter) writeUString(s string) error {
	if err := u.writeBytes([]byte{'U', byte(len(s))}); err != nil {
		return err
	}
	return u.writeBytes([]byte(s))
}

func (u *ubjsonWriter) writeValue(v interface{}) error {
	switch x := v.(type) {
	case string:
		if err := u.writeBytes([]byte{'S'}); err != nil {
			return err
		}
		return u.writeUString(x)
	case int32:
		buf := make([]byte, 5)
		buf[0] = 'l'
		binary.BigEndian.PutUint32(buf[1:], uint32(x))
		return u.writeBytes(buf)
	case *Map:
		return u.writeMap(x)
	default:
		return encodeErr("ubjson: unsupported value type %T", v)
	}
}

// writeMap writes m's opening '{', its key/value pairs in m's iteration
// (insertion) order, and its closing '}'.
func (u *ubjsonWriter) writeMap(m *Map) error {
	if err := u.writeBytes([]byte{'{'}); err != nil {
		return err
	}
	for i, key := range m.Keys {
		if err := u.writeUString(key); err != nil {
			return err
		}
		if err := u.writeValue(m.Values[i]); err != nil {
			return err
		}
	}
	return u.writeBytes([]byte{'}'})
}

// writeMapBody writes m as a complete '{'...'}' object, used by the
// metadata writer which spells out "U\x08metadata" itself before the
// object.
func writeMapBody(w io.Writer, m *Map) error {
	u := newUBJSONWriter(w)
	if err := u.writeBytes([]byte{'{'}); err != nil {
		return err
	}
	for i, key := range m.Keys {
		if err := u.writeUString(key); err != nil {
			return err
		}
		if err := u.writeValue(m.Values[i]); err != nil {
			return err
		}
	}
	return u.writeBytes([]byte{'}'})
}

// metadataToJSON renders m as JSON for archive.go's metadata.json
// member, in m's own key order. encoding/json's Marshal can't be handed
// the Map directly - it would flatten through map[string]interface{}
// and lose both the int32/string distinction and the ordering spec.md
// §4.3 says is observable - so this walks the Map by hand instead,
// letting json.Marshal handle only leaf string escaping.
func metadataToJSON(m *Map) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONMap(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSONMap(buf *bytes.Buffer, m *Map) error {
	buf.WriteByte('{')
	for i, key := range m.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(key)
		if err != nil {
			return encodeErr("marshaling metadata key %q: %w", key, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := writeJSONValue(buf, m.Values[i]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONValue(buf *bytes.Buffer, v interface{}) error {
	switch x := v.(type) {
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return encodeErr("marshaling metadata string: %w", err)
		}
		buf.Write(b)
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case *Map:
		return writeJSONMap(buf, x)
	default:
		return encodeErr("metadata: unsupported value type %T", v)
	}
}

// metadataFromJSON is the inverse of metadataToJSON: a token-by-token
// walk (rather than Unmarshal into map[string]interface{}) so the
// result preserves both key order and the int32-vs-string distinction
// that a generic JSON number (float64) would otherwise erase.
func metadataFromJSON(data []byte) (*Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, decodeErr(-1, "parsing metadata.json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, decodeErr(-1, "metadata.json: expected top-level object")
	}
	return decodeJSONMapBody(dec)
}

func decodeJSONMapBody(dec *json.Decoder) (*Map, error) {
	m := NewMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, decodeErr(-1, "parsing metadata.json key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, decodeErr(-1, "metadata.json: expected string key")
		}
		value, err := decodeJSONValue(dec)
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, value)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, decodeErr(-1, "parsing metadata.json: %w", err)
	}
	return m, nil
}

func decodeJSONValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, decodeErr(-1, "parsing metadata.json value: %w", err)
	}
	switch v := tok.(type) {
	case string:
		return v, nil
	case float64:
		return int32(v), nil
	case json.Delim:
		if v == '{' {
			return decodeJSONMapBody(dec)
		}
		return nil, decodeErr(-1, "metadata.json: unsupported value")
	default:
		return nil, decodeErr(-1, "metadata.json: unsupported value type %T", tok)
	}
}
