package peppi

import (
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// hashingReader wraps an io.Reader and feeds every byte it returns
// through an xxhash digest, so a decode can be verified later against
// an archive's recorded slp_hash (spec.md §4.7 "Round-trip"). Grounded
// on the teacher's reader.go SlpSource wrapper style; xxhash itself is
// adopted from darshanime-pebble's go.mod, where it backs block
// checksums in a storage engine - see SPEC_FULL.md's DOMAIN STACK.
type hashingReader struct {
	r io.Reader
	h *xxhash.Digest
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: xxhash.New()}
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the running digest formatted as peppi.json's slp_hash
// field expects: "xxh3:<hex>". The digest itself is XXH64
// (github.com/cespare/xxhash/v2 is the only xxhash implementation in
// the retrieval pack; see SPEC_FULL.md's DOMAIN STACK for why the wire
// prefix still reads "xxh3").
func (h *hashingReader) Sum() string {
	return fmt.Sprintf("xxh3:%016x", h.h.Sum64())
}

// hashingWriter is the write-side counterpart, used when re-serializing
// an archive to verify it reproduces the original stream's hash.
type hashingWriter struct {
	w io.Writer
	h *xxhash.Digest
}

func newHashingWriter(w io.Writer) *hashingWriter {
	return &hashingWriter{w: w, h: xxhash.New()}
}

func (h *hashingWriter) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

func (h *hashingWriter) Sum() string {
	return fmt.Sprintf("xxh3:%016x", h.h.Sum64())
}
