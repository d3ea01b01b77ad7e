package peppi

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
)

// archiveFormatVersion is this package's archive descriptor version,
// distinct from the replay's own Slippi version (spec.md §4.7).
const archiveFormatVersion = "1.0.0"

// minArchiveMajor is the oldest archive major version this reader
// understands; older archives fail with a compatibility error rather
// than being misread.
const minArchiveMajor = 1

// ArchiveOpts configures ReadArchive/WriteArchive.
type ArchiveOpts struct {
	// SlpHash, if set, is recorded verbatim in WriteArchive's
	// peppi.json descriptor instead of one computed from game.Hash.
	SlpHash string
	// VerifyHash makes ReadArchive re-encode the decoded game and
	// compare its hash against the descriptor's slp_hash, failing if
	// they differ (spec.md §4.7's round-trip property).
	VerifyHash bool
}

type archiveQuirksJSON struct {
	DoubleGameEnd bool `json:"double_game_end,omitempty"`
}

type archiveDescriptor struct {
	Version string             `json:"version"`
	SlpHash string             `json:"slp_hash,omitempty"`
	Quirks  *archiveQuirksJSON `json:"quirks,omitempty"`
}

// WriteArchive serializes game as a TAR archive (spec.md §4.7): a
// peppi.json descriptor first, then start.raw, optional end.raw,
// optional metadata.json, optional gecko_codes.raw, and frames.arrow
// (this package's columnar page format - see arrowlite.go).
func WriteArchive(w io.Writer, game *Game, opts *ArchiveOpts) error {
	if opts == nil {
		opts = &ArchiveOpts{}
	}
	tw := tar.NewWriter(w)

	desc := archiveDescriptor{Version: archiveFormatVersion}
	if opts.SlpHash != "" {
		desc.SlpHash = opts.SlpHash
	} else if game.Hash != "" {
		desc.SlpHash = game.Hash
	}
	if game.Quirks.DoubleGameEnd {
		desc.Quirks = &archiveQuirksJSON{DoubleGameEnd: true}
	}
	descBytes, err := json.Marshal(desc)
	if err != nil {
		return encodeErr("marshaling peppi.json: %w", err)
	}
	if err := writeTarMember(tw, "peppi.json", descBytes); err != nil {
		return err
	}

	if err := writeTarMember(tw, "start.raw", game.Start.Raw); err != nil {
		return err
	}
	if game.End != nil {
		if err := writeTarMember(tw, "end.raw", game.End.Raw); err != nil {
			return err
		}
	}
	if game.Metadata != nil {
		metaJSON, err := metadataToJSON(game.Metadata)
		if err != nil {
			return err
		}
		if err := writeTarMember(tw, "metadata.json", metaJSON); err != nil {
			return err
		}
	}
	if game.GeckoCodes != nil {
		var geckoBuf []byte
		geckoBuf = appendU32(geckoBuf, game.GeckoCodes.ActualSize)
		geckoBuf = append(geckoBuf, game.GeckoCodes.Bytes...)
		if err := writeTarMember(tw, "gecko_codes.raw", geckoBuf); err != nil {
			return err
		}
	}

	if game.Frames != nil {
		framesBuf, err := encodeFramesArrow(game.Frames)
		if err != nil {
			return err
		}
		if err := writeTarMember(tw, "frames.arrow", framesBuf); err != nil {
			return err
		}
	}

	return tw.Close()
}

func writeTarMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return encodeErr("writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return encodeErr("writing tar member %s: %w", name, err)
	}
	return nil
}

// ReadArchive reads a TAR archive produced by WriteArchive, returning
// the reconstructed game and the descriptor's recorded slp_hash (empty
// if none was recorded) - matching spec.md §6.3's
// `read_archive(reader, opts) -> (ImmutableGame, archive_hash)`.
func ReadArchive(r io.Reader, opts *ArchiveOpts) (*Game, string, error) {
	if opts == nil {
		opts = &ArchiveOpts{}
	}
	tr := tar.NewReader(r)

	var desc *archiveDescriptor
	var startRaw, endRaw, geckoRaw, framesRaw []byte
	var metaRaw []byte

	first := true
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", decodeErr(-1, "reading tar header: %w", err)
		}
		if first {
			if hdr.Name != "peppi.json" {
				return nil, "", decodeErr(-1, "archive's first member must be peppi.json, got %q", hdr.Name)
			}
			first = false
		}
		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(tr, body); err != nil {
			return nil, "", decodeErr(-1, "reading tar member %s: %w", hdr.Name, err)
		}
		switch hdr.Name {
		case "peppi.json":
			var d archiveDescriptor
			if err := json.Unmarshal(body, &d); err != nil {
				return nil, "", decodeErr(-1, "parsing peppi.json: %w", err)
			}
			desc = &d
		case "start.raw":
			startRaw = body
		case "end.raw":
			endRaw = body
		case "metadata.json":
			metaRaw = body
		case "gecko_codes.raw":
			geckoRaw = body
		case "frames.arrow":
			framesRaw = body
		}
	}

	if desc == nil {
		return nil, "", decodeErr(-1, "archive missing peppi.json descriptor")
	}
	var major int
	fmt.Sscanf(desc.Version, "%d.", &major)
	if major < minArchiveMajor {
		return nil, "", decodeErr(-1, "archive format version %s is older than the minimum supported (%d.x)", desc.Version, minArchiveMajor)
	}
	if startRaw == nil {
		return nil, "", decodeErr(-1, "archive missing start.raw")
	}

	start, err := decodeStart(startRaw)
	if err != nil {
		return nil, "", err
	}

	var end *End
	if endRaw != nil {
		end, err = decodeEnd(endRaw)
		if err != nil {
			return nil, "", err
		}
	}

	var metadata *Map
	if metaRaw != nil {
		metadata, err = metadataFromJSON(metaRaw)
		if err != nil {
			return nil, "", err
		}
	}

	var gecko *GeckoCodes
	if geckoRaw != nil {
		if len(geckoRaw) < 4 {
			return nil, "", decodeErr(-1, "gecko_codes.raw too short")
		}
		gecko = &GeckoCodes{ActualSize: readU32(geckoRaw, 0), Bytes: geckoRaw[4:]}
	}

	var frames *Frames
	if framesRaw != nil {
		frames, err = decodeFramesArrow(framesRaw, start.Version, portOccupancy(start.Players))
		if err != nil {
			return nil, "", err
		}
	}

	quirks := Quirks{}
	if desc.Quirks != nil {
		quirks.DoubleGameEnd = desc.Quirks.DoubleGameEnd
	}

	game := &Game{
		Start:      start,
		End:        end,
		Frames:     frames,
		Metadata:   metadata,
		GeckoCodes: gecko,
		Quirks:     quirks,
	}

	if opts.VerifyHash && desc.SlpHash != "" {
		hw := newHashingWriter(io.Discard)
		if err := Write(hw, game, &WriteOpts{}); err != nil {
			return nil, "", encodeErr("re-encoding for hash verification: %w", err)
		}
		if hw.Sum() != desc.SlpHash {
			return nil, "", decodeErr(-1, "archive hash mismatch: descriptor says %s, re-encode produced %s", desc.SlpHash, hw.Sum())
		}
	}

	return game, desc.SlpHash, nil
}
