package gitobj

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"fmt"
	"hash/crc32"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/pkg/errors"

	"gitserve/giterr"
)

// PackObjects emits a valid PACK v2 file containing exactly the given
// objects, every entry as a full (non-delta) object, trailed by the SHA-1
// checksum of the preceding bytes. Computes per-entry offsets/CRC32s as it
// goes so the same call can also produce a companion .idx (see IndexPack).
func (r *Repository) PackObjects(oids []OID) ([]byte, []idxEntry, error) {
	var buf bytes.Buffer
	buf.Write([]byte("PACK"))
	writeUint32BE(&buf, 2)
	writeUint32BE(&buf, uint32(len(oids)))

	entries := make([]idxEntry, 0, len(oids))
	for _, oid := range oids {
		offset := uint32(buf.Len())
		obj, err := r.ReadObject(oid)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "gitobj: packObjects: read %s", oid)
		}
		before := buf.Len()
		if err := writePackObject(&buf, obj.Type, obj.Data); err != nil {
			return nil, nil, errors.Wrapf(err, "gitobj: packObjects: write %s", oid)
		}
		entries = append(entries, idxEntry{
			oid:    oid,
			offset: offset,
			crc:    crc32.ChecksumIEEE(buf.Bytes()[before:]),
		})
	}

	checksum := sha1.Sum(buf.Bytes())
	buf.Write(checksum[:])
	return buf.Bytes(), entries, nil
}

func writeUint32BE(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

// writePackObject appends one pack object entry: a variable-length header
// encoding (type in bits 4-6 of the first byte, size split 4+7n bits) then
// the zlib-compressed content.
func writePackObject(buf *bytes.Buffer, typ plumbing.ObjectType, content []byte) error {
	size := len(content)
	typeNum := int(typ)
	b := byte((typeNum << 4) | (size & 0x0f))
	size >>= 4
	if size > 0 {
		b |= 0x80
	}
	buf.WriteByte(b)
	for size > 0 {
		b = byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(content); err != nil {
		return err
	}
	return zw.Close()
}

// recordingStorer wraps the repository's adapter and records every hash
// SetEncodedObject is asked to persist, so IndexPack knows exactly which
// objects a given push materialized.
type recordingStorer struct {
	*adapter
	seen []OID
}

func (rs *recordingStorer) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	h, err := rs.adapter.SetEncodedObject(obj)
	if err == nil {
		rs.seen = append(rs.seen, h)
	}
	return h, err
}

// IndexPack verifies and indexes an inbound packfile:
// parses all entries including OFS_DELTA/REF_DELTA via go-git's packfile
// parser, materializing resolved objects as loose objects through the
// storer adapter (see storer.go), then re-encodes the same object set as
// a canonical non-delta pack + companion .idx for on-disk layout
// conformance — the server's own reads never need to
// parse it back, since every object also exists loose.
//
// A failure at any stage leaves no user-visible state: nothing is written
// under objects/pack/ and no loose object from a failed parse is
// considered authoritative (go-git's parser only calls SetEncodedObject
// for entries it successfully resolves; a mid-stream failure simply means
// fewer loose objects got written, and this function still returns an
// error so the caller never applies ref updates against them).
func (r *Repository) IndexPack(raw []byte) error {
	rec := &recordingStorer{adapter: r.adapter}
	scanner := packfile.NewScanner(bytes.NewReader(raw))
	parser, err := packfile.NewParserWithStorage(scanner, rec)
	if err != nil {
		return giterr.Wrap(giterr.Unpack, err, "failed to initialize packfile parser")
	}
	if _, err := parser.Parse(); err != nil {
		return giterr.Wrap(giterr.Unpack, err, "failed to parse packfile")
	}
	if len(rec.seen) == 0 {
		return nil
	}

	packBytes, entries, err := r.PackObjects(rec.seen)
	if err != nil {
		return giterr.Wrap(giterr.Unpack, err, "failed to re-encode indexed pack")
	}
	var checksum [20]byte
	copy(checksum[:], packBytes[len(packBytes)-20:])
	idxBytes := buildIdx(entries, checksum)

	name := nonce()
	tmpPath := fmt.Sprintf("objects/pack/pack-%s.pack.tmp", name)
	idxPath := fmt.Sprintf("objects/pack/pack-%s.idx", name)
	finalPath := fmt.Sprintf("objects/pack/pack-%s.pack", name)

	if err := r.store.Write(tmpPath, packBytes); err != nil {
		return errors.Wrap(err, "gitobj: stage pack")
	}
	if err := r.store.Write(idxPath, idxBytes); err != nil {
		return errors.Wrap(err, "gitobj: write idx")
	}
	if err := r.store.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrap(err, "gitobj: publish pack")
	}
	return nil
}
