package gitobj

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"sort"
)

// idxEntry is one object's position within a pack, as recorded while
// PackObjects writes it.
type idxEntry struct {
	oid    OID
	offset uint32
	crc    uint32
}

// buildIdx writes a standard version-2 .idx file (fanout table + sorted
// object names + CRC32s + offsets + trailer), matching the on-disk layout
// git itself produces. Grounded on the fanout-table format
// referenced in the pack's own omegaup-githttp packfile.go
// (indexFileMagic/packFileVersion constants) — computed directly here in
// pure Go rather than through a library, since the format is a small,
// fully-specified binary layout with no third-party writer in the example
// pack that targets go-git v5's object model (noted in DESIGN.md).
func buildIdx(entries []idxEntry, packChecksum [20]byte) []byte {
	sorted := make([]idxEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].oid[:], sorted[j].oid[:]) < 0
	})

	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0x74, 0x4f, 0x63}) // magic
	binary.Write(&buf, binary.BigEndian, uint32(2))

	var fanout [256]uint32
	for _, e := range sorted {
		fanout[e.oid[0]]++
	}
	var cum uint32
	for i := 0; i < 256; i++ {
		cum += fanout[i]
		fanout[i] = cum
	}
	for _, v := range fanout {
		binary.Write(&buf, binary.BigEndian, v)
	}
	for _, e := range sorted {
		buf.Write(e.oid[:])
	}
	for _, e := range sorted {
		binary.Write(&buf, binary.BigEndian, e.crc)
	}
	for _, e := range sorted {
		binary.Write(&buf, binary.BigEndian, e.offset)
	}
	buf.Write(packChecksum[:])

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes()
}
