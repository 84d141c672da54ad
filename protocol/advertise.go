// Package protocol implements ProtocolEngine: capability
// advertisement, upload-pack v2 (ls-refs, fetch), and receive-pack v0/v1.
package protocol

import (
	"fmt"
	"io"

	"gitserve/gitobj"
	"gitserve/pktline"
)

// Agent is advertised as the server identity in both the v2 and v0/v1
// capability lines.
const Agent = "gitserve/1.0"

// AdvertiseUploadPackV2 writes the protocol v2 capability list for
// `GET info/refs?service=git-upload-pack`.
func AdvertiseUploadPackV2(w io.Writer) error {
	lines := []string{
		"version 2\n",
		fmt.Sprintf("agent=%s\n", Agent),
		"ls-refs\n",
		"fetch\n",
		"side-band-64k\n",
		"object-format=sha1\n",
	}
	for _, l := range lines {
		if err := writePkt(w, l); err != nil {
			return err
		}
	}
	return writeFlush(w)
}

// AdvertiseReceivePackV0 writes the v0/v1 service header + ref list for
// `GET info/refs?service=git-receive-pack`.
func AdvertiseReceivePackV0(w io.Writer, refs gitobj.RefList) error {
	if err := writePkt(w, "# service=git-receive-pack\n"); err != nil {
		return err
	}
	if err := writeFlush(w); err != nil {
		return err
	}
	return writeRefAdvertisement(w, refs)
}

func writeRefAdvertisement(w io.Writer, refs gitobj.RefList) error {
	caps := receivePackCapabilities(refs)
	if len(refs.Refs) == 0 {
		line := fmt.Sprintf("%s capabilities^{}\x00%s\n", gitobj.ZeroOID.String(), caps)
		if err := writePkt(w, line); err != nil {
			return err
		}
		return writeFlush(w)
	}
	for i, ref := range refs.Refs {
		var line string
		if i == 0 {
			line = fmt.Sprintf("%s %s\x00%s\n", ref.OID.String(), ref.Name, caps)
		} else {
			line = fmt.Sprintf("%s %s\n", ref.OID.String(), ref.Name)
		}
		if err := writePkt(w, line); err != nil {
			return err
		}
	}
	return writeFlush(w)
}

func receivePackCapabilities(refs gitobj.RefList) string {
	caps := fmt.Sprintf("report-status delete-refs atomic no-thin agent=%s", Agent)
	if refs.SymbolicHead != "" {
		caps += " symref=HEAD:" + refs.SymbolicHead
	}
	return caps
}

func writePkt(w io.Writer, s string) error {
	b, err := pktline.Encode([]byte(s))
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func writeFlush(w io.Writer) error {
	_, err := w.Write(pktline.EncodeFlush())
	return err
}
