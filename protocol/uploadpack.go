package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"gitserve/gitobj"
	"gitserve/pktline"
)

// UploadPackRequest is one parsed upload-pack v2 POST body.
type UploadPackRequest struct {
	Command string
	Args    []string
}

// ParseUploadPackRequest reads the `command=<name>` header line, the
// capability lines up to the delim, and the argument lines that follow the
// delim, up to the terminating flush. The delim separates capabilities from
// arguments (both command=ls-refs and command=fetch bodies use this shape);
// it is a section break, not an end-of-request marker.
func ParseUploadPackRequest(r io.Reader) (UploadPackRequest, error) {
	var req UploadPackRequest
	pr := pktline.NewReader(r)

	pkt, err := pr.Next()
	if err != nil {
		return req, errors.Wrap(err, "protocol: read command line")
	}
	if pkt.Kind != pktline.KindData {
		return req, errors.New("protocol: expected command line")
	}
	line := strings.TrimSuffix(string(pkt.Payload), "\n")
	cmd, ok := strings.CutPrefix(line, "command=")
	if !ok {
		return req, errors.Errorf("protocol: malformed command line %q", line)
	}
	req.Command = cmd

	for {
		pkt, err := pr.Next()
		if err != nil {
			return req, errors.Wrap(err, "protocol: read args")
		}
		switch pkt.Kind {
		case pktline.KindFlush:
			return req, nil
		case pktline.KindDelim:
			continue
		case pktline.KindData:
			req.Args = append(req.Args, strings.TrimSuffix(string(pkt.Payload), "\n"))
		}
	}
}

// LsRefsArgs is the parsed argument set for the `ls-refs` command.
type LsRefsArgs struct {
	Peel       bool
	Symrefs    bool
	RefPrefixes []string
}

func ParseLsRefsArgs(args []string) LsRefsArgs {
	var out LsRefsArgs
	for _, a := range args {
		switch {
		case a == "peel":
			out.Peel = true
		case a == "symrefs":
			out.Symrefs = true
		case strings.HasPrefix(a, "ref-prefix "):
			out.RefPrefixes = append(out.RefPrefixes, strings.TrimPrefix(a, "ref-prefix "))
		}
	}
	return out
}

// LsRefs writes the `ls-refs` response: one line per
// matching ref, optionally followed by a peeled-tag line, then flush.
func LsRefs(w io.Writer, refs gitobj.RefList, repo *gitobj.Repository, args LsRefsArgs) error {
	for _, ref := range refs.Refs {
		// HEAD is exempt from ref-prefix filtering: none of refs/heads/… or
		// refs/tags/… prefixes can ever match it, but callers that ask for
		// symrefs still expect it to lead the output (spec §8 scenario 6).
		if ref.Name != "HEAD" && len(args.RefPrefixes) > 0 && !hasAnyPrefix(ref.Name, args.RefPrefixes) {
			continue
		}
		line := fmt.Sprintf("%s %s", ref.OID.String(), ref.Name)
		if args.Symrefs && ref.Name == "HEAD" && refs.SymbolicHead != "" {
			line += " symref-target:" + refs.SymbolicHead
		}
		if err := writePkt(w, line+"\n"); err != nil {
			return err
		}
		if args.Peel {
			if tag, err := repo.TagObject(ref.OID); err == nil {
				if err := writePkt(w, fmt.Sprintf("%s %s^{}\n", tag.Target.String(), ref.Name)); err != nil {
					return err
				}
			}
		}
	}
	return writeFlush(w)
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// FetchArgs is the parsed argument set for the `fetch` command.
type FetchArgs struct {
	Wants       []gitobj.OID
	Haves       []gitobj.OID
	Done        bool
	NoProgress  bool
	IncludeTag  bool
	SidebandAll bool
}

// ParseFetchArgs parses want/have/done and the capability args fetch
// supports; shallow/deepen/filter args are accepted syntactically and
// otherwise ignored.
func ParseFetchArgs(args []string) FetchArgs {
	var out FetchArgs
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "want "):
			out.Wants = append(out.Wants, gitobj.ParseOID(strings.TrimPrefix(a, "want ")))
		case strings.HasPrefix(a, "have "):
			out.Haves = append(out.Haves, gitobj.ParseOID(strings.TrimPrefix(a, "have ")))
		case a == "done":
			out.Done = true
		case a == "no-progress":
			out.NoProgress = true
		case a == "include-tag":
			out.IncludeTag = true
		case a == "sideband-all":
			out.SidebandAll = true
		}
	}
	return out
}

// Fetch implements the `fetch` response shape: a
// negotiation round if done was not sent, otherwise the packfile section.
func Fetch(w io.Writer, repo *gitobj.Repository, args FetchArgs) error {
	common := repo.FindCommonCommits(args.Haves)

	if !args.Done {
		if err := writePkt(w, "acknowledgments\n"); err != nil {
			return err
		}
		if len(common) == 0 {
			if err := writePkt(w, "NAK\n"); err != nil {
				return err
			}
		} else {
			for _, oid := range common {
				if err := writePkt(w, fmt.Sprintf("ACK %s\n", oid.String())); err != nil {
					return err
				}
			}
		}
		if err := writePkt(w, "ready\n"); err != nil {
			return err
		}
		_, err := w.Write(pktline.EncodeDelim())
		return err
	}

	if len(args.Wants) == 0 {
		_, err := w.Write(pktline.EncodeFlush())
		return err
	}

	if err := writePkt(w, "packfile\n"); err != nil {
		return err
	}

	// A want itself must be readable: collectObjectsForPack silently skips
	// unreadable objects reached incidentally during the walk (spec §9), but
	// a missing want is the client asking for something the server can never
	// produce and must be surfaced, not silently dropped from the pack.
	for _, want := range args.Wants {
		if _, err := repo.ReadObject(want); err != nil {
			msg := fmt.Sprintf("upload-pack: want %s not found\n", want.String())
			if werr := writeSideBand(w, pktline.SideBandError, []byte(msg)); werr != nil {
				return werr
			}
			_, ferr := w.Write(pktline.EncodeFlush())
			return ferr
		}
	}

	objs, err := repo.CollectObjectsForPack(args.Wants, common)
	if err != nil {
		return errors.Wrap(err, "protocol: collect objects for pack")
	}
	packData, _, err := repo.PackObjects(objs)
	if err != nil {
		return errors.Wrap(err, "protocol: pack objects")
	}

	if !args.NoProgress {
		count := binary.BigEndian.Uint32(packData[8:12])
		progress := []string{
			fmt.Sprintf("remote: Counting objects: %d, done.\r\n", count),
			fmt.Sprintf("remote: Compressing objects: 100%% (%d/%d), done.\r\n", count, count),
			fmt.Sprintf("remote: Total %d (delta 0), reused %d (delta 0), pack-reused 0\r\n", count, count),
		}
		for _, p := range progress {
			if err := writeSideBand(w, pktline.SideBandProgress, []byte(p)); err != nil {
				return err
			}
		}
	}

	if err := writeSideBand(w, pktline.SideBandPack, packData); err != nil {
		return err
	}
	_, err = w.Write(pktline.EncodeFlush())
	return err
}

func writeSideBand(w io.Writer, channel byte, data []byte) error {
	b, err := pktline.EncodeSideBand(channel, data)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
