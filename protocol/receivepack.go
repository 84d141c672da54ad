package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gitserve/gitobj"
	"gitserve/pktline"
)

// ReceivePackRequest is the parsed command section of a receive-pack POST
// body, plus the raw packfile bytes that follow it.
type ReceivePackRequest struct {
	Commands     []gitobj.RefCommand
	Capabilities []string
	Pack         []byte
}

// ParseReceivePackRequest reads pkt-line command lines up to the
// terminating flush, then treats the rest of r as the raw packfile.
func ParseReceivePackRequest(r io.Reader) (ReceivePackRequest, error) {
	var req ReceivePackRequest
	pr := pktline.NewReader(r)
	first := true

	for {
		pkt, err := pr.Next()
		if err != nil {
			return req, err
		}
		if pkt.Kind == pktline.KindFlush {
			break
		}
		if pkt.Kind != pktline.KindData {
			continue
		}
		line := strings.TrimSuffix(string(pkt.Payload), "\n")
		if first {
			if idx := strings.IndexByte(line, 0); idx != -1 {
				req.Capabilities = strings.Fields(line[idx+1:])
				line = line[:idx]
			}
			first = false
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		req.Commands = append(req.Commands, gitobj.RefCommand{
			OldOID: gitobj.ParseOID(fields[0]),
			NewOID: gitobj.ParseOID(fields[1]),
			Name:   fields[2],
		})
	}

	pack, err := io.ReadAll(r)
	if err != nil {
		return req, err
	}
	req.Pack = pack
	return req, nil
}

func hasCapability(caps []string, name string) bool {
	for _, c := range caps {
		if c == name {
			return true
		}
	}
	return false
}

// ReceivePack drives indexPack + applyRefUpdates and writes the
// report-status response.
func ReceivePack(w io.Writer, repo *gitobj.Repository, req ReceivePackRequest) error {
	_, err := ReceivePackWithResults(w, repo, req)
	return err
}

// ReceivePackWithResults behaves like ReceivePack but also returns the
// per-command results, so a caller (the router) can broadcast ref-update
// notifications without re-deriving what changed.
func ReceivePackWithResults(w io.Writer, repo *gitobj.Repository, req ReceivePackRequest) ([]gitobj.RefResult, error) {
	if len(bytes.TrimSpace(req.Pack)) > 0 {
		if err := repo.IndexPack(req.Pack); err != nil {
			return nil, writeUnpackFailure(w, err.Error())
		}
	}

	atomic := hasCapability(req.Capabilities, "atomic")
	results, err := repo.ApplyRefUpdates(req.Commands, atomic)
	if err != nil {
		return nil, writeUnpackFailure(w, err.Error())
	}
	return results, writeReportStatus(w, results)
}

func writeUnpackFailure(w io.Writer, msg string) error {
	if err := writePkt(w, fmt.Sprintf("unpack %s\n", msg)); err != nil {
		return err
	}
	return writeFlush(w)
}

func writeReportStatus(w io.Writer, results []gitobj.RefResult) error {
	if err := writePkt(w, "unpack ok\n"); err != nil {
		return err
	}
	for _, res := range results {
		var line string
		if res.OK {
			line = fmt.Sprintf("ok %s\n", res.Name)
		} else {
			line = fmt.Sprintf("ng %s %s\n", res.Name, res.Reason)
		}
		if err := writePkt(w, line); err != nil {
			return err
		}
	}
	return writeFlush(w)
}
