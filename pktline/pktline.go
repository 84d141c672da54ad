// Package pktline implements the Git pkt-line wire framing and the
// side-band-64k multiplexing used on top of it.
//
// Low-level length-prefix primitives are delegated to
// github.com/bored-engineer/git-pkt-line; this package adds the typed
// decode result, the side-band channel framing, and the exact error
// taxonomy the server needs.
package pktline

import (
	"bytes"
	"io"

	rawpktline "github.com/bored-engineer/git-pkt-line"
	"github.com/pkg/errors"
)

// MaxPacketSize is the largest packet (header + payload) pkt-line allows.
const MaxPacketSize = 65520

// MaxPayloadSize is MaxPacketSize minus the 4-byte length header.
const MaxPayloadSize = MaxPacketSize - 4

// Kind classifies a decoded packet.
type Kind int

const (
	KindData Kind = iota
	KindFlush
	KindDelim
	KindResponseEnd
	KindError
)

// Packet is the result of decoding one pkt-line unit.
type Packet struct {
	Kind    Kind
	Payload []byte // set for KindData and KindError (the error message)
}

var (
	// ErrPayloadTooLarge is returned by Encode when payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("pktline: payload too large")
	// ErrShortBuffer is returned by Decode when fewer bytes are available than
	// the 4-byte header, or than the header's declared length, demand.
	ErrShortBuffer = errors.New("pktline: short buffer")
	// ErrBadLength is returned by Decode when the 4-char header is not valid
	// hex, or encodes a length outside [4, 65520].
	ErrBadLength = errors.New("pktline: bad length header")
)

// Encode frames payload as a single pkt-line packet.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	b := rawpktline.AppendLength(nil, len(payload))
	b = append(b, payload...)
	return b, nil
}

// EncodeFlush returns the literal 4-byte flush packet "0000".
func EncodeFlush() []byte { return rawpktline.AppendFlushPkt(nil) }

// EncodeDelim returns the literal 4-byte delim packet "0001".
func EncodeDelim() []byte { return rawpktline.AppendDelimPkt(nil) }

// EncodeResponseEnd returns the literal 4-byte response-end packet "0002".
func EncodeResponseEnd() []byte { return []byte("0002") }

// Decode reads exactly one packet from the front of buf and reports how many
// bytes were consumed.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) < 4 {
		return Packet{}, 0, ErrShortBuffer
	}
	switch string(buf[:4]) {
	case "0000":
		return Packet{Kind: KindFlush}, 4, nil
	case "0001":
		return Packet{Kind: KindDelim}, 4, nil
	case "0002":
		return Packet{Kind: KindResponseEnd}, 4, nil
	}
	n, err := parseHexLen([4]byte(buf[:4]))
	if err != nil {
		return Packet{}, 0, ErrBadLength
	}
	if n < 4 || n > MaxPacketSize {
		return Packet{}, 0, ErrBadLength
	}
	total := n
	if len(buf) < total {
		return Packet{}, 0, ErrShortBuffer
	}
	payload := buf[4:total]
	if bytes.HasPrefix(payload, []byte("ERR ")) {
		return Packet{Kind: KindError, Payload: payload[4:]}, total, nil
	}
	return Packet{Kind: KindData, Payload: payload}, total, nil
}

func parseHexLen(b [4]byte) (int, error) {
	var n int
	for _, c := range b {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n |= int(c-'A') + 10
		default:
			return 0, ErrBadLength
		}
	}
	return n, nil
}

// Reader incrementally decodes packets from an io.Reader, for callers that
// would rather not buffer the full body (e.g. a receive-pack command
// section, which is terminated by its own flush before the packfile bytes
// begin).
type Reader struct {
	scanner *rawpktline.Scanner
}

func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: rawpktline.NewScanner(r)}
}

// Next returns the next packet, translating the underlying scanner's
// sentinel errors into Packet Kinds so callers only ever see io.EOF or a
// real error.
func (r *Reader) Next() (Packet, error) {
	line, err := r.scanner.Scan()
	switch {
	case errors.Is(err, rawpktline.ErrFlushPkt):
		return Packet{Kind: KindFlush}, nil
	case errors.Is(err, rawpktline.ErrDelimPkt):
		return Packet{Kind: KindDelim}, nil
	case err != nil:
		return Packet{}, err
	}
	if bytes.HasPrefix(line, []byte("ERR ")) {
		return Packet{Kind: KindError, Payload: line[4:]}, nil
	}
	return Packet{Kind: KindData, Payload: line}, nil
}

// Side-band-64k channel tags.
const (
	SideBandPack     byte = 1
	SideBandProgress byte = 2
	SideBandError    byte = 3

	// MaxSideBandPayload is the largest chunk of pack data that fits in one
	// side-band packet alongside its 1-byte channel prefix.
	MaxSideBandPayload = MaxPayloadSize - 1
)

// EncodeSideBand frames data on the given side-band channel, chunking at
// MaxSideBandPayload boundaries.
func EncodeSideBand(channel byte, data []byte) ([]byte, error) {
	var out bytes.Buffer
	for len(data) > 0 {
		n := len(data)
		if n > MaxSideBandPayload {
			n = MaxSideBandPayload
		}
		chunk := append([]byte{channel}, data[:n]...)
		pkt, err := Encode(chunk)
		if err != nil {
			return nil, err
		}
		out.Write(pkt)
		data = data[n:]
	}
	return out.Bytes(), nil
}

// DecodeSideBand splits a side-band data packet's payload into its channel
// and inner payload.
func DecodeSideBand(payload []byte) (channel byte, data []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, errors.New("pktline: empty side-band packet")
	}
	return payload[0], payload[1:], nil
}
