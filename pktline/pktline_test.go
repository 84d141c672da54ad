package pktline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("version 2\n")
	pkt, err := Encode(payload)
	require.NoError(t, err)

	decoded, n, err := Decode(pkt)
	require.NoError(t, err)
	require.Equal(t, len(pkt), n)
	require.Equal(t, KindData, decoded.Kind)
	require.Equal(t, payload, decoded.Payload)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(make([]byte, MaxPayloadSize+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Encode(make([]byte, MaxPayloadSize))
	require.NoError(t, err)
}

func TestDecodeSpecials(t *testing.T) {
	flush, n, err := Decode([]byte("0000trailing"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, KindFlush, flush.Kind)

	delim, n, err := Decode([]byte("0001"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, KindDelim, delim.Kind)

	end, n, err := Decode([]byte("0002"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, KindResponseEnd, end.Kind)
}

func TestDecodeErrPacket(t *testing.T) {
	pkt, err := Encode([]byte("ERR object not found\n"))
	require.NoError(t, err)

	decoded, _, err := Decode(pkt)
	require.NoError(t, err)
	require.Equal(t, KindError, decoded.Kind)
	require.Equal(t, "object not found\n", string(decoded.Payload))
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := Decode([]byte("00"))
	require.ErrorIs(t, err, ErrShortBuffer)

	// Header claims 10 bytes total but only 7 are present.
	_, _, err = Decode([]byte("000a123"))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeBadLength(t *testing.T) {
	_, _, err := Decode([]byte("zzzzhello"))
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSideBandChunking(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxSideBandPayload*2+10)
	framed, err := EncodeSideBand(SideBandPack, data)
	require.NoError(t, err)

	var reassembled []byte
	buf := framed
	chunks := 0
	for len(buf) > 0 {
		pkt, n, err := Decode(buf)
		require.NoError(t, err)
		require.Equal(t, KindData, pkt.Kind)
		ch, inner, err := DecodeSideBand(pkt.Payload)
		require.NoError(t, err)
		require.Equal(t, SideBandPack, ch)
		reassembled = append(reassembled, inner...)
		buf = buf[n:]
		chunks++
	}
	require.Equal(t, data, reassembled)
	require.Greater(t, chunks, 1)
}
