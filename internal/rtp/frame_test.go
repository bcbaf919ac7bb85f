package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalMarshalRoundTrip(t *testing.T) {
	f := &Frame{
		Version:        2,
		Marker:         true,
		PayloadType:    111,
		SequenceNumber: 4242,
		Timestamp:      0xdeadbeef,
		SSRC:           0x1234abcd,
		Payload:        []byte("audio-payload"),
	}
	encoded := f.Marshal()

	decoded, err := Unmarshal(encoded)
	require.NoError(t, err)
	assert.Equal(t, f.Version, decoded.Version)
	assert.Equal(t, f.Marker, decoded.Marker)
	assert.Equal(t, f.PayloadType, decoded.PayloadType)
	assert.Equal(t, f.SequenceNumber, decoded.SequenceNumber)
	assert.Equal(t, f.Timestamp, decoded.Timestamp)
	assert.Equal(t, f.SSRC, decoded.SSRC)
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestUnmarshalWithCSRCList(t *testing.T) {
	f := &Frame{
		Version:     2,
		PayloadType: 0,
		SSRC:        1,
		CSRC:        []uint32{10, 20, 30},
		Payload:     []byte("x"),
	}
	decoded, err := Unmarshal(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 20, 30}, decoded.CSRC)
}

func TestUnmarshalRejectsShortPacket(t *testing.T) {
	_, err := Unmarshal([]byte{0x80, 0x00, 0x01})
	require.Error(t, err)
}

func TestUnmarshalRejectsTruncatedCSRC(t *testing.T) {
	data := make([]byte, 12)
	data[0] = 0x82 // CC=2, needs 8 more bytes we won't provide
	_, err := Unmarshal(data)
	require.Error(t, err)
}
