// Package rtp implements RFC 3550 RTP fixed-header framing and a
// per-SSRC jitter/reorder buffer.
package rtp

import (
	"encoding/binary"

	ovio "github.com/openvocs/ovio"
)

const minHeaderLen = 12

// Frame is one decoded RTP packet: the fixed header fields plus any
// CSRC list and the payload. Network byte order throughout.
type Frame struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	Payload        []byte
}

// Unmarshal decodes data's RTP fixed header and CSRC list; Payload is a
// copy of the tail of data, so data may be reused once it returns.
func Unmarshal(data []byte) (*Frame, error) {
	if len(data) < minHeaderLen {
		return nil, ovio.NewError("rtp.Unmarshal", ovio.ErrInvalidArgument, "packet shorter than fixed header")
	}

	b0 := data[0]
	version := b0 >> 6
	padding := b0&0x20 != 0
	extension := b0&0x10 != 0
	csrcCount := b0 & 0x0f

	b1 := data[1]
	marker := b1&0x80 != 0
	payloadType := b1 & 0x7f

	seq := binary.BigEndian.Uint16(data[2:4])
	ts := binary.BigEndian.Uint32(data[4:8])
	ssrc := binary.BigEndian.Uint32(data[8:12])

	headerLen := minHeaderLen + int(csrcCount)*4
	if len(data) < headerLen {
		return nil, ovio.NewError("rtp.Unmarshal", ovio.ErrInvalidArgument, "packet truncated before CSRC list")
	}

	csrc := make([]uint32, csrcCount)
	for i := 0; i < int(csrcCount); i++ {
		off := minHeaderLen + i*4
		csrc[i] = binary.BigEndian.Uint32(data[off : off+4])
	}

	payload := make([]byte, len(data)-headerLen)
	copy(payload, data[headerLen:])

	return &Frame{
		Version:        version,
		Padding:        padding,
		Extension:      extension,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
		CSRC:           csrc,
		Payload:        payload,
	}, nil
}

// Marshal encodes f into a freshly allocated byte slice.
func (f *Frame) Marshal() []byte {
	headerLen := minHeaderLen + len(f.CSRC)*4
	out := make([]byte, headerLen+len(f.Payload))

	b0 := (f.Version & 0x03) << 6
	if f.Padding {
		b0 |= 0x20
	}
	if f.Extension {
		b0 |= 0x10
	}
	b0 |= uint8(len(f.CSRC)) & 0x0f
	out[0] = b0

	b1 := f.PayloadType & 0x7f
	if f.Marker {
		b1 |= 0x80
	}
	out[1] = b1

	binary.BigEndian.PutUint16(out[2:4], f.SequenceNumber)
	binary.BigEndian.PutUint32(out[4:8], f.Timestamp)
	binary.BigEndian.PutUint32(out[8:12], f.SSRC)

	for i, c := range f.CSRC {
		off := minHeaderLen + i*4
		binary.BigEndian.PutUint32(out[off:off+4], c)
	}

	copy(out[headerLen:], f.Payload)
	return out
}
