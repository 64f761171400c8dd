// Package rtp holds RTP helpers and the payloader and depayloader bases, along
// with the rtp plugin carrying VP8, Opus and H.264 (de)payloaders.
package rtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"

	"github.com/thesyncim/gst"
)

// DefaultMTU is the default "mtu" of payloaders.
const DefaultMTU = 1400

// Version is the only RTP version handled.
const Version = 2

var errNotWritable = errors.New("rtp: buffer mapped readable")

// Buffer is a mapped RTP packet. Header changes are written back to the
// buffer memory on Unmap; the header size never changes while mapped.
type Buffer struct {
	buffer   *gst.Buffer
	m        *gst.BufferMap
	header   rtp.Header
	hdrLen   int
	padLen   int
	writable bool
}

// MapReadable maps buf and parses its RTP header.
func MapReadable(buf *gst.Buffer) (*Buffer, error) {
	m, err := buf.MapReadable()
	if err != nil {
		return nil, err
	}
	return parse(buf, m, false)
}

// MapWritable maps buf for writing. Setters are only allowed on writable maps.
func MapWritable(buf *gst.BufferMut) (*Buffer, error) {
	m, err := buf.MapWritable()
	if err != nil {
		return nil, err
	}
	return parse(buf.Buffer, m, true)
}

func parse(buf *gst.Buffer, m *gst.BufferMap, writable bool) (*Buffer, error) {
	b := &Buffer{buffer: buf, m: m, writable: writable}
	n, err := b.header.Unmarshal(m.Data)
	if err != nil {
		m.Unmap()
		return nil, fmt.Errorf("rtp: invalid packet: %w", err)
	}
	if b.header.Version != Version {
		m.Unmap()
		return nil, fmt.Errorf("rtp: unsupported version %d", b.header.Version)
	}
	b.hdrLen = n
	if b.header.Padding {
		if len(m.Data) == n {
			m.Unmap()
			return nil, fmt.Errorf("rtp: padding bit without padding")
		}
		b.padLen = int(m.Data[len(m.Data)-1])
		if b.padLen == 0 || n+b.padLen > len(m.Data) {
			m.Unmap()
			return nil, fmt.Errorf("rtp: invalid padding length %d", b.padLen)
		}
	}
	return b, nil
}

// Unmap writes back header changes and releases the mapping.
func (b *Buffer) Unmap() {
	if b.m == nil {
		return
	}
	if b.writable {
		if _, err := b.header.MarshalTo(b.m.Data[:b.hdrLen]); err != nil {
			catPayload.Warning(nil, "writing rtp header: %v", err)
		}
	}
	b.m.Unmap()
	b.m = nil
}

// Buffer returns the mapped buffer.
func (b *Buffer) Buffer() *gst.Buffer { return b.buffer }

// Header returns a copy of the parsed header.
func (b *Buffer) Header() rtp.Header { return b.header }

func (b *Buffer) Seq() uint16        { return b.header.SequenceNumber }
func (b *Buffer) PayloadType() uint8 { return b.header.PayloadType }
func (b *Buffer) SSRC() uint32       { return b.header.SSRC }
func (b *Buffer) Timestamp() uint32  { return b.header.Timestamp }
func (b *Buffer) Marker() bool       { return b.header.Marker }
func (b *Buffer) HasPadding() bool   { return b.header.Padding }
func (b *Buffer) CSRCs() []uint32    { return b.header.CSRC }

// HeaderLen returns the size of the header including CSRCs and extensions.
func (b *Buffer) HeaderLen() int { return b.hdrLen }

// Payload returns the payload bytes, without padding. It aliases the mapping.
func (b *Buffer) Payload() []byte {
	return b.m.Data[b.hdrLen : len(b.m.Data)-b.padLen]
}

// PayloadBuffer returns a new buffer sharing the payload memory.
func (b *Buffer) PayloadBuffer() (*gst.BufferMut, error) {
	size := len(b.m.Data) - b.hdrLen - b.padLen
	return b.buffer.CopyRegion(gst.BufferCopyMemory, b.hdrLen, size)
}

// Extension returns the payload of header extension id, or nil.
func (b *Buffer) Extension(id uint8) []byte { return b.header.GetExtension(id) }

func (b *Buffer) mustWrite() error {
	if !b.writable {
		return errNotWritable
	}
	return nil
}

func (b *Buffer) SetSeq(seq uint16) error {
	if err := b.mustWrite(); err != nil {
		return err
	}
	b.header.SequenceNumber = seq
	return nil
}

func (b *Buffer) SetPayloadType(pt uint8) error {
	if err := b.mustWrite(); err != nil {
		return err
	}
	if pt > 127 {
		return fmt.Errorf("rtp: payload type %d out of range", pt)
	}
	b.header.PayloadType = pt
	return nil
}

func (b *Buffer) SetSSRC(ssrc uint32) error {
	if err := b.mustWrite(); err != nil {
		return err
	}
	b.header.SSRC = ssrc
	return nil
}

func (b *Buffer) SetTimestamp(ts uint32) error {
	if err := b.mustWrite(); err != nil {
		return err
	}
	b.header.Timestamp = ts
	return nil
}

func (b *Buffer) SetMarker(m bool) error {
	if err := b.mustWrite(); err != nil {
		return err
	}
	b.header.Marker = m
	return nil
}

// NewPacket allocates a buffer holding an RTP packet with a zeroed header of
// csrcCount CSRCs, payload and pad bytes of padding.
func NewPacket(payload []byte, pad uint8, csrcCount int) (*gst.BufferMut, error) {
	if csrcCount > 15 {
		return nil, fmt.Errorf("rtp: %d CSRCs", csrcCount)
	}
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version: Version,
			Padding: pad > 0,
			CSRC:    make([]uint32, csrcCount),
		},
		Payload:     payload,
		PaddingSize: pad,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	return gst.NewBufferFromSlice(data), nil
}

// FromPacket marshals pkt into a new buffer.
func FromPacket(pkt *rtp.Packet) (*gst.BufferMut, error) {
	data, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	return gst.NewBufferFromSlice(data), nil
}

// HeaderLen returns the size of a header without extensions.
func HeaderLen(csrcCount int) int { return 12 + 4*csrcCount }

// CompareSeqnum returns the difference seq2-seq1 taking wraparound into
// account: positive when seq2 is newer.
func CompareSeqnum(seq1, seq2 uint16) int {
	return int(int16(seq2 - seq1))
}

// ExtTimestamp extends ts to 64 bits against the previous extended value in
// ext, which it updates. Pass ext = ^uint64(0) for the first packet.
func ExtTimestamp(ext *uint64, ts uint32) uint64 {
	if *ext == ^uint64(0) {
		*ext = uint64(ts)
		return *ext
	}
	prev := *ext
	result := (prev &^ 0xffffffff) | uint64(ts)
	if result < prev {
		if prev-result > 1<<31 {
			result += 1 << 32
		}
	} else if result-prev > 1<<31 && result >= 1<<32 {
		result -= 1 << 32
	}
	*ext = result
	return result
}

// IsTimestampOlder reports whether ts1 is older than or equal to ts2 with
// 32-bit wraparound.
func IsTimestampOlder(ts1, ts2 uint32) bool {
	return ts2-ts1 < 0x80000000
}
