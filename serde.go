package gst

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encoding of buffers, caps, structures and samples. Field values carry
// their type name so they decode back to the same Go type.

var ErrUnsupportedValue = errors.New("gst: value type cannot be serialized")

var cborEnc, cborDec = func() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{MaxNestedLevels: 64}.DecMode()
	if err != nil {
		panic(err)
	}
	return em, dm
}()

type wireValue struct {
	Type  string          `cbor:"1,keyasint"`
	Value cbor.RawMessage `cbor:"2,keyasint"`
}

type wireField struct {
	Name  string    `cbor:"1,keyasint"`
	Value wireValue `cbor:"2,keyasint"`
}

type wireStructure struct {
	Name   string      `cbor:"1,keyasint"`
	Fields []wireField `cbor:"2,keyasint,omitempty"`
}

type wireCapsEntry struct {
	Structure wireStructure `cbor:"1,keyasint"`
	Features  string        `cbor:"2,keyasint,omitempty"`
}

type wireCaps struct {
	Any     bool            `cbor:"1,keyasint,omitempty"`
	Entries []wireCapsEntry `cbor:"2,keyasint,omitempty"`
}

type wireBuffer struct {
	PTS       uint64      `cbor:"1,keyasint"`
	DTS       uint64      `cbor:"2,keyasint"`
	Duration  uint64      `cbor:"3,keyasint"`
	Offset    uint64      `cbor:"4,keyasint"`
	OffsetEnd uint64      `cbor:"5,keyasint"`
	Flags     BufferFlags `cbor:"6,keyasint,omitempty"`
	Data      []byte      `cbor:"7,keyasint"`
}

type wireSample struct {
	Buffer  *wireBuffer    `cbor:"1,keyasint,omitempty"`
	List    []wireBuffer   `cbor:"2,keyasint,omitempty"`
	Caps    *wireCaps      `cbor:"3,keyasint,omitempty"`
	Segment *Segment       `cbor:"4,keyasint,omitempty"`
	Info    *wireStructure `cbor:"5,keyasint,omitempty"`
}

func encodeValue(v any) (wireValue, error) {
	var payload any
	switch x := v.(type) {
	case bool, int8, uint8, int16, uint16, int32, uint32, int64, uint64, float32, float64, string:
		payload = x
	case Fraction:
		payload = [2]int32{x.Num, x.Den}
	case IntRange:
		payload = [2]int32{x.Min, x.Max}
	case Int64Range:
		payload = [2]int64{x.Min, x.Max}
	case DoubleRange:
		payload = [2]float64{x.Min, x.Max}
	case FractionRange:
		payload = [4]int32{x.Min.Num, x.Min.Den, x.Max.Num, x.Max.Den}
	case ValueList:
		vals, err := encodeValues(x)
		if err != nil {
			return wireValue{}, err
		}
		payload = vals
	case ValueArray:
		vals, err := encodeValues(x)
		if err != nil {
			return wireValue{}, err
		}
		payload = vals
	case Bitmask:
		payload = uint64(x)
	case Date:
		payload = x.String()
	case time.Time:
		payload = x.Format(time.RFC3339Nano)
	case CapsFeatures:
		payload = x.String()
	case *Buffer:
		if x != nil {
			payload = toWireBuffer(x)
		}
	case *Caps:
		if x != nil {
			c, err := toWireCaps(x)
			if err != nil {
				return wireValue{}, err
			}
			payload = c
		}
	case *Structure:
		if x != nil {
			s, err := toWireStructure(x)
			if err != nil {
				return wireValue{}, err
			}
			payload = s
		}
	case nil:
	default:
		return wireValue{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, ValueTypeName(v))
	}
	raw, err := cborEnc.Marshal(payload)
	if err != nil {
		return wireValue{}, err
	}
	return wireValue{Type: ValueTypeName(v), Value: raw}, nil
}

func encodeValues(vals []any) ([]wireValue, error) {
	out := make([]wireValue, len(vals))
	for i, v := range vals {
		w, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func decodeInto[T any](raw cbor.RawMessage) (T, error) {
	var v T
	err := cborDec.Unmarshal(raw, &v)
	return v, err
}

func decodeValue(w wireValue) (any, error) {
	switch w.Type {
	case "boolean":
		return decodeInto[bool](w.Value)
	case "schar":
		return decodeInto[int8](w.Value)
	case "uchar":
		return decodeInto[uint8](w.Value)
	case "short":
		return decodeInto[int16](w.Value)
	case "ushort":
		return decodeInto[uint16](w.Value)
	case "int":
		return decodeInto[int32](w.Value)
	case "uint":
		return decodeInto[uint32](w.Value)
	case "int64":
		return decodeInto[int64](w.Value)
	case "uint64":
		return decodeInto[uint64](w.Value)
	case "float":
		return decodeInto[float32](w.Value)
	case "double":
		return decodeInto[float64](w.Value)
	case "string":
		return decodeInto[string](w.Value)
	case "fraction":
		p, err := decodeInto[[2]int32](w.Value)
		return Fraction{Num: p[0], Den: p[1]}, err
	case "int-range":
		p, err := decodeInto[[2]int32](w.Value)
		return IntRange{Min: p[0], Max: p[1]}, err
	case "int64-range":
		p, err := decodeInto[[2]int64](w.Value)
		return Int64Range{Min: p[0], Max: p[1]}, err
	case "double-range":
		p, err := decodeInto[[2]float64](w.Value)
		return DoubleRange{Min: p[0], Max: p[1]}, err
	case "fraction-range":
		p, err := decodeInto[[4]int32](w.Value)
		return FractionRange{Min: Fraction{Num: p[0], Den: p[1]}, Max: Fraction{Num: p[2], Den: p[3]}}, err
	case "list", "array":
		ws, err := decodeInto[[]wireValue](w.Value)
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, len(ws))
		for _, e := range ws {
			v, err := decodeValue(e)
			if err != nil {
				for _, done := range vals {
					releaseValue(done)
				}
				return nil, err
			}
			vals = append(vals, v)
		}
		if w.Type == "list" {
			return ValueList(vals), nil
		}
		return ValueArray(vals), nil
	case "bitmask":
		v, err := decodeInto[uint64](w.Value)
		return Bitmask(v), err
	case "date", "datetime", "caps-features":
		text, err := decodeInto[string](w.Value)
		if err != nil {
			return nil, err
		}
		return DeserializeValue(text, w.Type)
	case "buffer":
		wb, err := decodeInto[*wireBuffer](w.Value)
		if err != nil || wb == nil {
			return (*Buffer)(nil), err
		}
		return wb.toBuffer(), nil
	case "caps":
		wc, err := decodeInto[*wireCaps](w.Value)
		if err != nil || wc == nil {
			return (*Caps)(nil), err
		}
		return wc.toCaps()
	case "structure":
		ws, err := decodeInto[*wireStructure](w.Value)
		if err != nil || ws == nil {
			return (*Structure)(nil), err
		}
		return ws.toStructure()
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, w.Type)
}

func toWireStructure(s *Structure) (wireStructure, error) {
	ws := wireStructure{Name: s.Name(), Fields: make([]wireField, 0, len(s.fields))}
	for _, f := range s.fields {
		v, err := encodeValue(f.value)
		if err != nil {
			return wireStructure{}, fmt.Errorf("field %s: %w", f.name, err)
		}
		ws.Fields = append(ws.Fields, wireField{Name: f.name.String(), Value: v})
	}
	return ws, nil
}

func (ws *wireStructure) toStructure() (*Structure, error) {
	s := NewStructure(ws.Name)
	for _, f := range ws.Fields {
		v, err := decodeValue(f.Value)
		if err != nil {
			s.Free()
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		s.setField(f.Name, v)
	}
	return s, nil
}

func toWireCaps(c *Caps) (wireCaps, error) {
	wc := wireCaps{Any: c.IsAny()}
	for s, f := range c.All() {
		ws, err := toWireStructure(s)
		if err != nil {
			return wireCaps{}, err
		}
		e := wireCapsEntry{Structure: ws}
		if f.IsAny() || f.Size() > 0 {
			e.Features = f.String()
		}
		wc.Entries = append(wc.Entries, e)
	}
	return wc, nil
}

func (wc *wireCaps) toCaps() (*Caps, error) {
	if wc.Any {
		return NewCapsAny(), nil
	}
	m := &CapsMut{NewCapsEmpty()}
	for _, e := range wc.Entries {
		s, err := e.Structure.toStructure()
		if err != nil {
			m.Unref()
			return nil, err
		}
		var features CapsFeatures
		if e.Features != "" {
			features, err = ParseCapsFeatures(e.Features)
			if err != nil {
				s.Free()
				m.Unref()
				return nil, err
			}
		}
		m.AppendStructureFull(s, features)
	}
	return m.Caps, nil
}

func toWireBuffer(b *Buffer) *wireBuffer {
	return &wireBuffer{
		PTS:       uint64(b.PTS()),
		DTS:       uint64(b.DTS()),
		Duration:  uint64(b.Duration()),
		Offset:    b.Offset(),
		OffsetEnd: b.OffsetEnd(),
		Flags:     b.BufferFlags(),
		Data:      b.Bytes(),
	}
}

func (wb *wireBuffer) toBuffer() *Buffer {
	b := NewBufferFromSlice(wb.Data)
	b.SetPTS(ClockTime(wb.PTS))
	b.SetDTS(ClockTime(wb.DTS))
	b.SetDuration(ClockTime(wb.Duration))
	b.SetOffset(wb.Offset)
	b.SetOffsetEnd(wb.OffsetEnd)
	b.SetBufferFlags(wb.Flags)
	return b.Buffer
}

// MarshalCBOR encodes timestamps, offsets, flags and the buffer contents. Metas
// are not encoded.
func (b *Buffer) MarshalCBOR() ([]byte, error) { return cborEnc.Marshal(toWireBuffer(b)) }

// BufferFromCBOR decodes a buffer written by Buffer.MarshalCBOR.
func BufferFromCBOR(data []byte) (*Buffer, error) {
	var wb wireBuffer
	if err := cborDec.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("gst: decode buffer: %w", err)
	}
	return wb.toBuffer(), nil
}

// MarshalCBOR encodes the buffers of l in order.
func (l *BufferList) MarshalCBOR() ([]byte, error) {
	out := make([]*wireBuffer, len(l.buffers))
	for i, b := range l.buffers {
		out[i] = toWireBuffer(b)
	}
	return cborEnc.Marshal(out)
}

// BufferListFromCBOR decodes a list written by BufferList.MarshalCBOR.
func BufferListFromCBOR(data []byte) (*BufferList, error) {
	var wbs []wireBuffer
	if err := cborDec.Unmarshal(data, &wbs); err != nil {
		return nil, fmt.Errorf("gst: decode buffer list: %w", err)
	}
	return wireBufferList(wbs).BufferList, nil
}

func wireBufferList(wbs []wireBuffer) *BufferListMut {
	l := NewBufferList(len(wbs))
	for i := range wbs {
		l.Add(wbs[i].toBuffer())
	}
	return l
}

// MarshalCBOR encodes the name and typed fields of s.
func (s *Structure) MarshalCBOR() ([]byte, error) {
	ws, err := toWireStructure(s)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(ws)
}

// StructureFromCBOR decodes a structure written by Structure.MarshalCBOR.
func StructureFromCBOR(data []byte) (*Structure, error) {
	var ws wireStructure
	if err := cborDec.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("gst: decode structure: %w", err)
	}
	return ws.toStructure()
}

// MarshalCBOR encodes the structures and features of c.
func (c *Caps) MarshalCBOR() ([]byte, error) {
	wc, err := toWireCaps(c)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(wc)
}

// CapsFromCBOR decodes caps written by Caps.MarshalCBOR.
func CapsFromCBOR(data []byte) (*Caps, error) {
	var wc wireCaps
	if err := cborDec.Unmarshal(data, &wc); err != nil {
		return nil, fmt.Errorf("gst: decode caps: %w", err)
	}
	return wc.toCaps()
}

// MarshalCBOR encodes every part of s that is set.
func (s *Sample) MarshalCBOR() ([]byte, error) {
	var ws wireSample
	if s.buffer != nil {
		ws.Buffer = toWireBuffer(s.buffer)
	}
	if s.list != nil {
		ws.List = make([]wireBuffer, len(s.list.buffers))
		for i, b := range s.list.buffers {
			ws.List[i] = *toWireBuffer(b)
		}
	}
	if s.caps != nil {
		wc, err := toWireCaps(s.caps)
		if err != nil {
			return nil, err
		}
		ws.Caps = &wc
	}
	ws.Segment = s.segment
	if s.info != nil {
		info, err := toWireStructure(s.info)
		if err != nil {
			return nil, err
		}
		ws.Info = &info
	}
	return cborEnc.Marshal(ws)
}

// SampleFromCBOR decodes a sample written by Sample.MarshalCBOR.
func SampleFromCBOR(data []byte) (*Sample, error) {
	var ws wireSample
	if err := cborDec.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("gst: decode sample: %w", err)
	}
	b := NewSampleBuilder().Segment(ws.Segment)
	if ws.Buffer != nil {
		buf := ws.Buffer.toBuffer()
		b.Buffer(buf)
		buf.Unref()
	}
	if ws.List != nil {
		l := wireBufferList(ws.List)
		b.BufferList(l.BufferList)
		l.Unref()
	}
	if ws.Caps != nil {
		c, err := ws.Caps.toCaps()
		if err != nil {
			b.Build().Unref()
			return nil, err
		}
		b.Caps(c)
		c.Unref()
	}
	if ws.Info != nil {
		info, err := ws.Info.toStructure()
		if err != nil {
			b.Build().Unref()
			return nil, err
		}
		b.Info(info)
	}
	return b.Build(), nil
}
