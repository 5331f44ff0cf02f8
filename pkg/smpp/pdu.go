package smpp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// HeaderLength is the size of the fixed PDU header
const HeaderLength = 16

// PDUHeader represents the SMPP PDU header
type PDUHeader struct {
	CommandLength uint32
	CommandID     uint32
	CommandStatus uint32
	SequenceNum   uint32
}

// ParseHeader reads the header at the start of a PDU
func ParseHeader(data []byte) (PDUHeader, error) {
	if len(data) < HeaderLength {
		return PDUHeader{}, malformed(0, "header needs %d bytes, got %d", HeaderLength, len(data))
	}
	return PDUHeader{
		CommandLength: binary.BigEndian.Uint32(data[0:4]),
		CommandID:     binary.BigEndian.Uint32(data[4:8]),
		CommandStatus: binary.BigEndian.Uint32(data[8:12]),
		SequenceNum:   binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

func (h PDUHeader) put(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], h.CommandLength)
	binary.BigEndian.PutUint32(dst[4:8], h.CommandID)
	binary.BigEndian.PutUint32(dst[8:12], h.CommandStatus)
	binary.BigEndian.PutUint32(dst[12:16], h.SequenceNum)
}

// Address is a type-of-number, numbering-plan and address triple
type Address struct {
	TON  byte
	NPI  byte
	Addr string
}

// TLV is one optional parameter
type TLV struct {
	Tag   uint16
	Value []byte
}

// Length returns the encoded value length
func (t TLV) Length() int {
	return len(t.Value)
}

// TLVList is an ordered chain of optional parameters, kept in wire order.
type TLVList []TLV

// Get returns the first parameter with the given tag
func (l TLVList) Get(tag uint16) (TLV, bool) {
	for _, t := range l {
		if t.Tag == tag {
			return t, true
		}
	}
	return TLV{}, false
}

// Has reports whether a tag is present
func (l TLVList) Has(tag uint16) bool {
	_, ok := l.Get(tag)
	return ok
}

// Set replaces the value of tag or appends it
func (l *TLVList) Set(tag uint16, value []byte) {
	for i := range *l {
		if (*l)[i].Tag == tag {
			(*l)[i].Value = value
			return
		}
	}
	*l = append(*l, TLV{Tag: tag, Value: value})
}

// Remove drops every parameter with the given tag
func (l *TLVList) Remove(tag uint16) {
	out := (*l)[:0]
	for _, t := range *l {
		if t.Tag != tag {
			out = append(out, t)
		}
	}
	*l = out
}

// SetUint8 stores a one byte parameter
func (l *TLVList) SetUint8(tag uint16, v uint8) {
	l.Set(tag, []byte{v})
}

// SetUint16 stores a big-endian two byte parameter
func (l *TLVList) SetUint16(tag uint16, v uint16) {
	value := make([]byte, 2)
	binary.BigEndian.PutUint16(value, v)
	l.Set(tag, value)
}

// Uint8 reads a one byte parameter
func (l TLVList) Uint8(tag uint16) (uint8, bool) {
	t, ok := l.Get(tag)
	if !ok || len(t.Value) != 1 {
		return 0, false
	}
	return t.Value[0], true
}

// Uint16 reads a big-endian two byte parameter
func (l TLVList) Uint16(tag uint16) (uint16, bool) {
	t, ok := l.Get(tag)
	if !ok || len(t.Value) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(t.Value), true
}

// pduWriter serializes fields into a fixed buffer and remembers the first failure.
type pduWriter struct {
	buf []byte
	n   int
	err error
}

func (w *pduWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *pduWriter) reserve(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.n+n > len(w.buf) {
		w.fail(ErrBufferTooSmall)
		return nil
	}
	b := w.buf[w.n : w.n+n]
	w.n += n
	return b
}

func (w *pduWriter) u8(v byte) {
	if b := w.reserve(1); b != nil {
		b[0] = v
	}
}

func (w *pduWriter) u16(v uint16) {
	if b := w.reserve(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

func (w *pduWriter) u32(v uint32) {
	if b := w.reserve(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

func (w *pduWriter) octets(v []byte) {
	if b := w.reserve(len(v)); b != nil {
		copy(b, v)
	}
}

// cstring writes s with a NUL terminator; size includes the terminator.
func (w *pduWriter) cstring(name, s string, size int) {
	if len(s) >= size {
		w.fail(fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFieldTooLong, name, len(s), size-1))
		return
	}
	if strings.IndexByte(s, 0) >= 0 {
		w.fail(fmt.Errorf("%w: %s contains NUL", ErrInvalidField, name))
		return
	}
	if b := w.reserve(len(s) + 1); b != nil {
		copy(b, s)
		b[len(s)] = 0
	}
}

func (w *pduWriter) address(name string, a Address, size int) {
	w.u8(a.TON)
	w.u8(a.NPI)
	w.cstring(name, a.Addr, size)
}

func (w *pduWriter) tlvs(list TLVList) {
	for _, t := range list {
		if len(t.Value) > 0xFFFF {
			w.fail(fmt.Errorf("%w: tlv 0x%04X is %d bytes", ErrFieldTooLong, t.Tag, len(t.Value)))
			return
		}
		w.u16(t.Tag)
		w.u16(uint16(len(t.Value)))
		w.octets(t.Value)
	}
}

// pduReader walks a PDU body and remembers the first decoding failure.
type pduReader struct {
	commandID uint32
	data      []byte
	off       int
	err       error
}

func (r *pduReader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = malformed(r.commandID, format, args...)
	}
}

func (r *pduReader) remaining() int {
	return len(r.data) - r.off
}

func (r *pduReader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.remaining() {
		r.fail("%s needs %d bytes, %d left", field, n, r.remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *pduReader) u8(field string) byte {
	if b := r.take(1, field); b != nil {
		return b[0]
	}
	return 0
}

func (r *pduReader) u16(field string) uint16 {
	if b := r.take(2, field); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *pduReader) u32(field string) uint32 {
	if b := r.take(4, field); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *pduReader) octets(n int, field string) []byte {
	b := r.take(n, field)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *pduReader) cstring(field string, size int) string {
	if r.err != nil {
		return ""
	}
	idx := bytes.IndexByte(r.data[r.off:], 0)
	if idx < 0 {
		r.fail("%s is not NUL terminated", field)
		return ""
	}
	if idx >= size {
		r.fail("%s is %d bytes, limit %d", field, idx, size-1)
		return ""
	}
	s := string(r.data[r.off : r.off+idx])
	r.off += idx + 1
	return s
}

func (r *pduReader) address(field string, size int) Address {
	return Address{
		TON:  r.u8(field + "_ton"),
		NPI:  r.u8(field + "_npi"),
		Addr: r.cstring(field, size),
	}
}

// tlvs consumes the rest of the body as optional parameters.
func (r *pduReader) tlvs() TLVList {
	var list TLVList
	for r.err == nil && r.remaining() > 0 {
		if r.remaining() < 4 {
			r.fail("truncated tlv header, %d bytes left", r.remaining())
			break
		}
		tag := r.u16("tlv tag")
		length := int(r.u16("tlv length"))
		value := r.octets(length, fmt.Sprintf("tlv 0x%04X", tag))
		if r.err != nil {
			break
		}
		list = append(list, TLV{Tag: tag, Value: value})
	}
	return list
}
