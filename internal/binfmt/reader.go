package binfmt

import "encoding/binary"

// reader is a bounds-checked cursor over an in-memory file image. Every
// accessor validates the requested range against the buffer before reading,
// so decoders never index past the end of a truncated or corrupt file.
type reader struct {
	data  []byte
	order binary.ByteOrder
}

func newReader(data []byte, order binary.ByteOrder) *reader {
	return &reader{data: data, order: order}
}

func (r *reader) len() uint64 { return uint64(len(r.data)) }

func (r *reader) in(off, n uint64) bool {
	return off <= r.len() && n <= r.len()-off
}

func (r *reader) u8(off uint64) (byte, bool) {
	if !r.in(off, 1) {
		return 0, false
	}
	return r.data[off], true
}

func (r *reader) u16(off uint64) (uint16, bool) {
	if !r.in(off, 2) {
		return 0, false
	}
	return r.order.Uint16(r.data[off:]), true
}

func (r *reader) u32(off uint64) (uint32, bool) {
	if !r.in(off, 4) {
		return 0, false
	}
	return r.order.Uint32(r.data[off:]), true
}

func (r *reader) u64(off uint64) (uint64, bool) {
	if !r.in(off, 8) {
		return 0, false
	}
	return r.order.Uint64(r.data[off:]), true
}

// bytes returns a view of n bytes at off. The slice aliases the underlying
// buffer; callers must not modify it.
func (r *reader) bytes(off, n uint64) ([]byte, bool) {
	if !r.in(off, n) {
		return nil, false
	}
	return r.data[off : off+n], true
}

// sub returns a reader over n bytes at off, keeping the byte order.
func (r *reader) sub(off, n uint64) (*reader, bool) {
	b, ok := r.bytes(off, n)
	if !ok {
		return nil, false
	}
	return &reader{data: b, order: r.order}, true
}

// cstring reads a NUL-terminated string at off, scanning at most max bytes.
// An unterminated run ends at the scan limit or the buffer end.
func (r *reader) cstring(off, max uint64) (string, bool) {
	if off >= r.len() {
		return "", false
	}
	end := off + max
	if max == 0 || end > r.len() || end < off {
		end = r.len()
	}
	for i := off; i < end; i++ {
		if r.data[i] == 0 {
			return string(r.data[off:i]), true
		}
	}
	return string(r.data[off:end]), true
}
