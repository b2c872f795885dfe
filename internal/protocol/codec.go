package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Codec errors.
var (
	ErrTruncatedInput = errors.New("truncated input")
	ErrVarintOverflow = errors.New("varint longer than 10 bytes")
)

// MaxVarintLen is the longest encoding of a 64-bit varint.
const MaxVarintLen = 10

// Buffer is a growable byte buffer with an independent read offset.
// Writes append to the end; reads consume from the front. A Buffer is
// scoped to a single encode or decode and is not safe for concurrent use.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns a Buffer that reads from data. The slice is not copied.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.data) - b.off }

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.off:] }

// next consumes n bytes or fails without advancing.
func (b *Buffer) next(n int) ([]byte, error) {
	if n < 0 || b.Len() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedInput, n, b.Len())
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

// Read implements io.Reader over the unread bytes.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:])
	b.off += n
	return n, nil
}

// ReadByte consumes one byte.
func (b *Buffer) ReadByte() (byte, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadBytes consumes exactly n bytes. The returned slice aliases the buffer.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	return b.next(n)
}

// ReadVarint decodes a signed LEB128 value.
func (b *Buffer) ReadVarint() (int64, error) {
	return readVarint(b)
}

// ReadString decodes a varint-length-prefixed string. Invalid UTF-8 is
// replaced with U+FFFD rather than rejected.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadVarint()
	if err != nil {
		return "", err
	}
	if n < 0 || n > int64(b.Len()) {
		return "", fmt.Errorf("%w: string length %d, have %d", ErrTruncatedInput, n, b.Len())
	}
	p, _ := b.next(int(n))
	return strings.ToValidUTF8(string(p), "\uFFFD"), nil
}

// ReadBool consumes one byte; any nonzero value is true.
func (b *Buffer) ReadBool() (bool, error) {
	c, err := b.ReadByte()
	if err != nil {
		return false, err
	}
	return c != 0, nil
}

// ReadUint16 decodes a big-endian unsigned short.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// ReadInt64 decodes a big-endian signed long.
func (b *Buffer) ReadInt64() (int64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

// ---------------------------------------------------------------------------
// Write
// ---------------------------------------------------------------------------

// Write appends p. It never fails; the signature satisfies io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	b.data = append(b.data, c)
	return nil
}

// WriteVarint appends the minimal signed LEB128 encoding of v.
func (b *Buffer) WriteVarint(v int64) {
	b.data = AppendVarint(b.data, v)
}

// WriteString appends a varint length prefix followed by the raw bytes of s.
func (b *Buffer) WriteString(s string) {
	b.WriteVarint(int64(len(s)))
	b.data = append(b.data, s...)
}

// WriteBool appends 0x01 for true and 0x00 for false.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.data = append(b.data, 1)
	} else {
		b.data = append(b.data, 0)
	}
}

// WriteUint16 appends v big-endian.
func (b *Buffer) WriteUint16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

// WriteInt64 appends v big-endian.
func (b *Buffer) WriteInt64(v int64) {
	b.data = binary.BigEndian.AppendUint64(b.data, uint64(v))
}

// ---------------------------------------------------------------------------
// Varint
// ---------------------------------------------------------------------------

// AppendVarint appends the signed LEB128 encoding of v to dst.
func AppendVarint(dst []byte, v int64) []byte {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

// readVarint decodes a signed LEB128 value from r. Read errors are
// returned unchanged.
func readVarint(r interface{ ReadByte() (byte, error) }) (int64, error) {
	var result int64
	var shift uint
	for i := 0; i < MaxVarintLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(c&0x7F) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, ErrVarintOverflow
}
