// Package protocol implements the subset of the Minecraft Java Edition wire
// protocol needed to query a server's status: varint/string primitives,
// length-prefixed framing, the handshake/status/ping messages, and the
// Forge mod-list blob embedded in the status JSON.
package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Framing errors.
var (
	ErrShortRead     = errors.New("connection closed mid-frame")
	ErrFrameTooLarge = errors.New("frame exceeds maximum packet size")
)

// MaxFrameLength is the largest frame body the protocol allows (2^21 - 1).
const MaxFrameLength = 1<<21 - 1

// Packet is one protocol frame: a varint id followed by an opaque payload.
type Packet struct {
	ID   int64
	Data *Buffer
}

// NewPacket returns an empty packet with the given id, ready for writes.
func NewPacket(id int64) *Packet {
	return &Packet{ID: id, Data: &Buffer{}}
}

// Encode serializes p as varint(len(id)+len(payload)) | varint(id) | payload.
// Every id used by the protocol encodes in one byte, so the length is
// 1+len(payload) in practice.
func Encode(p *Packet) []byte {
	var payload []byte
	if p.Data != nil {
		payload = p.Data.Bytes()
	}
	id := AppendVarint(nil, p.ID)
	out := make([]byte, 0, MaxVarintLen+len(id)+len(payload))
	out = AppendVarint(out, int64(len(id)+len(payload)))
	out = append(out, id...)
	return append(out, payload...)
}

// WritePacket frames p and writes it to w in a single Write call.
func WritePacket(w io.Writer, p *Packet) error {
	_, err := w.Write(Encode(p))
	return err
}

// ReadPacket reads exactly one frame from r. The frame length is read one
// byte at a time so that nothing beyond the frame is consumed.
func ReadPacket(r io.Reader) (*Packet, error) {
	length, err := readVarint(byteReader{r})
	if err != nil {
		return nil, frameError(err)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative frame length %d", ErrTruncatedInput, length)
	}
	if length > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, frameError(err)
	}

	data := NewBuffer(body)
	id, err := data.ReadVarint()
	if err != nil {
		return nil, fmt.Errorf("packet id: %w", err)
	}
	return &Packet{ID: id, Data: data}, nil
}

// Decode parses a complete frame held in memory.
func Decode(frame []byte) (*Packet, error) {
	return ReadPacket(NewBuffer(frame))
}

// frameError maps end-of-stream conditions onto ErrShortRead and leaves
// everything else (deadlines in particular) intact for the caller.
func frameError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrTruncatedInput) {
		return fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	return err
}

// byteReader adapts an io.Reader to single-byte reads without buffering.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
