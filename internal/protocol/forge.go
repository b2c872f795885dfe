package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

// ErrForgeSizeMismatch reports that a Forge blob did not unpack to, or was
// not consumed as, exactly its declared byte count.
var ErrForgeSizeMismatch = errors.New("forge data size mismatch")

// UnspecifiedVersion is recorded for mods that set the ignore-server-only
// flag and therefore carry no version string.
const UnspecifiedVersion = "not specified"

const flagIgnoreServerOnly = 0b1

// ForgeModList is the mod and channel manifest Forge packs into the
// status JSON's forgeData.d field.
type ForgeModList struct {
	Truncated bool                   `json:"truncated"`
	ModCount  uint16                 `json:"modsSize"`
	Mods      map[string]string      `json:"mods"`
	Channels  map[ChannelKey]Channel `json:"channels"`
}

// ChannelKey identifies a network channel by owning mod and channel name.
type ChannelKey struct {
	ModID string
	Name  string
}

// MarshalText renders the key as "channel:modid", which also makes it
// usable as a JSON object key.
func (k ChannelKey) MarshalText() ([]byte, error) {
	return []byte(k.Name + ":" + k.ModID), nil
}

// Channel is the advertised version of one network channel.
type Channel struct {
	Version          string `json:"version"`
	RequiredOnClient bool   `json:"requiredOnClient"`
}

type forgeError struct {
	err error
}

func (e *forgeError) Error() string { return "forge data: " + e.err.Error() }
func (e *forgeError) Unwrap() error { return e.err }

// ---------------------------------------------------------------------------
// Bit unpacking
// ---------------------------------------------------------------------------

// unpacker turns a stream of 15-bit units into bytes, least significant
// bit first. buffer holds at most 22 bits between calls.
type unpacker struct {
	buffer   uint32
	bitsHeld uint
	out      []byte
}

// push drains every whole byte already buffered, then appends one unit.
func (u *unpacker) push(unit uint16) {
	for u.bitsHeld >= 8 {
		u.emit()
	}
	u.buffer |= uint32(unit&0x7FFF) << u.bitsHeld
	u.bitsHeld += 15
}

// flush emits what is left in the buffer, a partial final group counting
// as one byte, until size bytes exist or the buffer is empty.
func (u *unpacker) flush(size int) {
	for len(u.out) < size && u.bitsHeld > 0 {
		u.emit()
	}
}

func (u *unpacker) emit() {
	u.out = append(u.out, byte(u.buffer))
	u.buffer >>= 8
	if u.bitsHeld >= 8 {
		u.bitsHeld -= 8
	} else {
		u.bitsHeld = 0
	}
}

// unpackForgeBlob decodes the 15-bits-per-character packing. The first two
// units hold the byte count; the result must be exactly that long.
func unpackForgeBlob(s string) ([]byte, error) {
	units := utf16.Encode([]rune(s))
	if len(units) < 2 {
		return nil, fmt.Errorf("%w: blob has %d units, need at least 2", ErrForgeSizeMismatch, len(units))
	}

	size := int(units[0]&0x7FFF) | int(units[1]&0x7FFF)<<15
	if most := ((len(units)-2)*15 + 7) / 8; size > most {
		return nil, fmt.Errorf("%w: declared %d bytes, %d units hold at most %d", ErrForgeSizeMismatch, size, len(units)-2, most)
	}

	u := unpacker{out: make([]byte, 0, size)}
	for _, unit := range units[2:] {
		u.push(unit)
	}
	u.flush(size)

	if len(u.out) != size {
		return nil, fmt.Errorf("%w: unpacked %d bytes, declared %d", ErrForgeSizeMismatch, len(u.out), size)
	}
	return u.out, nil
}

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

// DecodeForgeModList unpacks and parses a forgeData.d blob. Decoding is
// deterministic. When two channels share a key the later record wins.
func DecodeForgeModList(blob string) (*ForgeModList, error) {
	raw, err := unpackForgeBlob(blob)
	if err != nil {
		return nil, err
	}
	d := NewBuffer(raw)

	list := &ForgeModList{
		Mods:     make(map[string]string),
		Channels: make(map[ChannelKey]Channel),
	}

	if list.Truncated, err = d.ReadBool(); err != nil {
		return nil, fmt.Errorf("truncated flag: %w", err)
	}
	if list.ModCount, err = d.ReadUint16(); err != nil {
		return nil, fmt.Errorf("mod count: %w", err)
	}

	for i := 0; i < int(list.ModCount); i++ {
		if err := readMod(d, list); err != nil {
			return nil, fmt.Errorf("mod %d: %w", i, err)
		}
	}

	extra, err := d.ReadVarint()
	if err != nil {
		return nil, fmt.Errorf("non-mod channel count: %w", err)
	}
	if extra < 0 {
		return nil, fmt.Errorf("%w: negative non-mod channel count %d", ErrTruncatedInput, extra)
	}
	for i := int64(0); i < extra; i++ {
		location, err := d.ReadString()
		if err != nil {
			return nil, fmt.Errorf("non-mod channel %d: %w", i, err)
		}
		name, modID, _ := strings.Cut(location, ":")
		ch, err := readChannel(d)
		if err != nil {
			return nil, fmt.Errorf("non-mod channel %q: %w", location, err)
		}
		list.Channels[ChannelKey{ModID: modID, Name: name}] = ch
	}

	if d.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrForgeSizeMismatch, d.Len())
	}
	return list, nil
}

func readMod(d *Buffer, list *ForgeModList) error {
	flags, err := d.ReadVarint()
	if err != nil {
		return err
	}
	channels := flags >> 1
	if channels < 0 {
		return fmt.Errorf("%w: negative channel count %d", ErrTruncatedInput, channels)
	}

	modID, err := d.ReadString()
	if err != nil {
		return err
	}
	version := UnspecifiedVersion
	if flags&flagIgnoreServerOnly == 0 {
		if version, err = d.ReadString(); err != nil {
			return err
		}
	}

	for i := int64(0); i < channels; i++ {
		name, err := d.ReadString()
		if err != nil {
			return err
		}
		ch, err := readChannel(d)
		if err != nil {
			return err
		}
		list.Channels[ChannelKey{ModID: modID, Name: name}] = ch
	}

	list.Mods[modID] = version
	return nil
}

func readChannel(d *Buffer) (Channel, error) {
	version, err := d.ReadString()
	if err != nil {
		return Channel{}, err
	}
	required, err := d.ReadBool()
	if err != nil {
		return Channel{}, err
	}
	return Channel{Version: version, RequiredOnClient: required}, nil
}
