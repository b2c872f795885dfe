package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"unicode/utf16"
)

// packForgeBlob is the inverse of unpackForgeBlob: two size units, then the
// data packed 15 bits per unit, least significant bit first.
func packForgeBlob(data []byte) string {
	size := len(data)
	units := []uint16{uint16(size & 0x7FFF), uint16(size >> 15 & 0x7FFF)}

	var buffer uint32
	var bits uint
	for _, b := range data {
		buffer |= uint32(b) << bits
		bits += 8
		for bits >= 15 {
			units = append(units, uint16(buffer&0x7FFF))
			buffer >>= 15
			bits -= 15
		}
	}
	if bits > 0 {
		units = append(units, uint16(buffer&0x7FFF))
	}
	return string(utf16.Decode(units))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// sampleManifest builds a two-mod manifest: one regular mod with a
// channel, one server-only mod, and one non-mod channel.
func sampleManifest() []byte {
	var b Buffer
	b.WriteBool(false)
	b.WriteUint16(2)

	b.WriteVarint(1 << 1) // one channel, version present
	b.WriteString("examplemod")
	b.WriteString("1.0.0")
	b.WriteString("main")
	b.WriteString("1")
	b.WriteBool(true)

	b.WriteVarint(0<<1 | flagIgnoreServerOnly)
	b.WriteString("serveronly")

	b.WriteVarint(1)
	b.WriteString("fml:handshake")
	b.WriteString("FML3")
	b.WriteBool(true)
	return b.Bytes()
}

// TestDecodeForgeModList checks every field of a decoded manifest.
func TestDecodeForgeModList(t *testing.T) {
	list, err := DecodeForgeModList(packForgeBlob(sampleManifest()))
	if err != nil {
		t.Fatalf("DecodeForgeModList failed: %v", err)
	}

	if list.Truncated {
		t.Error("truncated = true, want false")
	}
	if list.ModCount != 2 {
		t.Errorf("mod count = %d, want 2", list.ModCount)
	}

	wantMods := map[string]string{
		"examplemod": "1.0.0",
		"serveronly": UnspecifiedVersion,
	}
	if !reflect.DeepEqual(list.Mods, wantMods) {
		t.Errorf("mods = %v, want %v", list.Mods, wantMods)
	}

	wantChannels := map[ChannelKey]Channel{
		{ModID: "examplemod", Name: "main"}: {Version: "1", RequiredOnClient: true},
		{ModID: "handshake", Name: "fml"}:   {Version: "FML3", RequiredOnClient: true},
	}
	if !reflect.DeepEqual(list.Channels, wantChannels) {
		t.Errorf("channels = %v, want %v", list.Channels, wantChannels)
	}
}

// TestDecodeForgeDeterministic decodes the same blob twice.
func TestDecodeForgeDeterministic(t *testing.T) {
	blob := packForgeBlob(sampleManifest())
	first, err := DecodeForgeModList(blob)
	if err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	second, err := DecodeForgeModList(blob)
	if err != nil {
		t.Fatalf("second decode failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decodes differ:\n%+v\n%+v", first, second)
	}
}

// TestUnpackSizeInvariant checks that unpacking always yields exactly the
// declared byte count for arbitrary content and lengths.
func TestUnpackSizeInvariant(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for size := 0; size <= 300; size++ {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(r.UintN(256))
		}

		got, err := unpackForgeBlob(packForgeBlob(data))
		if err != nil {
			t.Fatalf("size %d: unpack failed: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("size %d: content mismatch", size)
		}
	}
}

// TestUnpackTruncatedStream verifies that dropping units fails the size check.
func TestUnpackTruncatedStream(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, 10) // 80 bits → 6 units
	units := utf16.Encode([]rune(packForgeBlob(data)))
	short := string(utf16.Decode(units[:len(units)-2]))

	if _, err := unpackForgeBlob(short); !errors.Is(err, ErrForgeSizeMismatch) {
		t.Fatalf("expected ErrForgeSizeMismatch, got %v", err)
	}
}

// TestUnpackTooFewUnits rejects blobs without a complete size header.
func TestUnpackTooFewUnits(t *testing.T) {
	for _, blob := range []string{"", "a"} {
		if _, err := unpackForgeBlob(blob); !errors.Is(err, ErrForgeSizeMismatch) {
			t.Errorf("%q: expected ErrForgeSizeMismatch, got %v", blob, err)
		}
	}
}

// TestUnpackOversizedHeader rejects a size header larger than the units
// can carry before any buffer is sized from it.
func TestUnpackOversizedHeader(t *testing.T) {
	blob := string(utf16.Decode([]uint16{0x7FFF, 0x7FFF}))

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := DecodeForgeModList(blob)
	runtime.ReadMemStats(&after)

	if !errors.Is(err, ErrForgeSizeMismatch) {
		t.Fatalf("expected ErrForgeSizeMismatch, got %v", err)
	}
	if delta := after.TotalAlloc - before.TotalAlloc; delta > 1<<20 {
		t.Errorf("allocated %d bytes for a 2-unit blob", delta)
	}

	// One extra unit still cannot back a 3-byte payload.
	short := string(utf16.Decode([]uint16{3, 0, 0x1234}))
	if _, err := unpackForgeBlob(short); !errors.Is(err, ErrForgeSizeMismatch) {
		t.Errorf("expected ErrForgeSizeMismatch, got %v", err)
	}
}

// TestUnpackerFlush exercises the end-of-stream flush on its own.
func TestUnpackerFlush(t *testing.T) {
	t.Run("partial group becomes a byte", func(t *testing.T) {
		var u unpacker
		u.push(0x1234)
		u.flush(2)
		if !bytes.Equal(u.out, []byte{0x34, 0x12}) {
			t.Errorf("out = % X, want 34 12", u.out)
		}
		if u.bitsHeld != 0 {
			t.Errorf("bitsHeld = %d, want 0", u.bitsHeld)
		}
	})

	t.Run("stops at size", func(t *testing.T) {
		var u unpacker
		u.push(0x7FFF)
		u.flush(1)
		if !bytes.Equal(u.out, []byte{0xFF}) {
			t.Errorf("out = % X, want FF", u.out)
		}
		if u.bitsHeld != 7 {
			t.Errorf("bitsHeld = %d, want 7", u.bitsHeld)
		}
	})

	t.Run("stops when empty", func(t *testing.T) {
		var u unpacker
		u.push(0x0001)
		u.flush(5)
		if len(u.out) != 2 {
			t.Errorf("out has %d bytes, want 2", len(u.out))
		}
	})

	t.Run("high bit of a unit is ignored", func(t *testing.T) {
		var u unpacker
		u.push(0xFFFF)
		if u.buffer != 0x7FFF || u.bitsHeld != 15 {
			t.Errorf("buffer = %#x bits = %d, want 0x7fff/15", u.buffer, u.bitsHeld)
		}
	})
}

// TestDecodeForgeTrailingBytes requires the payload to be consumed exactly.
func TestDecodeForgeTrailingBytes(t *testing.T) {
	raw := append(sampleManifest(), 0x00)
	if _, err := DecodeForgeModList(packForgeBlob(raw)); !errors.Is(err, ErrForgeSizeMismatch) {
		t.Fatalf("expected ErrForgeSizeMismatch, got %v", err)
	}
}

// TestDecodeForgeTruncatedManifest fails when the manifest ends early.
func TestDecodeForgeTruncatedManifest(t *testing.T) {
	raw := sampleManifest()
	if _, err := DecodeForgeModList(packForgeBlob(raw[:len(raw)-3])); !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("expected ErrTruncatedInput, got %v", err)
	}
}

// TestDecodeForgeChannelCollision documents that the later record for a
// channel key replaces the earlier one.
func TestDecodeForgeChannelCollision(t *testing.T) {
	var b Buffer
	b.WriteBool(true)
	b.WriteUint16(1)
	b.WriteVarint(1 << 1)
	b.WriteString("a")
	b.WriteString("2.0")
	b.WriteString("c")
	b.WriteString("first")
	b.WriteBool(false)
	b.WriteVarint(1)
	b.WriteString("c:a")
	b.WriteString("second")
	b.WriteBool(true)

	list, err := DecodeForgeModList(packForgeBlob(b.Bytes()))
	if err != nil {
		t.Fatalf("DecodeForgeModList failed: %v", err)
	}
	if !list.Truncated {
		t.Error("truncated = false, want true")
	}
	got := list.Channels[ChannelKey{ModID: "a", Name: "c"}]
	if got.Version != "second" || !got.RequiredOnClient {
		t.Errorf("channel = %+v, want the second record", got)
	}
	if len(list.Channels) != 1 {
		t.Errorf("len(channels) = %d, want 1", len(list.Channels))
	}
}

// TestForgeModListJSON checks channel keys render as "channel:modid".
func TestForgeModListJSON(t *testing.T) {
	list, err := DecodeForgeModList(packForgeBlob(sampleManifest()))
	if err != nil {
		t.Fatalf("DecodeForgeModList failed: %v", err)
	}
	out, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, key := range []string{`"main:examplemod"`, `"fml:handshake"`, `"modsSize":2`} {
		if !strings.Contains(string(out), key) {
			t.Errorf("json %s missing %s", out, key)
		}
	}
}
