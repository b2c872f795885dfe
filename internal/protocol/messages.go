package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Packet ids used during the status phase.
const (
	IDHandshake      int64 = 0x00
	IDStatusRequest  int64 = 0x00
	IDStatusResponse int64 = 0x00
	IDPing           int64 = 0x01
)

// Handshake next-state values.
const (
	NextStateStatus int64 = 1
	NextStateLogin  int64 = 2
)

// Message errors.
var (
	ErrWrongPacketID       = errors.New("wrong packet id")
	ErrMalformedStatusJSON = errors.New("malformed status json")
)

// Handshake is the first packet of every connection; it declares the
// protocol version the client speaks and what it wants to do next.
type Handshake struct {
	ProtocolVersion int64
	ServerAddress   string
	ServerPort      uint16
	NextState       int64
}

// Packet encodes the handshake as packet 0x00.
func (h Handshake) Packet() *Packet {
	p := NewPacket(IDHandshake)
	p.Data.WriteVarint(h.ProtocolVersion)
	p.Data.WriteString(h.ServerAddress)
	p.Data.WriteUint16(h.ServerPort)
	p.Data.WriteVarint(h.NextState)
	return p
}

// StatusRequest asks for the server list JSON. It has no fields.
type StatusRequest struct{}

// Packet encodes the request as an empty packet 0x00.
func (StatusRequest) Packet() *Packet {
	return NewPacket(IDStatusRequest)
}

// PingRequest carries an arbitrary value the server echoes back.
type PingRequest struct {
	Payload int64
}

// Packet encodes the request as packet 0x01.
func (r PingRequest) Packet() *Packet {
	p := NewPacket(IDPing)
	p.Data.WriteInt64(r.Payload)
	return p
}

// PingResponse is the server's echo of a PingRequest.
type PingResponse struct {
	Payload int64 `json:"payload"`
}

// ParsePingResponse converts a received packet into a PingResponse.
func ParsePingResponse(p *Packet) (PingResponse, error) {
	if p.ID != IDPing {
		return PingResponse{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrWrongPacketID, p.ID, IDPing)
	}
	v, err := p.Data.ReadInt64()
	if err != nil {
		return PingResponse{}, fmt.Errorf("ping payload: %w", err)
	}
	return PingResponse{Payload: v}, nil
}

// ---------------------------------------------------------------------------
// Status response
// ---------------------------------------------------------------------------

// StatusResponse is the decoded server list JSON.
type StatusResponse struct {
	PreviewsChat        bool        `json:"previewsChat"`
	EnforcesSecureChat  bool        `json:"enforcesSecureChat"`
	Description         Description `json:"description"`
	Players             Players     `json:"players"`
	Version             Version     `json:"version"`
	Favicon             string      `json:"favicon,omitempty"`
	ForgeData           *ForgeData  `json:"forgeData,omitempty"`
	PreventsChatReports bool        `json:"preventsChatReports"`
}

// Description is the server's MOTD. Servers send either a bare string or
// a chat component object; only the top-level text is kept.
type Description struct {
	Text string `json:"text"`
}

// UnmarshalJSON accepts both `"motd"` and `{"text":"motd", ...}`.
func (d *Description) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &d.Text)
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	d.Text = obj.Text
	return nil
}

// Players holds the online and maximum player counts.
type Players struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

// Version is the server's advertised game version and protocol number.
type Version struct {
	Name     string `json:"name"`
	Protocol int64  `json:"protocol"`
}

// ForgeData is the Forge extension block of the status JSON.
type ForgeData struct {
	FMLNetworkVersion int           `json:"fmlNetworkVersion"`
	Mods              *ForgeModList `json:"d,omitempty"`
}

// UnmarshalJSON decodes the packed "d" blob while unmarshaling.
func (f *ForgeData) UnmarshalJSON(data []byte) error {
	var raw struct {
		FMLNetworkVersion int     `json:"fmlNetworkVersion"`
		D                 *string `json:"d"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.FMLNetworkVersion = raw.FMLNetworkVersion
	f.Mods = nil
	if raw.D == nil {
		return nil
	}
	mods, err := DecodeForgeModList(*raw.D)
	if err != nil {
		return &forgeError{err: err}
	}
	f.Mods = mods
	return nil
}

// ParseStatusResponse converts a received packet into a StatusResponse.
// Forge decode failures fail the whole parse.
func ParseStatusResponse(p *Packet) (*StatusResponse, error) {
	if p.ID != IDStatusResponse {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrWrongPacketID, p.ID, IDStatusResponse)
	}
	raw, err := p.Data.ReadString()
	if err != nil {
		return nil, fmt.Errorf("status json: %w", err)
	}

	var resp StatusResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		var forgeErr *forgeError
		if errors.As(err, &forgeErr) {
			return nil, forgeErr
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedStatusJSON, err)
	}
	return &resp, nil
}
