// Package probe performs one-shot status queries against a Minecraft server.
// Every call dials a fresh connection, runs the handshake and one request,
// reads a single reply and closes the connection.
package probe

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/mcwatch/internal/protocol"
)

// Probe errors. Deadline breaches always wrap ErrTimeout so callers can
// treat them uniformly as "unreachable" without string matching.
var (
	ErrTimeout     = errors.New("timed out")
	ErrUnreachable = errors.New("server unreachable")
)

// DefaultTimeout applies to connect, read and write when unset.
const DefaultTimeout = 5 * time.Second

// DefaultProtocolVersion is the protocol number sent in the handshake
// (1.19.2). Servers answer status queries for any version.
const DefaultProtocolVersion = 760

// Config describes the target server and per-phase deadlines.
type Config struct {
	Host            string
	Port            uint16
	ProtocolVersion int64

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Prober issues ping and status queries. It holds no connection state and
// is safe for concurrent use.
type Prober struct {
	cfg  Config
	addr string
}

// New returns a Prober for cfg, filling zero timeouts with DefaultTimeout.
func New(cfg Config) *Prober {
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	for _, d := range []*time.Duration{&cfg.ConnectTimeout, &cfg.ReadTimeout, &cfg.WriteTimeout} {
		if *d <= 0 {
			*d = DefaultTimeout
		}
	}
	return &Prober{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))),
	}
}

// Addr returns the host:port being probed.
func (p *Prober) Addr() string { return p.addr }

// Ping sends a ping with the given payload and returns the server's echo.
// The echoed value is not compared against the request.
func (p *Prober) Ping(payload int64) (protocol.PingResponse, error) {
	reply, err := p.roundTrip(protocol.PingRequest{Payload: payload}.Packet())
	if err != nil {
		return protocol.PingResponse{}, err
	}
	return protocol.ParsePingResponse(reply)
}

// Status requests and decodes the server list JSON.
func (p *Prober) Status() (*protocol.StatusResponse, error) {
	reply, err := p.roundTrip(protocol.StatusRequest{}.Packet())
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatusResponse(reply)
}

// roundTrip dials, sends the handshake and req, and reads one reply.
func (p *Prober) roundTrip(req *protocol.Packet) (*protocol.Packet, error) {
	conn, err := net.DialTimeout("tcp", p.addr, p.cfg.ConnectTimeout)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("connect %s: %w: %w", p.addr, ErrTimeout, err)
		}
		return nil, fmt.Errorf("connect %s: %w: %w", p.addr, ErrUnreachable, err)
	}
	defer conn.Close()

	handshake := protocol.Handshake{
		ProtocolVersion: p.cfg.ProtocolVersion,
		ServerAddress:   p.cfg.Host,
		ServerPort:      p.cfg.Port,
		NextState:       protocol.NextStateStatus,
	}

	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	for _, pkt := range []*protocol.Packet{handshake.Packet(), req} {
		if err := protocol.WritePacket(conn, pkt); err != nil {
			return nil, classify("write", err)
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	reply, err := protocol.ReadPacket(conn)
	if err != nil {
		return nil, classify("read", err)
	}
	return reply, nil
}

func classify(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
