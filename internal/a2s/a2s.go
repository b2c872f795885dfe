// Package a2s queries Source-engine game servers (Space Engineers) with the
// A2S_INFO request over UDP.
package a2s

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	goa2s "github.com/rumblefrog/go-a2s"
)

// ErrMalformed wraps every query failure that is not a network error:
// bad headers, truncated or undecodable replies.
var ErrMalformed = errors.New("malformed A2S_INFO reply")

// Info is the A2S_INFO reply as served by the HTTP route.
type Info struct {
	Protocol    uint8  `json:"protocol"`
	Name        string `json:"name"`
	Map         string `json:"map"`
	Folder      string `json:"folder"`
	Game        string `json:"game"`
	ID          uint16 `json:"id"`
	Players     uint8  `json:"players"`
	MaxPlayers  uint8  `json:"max_players"`
	Bots        uint8  `json:"bots"`
	ServerType  string `json:"server_type"`
	Environment string `json:"environment"`
	Visibility  bool   `json:"visibility"`
	VAC         bool   `json:"vac"`
	Version     string `json:"version"`
	EDF         uint8  `json:"edf"`
}

func fromServerInfo(si *goa2s.ServerInfo) *Info {
	return &Info{
		Protocol:    si.Protocol,
		Name:        si.Name,
		Map:         si.Map,
		Folder:      si.Folder,
		Game:        si.Game,
		ID:          si.ID,
		Players:     si.Players,
		MaxPlayers:  si.MaxPlayers,
		Bots:        si.Bots,
		ServerType:  si.ServerType.String(),
		Environment: si.ServerOS.String(),
		Visibility:  si.Visibility,
		VAC:         si.VAC,
		Version:     si.Version,
		EDF:         si.EDF,
	}
}

// Client sends A2S_INFO queries to one server. Each call opens its own
// socket, so a Client is safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
}

// New returns a Client for host:port with the given per-query timeout.
func New(host string, port uint16, timeout time.Duration) *Client {
	return &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(int(port))),
		timeout: timeout,
	}
}

// Addr returns the host:port being queried.
func (c *Client) Addr() string { return c.addr }

// Info queries the server once. The library answers a challenge reply by
// resending the request with the challenge attached.
func (c *Client) Info() (*Info, error) {
	client, err := goa2s.NewClient(c.addr, goa2s.TimeoutOption(c.timeout))
	if err != nil {
		return nil, fmt.Errorf("a2s dial %s: %w", c.addr, err)
	}
	defer client.Close()

	si, err := client.QueryInfo()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) {
			return nil, fmt.Errorf("a2s query %s: %w", c.addr, err)
		}
		return nil, fmt.Errorf("a2s query %s: %w: %w", c.addr, ErrMalformed, err)
	}
	return fromServerInfo(si), nil
}
