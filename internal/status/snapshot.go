// Package status owns the live status of one monitored server: it polls the
// server on two schedules, keeps the last known snapshot, and pushes typed
// change events to subscriber queues.
package status

import "github.com/1ureka/mcwatch/internal/protocol"

// ReasonNotPolled is the offline reason of the initial snapshot.
const ReasonNotPolled = "not polled yet"

// Snapshot is the last known state of the server. It starts out as the
// uninitialized sentinel and is only ever modified by the job's consumer.
type Snapshot struct {
	Online      bool                   `json:"online"`
	Reason      string                 `json:"reason,omitempty"`
	Description string                 `json:"description"`
	Players     protocol.Players       `json:"players"`
	Version     protocol.Version       `json:"version"`
	Favicon     string                 `json:"favicon,omitempty"`
	Mods        *protocol.ForgeModList `json:"mods,omitempty"`
}

// Uninitialized returns the sentinel snapshot used before the first poll.
func Uninitialized() Snapshot {
	return Snapshot{Reason: ReasonNotPolled}
}

// snapshotFrom builds an online snapshot from a status reply.
func snapshotFrom(resp *protocol.StatusResponse) Snapshot {
	s := Snapshot{
		Online:      true,
		Description: resp.Description.Text,
		Players:     resp.Players,
		Version:     resp.Version,
		Favicon:     resp.Favicon,
	}
	if resp.ForgeData != nil {
		s.Mods = resp.ForgeData.Mods
	}
	return s
}

// EventType tags every event sent to subscribers.
type EventType string

const (
	EventInitial              EventType = "Initial"
	EventStatusChanged        EventType = "StatusChanged"
	EventOnlinePlayersChanged EventType = "OnlinePlayersChanged"
)

// Event is one notification for a subscriber. Which fields are set depends
// on Type: Initial carries Status; StatusChanged carries Online and
// Reason; OnlinePlayersChanged carries Players.
type Event struct {
	Type    EventType         `json:"type"`
	Topic   string            `json:"topic"`
	Status  *Snapshot         `json:"status,omitempty"`
	Online  *bool             `json:"online,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Players *protocol.Players `json:"players,omitempty"`
}
