package status

import "github.com/1ureka/mcwatch/internal/protocol"

type resultKind int

const (
	pingResult resultKind = iota
	statusResult
)

func (k resultKind) String() string {
	if k == pingResult {
		return "ping"
	}
	return "status"
}

// result is one probe outcome posted by a poll loop.
type result struct {
	kind   resultKind
	status *protocol.StatusResponse // set for successful status probes
	err    error
}

// state is the consumer's private view of the server. apply has no side
// effects beyond mutating current, so it can be driven directly in tests.
type state struct {
	topic   string
	current Snapshot
}

func newState(topic string) *state {
	return &state{topic: topic, current: Uninitialized()}
}

// apply folds r into the snapshot and returns the events it produced, in
// the order they must be delivered.
func (s *state) apply(r result) []Event {
	if r.err != nil {
		return s.fail(r.err)
	}

	switch r.kind {
	case pingResult:
		if s.current.Online {
			return nil
		}
		s.current.Online = true
		s.current.Reason = ""
		return []Event{s.statusChanged()}

	case statusResult:
		wasOnline := s.current.Online
		prevOnline := s.current.Players.Online
		s.current = snapshotFrom(r.status)

		var events []Event
		if !wasOnline {
			events = append(events, s.statusChanged())
		}
		if s.current.Players.Online != prevOnline {
			players := s.current.Players
			events = append(events, Event{
				Type:    EventOnlinePlayersChanged,
				Topic:   s.topic,
				Players: &players,
			})
		}
		return events
	}
	return nil
}

// fail marks the server offline. The rest of the snapshot is kept as the
// last known data.
func (s *state) fail(err error) []Event {
	wasOnline := s.current.Online
	s.current.Online = false
	s.current.Reason = err.Error()
	if !wasOnline {
		return nil
	}
	return []Event{s.statusChanged()}
}

func (s *state) statusChanged() Event {
	online := s.current.Online
	return Event{
		Type:   EventStatusChanged,
		Topic:  s.topic,
		Online: &online,
		Reason: s.current.Reason,
	}
}

// initial returns the Initial event for a new subscriber. The snapshot is
// copied so later mutations never reach a queued event.
func (s *state) initial() Event {
	snap := s.current
	return Event{Type: EventInitial, Topic: s.topic, Status: &snap}
}
