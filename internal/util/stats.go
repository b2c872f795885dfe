package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide subscriber/probe counter.
var Stats = &stats{}

type stats struct {
	Registered    atomic.Int64 // cumulative subscribers registered since process start
	Unregistered  atomic.Int64 // cumulative subscribers unregistered since process start
	EventsSent    atomic.Int64 // events accepted by a subscriber queue
	EventsDropped atomic.Int64 // events refused by a full or closed queue
	ProbesOK      atomic.Int64 // successful probe round trips
	ProbesFailed  atomic.Int64 // failed probe round trips
}

func (s *stats) AddRegistered()   { s.Registered.Add(1) }
func (s *stats) AddUnregistered() { s.Unregistered.Add(1) }
func (s *stats) AddSent()         { s.EventsSent.Add(1) }
func (s *stats) AddDropped()      { s.EventsDropped.Add(1) }

// AddProbe records the outcome of one probe.
func (s *stats) AddProbe(err error) {
	if err != nil {
		s.ProbesFailed.Add(1)
		return
	}
	s.ProbesOK.Add(1)
}

// Live returns the number of currently registered subscribers.
func (s *stats) Live() int64 {
	return s.Registered.Load() - s.Unregistered.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs activity every interval
// in which something happened. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur, prev))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	live, sent, dropped, ok, failed int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		live:    s.Live(),
		sent:    s.EventsSent.Load(),
		dropped: s.EventsDropped.Load(),
		ok:      s.ProbesOK.Load(),
		failed:  s.ProbesFailed.Load(),
	}
}

// formatStats renders the delta between two snapshots for the logger.
func formatStats(cur, prev snapshot) string {
	return fmt.Sprintf("Subscribers: %3d | Events: %4d sent %3d dropped | Probes: %4d ok %3d failed",
		cur.live,
		cur.sent-prev.sent,
		cur.dropped-prev.dropped,
		cur.ok-prev.ok,
		cur.failed-prev.failed,
	)
}
