package status

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/mcwatch/internal/protocol"
	"github.com/1ureka/mcwatch/internal/util"
)

// ErrStopped is returned by Subscribe and Unsubscribe once Run has returned.
var ErrStopped = errors.New("status job stopped")

// Default poll intervals.
const (
	DefaultPingInterval   = 5 * time.Second
	DefaultStatusInterval = 60 * time.Second
)

// Prober is the probe surface the job polls. *probe.Prober satisfies it.
type Prober interface {
	Ping(payload int64) (protocol.PingResponse, error)
	Status() (*protocol.StatusResponse, error)
}

// Config controls one job.
type Config struct {
	Topic          string
	PingInterval   time.Duration
	StatusInterval time.Duration
	PingPayload    int64
}

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
)

type command struct {
	kind  commandKind
	id    SubscriberID
	queue *Queue
	reply chan struct{}
}

// Job polls one server and fans its status changes out to subscribers.
//
// Goroutines: a fast loop (Ping), a slow loop (Status) and one consumer
// that owns the snapshot and the target set. All state changes go through
// the consumer, so no locks are needed.
type Job struct {
	cfg    Config
	prober Prober
	log    util.Logger

	updates chan result
	cmds    chan command
	done    chan struct{}
}

// NewJob creates a job. Call Run to start polling.
func NewJob(cfg Config, prober Prober) *Job {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	return &Job{
		cfg:     cfg,
		prober:  prober,
		log:     util.NewLogger("status").With("topic", cfg.Topic),
		updates: make(chan result, 16),
		cmds:    make(chan command),
		done:    make(chan struct{}),
	}
}

// Topic returns the topic name this job publishes under.
func (j *Job) Topic() string { return j.cfg.Topic }

// Run polls until ctx is cancelled. In-flight probes are not interrupted;
// their loops exit as soon as the probe returns.
func (j *Job) Run(ctx context.Context) error {
	defer close(j.done)

	go j.poll(ctx, j.cfg.PingInterval, func() result {
		_, err := j.prober.Ping(j.cfg.PingPayload)
		return result{kind: pingResult, err: err}
	})
	go j.poll(ctx, j.cfg.StatusInterval, func() result {
		resp, err := j.prober.Status()
		return result{kind: statusResult, status: resp, err: err}
	})

	j.consume(ctx)
	return ctx.Err()
}

// poll runs probe immediately and then once per interval.
func (j *Job) poll(ctx context.Context, interval time.Duration, probe func() result) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r := probe()
		util.Stats.AddProbe(r.err)
		if r.err != nil {
			j.log.Debug("%s probe failed: %v", r.kind, r.err)
		} else {
			j.log.Debug("%s probe ok", r.kind)
		}

		select {
		case j.updates <- r:
		case <-ctx.Done():
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// consume is the only goroutine that touches the snapshot and targets.
func (j *Job) consume(ctx context.Context) {
	st := newState(j.cfg.Topic)
	targets := make(map[SubscriberID]*Queue)

	for {
		select {
		case r := <-j.updates:
			wasOnline := st.current.Online
			events := st.apply(r)
			if st.current.Online != wasOnline {
				if st.current.Online {
					j.log.Info("server is online")
				} else {
					j.log.Warn("server is offline: %s", st.current.Reason)
				}
			}
			for _, ev := range events {
				j.broadcast(targets, ev)
			}

		case c := <-j.cmds:
			switch c.kind {
			case cmdSubscribe:
				targets[c.id] = c.queue
				if !deliver(c.queue, st.initial()) {
					delete(targets, c.id)
					j.log.Warn("subscriber %d dropped before initial event", c.id)
				} else {
					j.log.Debug("subscriber %d joined (%d targets)", c.id, len(targets))
				}
			case cmdUnsubscribe:
				delete(targets, c.id)
				j.log.Debug("subscriber %d left (%d targets)", c.id, len(targets))
			}
			close(c.reply)

		case <-ctx.Done():
			return
		}
	}
}

// broadcast offers ev to every target, dropping those that refuse it.
func (j *Job) broadcast(targets map[SubscriberID]*Queue, ev Event) {
	for id, q := range targets {
		if !deliver(q, ev) {
			delete(targets, id)
			j.log.Warn("subscriber %d dropped: queue full or closed", id)
		}
	}
}

// deliver offers ev to q. A refused event closes q, which tells the owning
// connection it has been dropped.
func deliver(q *Queue, ev Event) bool {
	if q.TrySend(ev) {
		util.Stats.AddSent()
		return true
	}
	util.Stats.AddDropped()
	q.Close()
	return false
}

// Subscribe adds q as a target. By the time Subscribe returns, q has been
// offered an Initial event carrying the current snapshot. Run must be
// running.
func (j *Job) Subscribe(id SubscriberID, q *Queue) error {
	return j.send(command{kind: cmdSubscribe, id: id, queue: q})
}

// Unsubscribe removes the target with the given id. Removing an unknown id
// is not an error.
func (j *Job) Unsubscribe(id SubscriberID) error {
	return j.send(command{kind: cmdUnsubscribe, id: id})
}

func (j *Job) send(c command) error {
	c.reply = make(chan struct{})
	select {
	case j.cmds <- c:
	case <-j.done:
		return ErrStopped
	}
	select {
	case <-c.reply:
		return nil
	case <-j.done:
		return ErrStopped
	}
}
