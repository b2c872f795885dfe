// Package hub tracks live subscribers and routes their topic subscriptions
// to the publisher that serves each topic.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/mcwatch/internal/status"
	"github.com/1ureka/mcwatch/internal/util"
)

// Hub errors. Only ErrClosed is fatal to a caller.
var (
	ErrClosed            = errors.New("hub closed")
	ErrUnknownTopic      = errors.New("unknown topic")
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Publisher serves one topic. *status.Job satisfies it.
type Publisher interface {
	Subscribe(id status.SubscriberID, q *status.Queue) error
	Unsubscribe(id status.SubscriberID) error
}

type op int

const (
	opRegister op = iota
	opUnregister
	opSubscribe
	opUnsubscribe
)

type request struct {
	op    op
	id    status.SubscriberID
	queue *status.Queue
	topic string
	reply chan response
}

type response struct {
	id  status.SubscriberID
	err error
}

type subscriber struct {
	queue  *status.Queue
	topics map[string]struct{}
}

// Hub is an actor: every mutation is a request on one channel, handled in
// arrival order by the goroutine running Run.
type Hub struct {
	publishers map[string]Publisher
	requests   chan request
	done       chan struct{}
	log        util.Logger

	// Owned by Run.
	lastID      status.SubscriberID
	subscribers map[status.SubscriberID]*subscriber
}

// New creates a hub serving the given topics. The topic set is fixed.
func New(publishers map[string]Publisher) *Hub {
	return &Hub{
		publishers:  publishers,
		requests:    make(chan request),
		done:        make(chan struct{}),
		log:         util.NewLogger("hub"),
		subscribers: make(map[status.SubscriberID]*subscriber),
	}
}

// Run serves requests until ctx is cancelled. Afterwards every call
// returns ErrClosed.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case req := <-h.requests:
			req.reply <- h.handle(req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) handle(req request) response {
	switch req.op {
	case opRegister:
		h.lastID++
		h.subscribers[h.lastID] = &subscriber{queue: req.queue, topics: make(map[string]struct{})}
		util.Stats.AddRegistered()
		h.log.Debug("subscriber %d registered", h.lastID)
		return response{id: h.lastID}

	case opUnregister:
		sub, ok := h.subscribers[req.id]
		if !ok {
			return response{err: fmt.Errorf("%w: %d", ErrUnknownSubscriber, req.id)}
		}
		for topic := range sub.topics {
			if err := h.publishers[topic].Unsubscribe(req.id); err != nil {
				h.log.Warn("detach subscriber %d from %s: %v", req.id, topic, err)
			}
		}
		delete(h.subscribers, req.id)
		util.Stats.AddUnregistered()
		h.log.Debug("subscriber %d unregistered", req.id)
		return response{}

	case opSubscribe, opUnsubscribe:
		sub, ok := h.subscribers[req.id]
		if !ok {
			return response{err: fmt.Errorf("%w: %d", ErrUnknownSubscriber, req.id)}
		}
		pub, ok := h.publishers[req.topic]
		if !ok {
			return response{err: fmt.Errorf("%w: %q", ErrUnknownTopic, req.topic)}
		}
		if req.op == opSubscribe {
			if err := pub.Subscribe(req.id, sub.queue); err != nil {
				return response{err: fmt.Errorf("subscribe %s: %w", req.topic, err)}
			}
			sub.topics[req.topic] = struct{}{}
			h.log.Info("subscriber %d joined %s", req.id, req.topic)
			return response{}
		}
		delete(sub.topics, req.topic)
		if err := pub.Unsubscribe(req.id); err != nil {
			return response{err: fmt.Errorf("unsubscribe %s: %w", req.topic, err)}
		}
		h.log.Info("subscriber %d left %s", req.id, req.topic)
		return response{}
	}
	return response{err: fmt.Errorf("unknown hub op %d", req.op)}
}

// call hands req to the actor and waits for its answer.
func (h *Hub) call(ctx context.Context, req request) (status.SubscriberID, error) {
	req.reply = make(chan response, 1)
	select {
	case h.requests <- req:
	case <-h.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.id, resp.err
	case <-h.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Register admits a new subscriber whose events will be delivered to q and
// returns its id. Ids start at 1 and are never reused.
func (h *Hub) Register(ctx context.Context, q *status.Queue) (status.SubscriberID, error) {
	return h.call(ctx, request{op: opRegister, queue: q})
}

// Unregister removes the subscriber and detaches it from every topic it
// joined.
func (h *Hub) Unregister(ctx context.Context, id status.SubscriberID) error {
	_, err := h.call(ctx, request{op: opUnregister, id: id})
	return err
}

// Subscribe joins the subscriber to topic. The topic's publisher offers
// the subscriber an Initial event before Subscribe returns.
func (h *Hub) Subscribe(ctx context.Context, id status.SubscriberID, topic string) error {
	_, err := h.call(ctx, request{op: opSubscribe, id: id, topic: topic})
	return err
}

// Unsubscribe removes the subscriber from topic. Leaving a topic that was
// never joined is not an error.
func (h *Hub) Unsubscribe(ctx context.Context, id status.SubscriberID, topic string) error {
	_, err := h.call(ctx, request{op: opUnsubscribe, id: id, topic: topic})
	return err
}
