// Package ws fans job events out to websocket and SSE subscribers.
package ws

import (
	"sync"
	"sync/atomic"
)

// Wildcard subscribes to every job.
const Wildcard = "*"

const (
	broadcastBuffer = 256
	// QueueSize bounds the events waiting for one subscriber. A subscriber
	// that falls this far behind is disconnected.
	QueueSize = 64
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by job ID. Writes happen on one goroutine
// per subscriber, so a stalled peer never holds up the hub or its publishers.
type Hub struct {
	clients   map[string]map[Subscriber]*outbox
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

type message struct {
	jobID   string
	payload []byte
}

type subscription struct {
	jobID  string
	client Subscriber
}

type outbox struct {
	queue chan []byte
	once  sync.Once
}

func (o *outbox) stop() {
	o.once.Do(func() { close(o.queue) })
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*outbox),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan chan int),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c, box := range clients {
					box.stop()
					go c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.jobID]; !ok {
				h.clients[sub.jobID] = make(map[Subscriber]*outbox)
			}
			if _, ok := h.clients[sub.jobID][sub.client]; ok {
				continue
			}
			box := &outbox{queue: make(chan []byte, QueueSize)}
			h.clients[sub.jobID][sub.client] = box
			go h.pump(sub, box)
		case sub := <-h.unreg:
			h.remove(sub.jobID, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.jobID, msg.payload)
			if msg.jobID != Wildcard {
				h.deliver(Wildcard, msg.payload)
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		}
	}
}

// pump writes queued payloads until the queue is closed or a write fails.
func (h *Hub) pump(sub subscription, box *outbox) {
	for payload := range box.queue {
		if err := sub.client.Send(payload); err != nil {
			sub.client.Close()
			h.Unregister(sub.jobID, sub.client)
			return
		}
	}
}

func (h *Hub) deliver(jobID string, payload []byte) {
	for c, box := range h.clients[jobID] {
		select {
		case box.queue <- payload:
		default:
			h.dropped.Add(1)
			h.remove(jobID, c)
			go c.Close()
		}
	}
}

func (h *Hub) remove(jobID string, client Subscriber) {
	clients, ok := h.clients[jobID]
	if !ok {
		return
	}
	if box, ok := clients[client]; ok {
		box.stop()
		delete(clients, client)
	}
	if len(clients) == 0 {
		delete(h.clients, jobID)
	}
}

// Register adds a client to a job stream, or to every stream with Wildcard.
func (h *Hub) Register(jobID string, client Subscriber) {
	select {
	case h.register <- subscription{jobID: jobID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(jobID string, client Subscriber) {
	select {
	case h.unreg <- subscription{jobID: jobID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to the job's clients and to wildcard clients.
// It never blocks: when the hub is saturated the event is dropped and counted.
func (h *Hub) Broadcast(jobID string, payload []byte) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- message{jobID: jobID, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many deliveries were discarded because the hub or a
// subscriber could not keep up.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers reports the number of registered clients.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
