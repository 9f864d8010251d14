package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out payloads to subscribers grouped by stream key (a deployment instance id).
type Hub struct {
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	counts    chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	key     string
	payload []byte
}

type subscription struct {
	key    string
	client Subscriber
}

type countRequest struct {
	key   string
	reply chan int
}

// NewHub creates a running Hub. buffer bounds queued broadcasts before Broadcast blocks.
func NewHub(buffer int) *Hub {
	if buffer < 0 {
		buffer = 0
	}
	h := &Hub{
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
		counts:    make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	clients := make(map[string]map[Subscriber]struct{})
	for {
		select {
		case <-h.done:
			for _, set := range clients {
				for c := range set {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			if _, ok := clients[sub.key]; !ok {
				clients[sub.key] = make(map[Subscriber]struct{})
			}
			clients[sub.key][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if set, ok := clients[sub.key]; ok {
				delete(set, sub.client)
				if len(set) == 0 {
					delete(clients, sub.key)
				}
			}
		case req := <-h.counts:
			req.reply <- len(clients[req.key])
		case msg := <-h.broadcast:
			if set, ok := clients[msg.key]; ok {
				for c := range set {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(set, c)
					}
				}
				if len(set) == 0 {
					delete(clients, msg.key)
				}
			}
		}
	}
}

// Register adds a client to a stream.
func (h *Hub) Register(key string, client Subscriber) {
	select {
	case h.register <- subscription{key: key, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(key string, client Subscriber) {
	select {
	case h.unreg <- subscription{key: key, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients of a stream.
func (h *Hub) Broadcast(key string, payload []byte) {
	select {
	case h.broadcast <- message{key: key, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients follow a stream.
func (h *Hub) Subscribers(key string) int {
	req := countRequest{key: key, reply: make(chan int, 1)}
	select {
	case h.counts <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
