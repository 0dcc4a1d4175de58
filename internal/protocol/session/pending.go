package session

import (
	"sync"

	"github.com/danmuck/cimd/internal/protocol"
)

// replyRegistry holds one waiter per outstanding request, keyed by sequence
// number. Each waiter receives at most one packet.
type replyRegistry struct {
	mu    sync.Mutex
	items map[int]chan protocol.Packet
}

func newReplyRegistry() *replyRegistry {
	return &replyRegistry{
		items: make(map[int]chan protocol.Packet),
	}
}

func (r *replyRegistry) register(seq int) <-chan protocol.Packet {
	ch := make(chan protocol.Packet, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[seq] = ch
	return ch
}

func (r *replyRegistry) remove(seq int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, seq)
}

// deliver hands reply to its waiter and reports whether one was found. Nack
// and general error replies carry a peer-chosen sequence number and go to
// the sole outstanding request.
func (r *replyRegistry) deliver(reply protocol.Packet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, found := -1, false
	if reply.IsNack() || reply.IsGeneralErrorResponse() {
		if len(r.items) == 1 {
			for seq := range r.items {
				key, found = seq, true
			}
		}
	} else if seq, ok := reply.Sequence(); ok {
		_, found = r.items[seq]
		key = seq
	}
	if !found {
		return false
	}
	ch := r.items[key]
	delete(r.items, key)
	ch <- reply
	return true
}

func (r *replyRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
