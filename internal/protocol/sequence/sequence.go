// Package sequence generates CIMD packet sequence numbers.
//
// Applications number their requests with odd values and the message
// center uses even values, so replies never collide with requests
// travelling the other way.
package sequence

import "sync/atomic"

// Generator yields packet sequence numbers in [0,255].
type Generator interface {
	Next() int
}

type counter struct {
	start uint32
	n     atomic.Uint32
}

// NewApplication yields 1,3,5,...,255 and wraps to 1.
func NewApplication() Generator {
	return &counter{start: 1}
}

// NewPeer yields 0,2,4,...,254 and wraps to 0.
func NewPeer() Generator {
	return &counter{start: 0}
}

func (c *counter) Next() int {
	step := c.n.Add(1) - 1
	return int((c.start + 2*step) % 256)
}
