// Package stats holds the only in-memory state shared between connection
// workers. All counters are updated atomically.
package stats

import "sync/atomic"

// Counter is the page visit counter behind GET /count
type Counter struct {
	n atomic.Int64
}

// Increment adds one visit and returns the new total
func (c *Counter) Increment() int64 {
	return c.n.Add(1)
}

// Value returns the current total
func (c *Counter) Value() int64 {
	return c.n.Load()
}

// Connections tracks connection and request totals for the admin endpoint
type Connections struct {
	accepted atomic.Int64
	active   atomic.Int64
	requests atomic.Int64
	uploads  atomic.Int64
}

// Snapshot is a point-in-time copy of Connections
type Snapshot struct {
	Accepted int64 `json:"accepted_connections"`
	Active   int64 `json:"active_connections"`
	Requests int64 `json:"requests"`
	Uploads  int64 `json:"uploads"`
}

func (c *Connections) Opened() {
	c.accepted.Add(1)
	c.active.Add(1)
}

func (c *Connections) Closed() {
	c.active.Add(-1)
}

func (c *Connections) Request() {
	c.requests.Add(1)
}

func (c *Connections) Upload() {
	c.uploads.Add(1)
}

func (c *Connections) Snapshot() Snapshot {
	return Snapshot{
		Accepted: c.accepted.Load(),
		Active:   c.active.Load(),
		Requests: c.requests.Load(),
		Uploads:  c.uploads.Load(),
	}
}
