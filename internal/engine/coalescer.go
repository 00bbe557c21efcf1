package engine

import (
	"sync"
	"time"
)

// FlushFunc receives one coalesced batch of messages for a lead, oldest
// first.
type FlushFunc func(leadID string, texts []string)

// Coalescer batches near-simultaneous inbound messages per lead into a
// single turn, so two messages sent seconds apart produce one decision
// instead of two.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingBatch
	flush   FlushFunc
}

type pendingBatch struct {
	texts []string
	timer *time.Timer
}

// NewCoalescer builds a coalescer. A non-positive window flushes every
// message immediately.
func NewCoalescer(window time.Duration, flush FlushFunc) *Coalescer {
	return &Coalescer{
		window:  window,
		pending: make(map[string]*pendingBatch),
		flush:   flush,
	}
}

// Submit queues one message. The first message of a batch starts the window
// timer; later messages join the batch without extending it.
func (c *Coalescer) Submit(leadID, text string) {
	if c.window <= 0 {
		c.flush(leadID, []string{text})
		return
	}

	c.mu.Lock()
	b, ok := c.pending[leadID]
	if ok {
		b.texts = append(b.texts, text)
		c.mu.Unlock()
		return
	}
	b = &pendingBatch{texts: []string{text}}
	b.timer = time.AfterFunc(c.window, func() { c.Flush(leadID) })
	c.pending[leadID] = b
	c.mu.Unlock()
}

// Flush forces the lead's pending batch out immediately. It is a no-op when
// nothing is pending.
func (c *Coalescer) Flush(leadID string) {
	c.mu.Lock()
	b, ok := c.pending[leadID]
	if ok {
		delete(c.pending, leadID)
		b.timer.Stop()
	}
	c.mu.Unlock()

	if ok {
		c.flush(leadID, b.texts)
	}
}

// FlushAll drains every pending batch, for shutdown.
func (c *Coalescer) FlushAll() {
	c.mu.Lock()
	leads := make([]string, 0, len(c.pending))
	for leadID := range c.pending {
		leads = append(leads, leadID)
	}
	c.mu.Unlock()

	for _, leadID := range leads {
		c.Flush(leadID)
	}
}
