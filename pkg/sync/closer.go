package sync

import "sync"

// Closer implements a simple one-way signal for graceful shutdown. A worker
// selects on Done and calls Close exactly once when it has finished cleaning
// up, after which Wait unblocks.
type Closer struct {
	closeOnce sync.Once
	doneCh    chan struct{}
}

func NewCloser() *Closer {
	return &Closer{doneCh: make(chan struct{})}
}

// Done returns the channel that is closed when Close is called.
func (c *Closer) Done() <-chan struct{} {
	return c.doneCh
}

// Close closes the done channel. Safe to call more than once.
func (c *Closer) Close() {
	c.closeOnce.Do(func() { close(c.doneCh) })
}

// Wait blocks until Close has been called.
func (c *Closer) Wait() {
	<-c.doneCh
}
