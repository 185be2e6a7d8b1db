package session

import (
	"sync"

	"github.com/echo-archery/impact.report/internal/vision"
)

// mailbox is a depth-1 handoff between the capture and detection
// goroutines. A new frame overwrites an unconsumed one, so the detector
// always works on the freshest frame and capture never blocks.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *vision.Frame
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores the frame, replacing any frame not yet taken.
func (m *mailbox) put(f *vision.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.frame = f
	m.cond.Signal()
}

// take blocks until a frame is available or the mailbox is closed.
// The second return is false once the mailbox is closed and drained.
func (m *mailbox) take() (*vision.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.frame == nil {
		return nil, false
	}
	f := m.frame
	m.frame = nil
	return f, true
}

// close wakes any blocked take. Pending frames are discarded.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.frame = nil
	m.cond.Broadcast()
}
