package session

import (
	"sync"

	"github.com/gammazero/deque"
)

type event func()

// mailbox is the unbounded FIFO in front of the event loop. Posting never
// blocks so pion and transport goroutines can post from their callbacks.
type mailbox struct {
	mu     sync.Mutex
	queue  deque.Deque[event]
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post returns false once the mailbox is closed
func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue.PushBack(ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}

	return true
}

func (m *mailbox) pop() (event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Len() == 0 {
		return nil, false
	}
	return m.queue.PopFront(), true
}

// close refuses further posts and hands back what is still queued
func (m *mailbox) close() []event {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	rest := make([]event, 0, m.queue.Len())
	for m.queue.Len() > 0 {
		rest = append(rest, m.queue.PopFront())
	}
	return rest
}
