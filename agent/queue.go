package agent

import "sync"

// Mailbox queues user messages that arrive while a run is in progress.
// Channel adapters offer messages; the loop polls one message per iteration
// boundary. Poll consumes atomically, so a message is delivered at most once.
type Mailbox struct {
	mu      sync.Mutex
	pending []string
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Offer appends a message for later injection.
func (m *Mailbox) Offer(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, text)
}

// Poll removes and returns the oldest pending message. It never blocks.
func (m *Mailbox) Poll() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return "", false
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg, true
}

// Len reports the number of pending messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PollFunc adapts the mailbox to the queue-poll capability.
func (m *Mailbox) PollFunc() QueuePollFunc {
	return m.Poll
}
