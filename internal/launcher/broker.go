package launcher

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each status subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// StatusEvent is one status change of an execution.
type StatusEvent struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// StatusBroker fans execution status changes out to subscribers. It is safe
// for concurrent use.
//
// A topic lives only while it has subscribers or until its execution
// finishes. Nothing is kept for finished executions: the terminal status is
// written to the store before Close, so a late subscriber learns it from
// there.
type StatusBroker struct {
	mu     sync.Mutex
	topics map[string]*statusTopic
}

type statusTopic struct {
	subs   map[int]chan StatusEvent
	nextID int
}

// NewStatusBroker creates a new status broker.
func NewStatusBroker() *StatusBroker {
	return &StatusBroker{
		topics: make(map[string]*statusTopic),
	}
}

// Subscribe returns a channel of status events for the given execution and
// an unsubscribe function. The channel is closed when the execution
// finishes. Callers must check the stored status after subscribing, since an
// execution that already finished never closes the new channel.
func (b *StatusBroker) Subscribe(executionID string) (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		t = &statusTopic{subs: make(map[int]chan StatusEvent)}
		b.topics[executionID] = t
	}

	ch := make(chan StatusEvent, subscriberBufferSize)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if len(t.subs) == 0 && b.topics[executionID] == t {
			delete(b.topics, executionID)
		}
	}
}

// Publish sends ev to all subscribers of its execution. Events are dropped
// for subscribers whose buffers are full.
func (b *StatusBroker) Publish(ev StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.ExecutionID]
	if !ok {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that the execution reached a terminal status. All subscriber
// channels are closed and the topic is dropped.
func (b *StatusBroker) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		return
	}
	delete(b.topics, executionID)
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// topicCount returns the number of live topics.
func (b *StatusBroker) topicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
