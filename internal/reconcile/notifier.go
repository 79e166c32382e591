package reconcile

import "sync"

// notifier fans a "collection changed" signal out to any number of
// listeners (the WebSocket handler, tests). Signals are coalescing:
// each listener channel holds at most one pending signal.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan struct{})}
}

func (n *notifier) subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Listener already has a pending signal
		}
	}
}
