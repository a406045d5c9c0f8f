package engine

import "sync"

// parker is the resumable handle of one worker. The channel holds at most one
// wake token, so a wake that lands before the worker blocks is not lost.
type parker struct {
	wake chan struct{}
}

func newParker() *parker {
	return &parker{wake: make(chan struct{}, 1)}
}

// idleRegistry is the set of workers currently parked (or about to park).
type idleRegistry struct {
	mu      sync.Mutex
	parkers []*parker
}

func (r *idleRegistry) register(p *parker) {
	r.mu.Lock()
	r.parkers = append(r.parkers, p)
	idleWorkers.Inc()
	r.mu.Unlock()
}

// withdraw removes p if it is still registered. It returns false when a
// waker already took p out, in which case a token is on its way.
func (r *idleRegistry) withdraw(p *parker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.parkers {
		if q == p {
			r.parkers = append(r.parkers[:i], r.parkers[i+1:]...)
			idleWorkers.Dec()
			return true
		}
	}
	return false
}

// wakeOne removes the most recently parked worker and hands it a token.
// The handle leaves the registry before the token is sent, so it can never be
// woken twice for one registration.
func (r *idleRegistry) wakeOne() bool {
	r.mu.Lock()
	n := len(r.parkers)
	if n == 0 {
		r.mu.Unlock()
		return false
	}
	p := r.parkers[n-1]
	r.parkers[n-1] = nil
	r.parkers = r.parkers[:n-1]
	idleWorkers.Dec()
	r.mu.Unlock()

	p.wake <- struct{}{}
	return true
}

// wakeAll resumes every parked worker. Used on shutdown.
func (r *idleRegistry) wakeAll() {
	r.mu.Lock()
	parked := r.parkers
	r.parkers = nil
	idleWorkers.Sub(float64(len(parked)))
	r.mu.Unlock()

	for _, p := range parked {
		p.wake <- struct{}{}
	}
}

func (r *idleRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parkers)
}
