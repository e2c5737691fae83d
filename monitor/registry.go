package monitor

import (
	"sort"
	"sync"
)

// exitRegistry holds the per-key bookkeeping. A key is in pending only
// while some quantity is still uncovered; a key is tracked once its exit is
// settled and must not be handled again.
type exitRegistry struct {
	mu      sync.RWMutex
	pending map[string]int
	tracked map[string]struct{}
	// simulated marks tracked keys settled only by a paper-mode exit.
	simulated map[string]struct{}
	failures  map[string]int
	blocked   map[string]struct{}
}

func newExitRegistry() *exitRegistry {
	return &exitRegistry{
		pending:   make(map[string]int),
		tracked:   make(map[string]struct{}),
		simulated: make(map[string]struct{}),
		failures:  make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

func (r *exitRegistry) pendingQty(key string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qty, ok := r.pending[key]
	return qty, ok
}

func (r *exitRegistry) setPending(key string, qty int) {
	r.mu.Lock()
	r.pending[key] = qty
	r.mu.Unlock()
}

// settle moves key from pending to tracked.
func (r *exitRegistry) settle(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	delete(r.failures, key)
	delete(r.blocked, key)
	delete(r.simulated, key)
	r.tracked[key] = struct{}{}
	r.mu.Unlock()
}

// settleSimulated settles key after a paper-mode exit. Such keys are
// forgotten again when paper mode is switched off.
func (r *exitRegistry) settleSimulated(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	delete(r.failures, key)
	delete(r.blocked, key)
	r.tracked[key] = struct{}{}
	r.simulated[key] = struct{}{}
	r.mu.Unlock()
}

// forgetSimulated drops every key settled only by a paper-mode exit and
// returns them sorted, so the next tick reconciles them against live orders.
func (r *exitRegistry) forgetSimulated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.simulated))
	for key := range r.simulated {
		keys = append(keys, key)
		delete(r.tracked, key)
	}
	r.simulated = make(map[string]struct{})
	sort.Strings(keys)
	return keys
}

func (r *exitRegistry) isTracked(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tracked[key]
	return ok
}

func (r *exitRegistry) isBlocked(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocked[key]
	return ok
}

// recordFailure counts consecutive permanent failures and reports whether the
// key has just become blocked.
func (r *exitRegistry) recordFailure(key string, permanent bool, limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !permanent {
		delete(r.failures, key)
		return false
	}
	r.failures[key]++
	if _, already := r.blocked[key]; already || r.failures[key] < limit {
		return false
	}
	r.blocked[key] = struct{}{}
	return true
}

func (r *exitRegistry) resetFailures(key string) {
	r.mu.Lock()
	delete(r.failures, key)
	r.mu.Unlock()
}

// unblockAll clears every blocked key and returns them sorted.
func (r *exitRegistry) unblockAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.blocked))
	for key := range r.blocked {
		keys = append(keys, key)
		delete(r.failures, key)
	}
	r.blocked = make(map[string]struct{})
	sort.Strings(keys)
	return keys
}

// cleanup forgets keys whose position is no longer long and returns the
// pending keys that were dropped.
func (r *exitRegistry) cleanup(activeKeys map[string]struct{}) (droppedPending, droppedTracked []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.pending {
		if _, ok := activeKeys[key]; !ok {
			droppedPending = append(droppedPending, key)
			delete(r.pending, key)
			delete(r.failures, key)
			delete(r.blocked, key)
		}
	}
	for key := range r.tracked {
		if _, ok := activeKeys[key]; !ok {
			droppedTracked = append(droppedTracked, key)
			delete(r.tracked, key)
			delete(r.simulated, key)
		}
	}
	sort.Strings(droppedPending)
	sort.Strings(droppedTracked)
	return droppedPending, droppedTracked
}

func (r *exitRegistry) restore(pending map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, qty := range pending {
		if qty > 0 {
			r.pending[key] = qty
		}
	}
}

type registryCounts struct {
	pending int
	tracked int
	blocked int
}

func (r *exitRegistry) counts() registryCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return registryCounts{pending: len(r.pending), tracked: len(r.tracked), blocked: len(r.blocked)}
}

func (r *exitRegistry) pendingSnapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.pending))
	for k, v := range r.pending {
		out[k] = v
	}
	return out
}
