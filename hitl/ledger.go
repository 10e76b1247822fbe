package hitl

import "sync"

// Ledger is the set of interrupt IDs already resolved in the current
// conversation. It is safe for concurrent use.
type Ledger struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{ids: make(map[string]struct{})}
}

// Add marks id as handled. Empty IDs are ignored.
func (l *Ledger) Add(id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	l.ids[id] = struct{}{}
	l.mu.Unlock()
}

// Remove forgets id.
func (l *Ledger) Remove(id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	delete(l.ids, id)
	l.mu.Unlock()
}

// Contains reports whether id was handled. It is always false for "".
func (l *Ledger) Contains(id string) bool {
	if id == "" {
		return false
	}
	l.mu.RLock()
	_, ok := l.ids[id]
	l.mu.RUnlock()
	return ok
}

// Clear forgets every entry.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.ids = make(map[string]struct{})
	l.mu.Unlock()
}

// Len returns the number of handled IDs.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
