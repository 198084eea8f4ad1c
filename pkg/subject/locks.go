package subject

import "sync"

// LockTable hands out one mutex per subject code. Entries are never
// removed; the number of subjects on a server is small.
type LockTable struct {
	locks sync.Map // code -> *sync.Mutex
}

// Lock acquires the lock for code and returns its release function.
func (t *LockTable) Lock(code string) (unlock func()) {
	v, _ := t.locks.LoadOrStore(code, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
