package streaming

import "sync"

// accountLocks hands out one mutex per account. Entries are reference
// counted and dropped once no goroutine holds or waits for them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

// lock blocks until the account's mutex is held and returns its release func
func (l *accountLocks) lock(accountID string) func() {
	l.mu.Lock()
	al, ok := l.locks[accountID]
	if !ok {
		al = &accountLock{}
		l.locks[accountID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()

	return func() {
		al.mu.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, accountID)
		}
		l.mu.Unlock()
	}
}

func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
