package convstate

import (
	"sync"

	"github.com/relaydesk/relaydesk/internal/core"
)

// LockTable hands out per-conversation exclusive locks. A conversation
// never has two messages in flight: the second caller gets
// ErrConcurrentProcessing instead of queueing.
type LockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]struct{})}
}

// Acquire claims the lock for conversationID and returns a release func.
// Release is idempotent and must run on every exit path.
func (t *LockTable) Acquire(conversationID string) (release func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, taken := t.held[conversationID]; taken {
		return nil, core.ErrConcurrentProcessing
	}
	t.held[conversationID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.held, conversationID)
			t.mu.Unlock()
		})
	}, nil
}
