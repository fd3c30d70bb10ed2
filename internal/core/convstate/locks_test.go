package convstate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
)

func TestLockTableExclusive(t *testing.T) {
	tbl := NewLockTable()

	release, err := tbl.Acquire("c1")
	require.NoError(t, err)

	_, err = tbl.Acquire("c1")
	assert.ErrorIs(t, err, core.ErrConcurrentProcessing)

	// A different conversation is unaffected.
	rel2, err := tbl.Acquire("c2")
	require.NoError(t, err)
	rel2()

	release()
	rel3, err := tbl.Acquire("c1")
	require.NoError(t, err)
	rel3()
}

func TestLockTableReleaseIdempotent(t *testing.T) {
	tbl := NewLockTable()

	release, err := tbl.Acquire("c1")
	require.NoError(t, err)
	release()
	release()

	rel, err := tbl.Acquire("c1")
	require.NoError(t, err)

	// Stale double-release must not free the new holder's lock.
	release()
	_, err = tbl.Acquire("c1")
	assert.ErrorIs(t, err, core.ErrConcurrentProcessing)
	rel()
}

func TestLockTableConcurrent(t *testing.T) {
	tbl := NewLockTable()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tbl.Acquire("c1"); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one goroutine may hold the lock")
}
