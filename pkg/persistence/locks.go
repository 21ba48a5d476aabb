package persistence

import (
	"sync"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// KeyedMutex serializes work per account within one process. Backends with
// optimistic transactions take it around ApplyClaim so claims against the same
// distributor queue up instead of exhausting their conflict retries. The zero
// value is ready to use. Entries are never removed.
type KeyedMutex struct {
	locks sync.Map
}

// Lock blocks until key is held and returns the matching unlock.
func (k *KeyedMutex) Lock(key types.Account) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
