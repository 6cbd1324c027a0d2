package lock

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a sync.Locker for very short critical sections, such as a
// queue push or pop. The zero value is unlocked.
type SpinLock uint32

const maxBackOff = 32

func (sl *SpinLock) Lock() {
	backoff := 1
	for !sl.TryLock() {
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackOff {
			backoff <<= 1
		}
	}
}

func (sl *SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32((*uint32)(sl), 0, 1)
}

func (sl *SpinLock) Unlock() {
	if !atomic.CompareAndSwapUint32((*uint32)(sl), 1, 0) {
		panic("lock: unlock of unlocked SpinLock")
	}
}
