package shm

import (
	"sync/atomic"
	"unsafe"
)

// AtomicLoadUint32 loads a uint32 from shared memory atomically.
func AtomicLoadUint32(addr unsafe.Pointer) uint32 {
	return atomic.LoadUint32((*uint32)(addr))
}

// AtomicAddUint32 adds delta to a uint32 in shared memory and returns the new value.
func AtomicAddUint32(addr unsafe.Pointer, delta uint32) uint32 {
	return atomic.AddUint32((*uint32)(addr), delta)
}

// AtomicCompareAndSwapUint32 atomically compares and swaps a uint32 in shared memory.
func AtomicCompareAndSwapUint32(addr unsafe.Pointer, old, new uint32) bool {
	return atomic.CompareAndSwapUint32((*uint32)(addr), old, new)
}

// AtomicDecrementIfPositive takes one unit from a counter, failing when it is zero.
func AtomicDecrementIfPositive(addr unsafe.Pointer) bool {
	for {
		v := AtomicLoadUint32(addr)
		if v == 0 {
			return false
		}
		if AtomicCompareAndSwapUint32(addr, v, v-1) {
			return true
		}
	}
}
