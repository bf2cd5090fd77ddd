package cache

import (
	"hash/fnv"
	"sync/atomic"
)

// versionTable holds the local namespace versions in a fixed number of
// atomic slots. Two namespaces hashing to the same slot share a counter, so
// invalidating one also hides the other's local entries; that costs a
// refetch, never a stale read, and keeps memory constant.
type versionTable struct {
	slots []atomic.Uint64
	mask  uint32
}

func newVersionTable(slots int) *versionTable {
	n := 1
	for n < slots {
		n <<= 1
	}
	return &versionTable{
		slots: make([]atomic.Uint64, n),
		mask:  uint32(n - 1),
	}
}

func (v *versionTable) slot(namespace string) *atomic.Uint64 {
	h := fnv.New32a()
	h.Write([]byte(namespace))
	return &v.slots[h.Sum32()&v.mask]
}

func (v *versionTable) current(namespace string) uint64 {
	return v.slot(namespace).Load()
}

func (v *versionTable) bump(namespace string) uint64 {
	return v.slot(namespace).Add(1)
}
