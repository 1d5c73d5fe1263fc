//go:build !linux && !darwin

package vmem

// NewSystemMapper degrades to the heap mapper on platforms without the mmap
// reservation path.
func NewSystemMapper() Mapper {
	return NewHeapMapper()
}
