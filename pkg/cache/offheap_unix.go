//go:build linux || darwin || freebsd || netbsd || openbsd

package cache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocateOffHeap maps size bytes of anonymous memory outside the Go heap.
// The memory is zeroed and page aligned.
func allocateOffHeap(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, size, err)
	}
	return b, nil
}

// releaseOffHeap unmaps memory returned by allocateOffHeap.
func releaseOffHeap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
