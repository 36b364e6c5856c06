//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package cache

// allocateOffHeap falls back to the Go heap where anonymous mmap is unavailable.
func allocateOffHeap(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	return make([]byte, size), nil
}

func releaseOffHeap([]byte) error { return nil }
