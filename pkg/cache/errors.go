// Package cache holds the compact off-heap caches used while checking a store:
// per-node label sets and per-node relationship-group chains.
package cache

import "errors"

var (
	ErrOutOfMemory        = errors.New("cache: out of memory")
	ErrClosed             = errors.New("cache: closed")
	ErrInvalidHandle      = errors.New("cache: invalid label set handle")
	ErrGroupCountOverflow = errors.New("cache: group count overflow")
	ErrNoFreeSlot         = errors.New("cache: no free slot for group")
	ErrDuplicateGroup     = errors.New("cache: duplicate relationship group type")
	ErrCacheTooSmall      = errors.New("cache: memory budget too small")
	ErrNodeOutOfRange     = errors.New("cache: node id out of range")
	ErrNotPrepared        = errors.New("cache: group cache not prepared")
)
