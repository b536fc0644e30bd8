package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	heaputils "github.com/quan-nguyen-2/memory-allocator-built-around-doubly-linked-lists"
)

// HeapMetadata represents a single fixed-size heap region. It manages blocks within the
// region, allowing allocations to be requested and freed, as well as enumerated and queried.
type HeapMetadata interface {
	// Init must be called before the HeapMetadata is used. It obtains the backing region for
	// the heap and seeds the metadata with a single available block spanning the whole region.
	// It returns an error if size is too small to host even one block's header and footer-
	// nothing is acquired or mutated in that case.
	Init(size int) error
	// Size retrieves the size in bytes that the heap was initialized with
	Size() int
	// Cleanup releases the backing region. The heap must not be used again after Cleanup-
	// there is no guard against it, and all offsets previously handed out become invalid.
	Cleanup()

	// Validate performs internal consistency checks on the metadata. These checks may be
	// expensive. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but it may assist in diagnosing issues with the
	// implementation.
	Validate() error
	// AllocationCount returns the number of live allocations in the heap. This number should
	// generally be the number of successful Allocate calls minus the number of Free calls.
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the heap.
	// Physically adjacent free regions are always merged eagerly, so this is also the length
	// of the available list.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free payload bytes in the heap, excluding the
	// header/footer overhead of the free blocks holding them.
	SumFreeSize() int
	// IsEmpty will return true if this heap has no live allocations
	IsEmpty() bool

	// Allocate reserves a block with at least size payload bytes and returns the offset of
	// the payload (not the block header). The boolean result is false when no sufficiently
	// large available block exists; the heap is not mutated in that case.
	Allocate(size int) (int, bool)
	// Free releases the allocation whose payload begins at ptr, merging it with any
	// physically adjacent available blocks.
	//
	// ptr must have been returned by Allocate on this heap and not yet freed. A block that
	// is currently marked available is detected and ignored, but this guard is weak: a stale
	// ptr whose block has since been reused by a later Allocate is indistinguishable from a
	// live one, and freeing through it corrupts the caller that owns the block. Passing an
	// offset that was never returned by Allocate is undefined behavior.
	Free(ptr int)

	// VisitAllRegions will call the provided callback once for each block in the heap, in
	// physical address order, whether available or used.
	VisitAllRegions(visit func(offset, size int, state BlockState) error) error

	// AddDetailedStatistics sums this heap's allocation statistics into the statistics
	// currently present in the provided heaputils.DetailedStatistics object.
	AddDetailedStatistics(stats *heaputils.DetailedStatistics)
	// AddStatistics sums this heap's allocation statistics into the statistics currently
	// present in the provided heaputils.Statistics object.
	AddStatistics(stats *heaputils.Statistics)
	// HeapJsonData populates a json object with information about this heap and both of
	// its block lists
	HeapJsonData(json *jwriter.ObjectState)

	// CheckCorruption will return nil if anti-corruption memory markers are present for
	// every allocation in the heap. Bear in mind that the markers are only written when
	// heaputils is built with the build flag `debug_heap_utils`; this method will not return
	// an error when that flag is absent.
	CheckCorruption() error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for
// HeapMetadata implementations in this module.
type BlockMetadataBase struct {
	size int
}

// Init sizes the heap in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the heap in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// HeapJsonDataHeader populates a json object with aggregate information about a heap
func (m *BlockMetadataBase) HeapJsonDataHeader(json *jwriter.ObjectState, freeBytes, allocationCount, freeRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("FreeBytes").Int(freeBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("FreeRanges").Int(freeRangeCount)
}
