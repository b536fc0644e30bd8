package metadata_test

import (
	"math"
	"math/rand"
	"testing"

	heaputils "github.com/quan-nguyen-2/memory-allocator-built-around-doubly-linked-lists"
	"github.com/quan-nguyen-2/memory-allocator-built-around-doubly-linked-lists/metadata"
	"github.com/stretchr/testify/require"
)

func TestInitTooSmall(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	err := heap.Init(metadata.BlockOverhead - 1)
	require.Error(t, err)

	// The smallest legal heap hosts exactly one zero-payload block
	err = heap.Init(metadata.BlockOverhead)
	require.NoError(t, err)
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, metadata.BlockOverhead, heap.AvailableList().Bytes())
	require.Equal(t, 0, heap.SumFreeSize())
	require.NoError(t, heap.Validate())
}

func TestInitSeedsSingleAvailableBlock(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 4096, heap.AvailableList().Bytes())
	require.Equal(t, 4056, heap.SumFreeSize())
	require.Equal(t, 0, heap.UsedList().Length())
	require.Equal(t, 0, heap.UsedList().Bytes())
	require.True(t, heap.IsEmpty())

	var stats heaputils.DetailedStatistics
	stats.Clear()
	heap.AddDetailedStatistics(&stats)

	require.Equal(t, heaputils.DetailedStatistics{
		Statistics: heaputils.Statistics{
			HeapCount:       1,
			HeapBytes:       4096,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		FreeRangeCount:    1,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRangeSizeMin:  4056,
		FreeRangeSizeMax:  4056,
	}, stats)

	require.NoError(t, heap.Validate())
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	ptr, ok := heap.Allocate(100)
	require.True(t, ok)

	require.Equal(t, 1, heap.UsedList().Length())
	require.Equal(t, 140, heap.UsedList().Bytes())
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 3956, heap.AvailableList().Bytes())
	require.Equal(t, 3916, heap.SumFreeSize())
	require.NoError(t, heap.Validate())

	var stats heaputils.Statistics
	stats.Clear()
	heap.AddStatistics(&stats)
	require.Equal(t, heaputils.Statistics{
		HeapCount:       1,
		AllocationCount: 1,
		HeapBytes:       4096,
		AllocationBytes: 100,
	}, stats)

	heap.Free(ptr)

	require.Equal(t, 0, heap.UsedList().Length())
	require.Equal(t, 0, heap.UsedList().Bytes())
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 4096, heap.AvailableList().Bytes())
	require.Equal(t, 4056, heap.SumFreeSize())
	require.True(t, heap.IsEmpty())
	require.NoError(t, heap.Validate())
}

func TestFirstFitIsDeterministic(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	ptrA, ok := heap.Allocate(500)
	require.True(t, ok)
	_, ok = heap.Allocate(60)
	require.True(t, ok)
	ptrC, ok := heap.Allocate(100)
	require.True(t, ok)
	_, ok = heap.Allocate(60)
	require.True(t, ok)

	// Freed blocks go to the front of the available list, so the list order
	// after these two frees is [500, 100, tail]
	heap.Free(ptrC)
	heap.Free(ptrA)
	require.Equal(t, 3, heap.AvailableList().Length())
	require.NoError(t, heap.Validate())

	// 80 bytes would fit in the 100-byte block, but first-fit must carve the
	// 500-byte block at the front of the list
	ptr, ok := heap.Allocate(80)
	require.True(t, ok)
	require.Equal(t, ptrA, ptr)
	require.NotEqual(t, ptrC, ptr)

	// The split remainder of the 500-byte block leads the list now
	var frontSize int
	heap.AvailableList().VisitBlocks(func(offset, size int, state metadata.BlockState) bool {
		frontSize = size
		return true
	})
	require.Equal(t, 380, frontSize)
	require.Equal(t, 3, heap.AvailableList().Length())
	require.NoError(t, heap.Validate())
}

func TestCoalescingIsOrderIndependent(t *testing.T) {
	freeOrders := [][3]int{
		{0, 1, 2},
		{0, 2, 1},
		{1, 0, 2},
		{1, 2, 0},
		{2, 0, 1},
		{2, 1, 0},
	}

	for _, order := range freeOrders {
		heap := metadata.NewExplicitListMetadata()
		require.NoError(t, heap.Init(4096))

		var ptrs [3]int
		var ok bool
		ptrs[0], ok = heap.Allocate(100)
		require.True(t, ok)
		ptrs[1], ok = heap.Allocate(200)
		require.True(t, ok)
		ptrs[2], ok = heap.Allocate(300)
		require.True(t, ok)

		// Keep a used block between the three targets and the tail so the
		// merged block is observable on its own
		ptrGuard, ok := heap.Allocate(50)
		require.True(t, ok)

		for _, index := range order {
			heap.Free(ptrs[index])
			require.NoError(t, heap.Validate())
		}

		// 100 + 200 + 300 plus the two reclaimed header/footer pairs
		mergedSize := 0
		heap.AvailableList().VisitBlocks(func(offset, size int, state metadata.BlockState) bool {
			if size == 680 {
				mergedSize = size
			}
			return false
		})
		require.Equal(t, 680, mergedSize, "free order %v did not coalesce", order)
		require.Equal(t, 2, heap.AvailableList().Length())

		heap.Free(ptrGuard)
		require.Equal(t, 1, heap.AvailableList().Length())
		require.Equal(t, 4096, heap.AvailableList().Bytes())
		require.Equal(t, 4056, heap.SumFreeSize())
		require.True(t, heap.IsEmpty())
		require.NoError(t, heap.Validate())
	}
}

func TestDoubleFreeIsNoOp(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	ptr, ok := heap.Allocate(128)
	require.True(t, ok)
	heap.Free(ptr)

	availLength := heap.AvailableList().Length()
	availBytes := heap.AvailableList().Bytes()

	heap.Free(ptr)

	require.Equal(t, availLength, heap.AvailableList().Length())
	require.Equal(t, availBytes, heap.AvailableList().Bytes())
	require.Equal(t, 0, heap.UsedList().Length())
	require.NoError(t, heap.Validate())
}

func TestAllocateExhausted(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	// The fit test reserves BlockOverhead on top of the request, so 4017
	// cannot be satisfied from a 4056-byte block
	_, ok := heap.Allocate(4017)
	require.False(t, ok)
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 4096, heap.AvailableList().Bytes())
	require.Equal(t, 0, heap.UsedList().Length())
	require.NoError(t, heap.Validate())

	// 4016 consumes everything, leaving a zero-payload remainder block
	_, ok = heap.Allocate(4016)
	require.True(t, ok)
	require.Equal(t, 1, heap.UsedList().Length())
	require.Equal(t, 4056, heap.UsedList().Bytes())
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, metadata.BlockOverhead, heap.AvailableList().Bytes())
	require.Equal(t, 0, heap.SumFreeSize())
	require.NoError(t, heap.Validate())

	_, ok = heap.Allocate(1)
	require.False(t, ok)
}

func TestZeroByteAllocate(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(120))
	require.Equal(t, 80, heap.SumFreeSize())

	ptr, ok := heap.Allocate(0)
	require.True(t, ok)
	require.Equal(t, 1, heap.UsedList().Length())
	require.Equal(t, metadata.BlockOverhead, heap.UsedList().Bytes())
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 80, heap.AvailableList().Bytes())
	require.NoError(t, heap.Validate())

	heap.Free(ptr)
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 120, heap.AvailableList().Bytes())
	require.Equal(t, 80, heap.SumFreeSize())
	require.NoError(t, heap.Validate())
}

func TestPayloadAliasesHeap(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	ptr, ok := heap.Allocate(64)
	require.True(t, ok)

	payload := heap.Payload(ptr)
	require.Len(t, payload, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	// A second allocation must not disturb the first block's contents
	ptr2, ok := heap.Allocate(64)
	require.True(t, ok)
	other := heap.Payload(ptr2)
	for i := range other {
		other[i] = 0xFF
	}

	payload = heap.Payload(ptr)
	for i := range payload {
		require.Equal(t, byte(i), payload[i])
	}
	require.NoError(t, heap.Validate())

	heap.Free(ptr)
	require.Panics(t, func() {
		heap.Payload(ptr)
	})
}

func TestVisitAllRegionsTilesHeap(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	ptr, ok := heap.Allocate(100)
	require.True(t, ok)
	_, ok = heap.Allocate(200)
	require.True(t, ok)
	heap.Free(ptr)

	lastOffset := -1
	totalBytes := 0
	regions := 0
	err := heap.VisitAllRegions(func(offset, size int, state metadata.BlockState) error {
		require.Greater(t, offset, lastOffset)
		lastOffset = offset
		totalBytes += size + metadata.BlockOverhead
		regions++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4096, totalBytes)
	require.Equal(t, heap.AvailableList().Length()+heap.UsedList().Length(), regions)
}

func TestClearFreesEverything(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))

	for i := 0; i < 5; i++ {
		_, ok := heap.Allocate(100)
		require.True(t, ok)
	}
	require.Equal(t, 5, heap.AllocationCount())

	heap.Clear()

	require.True(t, heap.IsEmpty())
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, 4056, heap.SumFreeSize())
	require.NoError(t, heap.Validate())
}

func TestCleanupInvalidatesHeap(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(4096))
	require.NoError(t, heap.Validate())

	heap.Cleanup()
	require.Error(t, heap.Validate())
	require.Equal(t, 0, heap.Size())
}

func TestRandomWorkloadMaintainsInvariants(t *testing.T) {
	heap := metadata.NewExplicitListMetadata()
	require.NoError(t, heap.Init(1 << 16))

	rng := rand.New(rand.NewSource(1337))
	var live []int

	for i := 0; i < 1000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			ptr, ok := heap.Allocate(rng.Intn(256))
			if ok {
				live = append(live, ptr)
			}
		} else {
			index := rng.Intn(len(live))
			heap.Free(live[index])
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		require.NoError(t, heap.Validate())
		require.Equal(t, len(live), heap.AllocationCount())
	}

	for _, ptr := range live {
		heap.Free(ptr)
	}

	// Exhaustive coalescing must collapse the heap back to one block
	require.True(t, heap.IsEmpty())
	require.Equal(t, 1, heap.AvailableList().Length())
	require.Equal(t, (1<<16)-metadata.BlockOverhead, heap.SumFreeSize())
	require.NoError(t, heap.Validate())
}
