package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	heaputils "github.com/quan-nguyen-2/memory-allocator-built-around-doubly-linked-lists"
	"golang.org/x/exp/slog"
)

// ExplicitListMetadata is a HeapMetadata implementation that manages its region as an
// explicit list allocator: every block carries a boundary tag (its size duplicated in a
// header and a footer), blocks tile the region with no gaps, and two sentinel-bounded
// doubly-linked lists track the available and used blocks. Allocation is first-fit with
// splitting; freeing eagerly merges the block with both physical neighbors, so no two
// adjacent blocks are ever both available.
//
// Blocks are identified by byte offsets into the owned buffer. A block's physical
// neighbors are derived purely from the size fields stored in the buffer itself- there is
// no index of blocks outside the heap.
//
// The metadata is not safe for concurrent use. Every method assumes a single logical
// caller, and none of them may be invoked before Init or after Cleanup.
type ExplicitListMetadata struct {
	BlockMetadataBase

	memory    []byte
	heapStart int
	heapEnd   int

	avail BlockList
	used  BlockList
}

var _ HeapMetadata = &ExplicitListMetadata{}

func NewExplicitListMetadata() *ExplicitListMetadata {
	return &ExplicitListMetadata{}
}

// Init obtains the backing buffer for a heap of size bytes and seeds it with one available
// block of size-BlockOverhead payload bytes. It fails, mutating nothing, if size cannot
// host even that one block.
func (m *ExplicitListMetadata) Init(size int) error {
	if size < BlockOverhead {
		return errors.Errorf("heap size %d is too small for the block overhead %d", size, BlockOverhead)
	}

	// The margin is tiled with 4-byte magic values, so it must stay a power of two
	heaputils.DebugCheckPow2(uint(heaputils.DebugMargin), "debug margin")

	m.BlockMetadataBase.Init(size)
	m.memory = make([]byte, sentinelRegionSize+size)
	m.heapStart = sentinelRegionSize
	m.heapEnd = sentinelRegionSize + size

	m.avail.init(m, "available", availBeginOffset, availEndOffset)
	m.used.init(m, "used", usedBeginOffset, usedEndOffset)

	block := m.heapStart
	payload := size - BlockOverhead
	m.setBlockSize(block, payload)
	m.setBlockState(block, BlockStateAvailable)
	m.setFooterSize(m.footerOf(block), payload)
	m.avail.addFront(block)

	return nil
}

// Cleanup releases the backing buffer. Offsets previously returned by Allocate are invalid
// afterward, and no method may be called again without a fresh Init.
func (m *ExplicitListMetadata) Cleanup() {
	m.BlockMetadataBase.Init(0)
	m.memory = nil
	m.heapStart = 0
	m.heapEnd = 0
	m.avail = BlockList{}
	m.used = BlockList{}
}

// AvailableList exposes the available block list for diagnostics.
func (m *ExplicitListMetadata) AvailableList() *BlockList {
	return &m.avail
}

// UsedList exposes the used block list for diagnostics.
func (m *ExplicitListMetadata) UsedList() *BlockList {
	return &m.used
}

func (m *ExplicitListMetadata) AllocationCount() int {
	return m.used.Length()
}

func (m *ExplicitListMetadata) FreeRegionsCount() int {
	return m.avail.Length()
}

// SumFreeSize returns the free payload bytes in the heap- the bytes a caller could still
// be handed, not counting the header/footer overhead of the blocks holding them.
func (m *ExplicitListMetadata) SumFreeSize() int {
	return m.avail.Bytes() - BlockOverhead*m.avail.Length()
}

func (m *ExplicitListMetadata) IsEmpty() bool {
	return m.used.Length() == 0
}

// findFirstFit scans the available list from its front in current list order and returns
// the first block whose size can cover the request plus a header/footer pair for the split
// remainder. The overhead margin keeps this test and the split test consistent.
func (m *ExplicitListMetadata) findFirstFit(size int) int {
	for block := m.avail.first(); block != m.avail.end; block = m.blockNext(block) {
		if m.blockSize(block) >= size+BlockOverhead {
			return block
		}
	}

	return noBlock
}

// splitBlock shrinks block to newSize payload bytes and builds a new header/footer pair
// for the remainder above it. Returns the header offset of the remainder, which is not
// linked into any list- that is the caller's responsibility. If the block cannot justify
// the remainder's overhead, nothing is mutated and noBlock is returned.
func (m *ExplicitListMetadata) splitBlock(block, newSize int) int {
	if m.blockSize(block) < newSize+BlockOverhead {
		return noBlock
	}

	originalSize := m.blockSize(block)
	upperFooter := m.footerOf(block)

	m.setBlockSize(block, newSize)
	m.setFooterSize(m.footerOf(block), newSize)

	// Valid because blockAbove reads the size that was just shrunk
	upper := m.blockAbove(block)
	m.setBlockSize(upper, originalSize-newSize-BlockOverhead)
	m.setFooterSize(upperFooter, m.blockSize(upper))

	return upper
}

// Allocate reserves a block with at least size payload bytes and returns the offset of the
// payload, immediately past the block's header. The boolean result is false when no
// sufficiently large available block exists; the heap is untouched in that case. A request
// of zero bytes is legal. The block handed out may be larger than requested when the
// remainder of a split could not justify its own header and footer.
func (m *ExplicitListMetadata) Allocate(size int) (int, bool) {
	if size < 0 {
		panic("allocation size cannot be negative")
	}

	heaputils.DebugValidate(m)

	size += heaputils.DebugMargin

	block := m.findFirstFit(size)
	if block == noBlock {
		return 0, false
	}

	m.avail.remove(block)
	remainder := m.splitBlock(block, size)

	m.setBlockState(block, BlockStateUsed)
	m.used.addFront(block)

	if remainder != noBlock {
		m.setBlockState(remainder, BlockStateAvailable)
		m.avail.addFront(remainder)
	}

	payload := block + blockHeaderSize
	if heaputils.DebugMargin > 0 {
		heaputils.WriteMagicValue(m.memory, payload+m.blockSize(block)-heaputils.DebugMargin)
	}

	return payload, true
}

// mergeWithAbove collapses lower and its physically next block into one available block.
// It is a no-op unless both are present and available. The merged block keeps lower's
// header; the higher block's header is retired into undifferentiated payload, and the
// footer at the higher block's old position becomes the merged block's footer.
func (m *ExplicitListMetadata) mergeWithAbove(lower int) {
	if lower == noBlock || m.blockState(lower) != BlockStateAvailable {
		return
	}

	higher := m.blockAbove(lower)
	if higher == noBlock || m.blockState(higher) != BlockStateAvailable {
		return
	}

	combined := m.blockSize(lower) + m.blockSize(higher) + BlockOverhead

	m.avail.remove(lower)
	m.avail.remove(higher)

	m.setBlockSize(lower, combined)
	m.setFooterSize(m.footerOf(lower), combined)

	m.avail.addFront(lower)
}

// Free releases the allocation whose payload begins at ptr and merges it with its physical
// neighbors, above first, then below.
//
// ptr must have been returned by Allocate on this heap and not yet freed. A block that is
// still marked available is ignored, but this guard is weak by design: it cannot detect a
// stale ptr whose block has been reused by a later Allocate, and an offset that never came
// from Allocate is undefined behavior.
func (m *ExplicitListMetadata) Free(ptr int) {
	block := ptr - blockHeaderSize
	if m.blockState(block) == BlockStateAvailable {
		return
	}

	m.used.remove(block)
	m.setBlockState(block, BlockStateAvailable)
	m.avail.addFront(block)

	// Merging with the block above never relocates this block's header, so the second
	// lookup below stays valid after the first merge fires.
	m.mergeWithAbove(block)
	m.mergeWithAbove(m.blockBelow(block))

	heaputils.DebugValidate(m)
}

// Payload returns the usable bytes of the allocation whose payload begins at ptr, with any
// debug margin excluded. The slice aliases the heap buffer and is only valid until the
// allocation is freed.
func (m *ExplicitListMetadata) Payload(ptr int) []byte {
	block := ptr - blockHeaderSize
	if m.blockState(block) != BlockStateUsed {
		panic("requested the payload of a block that is not a live allocation")
	}

	size := m.blockSize(block) - heaputils.DebugMargin
	return m.memory[ptr : ptr+size : ptr+size]
}

// Clear instantly frees all allocations, returning the heap to its freshly-initialized
// state without replacing the backing buffer.
func (m *ExplicitListMetadata) Clear() {
	m.avail.init(m, "available", availBeginOffset, availEndOffset)
	m.used.init(m, "used", usedBeginOffset, usedEndOffset)

	block := m.heapStart
	payload := m.size - BlockOverhead
	m.setBlockSize(block, payload)
	m.setBlockState(block, BlockStateAvailable)
	m.setFooterSize(m.footerOf(block), payload)
	m.avail.addFront(block)
}

// Validate checks every invariant that must hold between public operations: both lists are
// internally consistent, blocks tile the heap exactly with matching boundary tags, no two
// adjacent blocks are both available, block states match list membership, and the
// incrementally-maintained totals agree with a full scan.
func (m *ExplicitListMetadata) Validate() error {
	if m.memory == nil {
		return errors.New("the heap has not been initialized")
	}

	err := m.avail.Validate(BlockStateAvailable)
	if err != nil {
		return err
	}
	err = m.used.Validate(BlockStateUsed)
	if err != nil {
		return err
	}

	var availCount, availBytes, usedCount, usedBytes int
	prevAvailable := false

	// Walk the heap physically, deriving each block from the previous block's size
	for offset := m.heapStart; offset < m.heapEnd; {
		size := m.blockSize(offset)
		if size < 0 {
			return errors.Errorf("block at offset %d has a negative size", offset)
		}

		footer := m.footerOf(offset)
		if footer+blockFooterSize > m.heapEnd {
			return errors.Errorf("block at offset %d runs past the end of the heap", offset)
		}
		if m.footerSize(footer) != size {
			return errors.Errorf("block at offset %d has header size %d but its footer disagrees", offset, size)
		}

		switch m.blockState(offset) {
		case BlockStateAvailable:
			if prevAvailable {
				return errors.Errorf("the block at offset %d and the block below it are both available- coalescing was missed", offset)
			}
			prevAvailable = true
			availCount++
			availBytes += size + BlockOverhead
		case BlockStateUsed:
			prevAvailable = false
			usedCount++
			usedBytes += size + BlockOverhead
		default:
			return errors.Errorf("block at offset %d has invalid state %d", offset, uint64(m.blockState(offset)))
		}

		offset = footer + blockFooterSize
	}

	if availCount != m.avail.Length() {
		return errors.Errorf("the available list has a length of %d, but the heap holds %d available blocks", m.avail.Length(), availCount)
	}
	if usedCount != m.used.Length() {
		return errors.Errorf("the used list has a length of %d, but the heap holds %d used blocks", m.used.Length(), usedCount)
	}
	if availBytes != m.avail.Bytes() {
		return errors.Errorf("the available list has a byte total of %d, but the heap's available blocks added up to %d", m.avail.Bytes(), availBytes)
	}
	if usedBytes != m.used.Bytes() {
		return errors.Errorf("the used list has a byte total of %d, but the heap's used blocks added up to %d", m.used.Bytes(), usedBytes)
	}
	if availBytes+usedBytes != m.size {
		return errors.Errorf("the heap is %d bytes, but its blocks only tile %d bytes", m.size, availBytes+usedBytes)
	}

	return nil
}

// VisitAllRegions calls the provided callback once per block in physical address order.
func (m *ExplicitListMetadata) VisitAllRegions(visit func(offset, size int, state BlockState) error) error {
	for offset := m.heapStart; offset != noBlock; offset = m.blockAbove(offset) {
		err := visit(offset, m.blockSize(offset), m.blockState(offset))
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *ExplicitListMetadata) AddStatistics(stats *heaputils.Statistics) {
	stats.HeapCount++
	stats.AllocationCount += m.used.Length()
	stats.HeapBytes += m.size
	stats.AllocationBytes += m.used.Bytes() - BlockOverhead*m.used.Length()
}

func (m *ExplicitListMetadata) AddDetailedStatistics(stats *heaputils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += m.size

	m.avail.VisitBlocks(func(offset, size int, state BlockState) bool {
		stats.AddFreeRange(size)
		return false
	})
	m.used.VisitBlocks(func(offset, size int, state BlockState) bool {
		stats.AddAllocation(size)
		return false
	})
}

// HeapJsonData populates a json object with this heap's aggregate counts and the full
// contents of both block lists.
func (m *ExplicitListMetadata) HeapJsonData(json *jwriter.ObjectState) {
	m.HeapJsonDataHeader(json, m.SumFreeSize(), m.used.Length(), m.avail.Length())

	json.Name("OverheadPerBlock").Int(BlockOverhead)
	json.Name("HeapStart").Int(m.heapStart)
	json.Name("HeapEnd").Int(m.heapEnd)

	availObj := json.Name("AvailableList").Object()
	m.avail.BlockListJsonData(&availObj)
	availObj.End()

	usedObj := json.Name("UsedList").Object()
	m.used.BlockListJsonData(&usedObj)
	usedObj.End()
}

// DebugLogAllAllocations logs every live allocation in the heap through the provided
// callback. Useful for reporting unreleased memory at shutdown.
func (m *ExplicitListMetadata) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int)) {
	m.used.VisitBlocks(func(offset, size int, state BlockState) bool {
		logFunc(logger, offset+blockHeaderSize, size-heaputils.DebugMargin)
		return false
	})
}

// CheckCorruption verifies the anti-corruption markers written after each allocation's
// payload. It only detects anything when built with the debug_heap_utils flag, but it is
// expensive regardless, so it should only be run as part of a diagnostic regime.
func (m *ExplicitListMetadata) CheckCorruption() error {
	var err error
	m.used.VisitBlocks(func(offset, size int, state BlockState) bool {
		if !heaputils.ValidateMagicValue(m.memory, offset+blockHeaderSize+size-heaputils.DebugMargin) {
			err = errors.Errorf("memory corruption detected after the allocation at offset %d", offset+blockHeaderSize)
			return true
		}
		return false
	})

	return err
}
