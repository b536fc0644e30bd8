package metadata

import (
	"encoding/binary"
)

const (
	blockHeaderSize = 32
	blockFooterSize = 8

	// BlockOverhead is the fixed per-block byte cost of the header and footer metadata. It is
	// added to every payload size when maintaining list byte totals and when testing whether a
	// candidate block can satisfy an allocation.
	BlockOverhead = blockHeaderSize + blockFooterSize

	headerSizeOffset  = 0
	headerStateOffset = 8
	headerNextOffset  = 16
	headerPrevOffset  = 24

	// The four list sentinels are real headers stored in a reserved region at the front of the
	// buffer, below heapStart. Blocks never tile this region, so sentinel links and data-block
	// links go through the same accessors.
	availBeginOffset   = 0
	availEndOffset     = blockHeaderSize
	usedBeginOffset    = 2 * blockHeaderSize
	usedEndOffset      = 3 * blockHeaderSize
	sentinelRegionSize = 4 * blockHeaderSize

	// noBlock is returned by neighbor lookups that run off the edge of the heap
	noBlock = -1
)

func (m *ExplicitListMetadata) word(offset int) int {
	return int(int64(binary.LittleEndian.Uint64(m.memory[offset:])))
}

func (m *ExplicitListMetadata) setWord(offset int, value int) {
	binary.LittleEndian.PutUint64(m.memory[offset:], uint64(int64(value)))
}

func (m *ExplicitListMetadata) blockSize(block int) int {
	return m.word(block + headerSizeOffset)
}

func (m *ExplicitListMetadata) setBlockSize(block int, size int) {
	m.setWord(block+headerSizeOffset, size)
}

func (m *ExplicitListMetadata) blockState(block int) BlockState {
	return BlockState(binary.LittleEndian.Uint64(m.memory[block+headerStateOffset:]))
}

func (m *ExplicitListMetadata) setBlockState(block int, state BlockState) {
	binary.LittleEndian.PutUint64(m.memory[block+headerStateOffset:], uint64(state))
}

func (m *ExplicitListMetadata) blockNext(block int) int {
	return m.word(block + headerNextOffset)
}

func (m *ExplicitListMetadata) setBlockNext(block int, next int) {
	m.setWord(block+headerNextOffset, next)
}

func (m *ExplicitListMetadata) blockPrev(block int) int {
	return m.word(block + headerPrevOffset)
}

func (m *ExplicitListMetadata) setBlockPrev(block int, prev int) {
	m.setWord(block+headerPrevOffset, prev)
}

func (m *ExplicitListMetadata) footerSize(footer int) int {
	return m.word(footer)
}

func (m *ExplicitListMetadata) setFooterSize(footer int, size int) {
	m.setWord(footer, size)
}

// footerOf computes the offset of the footer belonging to the block at the provided header
// offset. Defined for any header whose size field is correct.
func (m *ExplicitListMetadata) footerOf(block int) int {
	return block + blockHeaderSize + m.blockSize(block)
}

// headerOf is the inverse of footerOf: it recovers the owning header from a footer offset.
// The footer's size field must already be correct.
func (m *ExplicitListMetadata) headerOf(footer int) int {
	return footer - blockHeaderSize - m.footerSize(footer)
}

// blockAbove returns the header offset of the physically next block in the heap, or noBlock
// if this block is the highest one. It does not follow list links- the neighbor is derived
// from this block's own size field.
func (m *ExplicitListMetadata) blockAbove(block int) int {
	above := block + m.blockSize(block) + BlockOverhead
	if above >= m.heapEnd {
		return noBlock
	}

	return above
}

// blockBelow returns the header offset of the physically previous block in the heap, or
// noBlock if this block is the lowest one. Unlike blockAbove, the size needed for the
// arithmetic lives in the neighbor's footer, which sits immediately below this block's
// header, so the footer must be located first and walked back from.
func (m *ExplicitListMetadata) blockBelow(block int) int {
	if block == m.heapStart {
		return noBlock
	}

	return m.headerOf(block - blockFooterSize)
}
