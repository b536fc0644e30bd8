package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// BlockList is an intrusive doubly-linked list of block headers bounded by a begin and an
// end sentinel. The sentinels are never unlinked, so insert and remove run in O(1) with no
// end-of-list special cases. Length and byte totals are maintained incrementally on every
// mutation and are never recomputed by scanning.
//
// The links themselves live in the block headers inside the heap buffer- the BlockList only
// carries the sentinel offsets and the running totals.
type BlockList struct {
	meta *ExplicitListMetadata
	name string

	begin int
	end   int

	length int
	bytes  int
}

func (l *BlockList) init(meta *ExplicitListMetadata, name string, begin, end int) {
	l.meta = meta
	l.name = name
	l.begin = begin
	l.end = end
	l.length = 0
	l.bytes = 0

	meta.setBlockState(begin, BlockStateBeginSentinel)
	meta.setBlockSize(begin, 0)
	meta.setBlockNext(begin, end)
	meta.setBlockPrev(begin, noBlock)

	meta.setBlockState(end, BlockStateEndSentinel)
	meta.setBlockSize(end, 0)
	meta.setBlockNext(end, noBlock)
	meta.setBlockPrev(end, begin)
}

// addFront links the block immediately after the begin sentinel. The block's state is left
// untouched- callers set it to match the list they are inserting into.
func (l *BlockList) addFront(block int) {
	meta := l.meta
	first := meta.blockNext(l.begin)

	meta.setBlockNext(block, first)
	meta.setBlockPrev(block, l.begin)
	meta.setBlockPrev(first, block)
	meta.setBlockNext(l.begin, block)

	l.length++
	l.bytes += meta.blockSize(block) + BlockOverhead
}

// remove unlinks the block from this list. The block must currently be a member of this
// list- passing a block linked elsewhere corrupts that list's neighbors silently.
func (l *BlockList) remove(block int) {
	meta := l.meta
	next := meta.blockNext(block)
	prev := meta.blockPrev(block)

	meta.setBlockNext(prev, next)
	meta.setBlockPrev(next, prev)

	l.length--
	l.bytes -= meta.blockSize(block) + BlockOverhead
}

func (l *BlockList) first() int {
	return l.meta.blockNext(l.begin)
}

// Length returns the number of member blocks.
func (l *BlockList) Length() int {
	return l.length
}

// Bytes returns the sum of payload size plus BlockOverhead over all member blocks.
func (l *BlockList) Bytes() int {
	return l.bytes
}

// VisitBlocks calls the provided callback once per member block in list order, front to
// back, stopping early if the callback returns true.
func (l *BlockList) VisitBlocks(visit func(offset, size int, state BlockState) (stop bool)) {
	meta := l.meta
	for block := l.first(); block != l.end; block = meta.blockNext(block) {
		if visit(block, meta.blockSize(block), meta.blockState(block)) {
			return
		}
	}
}

// Validate walks the list between its sentinels and verifies link reciprocity, member
// state, header/footer size agreement, and the incrementally-maintained totals.
func (l *BlockList) Validate(expectedState BlockState) error {
	meta := l.meta

	if meta.blockState(l.begin) != BlockStateBeginSentinel {
		return errors.Errorf("%s list begin sentinel at offset %d has been overwritten", l.name, l.begin)
	}
	if meta.blockState(l.end) != BlockStateEndSentinel {
		return errors.Errorf("%s list end sentinel at offset %d has been overwritten", l.name, l.end)
	}

	var count, bytes int
	prev := l.begin

	for block := meta.blockNext(l.begin); block != l.end; block = meta.blockNext(block) {
		if block == noBlock {
			return errors.Errorf("%s list is not terminated by its end sentinel", l.name)
		}
		if meta.blockPrev(block) != prev {
			return errors.Errorf("block at offset %d is the next block after offset %d in the %s list, but the reverse reference is broken", block, prev, l.name)
		}
		if meta.blockState(block) != expectedState {
			return errors.Errorf("block at offset %d is linked into the %s list but is marked %s", block, l.name, meta.blockState(block))
		}

		size := meta.blockSize(block)
		if meta.footerSize(meta.footerOf(block)) != size {
			return errors.Errorf("block at offset %d has header size %d but its footer disagrees", block, size)
		}

		count++
		bytes += size + BlockOverhead
		prev = block
	}

	if meta.blockPrev(l.end) != prev {
		return errors.Errorf("the %s list end sentinel does not point back at the last member block", l.name)
	}
	if count != l.length {
		return errors.Errorf("the %s list has a length of %d, but its members only added up to %d", l.name, l.length, count)
	}
	if bytes != l.bytes {
		return errors.Errorf("the %s list has a byte total of %d, but its members only added up to %d", l.name, l.bytes, bytes)
	}

	return nil
}

// BlockListJsonData populates a json object with this list's totals and a per-block array
// of offset, state, and header/footer sizes.
func (l *BlockList) BlockListJsonData(json *jwriter.ObjectState) {
	json.Name("Length").Int(l.length)
	json.Name("Bytes").Int(l.bytes)

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	meta := l.meta
	l.VisitBlocks(func(offset, size int, state BlockState) bool {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("State").String(state.String())
		obj.Name("Size").Int(size)
		obj.Name("FooterSize").Int(meta.footerSize(meta.footerOf(offset)))

		return false
	})
}
