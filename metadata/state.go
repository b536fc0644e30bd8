package metadata

// BlockState identifies what the block header at a given heap offset currently represents.
type BlockState uint64

const (
	// BlockStateAvailable marks a block that is linked into the available list and may be
	// handed out by Allocate
	BlockStateAvailable BlockState = iota
	// BlockStateUsed marks a block that is linked into the used list and owned by a caller
	BlockStateUsed
	// BlockStateBeginSentinel marks the permanent, non-data-bearing header at the front of a
	// block list
	BlockStateBeginSentinel
	// BlockStateEndSentinel marks the permanent, non-data-bearing header at the back of a
	// block list
	BlockStateEndSentinel
)

var blockStateMapping = map[BlockState]string{
	BlockStateAvailable:     "Available",
	BlockStateUsed:          "Used",
	BlockStateBeginSentinel: "BeginSentinel",
	BlockStateEndSentinel:   "EndSentinel",
}

func (s BlockState) String() string {
	return blockStateMapping[s]
}
