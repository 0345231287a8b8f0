package zenflake

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// NODE with id 0 is used for global resources like definitions across all the partitions

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	stepMask  int64 = -1 ^ (-1 << StepBits)
	timeShift       = NodeBits + StepBits
	nodeShift       = StepBits

	configureOnce sync.Once
)

// NewKeyGenerator returns a generator of monotonic keys carrying partitionId in the node bits.
// Keys of one partition are ordered as long as the leader's clock does not go backwards.
func NewKeyGenerator(partitionId uint32) (*snowflake.Node, error) {
	configureOnce.Do(func() {
		snowflake.NodeBits = NodeBits
		snowflake.StepBits = StepBits
	})
	if int64(partitionId) > nodeMax {
		return nil, fmt.Errorf("partition id %d does not fit into %d node bits", partitionId, NodeBits)
	}
	return snowflake.NewNode(int64(partitionId))
}

func GetPartitionMask() int64 {
	return nodeMask
}

func GetPartitionId(id int64) uint32 {
	maskedId := id & GetPartitionMask()
	nodeId := maskedId >> int64(nodeShift)
	return uint32(nodeId)
}

// GetStep returns the sequence part of the key.
func GetStep(id int64) int64 {
	return id & stepMask
}

// GetTimestamp returns the millisecond part of the key relative to the snowflake epoch.
func GetTimestamp(id int64) int64 {
	return id >> timeShift
}
