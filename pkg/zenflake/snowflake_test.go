package zenflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionIdIsEncodedInKey(t *testing.T) {
	// given
	generator, err := NewKeyGenerator(4)
	require.NoError(t, err)

	// when
	id := generator.Generate().Int64()

	// then
	assert.Equal(t, uint32(4), GetPartitionId(id))
	assert.Equal(t, int64(4), (id&GetPartitionMask())>>int64(nodeShift))
}

func TestKeysAreMonotonic(t *testing.T) {
	generator, err := NewKeyGenerator(1)
	require.NoError(t, err)

	previous := generator.Generate().Int64()
	for i := 0; i < 10000; i++ {
		next := generator.Generate().Int64()
		assert.Greater(t, next, previous)
		previous = next
	}
}

func TestPartitionIdOutOfRange(t *testing.T) {
	_, err := NewKeyGenerator(1 << NodeBits)
	assert.Error(t, err)
}
