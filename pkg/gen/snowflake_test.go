package gen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnowflakeNodeNewID(t *testing.T) {
	node, err := NewSnowflakeNode(3)
	require.NoError(t, err)

	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		id := node.NewID(PrefixJobTask)
		require.True(t, strings.HasPrefix(id, "job-task-"))
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestNewSnowflakeNodeRejectsInvalidNode(t *testing.T) {
	_, err := NewSnowflakeNode(-1)
	require.Error(t, err)
}
