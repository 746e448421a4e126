package localmgmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardVersionRingEvictsOldest(t *testing.T) {
	r := NewShardVersionRing()
	for i := 0; i < ShardVersionRingSize+3; i++ {
		r.Push(ShardVersionInfo{NodeVersion: int64(i)})
	}
	require.Equal(t, ShardVersionRingSize, r.Count())

	all := r.All()
	require.Len(t, all, ShardVersionRingSize)
	require.EqualValues(t, 3, all[0].NodeVersion)
	require.EqualValues(t, ShardVersionRingSize+2, all[len(all)-1].NodeVersion)

	latest, ok := r.Latest()
	require.True(t, ok)
	require.EqualValues(t, ShardVersionRingSize+2, latest.NodeVersion)
}

func TestShardVersionRingEmpty(t *testing.T) {
	r := NewShardVersionRing()
	require.Equal(t, 0, r.Count())
	_, ok := r.Latest()
	require.False(t, ok)
}
