package fetch_test

import (
	"testing"

	"github.com/nosqlbench/vdatasets/pkg/fetch"
	"github.com/nosqlbench/vdatasets/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func TestGroupConsecutive(t *testing.T) {
	require.Equal(t,
		[]fetch.Run{{Lo: 0, Hi: 3}, {Lo: 5, Hi: 6}, {Lo: 9, Hi: 11}},
		fetch.GroupConsecutive([]int64{0, 1, 2, 5, 9, 10}))
	require.Nil(t, fetch.GroupConsecutive(nil))
}

func TestPlanSkipsValidChunks(t *testing.T) {
	shape, err := merkle.ForContentSize(5 * (1 << 20))
	require.NoError(t, err)

	valid := map[int64]bool{1: true, 2: true}
	isValid := func(i int64) bool { return valid[i] }

	runs := fetch.Plan(shape, isValid, 0, shape.ContentSizeBytes())
	require.Equal(t, []fetch.Run{{Lo: 0, Hi: 1}, {Lo: 3, Hi: 5}}, runs)
}

func TestPlanEmptyWhenFullyValid(t *testing.T) {
	shape, err := merkle.ForContentSize(1 << 20)
	require.NoError(t, err)
	runs := fetch.Plan(shape, func(int64) bool { return true }, 0, shape.ContentSizeBytes())
	require.Empty(t, runs)
}
