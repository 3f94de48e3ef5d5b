package memutils

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var alignUpTestCases = map[string]struct {
	Value     int
	Alignment uint
	Expected  int
}{
	"AlreadyAligned": {Value: 64, Alignment: 32, Expected: 64},
	"RoundUp":        {Value: 100, Alignment: 32, Expected: 128},
	"RoundUpSmall":   {Value: 100, Alignment: 16, Expected: 112},
	"Zero":           {Value: 0, Alignment: 256, Expected: 0},
	"AlignmentOne":   {Value: 7, Alignment: 1, Expected: 7},
	"AlignmentZero":  {Value: 7, Alignment: 0, Expected: 7},
}

func TestAlignUp(t *testing.T) {
	for testName, testCase := range alignUpTestCases {
		t.Run(testName, func(t *testing.T) {
			result := AlignUp(testCase.Value, testCase.Alignment)
			require.Equal(t, testCase.Expected, result)
			require.True(t, IsAligned(result, testCase.Alignment))
			require.GreaterOrEqual(t, result, testCase.Value)
		})
	}
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 96, AlignDown(100, 32))
	require.Equal(t, 64, AlignDown(64, 64))
	require.Equal(t, 0, AlignDown(15, 16))
}

func TestIsAligned(t *testing.T) {
	require.True(t, IsAligned(112, 16))
	require.False(t, IsAligned(112, 32))
	require.True(t, IsAligned(0, 4096))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "one"))
	require.NoError(t, CheckPow2(256, "alignment"))

	err := CheckPow2(48, "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 48")
}

func TestDetailedStatistics(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()

	stats.BlockCount++
	stats.BlockBytes += 176
	stats.AddAllocation(100)
	stats.AddUnusedRange(12)
	stats.AddAllocation(64)
	stats.AddUnusedRange(0)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 164, stats.AllocationBytes)
	require.Equal(t, 64, stats.AllocationSizeMin)
	require.Equal(t, 100, stats.AllocationSizeMax)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, 12, stats.UnusedRangeSizeMin)
	require.Equal(t, 12, stats.PaddingBytes())

	var total DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)
	require.Equal(t, 4, total.AllocationCount)
	require.Equal(t, 2, total.BlockCount)
	require.Equal(t, 64, total.AllocationSizeMin)
}
