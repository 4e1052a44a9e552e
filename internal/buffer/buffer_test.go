package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundedRetainsTail(t *testing.T) {
	b := New(8)
	b.WriteString("0123456789") // 10 bytes into an 8-byte ring
	require.Equal(t, "23456789", string(b.Snapshot()))
	require.EqualValues(t, 10, b.TotalBytesWritten())
}

func TestBoundedAccumulatesAcrossWrites(t *testing.T) {
	b := New(5)
	b.WriteString("ab")
	b.WriteString("cd")
	b.WriteString("ef")
	require.Equal(t, "bcdef", string(b.Snapshot()))
	require.EqualValues(t, 6, b.TotalBytesWritten())
}

func TestBoundedClearKeepsTotal(t *testing.T) {
	b := New(4)
	b.WriteString("abcd")
	b.Clear()
	require.Equal(t, "", string(b.Snapshot()))
	require.EqualValues(t, 4, b.TotalBytesWritten())
}

func TestBoundedSingleWriteExceedsCapacity(t *testing.T) {
	b := New(3)
	b.WriteString("abcdefghij")
	require.Len(t, b.Snapshot(), 3)
	require.Equal(t, "hij", string(b.Snapshot()))
}
