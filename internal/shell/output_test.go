package shell

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyLineFilterKeepsMatchingLines(t *testing.T) {
	data := []byte("alpha\nbeta error\ngamma\ndelta error\n")
	filter := regexp.MustCompile(`error`)
	out := applyLineFilter(data, filter)
	require.Equal(t, "beta error\ndelta error", string(out))
}

func TestApplyLineFilterNilPassesThrough(t *testing.T) {
	data := []byte("unchanged")
	require.Equal(t, data, applyLineFilter(data, nil))
}

func TestTruncateTailKeepsSuffixAndMarksTruncation(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	out, truncated := truncateTail(data, 10)
	require.True(t, truncated)
	require.Contains(t, out, "[truncated]")
	require.Equal(t, string(data[90:]), out[len(out)-10:])
}

func TestTruncateTailPassesThroughWhenUnderCap(t *testing.T) {
	out, truncated := truncateTail([]byte("short"), 100)
	require.False(t, truncated)
	require.Equal(t, "short", out)
}

func TestFilterBeforeTruncateResolvesOpenQuestionTwo(t *testing.T) {
	// A filter that narrows a large buffer down to a few matching lines
	// must not be starved by a tail cap applied before filtering.
	var data []byte
	for i := 0; i < 1000; i++ {
		data = append(data, []byte("noise line that is not interesting\n")...)
	}
	data = append(data, []byte("MATCH the only line we want\n")...)

	filter := regexp.MustCompile(`MATCH`)
	filtered := applyLineFilter(data, filter)
	out, truncated := truncateTail(filtered, 30*1024)
	require.False(t, truncated)
	require.Equal(t, "MATCH the only line we want", out)
}
