package shell

import (
	"bytes"
	"regexp"
)

const truncationMarker = "\n...[truncated]...\n"

// applyLineFilter keeps only lines matching filter, preserving order.
// A nil filter returns data unchanged. Filtering happens before
// truncation (Open Question 2's resolution), so a caller narrowing
// output with a filter is never starved by the tail cap.
func applyLineFilter(data []byte, filter *regexp.Regexp) []byte {
	if filter == nil || len(data) == 0 {
		return data
	}
	lines := bytes.Split(data, []byte("\n"))
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if filter.Match(line) {
			kept = append(kept, line)
		}
	}
	return bytes.Join(kept, []byte("\n"))
}

// truncateTail bounds data to at most cap bytes, retaining the tail and
// prefixing a marker when content was dropped, per spec.md §4.E's
// BashOutput truncation rule.
func truncateTail(data []byte, cap int) (string, bool) {
	if len(data) <= cap {
		return string(data), false
	}
	tail := data[len(data)-cap:]
	return truncationMarker + string(tail), true
}
