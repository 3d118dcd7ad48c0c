package capability

import (
	"fmt"
	"strconv"
	"strings"
)

// parseVersion splits a numeric version string into its segments. Both
// dotted versions ("1.2") and date versions ("2026-01-01") are accepted;
// segment-wise numeric comparison gives the same order either way.
func parseVersion(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == '.' || r == '-'
	})
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid version %q", value)
	}
	segments := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version segment %q", part)
		}
		segments = append(segments, n)
	}
	return segments, nil
}

// compareVersions orders two parsed versions, treating missing segments as zero.
func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}
