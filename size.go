package authgate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var byteSizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(b|kb|mb|gb)?$`)

var byteUnits = map[string]int64{
	"":   1,
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
}

// ParseByteSize parses sizes such as "512", "100kb" or "10mb". Units are
// case-insensitive multiples of 1024; a bare number is bytes.
func ParseByteSize(s string) (int64, error) {
	m := byteSizePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidByteSize, s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidByteSize, s)
	}
	size := int64(n * float64(byteUnits[m[2]]))
	if size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidByteSize, s)
	}
	return size, nil
}
