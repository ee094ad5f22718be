package device

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// Hash is the 32-bit rolling hash h = h*31 + c over the UTF-16 code units of s,
// wrapping at int32 like the browser implementation it replaces.
func Hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// FormatHash renders |h| as upper-case hex. MinInt32 has no int32 absolute
// value, so the magnitude is taken in int64.
func FormatHash(h int32) string {
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strings.ToUpper(strconv.FormatInt(v, 16))
}
