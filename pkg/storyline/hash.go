package storyline

import "unicode/utf16"

// StringHash returns the 31-multiplier polynomial hash of s over its UTF-16
// code units, wrapping to a signed 32-bit integer on overflow:
//
//	h = h*31 + unit
//
// This is the same value as Java's String.hashCode, which keeps cluster keys
// compatible with existing front-ends. The hash of "" is 0.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}
