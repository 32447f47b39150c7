package completion

import "unicode/utf8"

// charsPerUnit is the divisor of the length heuristic
const charsPerUnit = 4

// Estimate approximates consumed units from input and output text.
// The result is never below 1.
func Estimate(input, output string) int64 {
	n := int64(utf8.RuneCountInString(input)+utf8.RuneCountInString(output))/charsPerUnit + 1
	return max(n, 1)
}
