package summary

import (
	"math"
	"strconv"
	"strings"
)

// FormatINR renders an amount as grouped integer rupees using the Indian
// numbering system (last three digits, then groups of two): 1234567 becomes
// "₹12,34,567". A nil amount renders as "₹0".
func FormatINR(amount *float64) string {
	if amount == nil {
		return "₹0"
	}
	v := math.Round(*amount)
	neg := v < 0
	if neg {
		v = -v
	}
	digits := strconv.FormatFloat(v, 'f', 0, 64)

	grouped := groupIndian(digits)
	if neg {
		return "-₹" + grouped
	}
	return "₹" + grouped
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head := digits[:len(digits)-3]
	tail := digits[len(digits)-3:]

	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	parts = append([]string{head}, parts...)
	return strings.Join(parts, ",") + "," + tail
}
