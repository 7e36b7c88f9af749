package extractor

// charWidths approximates rendered pixel width at 13px Arial/Helvetica, the
// same reference size/typeface used by most SERP-preview width estimators.
// This is a fixed, documented table rather than a live font-metrics call:
// good enough to flag "this title will likely be truncated in search
// results," not a claim of rendering-exact width.
var charWidths = map[rune]int{
	' ': 4, '!': 4, '"': 5, '#': 8, '$': 7, '%': 11, '&': 9, '\'': 3,
	'(': 5, ')': 5, '*': 5, '+': 9, ',': 4, '-': 5, '.': 4, '/': 4,
	'0': 7, '1': 7, '2': 7, '3': 7, '4': 7, '5': 7, '6': 7, '7': 7, '8': 7, '9': 7,
	':': 4, ';': 4, '<': 9, '=': 9, '>': 9, '?': 7, '@': 13,
	'i': 3, 'l': 3, 'I': 4, 'j': 3, 'f': 4, 't': 4, 'r': 5,
	'm': 11, 'w': 10, 'W': 13, 'M': 12,
}

const defaultCharWidth = 7

// pixelWidth sums per-rune widths from charWidths, falling back to
// defaultCharWidth for any rune not in the table.
func pixelWidth(s string) int {
	width := 0
	for _, r := range s {
		if w, ok := charWidths[r]; ok {
			width += w
		} else {
			width += defaultCharWidth
		}
	}
	return width
}
