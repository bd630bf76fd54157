// Package extract pulls executable code out of fenced markdown blocks in
// model replies.
package extract

import "regexp"

// fencePattern matches any fenced block, capturing the language tag and
// the body. Matching every fence in one pass keeps blocks in source
// order and consumes other-language blocks whole, so their closing
// fences can never be mistaken for an opener. Nested fences are not
// handled.
var fencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n(.*?)```")

// CodeBlocks returns the code strings found inside fenced blocks of text,
// order-preserving and non-overlapping, each block exactly once. Fences
// tagged with a language other than python are ignored. Zero matches
// yields a nil slice.
func CodeBlocks(text string) []string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	var blocks []string
	for _, m := range matches {
		tag, body := m[1], m[2]
		if tag != "" && tag != "python" {
			continue
		}
		blocks = append(blocks, body)
	}
	return blocks
}
