package quota

import (
	"math"
	"strings"
	"unicode"
)

// wordWeight approximates how many tokens a whitespace-delimited non-CJK
// word expands to under common tokenizers.
const wordWeight = 1.3

// EstimateTokens approximates the token count of text: one token per CJK
// character plus wordWeight per remaining whitespace-delimited word,
// ceiling-rounded. The estimate is deliberately rough; it only feeds the
// quota gate, never billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	var rest strings.Builder
	for _, r := range text {
		if isCJK(r) {
			cjk++
			rest.WriteRune(' ')
			continue
		}
		rest.WriteRune(r)
	}

	words := len(strings.Fields(rest.String()))
	return cjk + int(math.Ceil(float64(words)*wordWeight))
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hangul, unicode.Hiragana, unicode.Katakana)
}

// EstimateConversation sums the estimates of every message content in order.
func EstimateConversation(contents []string) int {
	total := 0
	for _, content := range contents {
		total += EstimateTokens(content)
	}
	return total
}
