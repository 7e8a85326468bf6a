package modelcatalog

import (
	"math"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// wordCountFallbackFactor is the fallback multiplier applied to a word
// count for models with no known tokenizer.
const wordCountFallbackFactor = 1.3

// CountTokens returns the token count for text under model's tokenizer,
// and whether the count is approximate (the fallback path was used).
func CountTokens(model, text string) (tokens int, approximate bool) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		return wordCountFallback(text), true
	}
	return len(enc.Encode(text, nil, nil)), false
}

func wordCountFallback(text string) int {
	words := strings.Fields(text)
	return int(math.Ceil(float64(len(words)) * wordCountFallbackFactor))
}
