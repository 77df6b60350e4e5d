// Package tokens approximates token counts for backends that do not report
// usage and for enforcing generation budgets client-side.
package tokens

import (
	"math"
	"unicode/utf8"
)

const charsPerToken = 4

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// EstimatingCounter approximates token count as ~4 characters per token.
type EstimatingCounter struct{}

func NewEstimatingCounter() *EstimatingCounter {
	return &EstimatingCounter{}
}

func (*EstimatingCounter) Count(text string) int {
	return Estimate(text)
}

func Estimate(text string) int {
	return int(math.Ceil(float64(len(text)) / float64(charsPerToken)))
}

// Truncate cuts text to roughly maxTokens tokens without splitting a UTF-8
// sequence. A non-positive budget leaves text unchanged.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || Estimate(text) <= maxTokens {
		return text
	}
	cut := maxTokens * charsPerToken
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
