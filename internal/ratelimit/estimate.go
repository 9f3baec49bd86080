package ratelimit

// tokenSafetyMargin pads every estimate so near-limit calls are denied
// rather than admitted. Admission is a pre-check, not billing.
const tokenSafetyMargin = 100

// charsPerToken is the rough character-to-token ratio used for the
// estimate heuristic.
const charsPerToken = 4

// EstimateTokens approximates how many tokens a prompt will consume.
// The heuristic rounds up: ceil(len/4) plus a fixed safety margin.
func EstimateTokens(prompt string) int {
	n := len(prompt)
	tokens := n / charsPerToken
	if n%charsPerToken != 0 {
		tokens++
	}
	return tokens + tokenSafetyMargin
}
