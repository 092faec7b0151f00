package knowledge

// EstimateTokens approximates the token count of s at four characters per token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// WouldExceedBudget reports whether adding candidate to a context already
// estimated at current tokens would exceed budget.
func WouldExceedBudget(current int, candidate string, budget int) bool {
	return current+EstimateTokens(candidate) > budget
}
