package chat

import "strings"

// Category is the coarse, user-safe classification of a provider
// failure. Raw provider error text never reaches the end user; the
// outer layer decides retry policy from the category alone.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryAuth        Category = "authentication"
	CategoryRateLimited Category = "rate-limited"
	CategoryGeneric     Category = "generic"
)

// categoryPatterns maps substrings of provider error text to a
// category. First group that matches wins.
var categoryPatterns = []struct {
	category Category
	patterns []string
}{
	{CategoryRateLimited, []string{"rate limit", "quota exceeded", "resource exhausted", "429"}},
	{CategoryAuth, []string{"unauthorized", "unauthenticated", "api key", "permission denied", "401", "403"}},
	{CategoryNetwork, []string{"connection refused", "connection reset", "timeout", "deadline exceeded",
		"no such host", "unavailable", "502", "503", "504"}},
}

// Classify maps a provider error to its user-safe category.
func Classify(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	msg := strings.ToLower(err.Error())
	for _, group := range categoryPatterns {
		if containsAny(msg, group.patterns) {
			return group.category
		}
	}
	return CategoryGeneric
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
