// Package origins normalises web origin lists used for postMessage checks.
package origins

import (
	"strings"
)

// Normalize trims whitespace and trailing slashes, lowercases, and removes
// empty entries and duplicates. Order is preserved.
//
// Example:
//
//	Normalize([]string{" https://Partner.example/ ", "https://partner.example", ""})
//	// Returns: []string{"https://partner.example"}
func Normalize(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		origin := strings.ToLower(strings.TrimRight(strings.TrimSpace(v), "/"))
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; !ok {
			seen[origin] = struct{}{}
			result = append(result, origin)
		}
	}

	return result
}
