package privacy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// 10-15 chars of digits with embedded spaces, or the 3-3-4 shape with optional separators
	phonePattern = regexp.MustCompile(`\+?\d[\d ]{8,13}\d|\d{3}[\-.]?\d{3}[\-.]?\d{4}`)

	// Two capitalized words. Matches "New York" too; single, hyphenated or
	// lowercase names are missed.
	namePattern = regexp.MustCompile(`[A-Z][a-z]+\s[A-Z][a-z]+`)
)

// GetDefaultRules returns the rules in the order they must run.
// Later passes see the output of earlier ones, so an email is never
// re-matched as a name fragment.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{Category: CategoryEmail, Pattern: emailPattern},
		{Category: CategoryPhone, Pattern: phonePattern},
		{Category: CategoryName, Pattern: namePattern},
	}
}
