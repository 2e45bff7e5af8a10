package privacy

import "regexp"

// Category identifies the kind of PII a mapping was created for
type Category string

const (
	CategoryEmail Category = "EMAIL"
	CategoryPhone Category = "PHONE"
	CategoryName  Category = "NAME"
)

var placeholders = map[Category]string{
	CategoryEmail: "[EMAIL]",
	CategoryPhone: "[TELÉFONO]",
	CategoryName:  "[NOMBRE]",
}

// Placeholder returns the fixed replacement token for a category.
// Unknown categories yield an empty string.
func Placeholder(c Category) string {
	return placeholders[c]
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	_, ok := placeholders[c]
	return ok
}

// Mapping associates an original PII substring with its placeholder
type Mapping struct {
	Original    string   `json:"original"`
	Replacement string   `json:"replacement"`
	Type        Category `json:"type"`
}

// DetectionRule represents a single PII detection rule
type DetectionRule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// Finding summarizes the matches of one category in a single pass
type Finding struct {
	Category Category `json:"category"`
	Masked   string   `json:"masked"`
	Count    int      `json:"count"`
}

// Result contains the outcome of sanitizing a text
type Result struct {
	SanitizedText string    `json:"sanitized_text"`
	Mappings      []Mapping `json:"mappings"`
	Findings      []Finding `json:"findings"`
}
