package privacy

import "strings"

type mappingKey struct {
	original string
	category Category
}

// Sanitize replaces emails, phone numbers and name-shaped substrings with
// their category placeholders. The returned slice holds the input mappings in
// their original order followed by any new entries; the input slice itself
// is never modified.
func Sanitize(text string, mappings []Mapping) (string, []Mapping) {
	result := sanitize(GetDefaultRules(), text, mappings)
	return result.SanitizedText, result.Mappings
}

func sanitize(rules []DetectionRule, text string, mappings []Mapping) Result {
	out := make([]Mapping, len(mappings))
	copy(out, mappings)

	index := make(map[mappingKey]int, len(out))
	for i, m := range out {
		key := mappingKey{original: m.Original, category: m.Type}
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}

	findings := make([]Finding, 0)
	for _, rule := range rules {
		count := 0
		text = rule.Pattern.ReplaceAllStringFunc(text, func(match string) string {
			count++
			key := mappingKey{original: match, category: rule.Category}
			if i, ok := index[key]; ok {
				return out[i].Replacement
			}

			m := Mapping{
				Original:    match,
				Replacement: Placeholder(rule.Category),
				Type:        rule.Category,
			}
			index[key] = len(out)
			out = append(out, m)
			return m.Replacement
		})

		if count > 0 {
			findings = append(findings, Finding{
				Category: rule.Category,
				Masked:   Placeholder(rule.Category),
				Count:    count,
			})
		}
	}

	return Result{
		SanitizedText: text,
		Mappings:      out,
		Findings:      findings,
	}
}

// Restore puts the original values back into a sanitized text. Mappings are
// applied in list order and every placeholder is matched literally.
//
// Placeholders are shared by all values of a category, so when a text held
// two different emails the first EMAIL mapping in the list claims every
// [EMAIL] and later ones find nothing left to replace.
func Restore(text string, mappings []Mapping) string {
	for _, m := range mappings {
		if m.Replacement == "" {
			continue
		}
		text = strings.ReplaceAll(text, m.Replacement, m.Original)
	}
	return text
}
