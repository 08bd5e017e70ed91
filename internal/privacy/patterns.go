package privacy

import (
	"regexp"
	"sort"
	"strings"
)

// Category names a kind of PII the registry can detect.
type Category string

// Supported categories.
const (
	CategoryCreditCard   Category = "credit_card"
	CategorySSN          Category = "ssn"
	CategoryEmail        Category = "email"
	CategoryPhone        Category = "phone"
	CategoryName         Category = "name"
	CategoryAddress      Category = "address"
	CategoryCityStateZip Category = "city_state_zip"
)

// placeholderPrefix opens every masked token's category tag.
const placeholderPrefix = "[MASKED_"

// Placeholder returns the category tag written in place of a value,
// e.g. "[MASKED_EMAIL]".
func (c Category) Placeholder() string {
	return placeholderPrefix + strings.ToUpper(string(c)) + "]"
}

// Match is one detected value within a line. Start and End delimit the full
// span (label, separator and value); Prefix is the label and separator as
// they appear in the line.
type Match struct {
	Start  int
	End    int
	Prefix string
	Value  string
}

// Pattern is an immutable detection rule for one category. The detector's
// first group captures the label with its separator, the second the value.
type Pattern struct {
	Category Category
	Label    string
	Priority int
	re       *regexp.Regexp
}

// Find returns every match of the pattern in line, left to right.
func (p Pattern) Find(line string) []Match {
	idx := p.re.FindAllStringSubmatchIndex(line, -1)
	if len(idx) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(idx))
	for _, loc := range idx {
		if loc[4] < 0 || loc[5] <= loc[4] {
			continue
		}
		matches = append(matches, Match{
			Start:  loc[0],
			End:    loc[1],
			Prefix: line[loc[2]:loc[3]],
			Value:  line[loc[4]:loc[5]],
		})
	}
	return matches
}

// Token builds the masked token for a match: the label as written followed by
// the category placeholder.
func (p Pattern) Token(m Match) string {
	return m.Prefix + p.Category.Placeholder()
}

// sep allows an optional colon and horizontal whitespace after a label.
const sep = `[ \t]*:?[ \t]*`

// registry is built once; Patterns hands out copies.
var registry = buildRegistry()

func buildRegistry() []Pattern {
	specs := []struct {
		category  Category
		label     string
		priority  int
		labelExpr string
		valueExpr string
	}{
		{CategoryCreditCard, "Credit Card Number:", 100,
			`\bCredit[ \t]+Card[ \t]+Number`,
			`\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`},
		{CategorySSN, "SSN:", 90,
			`\bSSN`,
			`\d{3}[- ]?\d{2}[- ]?\d{4}\b`},
		{CategoryEmail, "Email:", 80,
			`\bEmail`,
			`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`},
		{CategoryPhone, "Phone:", 70,
			`\bPhone`,
			`(?:\+?\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`},
		{CategoryName, "Name:", 60,
			`\bName`,
			`[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+`},
		{CategoryAddress, "Address:", 50,
			`\bAddress`,
			`\d+(?:[ \t]+[A-Za-z]+)*?[ \t]+(?i:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Circle|Cir|Way|Place|Pl)\b`},
		{CategoryCityStateZip, "City, State, Zip:", 40,
			`\bCity,[ \t]*State,[ \t]*Zip`,
			`[A-Za-z]+(?:[ \t]+[A-Za-z]+)*,[ \t]*[A-Z]{2}[ \t]*\d{5}(?:-\d{4})?\b`},
	}

	patterns := make([]Pattern, 0, len(specs))
	for _, s := range specs {
		// Labels match case-insensitively; value shapes keep their case rules.
		expr := `((?i:` + s.labelExpr + `)` + sep + `)(` + s.valueExpr + `)`
		patterns = append(patterns, Pattern{
			Category: s.category,
			Label:    s.label,
			Priority: s.priority,
			re:       regexp.MustCompile(expr),
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Priority > patterns[j].Priority
	})
	return patterns
}

// Patterns returns the registry ordered by descending priority.
func Patterns() []Pattern {
	out := make([]Pattern, len(registry))
	copy(out, registry)
	return out
}

// PatternFor returns the registry entry for c.
func PatternFor(c Category) (Pattern, bool) {
	for _, p := range registry {
		if p.Category == c {
			return p, true
		}
	}
	return Pattern{}, false
}

// Categories lists every category in priority order.
func Categories() []Category {
	out := make([]Category, len(registry))
	for i, p := range registry {
		out[i] = p.Category
	}
	return out
}
