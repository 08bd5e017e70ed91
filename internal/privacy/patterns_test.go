package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatterns_Ordering(t *testing.T) {
	patterns := Patterns()
	require.Len(t, patterns, 7)

	seen := make(map[int]bool)
	for i, p := range patterns {
		assert.False(t, seen[p.Priority], "priority %d reused", p.Priority)
		seen[p.Priority] = true
		if i > 0 {
			assert.Greater(t, patterns[i-1].Priority, p.Priority)
		}
	}
	assert.Equal(t, CategoryCreditCard, patterns[0].Category)
	assert.Equal(t, CategoryCityStateZip, patterns[len(patterns)-1].Category)
}

func TestPatterns_ReturnsCopy(t *testing.T) {
	patterns := Patterns()
	patterns[0].Priority = -1
	patterns[0].Label = "changed"

	fresh := Patterns()
	assert.Equal(t, 100, fresh[0].Priority)
	assert.Equal(t, "Credit Card Number:", fresh[0].Label)
}

func TestCategory_Placeholder(t *testing.T) {
	assert.Equal(t, "[MASKED_EMAIL]", CategoryEmail.Placeholder())
	assert.Equal(t, "[MASKED_CITY_STATE_ZIP]", CategoryCityStateZip.Placeholder())
}

func TestPattern_Find(t *testing.T) {
	tests := []struct {
		category Category
		line     string
		prefix   string
		value    string
	}{
		{CategoryCreditCard, "Credit Card Number: 1234 5678 9012 3456", "Credit Card Number: ", "1234 5678 9012 3456"},
		{CategoryCreditCard, "credit card number 1234-5678-9012-3456", "credit card number ", "1234-5678-9012-3456"},
		{CategoryCreditCard, "Credit Card Number:1234567890123456", "Credit Card Number:", "1234567890123456"},
		{CategorySSN, "SSN: 123-45-6789", "SSN: ", "123-45-6789"},
		{CategorySSN, "ssn 123456789", "ssn ", "123456789"},
		{CategoryEmail, "Email: me@myemail.com", "Email: ", "me@myemail.com"},
		{CategoryEmail, "EMAIL:first.last+tag@mail.example.org", "EMAIL:", "first.last+tag@mail.example.org"},
		{CategoryPhone, "Phone: (123) 456-7890", "Phone: ", "(123) 456-7890"},
		{CategoryPhone, "Phone: +1 123.456.7890", "Phone: ", "+1 123.456.7890"},
		{CategoryPhone, "phone 1234567890", "phone ", "1234567890"},
		{CategoryName, "Name: John Doe", "Name: ", "John Doe"},
		{CategoryName, "Name: Mary Ann Smith", "Name: ", "Mary Ann Smith"},
		{CategoryAddress, "Address: 123 Someplace Dr", "Address: ", "123 Someplace Dr"},
		{CategoryAddress, "Address: 42 West Elm Street", "Address: ", "42 West Elm Street"},
		{CategoryCityStateZip, "City, State, Zip: Somewhere, DC 12345", "City, State, Zip: ", "Somewhere, DC 12345"},
		{CategoryCityStateZip, "City, State, Zip: New York, NY 10001-1234", "City, State, Zip: ", "New York, NY 10001-1234"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category)+"/"+tt.line, func(t *testing.T) {
			p, ok := PatternFor(tt.category)
			require.True(t, ok)

			matches := p.Find(tt.line)
			require.Len(t, matches, 1)
			assert.Equal(t, tt.prefix, matches[0].Prefix)
			assert.Equal(t, tt.value, matches[0].Value)
			assert.Equal(t, tt.line[matches[0].Start:matches[0].End], tt.prefix+tt.value)
		})
	}
}

func TestPattern_FindRejects(t *testing.T) {
	tests := []struct {
		category Category
		line     string
	}{
		{CategoryEmail, "contact me@myemail.com"},  // no label
		{CategoryName, "Name: john doe"},           // values are case-sensitive
		{CategoryName, "Username: John Doe"},       // label must be word-bounded
		{CategorySSN, "SSN: 12-345-678"},           // wrong grouping
		{CategoryAddress, "Address: Someplace Dr"}, // leading number required
		{CategoryCityStateZip, "City, State, Zip: Somewhere, dc 12345"},
		{CategoryEmail, "Email: [MASKED_EMAIL]"}, // tokens are never values
		{CategoryName, "Name: [MASKED_NAME]"},
	}

	for _, tt := range tests {
		p, ok := PatternFor(tt.category)
		require.True(t, ok)
		assert.Empty(t, p.Find(tt.line), tt.line)
	}
}

func TestPatternFor_Unknown(t *testing.T) {
	_, ok := PatternFor(Category("passport"))
	assert.False(t, ok)
}
