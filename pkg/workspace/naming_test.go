package workspace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already clean", "orders", "orders"},
		{"uppercase folded", "Orders", "orders"},
		{"spaces to underscores", "My Data", "my_data"},
		{"dashes to underscores", "my-data", "my_data"},
		{"korean replaced rune by rune", "인구 통계", "_____"},
		{"leading digit prefixed", "2023_sales", "t_2023_sales"},
		{"empty becomes t", "", "t"},
		{"symbols replaced", "!!!", "___"},
		{"mixed symbols", "sales (2023)", "sales__2023_"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, normalizeTableName(tc.input))
		})
	}
}

func TestNormalizeTableNameLength(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := normalizeTableName(long)
	assert.Len(t, got, maxTableNameLen)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"plain"`, quoteIdent("plain"))
	assert.Equal(t, `"user.name"`, quoteIdent("user.name"))
	assert.Equal(t, `"say ""hi"""`, quoteIdent(`say "hi"`))
}
