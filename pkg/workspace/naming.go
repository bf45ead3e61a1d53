package workspace

import "strings"

const maxTableNameLen = 63

// normalizeTableName turns an arbitrary proposed name into a safe SQL
// identifier: lowercase, non-identifier runes become underscores, a leading
// digit gets a t_ prefix, and the result is capped at 63 characters.
func normalizeTableName(proposed string) string {
	name := strings.ToLower(strings.TrimSpace(proposed))

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name = b.String()

	if name == "" {
		name = "t"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	if len(name) > maxTableNameLen {
		name = name[:maxTableNameLen]
	}
	return name
}

// quoteIdent wraps an identifier in double quotes, escaping embedded quotes.
// Workspace column names come from upstream results and may hold dots or
// spaces (flattened document fields, SQL expressions).
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
