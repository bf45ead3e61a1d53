// Package masking removes credentials from values that leave the process
// through API responses or logs.
package masking

import "regexp"

// Placeholder replaces masked option values.
const Placeholder = "********"

type pattern struct {
	regex       *regexp.Regexp
	replacement string
}

// Connection errors often echo the DSN that failed, so the patterns cover
// URL userinfo, MySQL-style DSNs and key=value credential fragments.
var patterns = []pattern{
	{regexp.MustCompile(`(://[^:/@\s]+):[^@\s]+@`), `$1:***@`},
	{regexp.MustCompile(`\b([A-Za-z0-9_.-]+):[^@\s]+@(tcp|unix)\(`), `$1:***@$2(`},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)=[^\s&;'"]+`), `$1=***`},
	{regexp.MustCompile(`(?i)\b(api_?key|token|secret)=[^\s&;'"]+`), `$1=***`},
}

// Scrub masks credentials embedded in free text.
func Scrub(s string) string {
	for _, p := range patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// Options returns a copy of options with sensitive values replaced by
// Placeholder. Empty strings stay empty so callers can tell whether a
// credential was set at all.
func Options(options map[string]any, sensitive map[string]bool) map[string]any {
	if options == nil {
		return nil
	}
	masked := make(map[string]any, len(options))
	for k, v := range options {
		if sensitive[k] {
			if s, ok := v.(string); !ok || s != "" {
				masked[k] = Placeholder
				continue
			}
		}
		masked[k] = v
	}
	return masked
}
