package inventory

import "strings"

var templateDelimiters = []string{"{{", "}}", "{%", "%}"}

// Escape neutralizes engine template syntax inside a credential value.
// Values containing a delimiter pair are wrapped in a raw block, so a secret
// like "a{{b}}c" survives template rendering byte for byte instead of being
// expanded as a directive. Values without delimiters pass through untouched.
func Escape(value string) string {
	for _, delim := range templateDelimiters {
		if strings.Contains(value, delim) {
			return "{% raw %}" + value + "{% endraw %}"
		}
	}
	return value
}
