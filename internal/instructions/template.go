// Package instructions turns a user command into the instruction text the
// agent loop is seeded with.
//
// Task templates live under the templates directory and are listed in a YAML
// catalog. In fast mode the matching template is rendered with the command's
// parameters. In adaptive mode the failure-pattern analyzer is consulted
// first and its output, or a set of generic robustness directives, shapes the
// final text through one model rewrite.
package instructions

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Render substitutes {{name}} placeholders with params. Whitespace inside the
// braces is ignored; placeholders without a value are left intact.
func Render(template string, params map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := params[name]; ok {
			return v
		}
		return match
	})
}

// ExtractVariables returns the distinct placeholder names in template, in
// order of first appearance.
func ExtractVariables(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// MissingParams lists the required names with no non-blank value in params,
// sorted.
func MissingParams(required []string, params map[string]string) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(params[name]) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
