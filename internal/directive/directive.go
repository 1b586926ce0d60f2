// Package directive parses %%name key="value"%% command strings embedded in
// free text. Parsing is permissive: anything that does not match is skipped
// and an input with no directives yields an empty result, never an error.
package directive

import "regexp"

// Directive is one parsed %%...%% command.
type Directive struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params"`
}

var (
	directivePattern = regexp.MustCompile(`%%([A-Za-z][A-Za-z0-9_]*)((?:\s+[A-Za-z][A-Za-z0-9_]*="[^"]*")*)\s*%%`)
	paramPattern     = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_]*)="([^"]*)"`)
)

// Parse extracts every directive from text in order of appearance.
func Parse(text string) []Directive {
	matches := directivePattern.FindAllStringSubmatch(text, -1)
	directives := make([]Directive, 0, len(matches))
	for _, match := range matches {
		d := Directive{Type: match[1], Params: map[string]string{}}
		for _, param := range paramPattern.FindAllStringSubmatch(match[2], -1) {
			d.Params[param[1]] = param[2]
		}
		directives = append(directives, d)
	}
	return directives
}
