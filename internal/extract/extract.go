// Package extract pulls event-calculus rule text out of raw generator output.
//
// Generators wrap rules in explanatory prose and markdown fences. Extraction
// prefers fenced code blocks tagged prolog/pl/rtec, then untagged fences, and
// finally falls back to the whole response when it looks like bare rules.
package extract

import (
	"regexp"
	"strings"
)

// codeBlockRE matches markdown code fences with an optional language tag.
var codeBlockRE = regexp.MustCompile("(?s)```(\\w*)[ \t]*\n(.*?)```")

// ruleAliases are the fence language tags treated as rule code.
var ruleAliases = map[string]bool{
	"prolog": true,
	"pl":     true,
	"rtec":   true,
}

// Blocks returns every fenced code block in the text as (language, code)
// pairs, in document order. Language tags are lowercased.
func Blocks(text string) [][2]string {
	matches := codeBlockRE.FindAllStringSubmatch(text, -1)
	out := make([][2]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, [2]string{strings.ToLower(strings.TrimSpace(m[1])), m[2]})
	}
	return out
}

// RuleBlocks concatenates all rule-tagged code blocks (and untagged blocks
// when includeUntagged is set), separated by blank lines. Empty blocks are
// skipped.
func RuleBlocks(text string, includeUntagged bool) string {
	var parts []string
	for _, b := range Blocks(text) {
		lang, code := b[0], strings.TrimSpace(b[1])
		if code == "" {
			continue
		}
		if ruleAliases[lang] || (lang == "" && includeUntagged) {
			parts = append(parts, code)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Rules extracts rule text from a generator response. When no fenced blocks
// are present the trimmed response itself is returned, on the assumption the
// generator emitted bare rules. Returns the empty string only for responses
// that are empty or whitespace.
func Rules(response string) string {
	if extracted := RuleBlocks(response, true); extracted != "" {
		return extracted
	}
	return strings.TrimSpace(response)
}
