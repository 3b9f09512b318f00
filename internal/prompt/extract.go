package prompt

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoCodeBlock is returned when a reply carries no fenced code block.
var ErrNoCodeBlock = errors.New("reply contains no fenced code block")

var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractCode returns the first go (or untagged) fenced block in text and
// the surrounding prose as the plan.
func ExtractCode(text string) (code, plan string, err error) {
	matches := fenceRe.FindAllStringSubmatchIndex(text, -1)
	pick := -1
	for i, m := range matches {
		lang := strings.ToLower(text[m[2]:m[3]])
		if lang == "go" || lang == "golang" {
			pick = i
			break
		}
		if lang == "" && pick < 0 {
			pick = i
		}
	}
	if pick < 0 {
		return "", "", ErrNoCodeBlock
	}
	m := matches[pick]
	code = strings.TrimSpace(text[m[4]:m[5]])
	if code == "" {
		return "", "", ErrNoCodeBlock
	}
	plan = strings.TrimSpace(text[:m[0]] + "\n" + text[m[1]:])
	return code + "\n", plan, nil
}

// FindJSONObjects returns every top-level {...} span in s, skipping braces
// inside string literals. ASCII delimiters never occur inside multi-byte
// UTF-8 sequences, so a byte scan is safe.
func FindJSONObjects(s string) []string {
	var (
		objects  []string
		depth    int
		start    = -1
		inString bool
		escape   bool
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case escape:
			escape = false
		case inString:
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case b == '}' && depth > 0:
			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, s[start:i+1])
				start = -1
			}
		}
	}
	return objects
}
