package template

import (
	"regexp"
	"strings"

	"github.com/lucli-dev/lucli/internal/lucerr"
)

// ifPattern matches one <!-- IF_TAG -->...<!-- END_IF_TAG --> block, both
// tags captured so the opening and closing markers can be compared by name.
// Nested blocks are unsupported; the non-greedy body match stops at the
// first END_IF_ marker of any tag.
var ifPattern = regexp.MustCompile(`(?s)<!--\s*IF_([A-Z0-9_]+)\s*-->(.*?)<!--\s*END_IF_([A-Z0-9_]+)\s*-->`)

var markerPattern = regexp.MustCompile(`<!--\s*(?:IF|END_IF)_([A-Z0-9_]+)\s*-->`)

// evaluateConditionals resolves every IF_TAG/END_IF_TAG pair: the block's
// content is kept (markers stripped) when conditions[tag] is true, and
// removed entirely otherwise. A tag absent from conditions defaults to
// false. Unbalanced markers are a fatal template error.
func evaluateConditionals(src string, conditions map[string]bool) (string, error) {
	if err := checkBalanced(src); err != nil {
		return "", err
	}

	out := ifPattern.ReplaceAllStringFunc(src, func(block string) string {
		m := ifPattern.FindStringSubmatch(block)
		openTag, body, closeTag := m[1], m[2], m[3]
		if openTag != closeTag {
			return block // reported by findMismatchedPair below
		}
		if conditions[openTag] {
			return body
		}
		return ""
	})

	if openTag, closeTag, mismatched := findMismatchedPair(out); mismatched {
		return "", lucerr.Newf(lucerr.KindConfigInvalid,
			"template: mismatched conditional markers IF_%s / END_IF_%s", openTag, closeTag)
	}
	return out, nil
}

// checkBalanced verifies every IF_ has a matching END_IF_ with the same
// tag name and that markers are not interleaved across different tags.
func checkBalanced(src string) error {
	var stack []string
	cursor := 0
	for {
		loc := markerPattern.FindStringSubmatchIndex(src[cursor:])
		if loc == nil {
			break
		}
		full := src[cursor+loc[0] : cursor+loc[1]]
		tag := src[cursor+loc[2] : cursor+loc[3]]
		isEnd := strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(full, "<!--")), "END_IF")

		if isEnd {
			if len(stack) == 0 || stack[len(stack)-1] != tag {
				return lucerr.Newf(lucerr.KindConfigInvalid,
					"template: unbalanced conditional marker END_IF_%s", tag)
			}
			stack = stack[:len(stack)-1]
		} else {
			stack = append(stack, tag)
		}
		cursor += loc[1]
	}
	if len(stack) != 0 {
		return lucerr.Newf(lucerr.KindConfigInvalid,
			"template: unclosed conditional marker IF_%s", stack[len(stack)-1])
	}
	return nil
}

func findMismatchedPair(src string) (openTag, closeTag string, mismatched bool) {
	m := ifPattern.FindStringSubmatch(src)
	if m == nil {
		return "", "", false
	}
	if m[1] != m[3] {
		return m[1], m[3], true
	}
	return "", "", false
}
