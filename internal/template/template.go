// Package template renders the server.xml/web.xml-style configuration
// templates used by C6's runtime-base builder: ${name} placeholder
// substitution followed by UPPER_SNAKE_CASE conditional block evaluation.
package template

import (
	"fmt"
	"os"
	"regexp"

	"github.com/lucli-dev/lucli/internal/atomicfile"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`)

// Render applies placeholder substitution (step 1) then conditional-block
// evaluation (step 2) to src.
func Render(src string, vars map[string]string, conditions map[string]bool) (string, []string, error) {
	replaced, warnings := substitutePlaceholders(src, vars)
	evaluated, err := evaluateConditionals(replaced, conditions)
	if err != nil {
		return "", warnings, err
	}
	return evaluated, warnings, nil
}

// RenderFile reads a template from templatePath, renders it, and writes the
// result atomically to outPath so no process ever observes a half-written
// configuration file.
func RenderFile(templatePath, outPath string, vars map[string]string, conditions map[string]bool) ([]string, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("template: read %s: %w", templatePath, err)
	}
	out, warnings, err := Render(string(raw), vars, conditions)
	if err != nil {
		return warnings, err
	}
	if err := atomicfile.Write(outPath, []byte(out), 0o644); err != nil {
		return warnings, fmt.Errorf("template: write %s: %w", outPath, err)
	}
	return warnings, nil
}

// substitutePlaceholders replaces every ${name} token found in vars.
// Unknown tokens are left in place and reported as warnings, never as
// errors: templates commonly share placeholder vocabulary
// across targets that don't all apply to any one render.
func substitutePlaceholders(src string, vars map[string]string) (string, []string) {
	var warnings []string
	out := placeholderPattern.ReplaceAllStringFunc(src, func(token string) string {
		name := token[2 : len(token)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		warnings = append(warnings, fmt.Sprintf("unresolved template placeholder ${%s}", name))
		return token
	})
	return out, warnings
}
