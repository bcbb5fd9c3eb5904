// Package prompt holds the templated prompts bound to each generation stage.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Template is a named prompt with a fixed set of input variables. It is
// immutable once built and safe for concurrent use.
type Template struct {
	name   string
	text   string
	vars   []string
	parsed *template.Template
}

// New parses text as a text/template. Every variable in vars must be
// supplied to Format; the template references them as {{.name}}.
func New(name, text string, vars ...string) (*Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt %s: %w", name, err)
	}
	sorted := append([]string(nil), vars...)
	sort.Strings(sorted)
	return &Template{name: name, text: text, vars: sorted, parsed: t}, nil
}

// Must is like New but panics on error. Use it only with constant text.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Text returns the raw template text.
func (t *Template) Text() string { return t.text }

// InputVariables returns the declared variables, sorted.
func (t *Template) InputVariables() []string {
	return append([]string(nil), t.vars...)
}

// Format renders the template. It fails when a declared variable is missing.
func (t *Template) Format(values map[string]string) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := values[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt %s: missing variables %s", t.name, strings.Join(missing, ", "))
	}

	var sb strings.Builder
	if err := t.parsed.Execute(&sb, values); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", t.name, err)
	}
	return sb.String(), nil
}
