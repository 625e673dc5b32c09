package mdp

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

//go:embed templates/*.mdp
var templateFS embed.FS

// Template names shipped with the orchestrator, one per pipeline stage kind.
const (
	TemplateMinimize   = "em"
	TemplateHeat       = "heat"
	TemplateEquil      = "eq"
	TemplateProduction = "prod"
	TemplateWindow     = "fep"
	TemplateIons       = "ions"
)

// tokenPattern matches substitution placeholders like @NSTEPS@.
var tokenPattern = regexp.MustCompile(`@([A-Z][A-Z0-9_]*)@`)

// UnresolvedError reports placeholders left after substitution.
type UnresolvedError struct {
	Template string
	Tokens   []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("mdp: template %q: unresolved placeholders: %s",
		e.Template, strings.Join(e.Tokens, ", "))
}

// TemplateNames returns the embedded template names, sorted.
func TemplateNames() []string {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		// The directory is embedded at build time; missing means a broken build.
		panic(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".mdp"))
	}
	sort.Strings(names)
	return names
}

// TemplateSource returns the raw text of an embedded template.
func TemplateSource(name string) (string, error) {
	data, err := templateFS.ReadFile("templates/" + name + ".mdp")
	if err != nil {
		return "", fmt.Errorf("mdp: unknown template %q", name)
	}
	return string(data), nil
}

// Placeholders returns the distinct placeholder tokens of a template,
// sorted. Used by `abfe plan` to report what a stage must supply.
func Placeholders(name string) ([]string, error) {
	src, err := TemplateSource(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tokens []string
	for _, m := range tokenPattern.FindAllStringSubmatch(src, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			tokens = append(tokens, m[1])
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

// Render substitutes placeholders in the named template and parses the
// result. Every placeholder must be resolved; unused substitutions are
// not an error (stage kinds share a common substitution set).
func Render(name string, subs map[string]string) (*Document, error) {
	src, err := TemplateSource(name)
	if err != nil {
		return nil, err
	}

	var unresolved []string
	out := tokenPattern.ReplaceAllStringFunc(src, func(tok string) string {
		key := strings.Trim(tok, "@")
		if val, ok := subs[key]; ok {
			return val
		}
		unresolved = append(unresolved, key)
		return tok
	})
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &UnresolvedError{Template: name, Tokens: dedupe(unresolved)}
	}

	doc, err := ParseString(out)
	if err != nil {
		return nil, fmt.Errorf("mdp: template %q: %w", name, err)
	}
	return doc, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
