package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

const ifClose = "{{/if}}"

// Vars maps template variable names to values.
type Vars map[string]string

// Render expands {{name}} placeholders and {{#if name}}...{{/if}} blocks.
// A block is kept only when its variable is set and non-empty. Placeholders
// left after block evaluation must all be present in vars. Values are inserted
// literally and never re-expanded.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := evalBlocks(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return tok
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// evalBlocks resolves conditional blocks innermost first: each {{/if}} closes
// the nearest {{#if}} before it.
func evalBlocks(tmpl string, vars Vars) (string, error) {
	s := tmpl
	for {
		end := strings.Index(s, ifClose)
		if end < 0 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(s[:end], -1)
		if len(opens) == 0 {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		open := opens[len(opens)-1]
		name := s[open[2]:open[3]]

		keep := ""
		if vars[name] != "" {
			keep = s[open[1]:end]
		}
		s = s[:open[0]] + keep + s[end+len(ifClose):]
	}

	if tag := ifOpenRe.FindString(s); tag != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", tag)
	}
	return s, nil
}

// Load returns the template called name. A file at <workdir>/.converge/prompts/<name>
// overrides the user-level copy in ~/.converge/prompts, which overrides the
// built-in template.
func Load(name, workdir string) (string, error) {
	if name == "" || filepath.IsAbs(name) || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid template name %q", name)
	}

	var dirs []string
	if workdir != "" {
		dirs = append(dirs, filepath.Join(workdir, ".converge", "prompts"))
	}
	if dir := userTemplateDir(); dir != "" {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return string(data), nil
		}
	}

	if tmpl, ok := builtinTemplates[name]; ok {
		return tmpl, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}

// RenderNamed loads and renders a template in one step.
func RenderNamed(name, workdir string, vars Vars) (string, error) {
	tmpl, err := Load(name, workdir)
	if err != nil {
		return "", err
	}
	out, err := Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

func userTemplateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".converge", "prompts")
}

// InstallBuiltinTemplates writes the built-in templates to ~/.converge/prompts
// so they can be customized. Existing files are left alone. Returns the
// directory and the names written.
func InstallBuiltinTemplates() (string, []string, error) {
	dir := userTemplateDir()
	if dir == "" {
		return "", nil, fmt.Errorf("could not determine home directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create templates dir: %w", err)
	}

	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return dir, written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return dir, written, nil
}
