package config

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
)

// Detect infers an ordered check list from the files in dir: install, then
// build, type-check, lint and test. Go modules, npm-style packages and
// Makefiles are recognized; a repository matching several contributes checks
// from each.
func Detect(dir string) []Check {
	var out []Check
	if exists(dir, "go.mod") {
		out = append(out, detectGo(dir)...)
	}
	if exists(dir, "package.json") {
		out = append(out, detectNode(dir)...)
	}
	if len(out) == 0 && (exists(dir, "Makefile") || exists(dir, "makefile")) {
		out = append(out, detectMake(dir)...)
	}
	return uniqueNames(out)
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func detectGo(dir string) []Check {
	checks := []Check{
		{Name: "build", Command: "go", Args: []string{"build", "./..."}, Parser: "gotest"},
		{Name: "vet", Command: "go", Args: []string{"vet", "./..."}, Parser: "gotest"},
	}
	if exists(dir, ".golangci.yml") || exists(dir, ".golangci.yaml") {
		checks = append(checks, Check{Name: "lint", Command: "golangci-lint", Args: []string{"run"}, Parser: "gotest"})
	}
	return append(checks, Check{Name: "test", Command: "go", Args: []string{"test", "./..."}, Parser: "gotest"})
}

// nodeScripts are the package.json scripts run as checks, in order.
var nodeScripts = []struct {
	script string
	name   string
	parser string
}{
	{"build", "build", "typescript"},
	{"typecheck", "typecheck", "typescript"},
	{"lint", "lint", ""},
	{"test", "test", ""},
}

func detectNode(dir string) []Check {
	pm, install := "npm", []string{"ci"}
	switch {
	case exists(dir, "pnpm-lock.yaml"):
		pm, install = "pnpm", []string{"install", "--frozen-lockfile"}
	case exists(dir, "yarn.lock"):
		pm, install = "yarn", []string{"install", "--frozen-lockfile"}
	case exists(dir, "bun.lockb"):
		pm, install = "bun", []string{"install"}
	case !exists(dir, "package-lock.json"):
		install = []string{"install"}
	}

	checks := []Check{{Name: "install", Command: pm, Args: install}}

	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		_ = json.Unmarshal(data, &pkg)
	}
	for _, s := range nodeScripts {
		if _, ok := pkg.Scripts[s.script]; !ok {
			continue
		}
		checks = append(checks, Check{Name: s.name, Command: pm, Args: []string{"run", s.script}, Parser: s.parser})
	}
	if _, ok := pkg.Scripts["typecheck"]; !ok && exists(dir, "tsconfig.json") {
		tsc := Check{Name: "typecheck", Command: "npx", Args: []string{"tsc", "--noEmit"}, Parser: "typescript"}
		checks = insertAfter(checks, "build", tsc)
	}
	return checks
}

var makeTargetRe = regexp.MustCompile(`^([A-Za-z0-9_-]+)\s*:`)

func detectMake(dir string) []Check {
	name := "Makefile"
	if !exists(dir, name) {
		name = "makefile"
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil
	}
	defer f.Close()

	targets := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if m := makeTargetRe.FindStringSubmatch(sc.Text()); m != nil {
			targets[m[1]] = true
		}
	}

	var checks []Check
	for _, t := range []string{"build", "lint", "test"} {
		if targets[t] {
			checks = append(checks, Check{Name: t, Command: "make", Args: []string{t}})
		}
	}
	return checks
}

// insertAfter places c right after the check named after, else right after
// install.
func insertAfter(checks []Check, after string, c Check) []Check {
	idx := 0
	for i, existing := range checks {
		if existing.Name == "install" || existing.Name == after {
			idx = i + 1
		}
	}
	out := make([]Check, 0, len(checks)+1)
	out = append(out, checks[:idx]...)
	out = append(out, c)
	return append(out, checks[idx:]...)
}

// uniqueNames suffixes repeated check names (go and node builds in one repo).
func uniqueNames(checks []Check) []Check {
	seen := map[string]int{}
	for i := range checks {
		n := checks[i].Name
		seen[n]++
		if seen[n] > 1 {
			checks[i].Name = n + "-" + checks[i].Command
		}
	}
	return checks
}
