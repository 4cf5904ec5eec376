package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func checkNames(checks []Check) string {
	var names []string
	for _, c := range checks {
		names = append(names, c.Name)
	}
	return strings.Join(names, ",")
}

func TestDetect_Go(t *testing.T) {
	dir := writeFiles(t, map[string]string{"go.mod": "module x\n"})
	got := Detect(dir)
	if checkNames(got) != "build,vet,test" {
		t.Errorf("got %s", checkNames(got))
	}
	if got[2].Parser != "gotest" {
		t.Errorf("go checks should use the gotest parser")
	}

	withLint := writeFiles(t, map[string]string{"go.mod": "module x\n", ".golangci.yml": ""})
	if checkNames(Detect(withLint)) != "build,vet,lint,test" {
		t.Errorf("got %s", checkNames(Detect(withLint)))
	}
}

func TestDetect_Node(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"package.json":      `{"scripts": {"test": "vitest", "lint": "eslint .", "dev": "vite"}}`,
		"package-lock.json": "{}",
		"tsconfig.json":     "{}",
	})
	got := Detect(dir)
	if checkNames(got) != "install,typecheck,lint,test" {
		t.Fatalf("got %s", checkNames(got))
	}
	if got[0].Command != "npm" || got[0].Args[0] != "ci" {
		t.Errorf("install = %+v", got[0])
	}
	if got[1].Command != "npx" {
		t.Errorf("typecheck = %+v", got[1])
	}
	if got[2].Args[1] != "lint" {
		t.Errorf("lint = %+v", got[2])
	}
}

func TestDetect_NodePackageManagers(t *testing.T) {
	tests := []struct {
		lock string
		pm   string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
	}
	for _, tt := range tests {
		dir := writeFiles(t, map[string]string{"package.json": `{"scripts": {"build": "tsc"}}`, tt.lock: ""})
		got := Detect(dir)
		if got[0].Command != tt.pm || got[1].Command != tt.pm {
			t.Errorf("%s: expected %s, got %+v", tt.lock, tt.pm, got)
		}
	}
}

func TestDetect_Makefile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"Makefile": "build:\n\tgo build\n\ntest: build\n\tgo test\n\nrelease:\n"})
	got := Detect(dir)
	if checkNames(got) != "build,test" {
		t.Errorf("got %s", checkNames(got))
	}
}

func TestDetect_MixedRepoKeepsNamesUnique(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"go.mod":       "module x\n",
		"package.json": `{"scripts": {"build": "vite build", "test": "vitest"}}`,
	})
	got := Detect(dir)
	if checkNames(got) != "build,vet,test,install,build-npm,test-npm" {
		t.Errorf("got %s", checkNames(got))
	}
}

func TestDetect_Empty(t *testing.T) {
	if got := Detect(t.TempDir()); len(got) != 0 {
		t.Errorf("expected no checks, got %+v", got)
	}
}
