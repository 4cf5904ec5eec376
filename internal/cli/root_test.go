package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/converge/internal/db"
)

// resetFlags puts every flag in the tree back to its default. rootCmd is a
// package-level singleton, so values set by one Execute stick to the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// withDatabase points --database at a fresh SQLite file for one test.
func withDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "converge.db")
	t.Cleanup(func() { databaseFlag = "" })
	return path
}

func writeRepo(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if config != "" {
		if err := os.WriteFile(filepath.Join(dir, "converge.yaml"), []byte(config), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, sub := range []string{"config", "db", "history", "status", "restore", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
	for _, flag := range []string{
		"--cross-repo", "--max-fix-attempts", "--max-remote-retries", "--dry-run",
		"--no-verify", "--preflight", "--concurrency", "--database", "--config",
	} {
		if !strings.Contains(out, flag) {
			t.Errorf("help output missing flag %s", flag)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, args := range [][]string{
		{"config", "show"}, {"config", "validate"}, {"config", "templates"},
		{"db", "migrate"}, {"db", "reset"}, {"history"}, {"status"}, {"restore"},
	} {
		out, err := executeCommand(append(args, "--help")...)
		if err != nil {
			t.Errorf("%s --help failed: %v", strings.Join(args, " "), err)
		}
		if out == "" {
			t.Errorf("%s --help produced no output", strings.Join(args, " "))
		}
	}
}

func TestConfigValidate(t *testing.T) {
	dir := writeRepo(t, "checks:\n  - name: test\n    command: make test\n")
	out, err := executeCommand("config", "validate", dir)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("output = %s", out)
	}

	bad := writeRepo(t, "checks:\n  - name: lint\n    command: eslint\n    parser: nope\n")
	out, err = executeCommand("config", "validate", bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "checks[0].parser") {
		t.Errorf("output should name the bad field: %s", out)
	}
}

func TestConfigShow_Detected(t *testing.T) {
	dir := writeRepo(t, "")
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("config", "show", dir)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"detected from repository contents", "max_fix_attempts", "name: vet"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShow_ExplicitFile(t *testing.T) {
	dir := writeRepo(t, "")
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[[checks]]\nname = \"unit\"\ncommand = \"make unit\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { configPath = "" })

	out, err := executeCommand("config", "show", "--config", path, dir)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "# source: "+path) || !strings.Contains(out, "name: unit") {
		t.Errorf("output = %s", out)
	}
}

func TestConfigTemplates(t *testing.T) {
	writeRepo(t, "")
	out, err := executeCommand("config", "templates")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if !strings.Contains(out, "wrote") {
		t.Errorf("first install should write templates: %s", out)
	}
	out, err = executeCommand("config", "templates")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "already present") {
		t.Errorf("second install should be a no-op: %s", out)
	}
}

func TestDBMigrateAndReset(t *testing.T) {
	path := withDatabase(t)
	out, err := executeCommand("db", "migrate", "--database", path)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "sqlite3") {
		t.Errorf("output = %s", out)
	}

	if _, err := executeCommand("db", "reset", "--database", path); err == nil {
		t.Error("reset without --force should fail")
	}
	out, err = executeCommand("db", "reset", "--database", path, "--force")
	if err != nil || !strings.Contains(out, "Database reset.") {
		t.Errorf("reset: %v %s", err, out)
	}
}

func TestHistory(t *testing.T) {
	path := withDatabase(t)
	d, err := db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatal(err)
	}
	for i, a := range []db.FixAttempt{
		{Fingerprint: "aaaa1111bbbb", Phase: "local", Target: "lint", Attempt: 1, Strategy: "add semicolon"},
		{Fingerprint: "aaaa1111bbbb", Phase: "local", Target: "lint", Attempt: 2, Succeeded: true, Strategy: "reformat", RootCause: "missing semicolon"},
		{Fingerprint: "cccc2222dddd", Phase: "ci-job", Target: "e2e", Attempt: 1},
	} {
		a.InvocationID = "inv"
		a.Timestamp = "2024-05-01T12:00:0" + string(rune('0'+i)) + ".000Z"
		if err := d.RecordFixAttempt(a); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.RecordCheckRun(db.CheckRun{InvocationID: "inv", Round: 1, CheckName: "lint", ExitCode: 1, Fingerprint: "aaaa1111bbbb"}); err != nil {
		t.Fatal(err)
	}
	if err := d.LogEvent(db.Event{InvocationID: "inv", Event: "round_clean", Phase: "local", Detail: "round 2"}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	out, err := executeCommand("history", "--database", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "aaaa1111") || !strings.Contains(out, "cccc2222") {
		t.Errorf("stats output = %s", out)
	}

	out, err = executeCommand("history", "--database", path, "aaaa")
	if err != nil {
		t.Fatalf("history aaaa: %v", err)
	}
	if !strings.Contains(out, "reformat") || !strings.Contains(out, "cause: missing semicolon") || strings.Contains(out, "e2e") {
		t.Errorf("attempts output = %s", out)
	}
	if strings.Index(out, "reformat") > strings.Index(out, "add semicolon") {
		t.Errorf("attempts should be newest first:\n%s", out)
	}

	if _, err := executeCommand("history", "--database", path, "ffff"); err == nil {
		t.Error("unknown fingerprint should fail")
	}

	out, err = executeCommand("history", "--database", path, "--invocation", "inv")
	if err != nil {
		t.Fatalf("history --invocation: %v", err)
	}
	if !strings.Contains(out, "lint") || !strings.Contains(out, "round_clean") {
		t.Errorf("invocation output = %s", out)
	}
}

func TestRestoreRejectsForeignRef(t *testing.T) {
	_, err := executeCommand("restore", "refs/heads/main", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "not a snapshot ref") {
		t.Errorf("err = %v", err)
	}
}

func TestDryRun(t *testing.T) {
	dir := writeRepo(t, "checks:\n  - name: ok\n    command: \"true\"\n  - name: broken\n    command: \"echo boom >&2; exit 3\"\n")
	out, err := executeCommand("--dry-run", dir)
	if err == nil || !strings.Contains(err.Error(), "1 check(s) failing") {
		t.Fatalf("err = %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ ok") || !strings.Contains(out, "✗ broken") || !strings.Contains(out, "exit 3") {
		t.Errorf("output = %s", out)
	}

	clean := writeRepo(t, "checks:\n  - name: ok\n    command: \"true\"\n")
	if out, err := executeCommand("--dry-run", clean); err != nil {
		t.Errorf("clean dry run: %v\n%s", err, out)
	}
}

func TestMultipleDirsRequireCrossRepo(t *testing.T) {
	a, b := writeRepo(t, ""), writeRepo(t, "")
	_, err := executeCommand(a, b)
	if err == nil || !strings.Contains(err.Error(), "--cross-repo") {
		t.Errorf("err = %v", err)
	}
}

func TestFlagsDoNotLeakBetweenRuns(t *testing.T) {
	if _, err := executeCommand("--help"); err != nil {
		t.Fatal(err)
	}
	a, b := writeRepo(t, ""), writeRepo(t, "")
	out, err := executeCommand(a, b)
	if err == nil || !strings.Contains(err.Error(), "--cross-repo") {
		t.Errorf("help from the previous run leaked: err = %v\n%s", err, out)
	}

	dir := writeRepo(t, "checks:\n  - name: broken\n    command: \"exit 1\"\n")
	if _, err := executeCommand("--dry-run", dir); err == nil {
		t.Fatal("dry run with a failing check should error")
	}
	resetFlags(rootCmd)
	if f := rootCmd.Flags().Lookup("dry-run"); f == nil || f.Changed || f.Value.String() != "false" {
		t.Errorf("dry-run flag not reset: %+v", f)
	}
}

func TestInvalidBudgetFlagRejected(t *testing.T) {
	dir := writeRepo(t, "checks:\n  - name: ok\n    command: \"true\"\n")
	_, err := executeCommand("--dry-run", "--max-fix-attempts", "-2", dir)
	if err == nil || !strings.Contains(err.Error(), "max_fix_attempts") {
		t.Errorf("err = %v", err)
	}
}
