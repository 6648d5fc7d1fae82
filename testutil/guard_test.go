package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestInternalImportForbidden(t *testing.T) {
	cases := map[string]bool{
		"labcore/internal/core": true,
		"labcore/pkg/domain":    false,
		"go.uber.org/zap":       false,
	}
	for in, want := range cases {
		if got := InternalImportForbidden(in); got != want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func TestImportsUnder(t *testing.T) {
	match := ImportsUnder("labcore/internal/adapters", "labcore/internal/cli")
	cases := map[string]bool{
		"labcore/internal/adapters":         true,
		"labcore/internal/adapters/httpapi": true,
		"labcore/internal/cli":              true,
		"labcore/internal/client":           false,
		"labcore/internal/core":             false,
	}
	for in, want := range cases {
		if got := match(in); got != want {
			t.Fatalf("ImportsUnder(%q)=%v want %v", in, got, want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"labcore/internal/core\"\n)\nvar _ = fmt.Sprint\nvar _ core.Option\n")
	write("a_test.go", "package tmp\nimport \"labcore/internal/cli\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "labcore/internal/core (in a.go)" {
		t.Fatalf("unexpected violations: %v", viols)
	}
	AssertNoDirectImports(t, dir, ImportsUnder("labcore/internal/cli"), "test files are skipped")
}

func TestAssertNoTransitiveDependencyUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	var pattern string
	goListDeps = func(p string) ([]byte, error) {
		pattern = p
		return []byte("fmt\nlabcore/pkg/domain\n\n"), nil
	}
	AssertNoTransitiveDependency(t, "./pkg/...", InternalImportForbidden, "pkg stays public")
	if pattern != "./pkg/..." {
		t.Fatalf("pattern passed to go list: %q", pattern)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	rec := &recordingTB{TB: t}
	func() {
		defer func() { _ = recover() }()
		AssertNoTransitiveDependency(rec, ".", InternalImportForbidden, "x")
	}()
	if !rec.failed {
		t.Fatal("expected go list failure to fail the test")
	}
}

// recordingTB captures Fatalf without stopping the outer test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(string, ...any) {
	r.failed = true
	panic("fatal")
}
