package compiler

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/pkg/errors"
)

// shTable "compiles" shell scripts by copying them into place as executables.
func shTable() Table {
	return Table{
		"sh": {
			Name:       "sh",
			Extension:  ".sh",
			CompileCmd: `/bin/sh -c "cp {src} {exe} && chmod 755 {exe}"`,
		},
		"broken": {
			Name:       "broken",
			Extension:  ".sh",
			CompileCmd: `/bin/sh -c "echo syntax error near line 1 >&2; exit 1"`,
		},
		"hang": {
			Name:         "hang",
			Extension:    ".sh",
			CompileCmd:   `/bin/sh -c "touch {exe}; sleep 10"`,
			BuildTimeout: 200 * time.Millisecond,
		},
		"missing": {
			Name:       "missing",
			Extension:  ".x",
			CompileCmd: "/nonexistent/toolchain {src}",
		},
	}
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileSucceeded(t *testing.T) {
	c := New(Config{WorkRoot: t.TempDir()}, shTable(), nil)
	src := writeSource(t, "#!/bin/sh\necho hi\n")

	out, err := c.Compile(context.Background(), dto.CompileRequest{RunID: 7, SourcePath: src, Language: "sh"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer os.RemoveAll(out.WorkDir)
	if !out.Succeeded {
		t.Fatalf("expected success, diagnostics: %s", out.Diagnostics)
	}
	if out.WorkDir != c.RunDir(7) {
		t.Fatalf("expected run scoped dir %s, got %s", c.RunDir(7), out.WorkDir)
	}
	if _, err := os.Stat(out.Executable); err != nil {
		t.Fatalf("executable missing: %v", err)
	}
}

func TestCompileFailures(t *testing.T) {
	tests := []struct {
		language string
		diag     string
	}{
		{language: "broken", diag: "syntax error"},
		{language: "hang", diag: "timed out"},
		{language: "missing", diag: "nonexistent"},
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			c := New(Config{WorkRoot: t.TempDir()}, shTable(), nil)
			src := writeSource(t, "anything")

			start := time.Now()
			out, err := c.Compile(context.Background(), dto.CompileRequest{RunID: 1, SourcePath: src, Language: tt.language})
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			defer os.RemoveAll(out.WorkDir)
			if out.Succeeded {
				t.Fatal("expected compile failure")
			}
			if out.Executable != "" {
				t.Fatalf("expected no executable, got %s", out.Executable)
			}
			if !strings.Contains(out.Diagnostics, tt.diag) {
				t.Fatalf("expected diagnostics to mention %q, got %q", tt.diag, out.Diagnostics)
			}
			if time.Since(start) > 5*time.Second {
				t.Fatal("compile was not bounded by the build timeout")
			}
		})
	}
}

func TestCompileSetupErrors(t *testing.T) {
	root := t.TempDir()
	c := New(Config{WorkRoot: root}, shTable(), nil)

	_, err := c.Compile(context.Background(), dto.CompileRequest{RunID: 1, SourcePath: writeSource(t, "x"), Language: "cobol"})
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}

	_, err = c.Compile(context.Background(), dto.CompileRequest{RunID: 2, SourcePath: filepath.Join(root, "nope"), Language: "sh"})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, statErr := os.Stat(c.RunDir(2)); !os.IsNotExist(statErr) {
		t.Fatal("work dir should be removed after a setup error")
	}
}

func TestCompileCpp(t *testing.T) {
	if _, err := exec.LookPath("g++"); err != nil {
		t.Skip("g++ not available")
	}
	c := New(Config{WorkRoot: t.TempDir()}, DefaultTable(), nil)
	src := filepath.Join(t.TempDir(), "a.cpp")
	if err := os.WriteFile(src, []byte("#include <cstdio>\nint main(){int a,b;scanf(\"%d%d\",&a,&b);printf(\"%d\\n\",a+b);}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := c.Compile(context.Background(), dto.CompileRequest{RunID: 3, SourcePath: src, Language: "G++"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer os.RemoveAll(out.WorkDir)
	if !out.Succeeded {
		t.Fatalf("expected success: %s", out.Diagnostics)
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.json")
	data := `{"py": {"extension": "py", "compile": "cp {src} {exe}", "build_timeout_ms": 1500}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	lang, ok := table.Lookup("py")
	if !ok {
		t.Fatal("expected py language")
	}
	if lang.Extension != ".py" || lang.Name != "py" || lang.BuildTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected language %+v", lang)
	}

	if err := os.WriteFile(path, []byte(`{"bad": {"extension": ".x"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(path); err == nil {
		t.Fatal("expected error for language without compile command")
	}
}

func TestExpandCommand(t *testing.T) {
	args, err := expandCommand(`g++ -O2 -o {exe} "{src}"`, "/w/main.cpp", "/w/main", "/w")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"g++", "-O2", "-o", "/w/main", "/w/main.cpp"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, args)
	}
	if _, err := expandCommand("   ", "", "", ""); err == nil {
		t.Fatal("expected error for empty command")
	}
}
