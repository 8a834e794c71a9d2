package languages_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/itstheanurag/coderunner/internal/languages"
)

func newRegistry(t *testing.T, extra ...languages.Language) *languages.Registry {
	t.Helper()
	r, err := languages.NewRegistry(extra...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestDefaultLanguages(t *testing.T) {
	r := newRegistry(t)
	want := []string{"bash", "c", "cpp", "go", "java", "javascript", "kotlin", "lua", "php", "python", "ruby", "rust", "swift"}

	var got []string
	for _, l := range r.List() {
		got = append(got, l.ID)
		if l.SourceFile == "" || len(l.RunCommand) == 0 {
			t.Errorf("%s: incomplete profile %+v", l.ID, l)
		}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
}

func TestLookup(t *testing.T) {
	r := newRegistry(t)

	cases := map[string]string{
		"python": "python",
		" PY ":   "python",
		"js":     "javascript",
		"C++":    "cpp",
		"golang": "go",
		"kt":     "kotlin",
		"Rust":   "rust",
		"sh":     "bash",
	}
	for in, want := range cases {
		l, err := r.Lookup(in)
		if err != nil {
			t.Errorf("Lookup(%q): %v", in, err)
			continue
		}
		if l.ID != want {
			t.Errorf("Lookup(%q) = %s, want %s", in, l.ID, want)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	r := newRegistry(t)
	if _, err := r.Lookup("cobol"); !errors.Is(err, languages.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if _, err := r.Lookup(""); !errors.Is(err, languages.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage for empty id, got %v", err)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	r := newRegistry(t)
	l, _ := r.Lookup("c")
	l.CompileCommand[0] = "tcc"

	again, _ := r.Lookup("c")
	if again.CompileCommand[0] != "gcc" {
		t.Fatalf("registry profile was mutated through a lookup result")
	}
}

func TestCompiledFlag(t *testing.T) {
	r := newRegistry(t)
	for id, compiled := range map[string]bool{"c": true, "java": true, "python": false, "bash": false} {
		l, _ := r.Lookup(id)
		if l.Compiled() != compiled {
			t.Errorf("%s: Compiled() = %v, want %v", id, l.Compiled(), compiled)
		}
	}
}

func TestDetectByExtension(t *testing.T) {
	r := newRegistry(t)
	l, err := r.DetectByExtension("solve.RS")
	if err != nil || l.ID != "rust" {
		t.Fatalf("DetectByExtension(solve.RS) = %v, %v", l.ID, err)
	}
	if _, err := r.DetectByExtension("README"); !errors.Is(err, languages.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestExtraLanguagesMergeOverDefaults(t *testing.T) {
	r := newRegistry(t,
		languages.Language{ID: "Python", RunCommand: []string{"pypy3", "{source}"}, TimeLimit: 3 * time.Second},
		languages.Language{ID: "zig", Extension: "zig", CompileCommand: []string{"zig", "build-exe", "{source}"}, RunCommand: []string{"./main"}},
	)

	py, err := r.Lookup("py")
	if err != nil {
		t.Fatal(err)
	}
	if py.RunCommand[0] != "pypy3" || py.TimeLimit != 3*time.Second {
		t.Errorf("override not applied: %+v", py)
	}
	if py.Extension != ".py" || py.Image == "" {
		t.Errorf("unset fields should keep defaults: %+v", py)
	}

	zig, err := r.Lookup("zig")
	if err != nil {
		t.Fatal(err)
	}
	if zig.Extension != ".zig" || zig.SourceFile != "main.zig" || zig.Name != "zig" {
		t.Errorf("new language not finalized: %+v", zig)
	}
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	if _, err := languages.NewRegistry(languages.Language{ID: "nope", Extension: ".x"}); err == nil {
		t.Error("expected error for missing run command")
	}
	if _, err := languages.NewRegistry(languages.Language{ID: "bad", Extension: ".x", SourceFile: "../x", RunCommand: []string{"x"}}); err == nil {
		t.Error("expected error for source file outside workspace")
	}
}

func TestExpand(t *testing.T) {
	v := languages.Vars{
		Source:  "main.c",
		Sources: []string{"main.c", "util.c"},
		Output:  "solution",
		Flags:   []string{"-Wall", "-DDEBUG"},
	}

	got := languages.Expand([]string{"gcc", "-o", "{output}", "{flags}", "{sources}", "-o{output}.map"}, v)
	want := []string{"gcc", "-o", "solution", "-Wall", "-DDEBUG", "main.c", "util.c", "-osolution.map"}
	if !slices.Equal(got, want) {
		t.Fatalf("Expand = %q, want %q", got, want)
	}

	got = languages.Expand([]string{"./{output}", "{args}"}, languages.Vars{Output: "solution"})
	if !slices.Equal(got, []string{"./solution"}) {
		t.Fatalf("empty multi-value placeholders must vanish, got %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	doc := `languages:
  - id: python
    run_command: ["python3", "-I", "{source}"]
    time_limit: 4s
  - id: nim
    extension: .nim
    compile_command: ["nim", "c", "-o:{output}", "{source}"]
    run_command: ["./{output}"]
    memory_limit_kb: 131072
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	extra, err := languages.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(extra) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(extra))
	}
	if extra[0].TimeLimit != 4*time.Second {
		t.Errorf("duration not decoded: %v", extra[0].TimeLimit)
	}

	r := newRegistry(t, extra...)
	nim, err := r.Lookup("nim")
	if err != nil {
		t.Fatal(err)
	}
	if nim.MemoryLimitKb != 131072 || !nim.Compiled() {
		t.Errorf("unexpected nim profile: %+v", nim)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	if err := os.WriteFile(path, []byte("languages:\n  - id: c\n    compiler: tcc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := languages.LoadFile(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
