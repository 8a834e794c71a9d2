package languages

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// OutputName is the artifact name compiled languages write to and run from.
const OutputName = "solution"

// Registry maps language identifiers to toolchain profiles. It is built once
// and never mutated, so concurrent lookups need no locking.
type Registry struct {
	languages map[string]Language
	aliases   map[string]string
	byExt     map[string]string
}

// NewRegistry builds the default table and overlays extra on top of it.
// An extra entry with a known id is merged over the default one.
func NewRegistry(extra ...Language) (*Registry, error) {
	r := &Registry{
		languages: make(map[string]Language),
		aliases:   make(map[string]string),
		byExt:     make(map[string]string),
	}

	for _, l := range defaults() {
		r.languages[l.ID] = l
	}
	for _, o := range extra {
		id := normalize(o.ID)
		if id == "" {
			return nil, fmt.Errorf("language entry without id")
		}
		o.ID = id
		if base, ok := r.languages[id]; ok {
			o = base.merge(o)
		}
		r.languages[id] = o
	}

	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		l, err := finalize(r.languages[id])
		if err != nil {
			return nil, err
		}
		r.languages[id] = l
		for _, a := range l.Aliases {
			a = normalize(a)
			if _, taken := r.languages[a]; taken {
				continue
			}
			r.aliases[a] = id
		}
		if _, taken := r.byExt[l.Extension]; !taken {
			r.byExt[l.Extension] = id
		}
	}
	return r, nil
}

func finalize(l Language) (Language, error) {
	if len(l.RunCommand) == 0 {
		return l, fmt.Errorf("language %q: run command is required", l.ID)
	}
	if l.Extension == "" {
		return l, fmt.Errorf("language %q: extension is required", l.ID)
	}
	if !strings.HasPrefix(l.Extension, ".") {
		l.Extension = "." + l.Extension
	}
	if l.Name == "" {
		l.Name = l.ID
	}
	if l.SourceFile == "" {
		l.SourceFile = "main" + l.Extension
	}
	if filepath.Base(l.SourceFile) != l.SourceFile {
		return l, fmt.Errorf("language %q: source file %q must be a bare name", l.ID, l.SourceFile)
	}
	return l, nil
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Lookup resolves an identifier or alias, case-insensitively.
func (r *Registry) Lookup(id string) (Language, error) {
	key := normalize(id)
	if l, ok := r.languages[key]; ok {
		return l.clone(), nil
	}
	if target, ok := r.aliases[key]; ok {
		return r.languages[target].clone(), nil
	}
	return Language{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, id)
}

// DetectByExtension picks the language owning the extension of filename.
func (r *Registry) DetectByExtension(filename string) (Language, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if id, ok := r.byExt[ext]; ok && ext != "" {
		return r.languages[id].clone(), nil
	}
	return Language{}, fmt.Errorf("%w: no language for file %q", ErrUnsupportedLanguage, filename)
}

// List returns all profiles sorted by id.
func (r *Registry) List() []Language {
	langs := make([]Language, 0, len(r.languages))
	for _, l := range r.languages {
		langs = append(langs, l.clone())
	}
	slices.SortFunc(langs, func(a, b Language) int {
		return strings.Compare(a.ID, b.ID)
	})
	return langs
}

func defaults() []Language {
	return []Language{
		{
			ID:             "c",
			Name:           "C (gcc)",
			Extension:      ".c",
			CompileCommand: []string{"gcc", "-O2", "-std=c17", "-o", "{output}", "{flags}", "{sources}", "-lm"},
			RunCommand:     []string{"./{output}", "{args}"},
			Image:          "gcc:14",
		},
		{
			ID:             "cpp",
			Name:           "C++ (g++)",
			Extension:      ".cpp",
			CompileCommand: []string{"g++", "-O2", "-std=c++17", "-o", "{output}", "{flags}", "{sources}"},
			RunCommand:     []string{"./{output}", "{args}"},
			Image:          "gcc:14",
			Aliases:        []string{"c++", "cxx"},
		},
		{
			ID:             "rust",
			Name:           "Rust",
			Extension:      ".rs",
			CompileCommand: []string{"rustc", "-O", "--edition", "2021", "-o", "{output}", "{flags}", "{source}"},
			RunCommand:     []string{"./{output}", "{args}"},
			Image:          "rust:1-slim",
			Aliases:        []string{"rs"},
		},
		{
			ID:             "go",
			Name:           "Go",
			Extension:      ".go",
			CompileCommand: []string{"go", "build", "-o", "{output}", "{flags}", "{sources}"},
			RunCommand:     []string{"./{output}", "{args}"},
			Image:          "golang:1.23",
			Aliases:        []string{"golang"},
			Env: map[string]string{
				"GOCACHE":     "{workdir}/.gocache",
				"GOPATH":      "{workdir}/.gopath",
				"GO111MODULE": "off",
			},
			CompileTimeLimit: 30 * time.Second,
		},
		{
			ID:         "python",
			Name:       "Python 3",
			Extension:  ".py",
			RunCommand: []string{"python3", "{flags}", "{source}", "{args}"},
			Image:      "python:3.12-slim",
			Aliases:    []string{"py", "python3"},
		},
		{
			ID:         "php",
			Name:       "PHP",
			Extension:  ".php",
			RunCommand: []string{"php", "{flags}", "{source}", "{args}"},
			Image:      "php:8.3-cli",
		},
		{
			ID:         "lua",
			Name:       "Lua",
			Extension:  ".lua",
			RunCommand: []string{"lua", "{flags}", "{source}", "{args}"},
			Image:      "nickblah/lua:5.4",
		},
		{
			ID:         "ruby",
			Name:       "Ruby",
			Extension:  ".rb",
			RunCommand: []string{"ruby", "{flags}", "{source}", "{args}"},
			Image:      "ruby:3.3-slim",
			Aliases:    []string{"rb"},
		},
		{
			ID:         "javascript",
			Name:       "JavaScript (Node.js)",
			Extension:  ".js",
			RunCommand: []string{"node", "{flags}", "{source}", "{args}"},
			Image:      "node:20-slim",
			Aliases:    []string{"js", "node"},
		},
		{
			ID:             "java",
			Name:           "Java",
			Extension:      ".java",
			SourceFile:     "Main.java",
			CompileCommand: []string{"javac", "-d", ".", "{flags}", "{sources}"},
			RunCommand:     []string{"java", "-cp", ".", "-Xss64m", "Main", "{args}"},
			Image:          "eclipse-temurin:21-jdk",
			MemoryLimitKb:  512 * 1024,
		},
		{
			ID:             "swift",
			Name:           "Swift",
			Extension:      ".swift",
			CompileCommand: []string{"swiftc", "-O", "-o", "{output}", "{flags}", "{sources}"},
			RunCommand:     []string{"./{output}", "{args}"},
			Image:          "swift:5.10",
		},
		{
			ID:               "kotlin",
			Name:             "Kotlin",
			Extension:        ".kt",
			CompileCommand:   []string{"kotlinc", "{flags}", "{sources}", "-include-runtime", "-d", "{output}.jar"},
			RunCommand:       []string{"java", "-jar", "{output}.jar", "{args}"},
			Image:            "zenika/kotlin:1.9",
			Aliases:          []string{"kt"},
			CompileTimeLimit: 60 * time.Second,
			MemoryLimitKb:    512 * 1024,
		},
		{
			ID:         "bash",
			Name:       "Bash",
			Extension:  ".sh",
			RunCommand: []string{"bash", "{source}", "{args}"},
			Image:      "bash:5.2",
			Aliases:    []string{"sh", "shell"},
		},
	}
}
