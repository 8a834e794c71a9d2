package languages

import (
	"slices"
	"strings"
	"time"
)

// Language is a toolchain profile. Command templates are argv lists; they are
// expanded with Expand and executed without a shell.
type Language struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Extension      string            `json:"extension" yaml:"extension"`
	SourceFile     string            `json:"source_file" yaml:"source_file"`
	CompileCommand []string          `json:"compile_command,omitempty" yaml:"compile_command"`
	RunCommand     []string          `json:"run_command" yaml:"run_command"`
	Env            map[string]string `json:"-" yaml:"env"`
	Image          string            `json:"image,omitempty" yaml:"image"`
	Aliases        []string          `json:"aliases,omitempty" yaml:"aliases"`

	// Zero means "use the engine default".
	TimeLimit        time.Duration `json:"-" yaml:"time_limit"`
	CompileTimeLimit time.Duration `json:"-" yaml:"compile_time_limit"`
	MemoryLimitKb    int64         `json:"-" yaml:"memory_limit_kb"`
}

func (l Language) Compiled() bool {
	return len(l.CompileCommand) > 0
}

func (l Language) clone() Language {
	l.CompileCommand = slices.Clone(l.CompileCommand)
	l.RunCommand = slices.Clone(l.RunCommand)
	l.Aliases = slices.Clone(l.Aliases)
	if l.Env != nil {
		env := make(map[string]string, len(l.Env))
		for k, v := range l.Env {
			env[k] = v
		}
		l.Env = env
	}
	return l
}

// merge overlays the non-zero fields of o onto l.
func (l Language) merge(o Language) Language {
	if o.Name != "" {
		l.Name = o.Name
	}
	if o.Extension != "" {
		l.Extension = o.Extension
	}
	if o.SourceFile != "" {
		l.SourceFile = o.SourceFile
	}
	if o.CompileCommand != nil {
		l.CompileCommand = o.CompileCommand
	}
	if len(o.RunCommand) > 0 {
		l.RunCommand = o.RunCommand
	}
	if o.Env != nil {
		l.Env = o.Env
	}
	if o.Image != "" {
		l.Image = o.Image
	}
	if o.Aliases != nil {
		l.Aliases = o.Aliases
	}
	if o.TimeLimit > 0 {
		l.TimeLimit = o.TimeLimit
	}
	if o.CompileTimeLimit > 0 {
		l.CompileTimeLimit = o.CompileTimeLimit
	}
	if o.MemoryLimitKb > 0 {
		l.MemoryLimitKb = o.MemoryLimitKb
	}
	return l
}

// Vars are the values substituted into command templates.
type Vars struct {
	Source  string   // {source}
	Sources []string // {sources}
	Output  string   // {output}
	Flags   []string // {flags}
	Args    []string // {args}
}

// Expand substitutes placeholders in tmpl. A token that is exactly {sources},
// {flags} or {args} becomes zero or more arguments; every other placeholder is
// replaced textually inside its token.
func Expand(tmpl []string, v Vars) []string {
	out := make([]string, 0, len(tmpl)+len(v.Sources)+len(v.Flags)+len(v.Args))
	r := strings.NewReplacer(
		"{source}", v.Source,
		"{output}", v.Output,
		"{sources}", strings.Join(v.Sources, " "),
		"{flags}", strings.Join(v.Flags, " "),
		"{args}", strings.Join(v.Args, " "),
	)
	for _, tok := range tmpl {
		switch tok {
		case "{sources}":
			out = append(out, v.Sources...)
		case "{flags}":
			out = append(out, v.Flags...)
		case "{args}":
			out = append(out, v.Args...)
		default:
			out = append(out, r.Replace(tok))
		}
	}
	return out
}
