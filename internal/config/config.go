package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Limiter LimiterConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int
	IdleTimeout  int
}

// EngineConfig holds everything the execution core needs. Zero values are
// never valid here; LoadConfig fills defaults first.
type EngineConfig struct {
	WorkspaceRoot      string
	Backend            string
	LanguagesFile      string
	TimeLimit          time.Duration
	MemoryLimitKb      int64
	CompileTimeLimit   time.Duration
	CompileMemoryKb    int64
	MaxTimeLimit       time.Duration
	MaxMemoryLimitKb   int64
	OutputLimit        int
	FileSizeLimit      int64
	MaxConcurrent      int
	QueueSize          int
	MemoryPollInterval time.Duration
	KillGrace          time.Duration
	RunLogSize         int
	// PassEnv names host variables the process backend hands to every
	// child, such as toolchain homes.
	PassEnv            []string
}

type LimiterConfig struct {
	GlobalRPS  float64
	IPRPS      float64
	IPBurst    int
	// TrustProxy makes the limiter key clients by X-Forwarded-For. Enable
	// it only behind a proxy that overwrites the header.
	TrustProxy bool
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	BackendProcess = "process"
	BackendDocker  = "docker"
)

// Defaults returns the configuration used when no variable is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15,
			WriteTimeout: 60,
			IdleTimeout:  60,
		},
		Engine: EngineConfig{
			WorkspaceRoot:      filepath.Join(os.TempDir(), "coderunner"),
			Backend:            BackendProcess,
			TimeLimit:          10 * time.Second,
			MemoryLimitKb:      256 * 1024,
			CompileTimeLimit:   20 * time.Second,
			CompileMemoryKb:    2 * 1024 * 1024,
			MaxTimeLimit:       30 * time.Second,
			MaxMemoryLimitKb:   1024 * 1024,
			OutputLimit:        64 * 1024,
			FileSizeLimit:      16 * 1024 * 1024,
			MaxConcurrent:      4,
			QueueSize:          64,
			MemoryPollInterval: 20 * time.Millisecond,
			KillGrace:          500 * time.Millisecond,
			RunLogSize:         10,
			PassEnv:            []string{"RUSTUP_HOME", "CARGO_HOME", "JAVA_HOME", "GOROOT"},
		},
		Limiter: LimiterConfig{
			GlobalRPS: 100,
			IPRPS:     10,
			IPBurst:   20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	c := Defaults()
	p := parser{lookup: lookup}

	p.str("PORT", &c.Server.Port)
	p.integer("READ_TIMEOUT_SEC", &c.Server.ReadTimeout)
	p.integer("WRITE_TIMEOUT_SEC", &c.Server.WriteTimeout)
	p.integer("IDLE_TIMEOUT_SEC", &c.Server.IdleTimeout)

	e := &c.Engine
	p.str("WORKSPACE_ROOT", &e.WorkspaceRoot)
	p.str("SANDBOX_BACKEND", &e.Backend)
	p.str("LANGUAGES_FILE", &e.LanguagesFile)
	p.millis("DEFAULT_TIME_LIMIT_MS", &e.TimeLimit)
	p.int64("DEFAULT_MEMORY_LIMIT_KB", &e.MemoryLimitKb)
	p.millis("COMPILE_TIME_LIMIT_MS", &e.CompileTimeLimit)
	p.int64("COMPILE_MEMORY_LIMIT_KB", &e.CompileMemoryKb)
	p.millis("MAX_TIME_LIMIT_MS", &e.MaxTimeLimit)
	p.int64("MAX_MEMORY_LIMIT_KB", &e.MaxMemoryLimitKb)
	p.integer("OUTPUT_LIMIT_BYTES", &e.OutputLimit)
	p.int64("FILE_SIZE_LIMIT_BYTES", &e.FileSizeLimit)
	p.integer("MAX_CONCURRENT", &e.MaxConcurrent)
	p.integer("QUEUE_SIZE", &e.QueueSize)
	p.millis("MEMORY_POLL_INTERVAL_MS", &e.MemoryPollInterval)
	p.millis("KILL_GRACE_MS", &e.KillGrace)
	p.integer("RUNLOG_SIZE", &e.RunLogSize)
	p.list("PASS_ENV", &e.PassEnv)

	p.float("RATE_GLOBAL_RPS", &c.Limiter.GlobalRPS)
	p.float("RATE_IP_RPS", &c.Limiter.IPRPS)
	p.integer("RATE_IP_BURST", &c.Limiter.IPBurst)
	p.boolean("TRUST_PROXY", &c.Limiter.TrustProxy)

	p.str("LOG_LEVEL", &c.Log.Level)
	p.str("LOG_FORMAT", &c.Log.Format)

	if p.err != nil {
		return nil, p.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case c.Server.Port == "":
		return fmt.Errorf("%w: PORT is empty", ErrInvalidConfig)
	case e.WorkspaceRoot == "":
		return fmt.Errorf("%w: WORKSPACE_ROOT is empty", ErrInvalidConfig)
	case e.Backend != BackendProcess && e.Backend != BackendDocker:
		return fmt.Errorf("%w: unknown SANDBOX_BACKEND %q", ErrInvalidConfig, e.Backend)
	case e.TimeLimit <= 0 || e.CompileTimeLimit <= 0 || e.MaxTimeLimit <= 0:
		return fmt.Errorf("%w: time limits must be positive", ErrInvalidConfig)
	case e.MemoryLimitKb <= 0 || e.CompileMemoryKb <= 0 || e.MaxMemoryLimitKb <= 0:
		return fmt.Errorf("%w: memory limits must be positive", ErrInvalidConfig)
	case e.TimeLimit > e.MaxTimeLimit:
		return fmt.Errorf("%w: DEFAULT_TIME_LIMIT_MS exceeds MAX_TIME_LIMIT_MS", ErrInvalidConfig)
	case e.MemoryLimitKb > e.MaxMemoryLimitKb:
		return fmt.Errorf("%w: DEFAULT_MEMORY_LIMIT_KB exceeds MAX_MEMORY_LIMIT_KB", ErrInvalidConfig)
	case e.OutputLimit <= 0 || e.FileSizeLimit <= 0:
		return fmt.Errorf("%w: output and file size limits must be positive", ErrInvalidConfig)
	case e.MaxConcurrent <= 0 || e.QueueSize <= 0:
		return fmt.Errorf("%w: MAX_CONCURRENT and QUEUE_SIZE must be positive", ErrInvalidConfig)
	case e.MemoryPollInterval <= 0 || e.KillGrace <= 0:
		return fmt.Errorf("%w: poll interval and kill grace must be positive", ErrInvalidConfig)
	case e.RunLogSize < 0:
		return fmt.Errorf("%w: RUNLOG_SIZE is negative", ErrInvalidConfig)
	case c.Limiter.GlobalRPS <= 0 || c.Limiter.IPRPS <= 0 || c.Limiter.IPBurst <= 0:
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalidConfig)
	}
	return nil
}

type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) int64(key string, dst *int64) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.raw(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) millis(key string, dst *time.Duration) {
	if v, ok := p.raw(key); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

// list splits a comma separated value. A lone "-" clears the list.
func (p *parser) list(key string, dst *[]string) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	var out []string
	if v != "-" {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	*dst = out
}
