// Package config loads runtime settings from IPCDEMO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "IPCDEMO"

// RunIDEnv carries the run id from the parent to the child.
const RunIDEnv = Prefix + "_RUN_ID"

// Legacy object names, used as-is when FixedNames is set.
const (
	SegmentBase   = "ipc_shm"
	SemaphoreBase = "ipc_sem"
	SocketBase    = "ipc_socket_demo"
)

// maxSocketPath is sizeof(sockaddr_un.sun_path) minus the terminator.
const maxSocketPath = 107

// Config holds all runtime configuration.
type Config struct {
	SHM     SHMConfig     `envconfig:"SHM"`
	Pipe    PipeConfig    `envconfig:"PIPE"`
	Socket  SocketConfig  `envconfig:"SOCKET"`
	Connect ConnectConfig `envconfig:"CONNECT"`
	Log     LogConfig     `envconfig:"LOG"`

	RunID       string        `envconfig:"RUN_ID"`
	FixedNames  bool          `envconfig:"FIXED_NAMES" default:"false"`
	WaitTimeout time.Duration `envconfig:"WAIT_TIMEOUT" default:"0s"`
	MetricsAddr string        `envconfig:"METRICS_ADDR" default:""`
}

// SHMConfig holds the shared memory segment settings.
type SHMConfig struct {
	Dir  string `envconfig:"DIR" default:"/dev/shm"`
	Size int    `envconfig:"SIZE" default:"4096"`
}

// PipeConfig holds the pipe transport settings.
type PipeConfig struct {
	Buffer int `envconfig:"BUFFER" default:"256"`
}

// SocketConfig holds the socket transport settings.
type SocketConfig struct {
	Dir    string `envconfig:"DIR" default:"/tmp"`
	Buffer int    `envconfig:"BUFFER" default:"256"`
}

// ConnectConfig controls the socket client's connect retry.
type ConnectConfig struct {
	Retries int           `envconfig:"RETRIES" default:"5"`
	Backoff time.Duration `envconfig:"BACKOFF" default:"50ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"warn"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// Names are the system-wide object names of one run.
type Names struct {
	Dir       string
	Segment   string
	Semaphore string
	Socket    string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SHM:     SHMConfig{Dir: "/dev/shm", Size: 4096},
		Pipe:    PipeConfig{Buffer: 256},
		Socket:  SocketConfig{Dir: "/tmp", Buffer: 256},
		Connect: ConnectConfig{Retries: 5, Backoff: 50 * time.Millisecond},
		Log:     LogConfig{Level: "warn"},
	}
}

// Validate rejects settings no transport can run with.
func (c *Config) Validate() error {
	var errs []string
	if c.SHM.Size < 2 {
		errs = append(errs, fmt.Sprintf("shm size %d must be at least 2", c.SHM.Size))
	}
	if c.Pipe.Buffer < 2 {
		errs = append(errs, fmt.Sprintf("pipe buffer %d must be at least 2", c.Pipe.Buffer))
	}
	if c.Socket.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("socket buffer %d must be positive", c.Socket.Buffer))
	}
	if c.SHM.Dir == "" {
		errs = append(errs, "shm dir must not be empty")
	}
	if c.Connect.Retries < 0 {
		errs = append(errs, "connect retries must not be negative")
	}
	if c.WaitTimeout < 0 {
		errs = append(errs, "wait timeout must not be negative")
	}
	if strings.ContainsAny(c.RunID, "/\x00") {
		errs = append(errs, fmt.Sprintf("run id %q must not contain '/'", c.RunID))
	}
	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	if p := c.Names().Socket; len(p) > maxSocketPath {
		return fmt.Errorf("invalid config: socket path %q longer than %d bytes", p, maxSocketPath)
	}
	return nil
}

// EnsureRunID assigns a fresh run id when none is configured and exports it so a spawned
// child derives the same names. It is a no-op with FixedNames.
func (c *Config) EnsureRunID() string {
	if c.FixedNames {
		return c.RunID
	}
	if c.RunID == "" {
		c.RunID = NewRunID()
	}
	_ = os.Setenv(RunIDEnv, c.RunID)
	return c.RunID
}

// NewRunID returns a short random id suitable for object names.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Names derives the object names for this run.
func (c *Config) Names() Names {
	suffix := ""
	if !c.FixedNames && c.RunID != "" {
		suffix = "-" + c.RunID
	}
	return Names{
		Dir:       c.SHM.Dir,
		Segment:   SegmentBase + suffix,
		Semaphore: SemaphoreBase + suffix,
		Socket:    filepath.Join(c.Socket.Dir, SocketBase+suffix+".sock"),
	}
}
