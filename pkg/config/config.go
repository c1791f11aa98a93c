// Package config loads metastore configuration from a TOML file and
// METASTORE_* environment overrides. The result is a plain value passed to
// constructors; nothing else in the module reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names.
const (
	BackendFilesystem = "filesystem"
	BackendGitHub     = "github"
	BackendGitMemory  = "git-memory"
	BackendS3         = "s3"
)

// Config holds all metastore configuration.
type Config struct {
	Backend    string     `toml:"backend"`
	Filesystem Filesystem `toml:"filesystem"`
	GitHub     GitHub     `toml:"github"`
	S3         S3         `toml:"s3"`
	Log        Log        `toml:"log"`
	Server     Server     `toml:"server"`
}

// Filesystem configures the directory backend.
type Filesystem struct {
	Root string `toml:"root"`
}

// GitHub configures the GitHub backend and the in-memory Git backend, which
// shares its repository settings.
type GitHub struct {
	Token         string        `toml:"token"`
	Org           string        `toml:"org"`
	APIURL        string        `toml:"api_url"`
	GraphQLURL    string        `toml:"graphql_url"`
	DefaultBranch string        `toml:"default_branch"`
	AuthorName    string        `toml:"author_name"`
	AuthorEmail   string        `toml:"author_email"`
	LFSServerURL  string        `toml:"lfs_server_url"`
	SigningKey    string        `toml:"signing_key"`
	Private       bool          `toml:"private"`
	Timeout       time.Duration `toml:"timeout"`
	MaxAttempts   int           `toml:"max_attempts"`
}

// S3 configures the S3 backend.
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Log configures structured logging.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Server configures the HTTP API.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend:    BackendFilesystem,
		Filesystem: Filesystem{Root: "./metastore-data"},
		GitHub: GitHub{
			DefaultBranch: "main",
			Timeout:       60 * time.Second,
			MaxAttempts:   3,
		},
		S3: S3{
			Bucket: "metastore",
			Region: "us-east-1",
		},
		Log:    Log{Level: "info", Format: "console"},
		Server: Server{ListenAddr: ":8080"},
	}
}

// Load reads the TOML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("load config %q: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Backend = envOr("METASTORE_BACKEND", cfg.Backend)
	cfg.Filesystem.Root = envOr("METASTORE_FS_ROOT", cfg.Filesystem.Root)

	gh := &cfg.GitHub
	gh.Token = envOr("METASTORE_GITHUB_TOKEN", gh.Token)
	gh.Org = envOr("METASTORE_GITHUB_ORG", gh.Org)
	gh.APIURL = envOr("METASTORE_GITHUB_API_URL", gh.APIURL)
	gh.GraphQLURL = envOr("METASTORE_GITHUB_GRAPHQL_URL", gh.GraphQLURL)
	gh.DefaultBranch = envOr("METASTORE_GITHUB_DEFAULT_BRANCH", gh.DefaultBranch)
	gh.AuthorName = envOr("METASTORE_GITHUB_AUTHOR_NAME", gh.AuthorName)
	gh.AuthorEmail = envOr("METASTORE_GITHUB_AUTHOR_EMAIL", gh.AuthorEmail)
	gh.LFSServerURL = envOr("METASTORE_LFS_SERVER_URL", gh.LFSServerURL)
	gh.SigningKey = envOr("METASTORE_SIGNING_KEY", gh.SigningKey)
	gh.Private = envBool("METASTORE_GITHUB_PRIVATE", gh.Private)
	gh.Timeout = envDuration("METASTORE_GITHUB_TIMEOUT", gh.Timeout)
	gh.MaxAttempts = envInt("METASTORE_GITHUB_MAX_ATTEMPTS", gh.MaxAttempts)

	s3 := &cfg.S3
	s3.Endpoint = envOr("METASTORE_S3_ENDPOINT", s3.Endpoint)
	s3.Bucket = envOr("METASTORE_S3_BUCKET", s3.Bucket)
	s3.Prefix = envOr("METASTORE_S3_PREFIX", s3.Prefix)
	s3.Region = envOr("METASTORE_S3_REGION", s3.Region)
	s3.AccessKey = envOr("METASTORE_S3_ACCESS_KEY", s3.AccessKey)
	s3.SecretKey = envOr("METASTORE_S3_SECRET_KEY", s3.SecretKey)

	cfg.Log.Level = envOr("METASTORE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("METASTORE_LOG_FORMAT", cfg.Log.Format)
	cfg.Server.ListenAddr = envOr("METASTORE_LISTEN_ADDR", cfg.Server.ListenAddr)
}

// Validate checks the settings the selected backend needs.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendFilesystem:
		if c.Filesystem.Root == "" {
			errs = append(errs, errors.New("filesystem.root is required"))
		}
	case BackendGitHub:
		if c.GitHub.Token == "" {
			errs = append(errs, errors.New("github.token is required"))
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required"))
		}
	}
	if c.GitHub.MaxAttempts < 0 {
		errs = append(errs, errors.New("github.max_attempts must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
