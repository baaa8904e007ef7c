// Copyright 2026 The Soulvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the soulvisord configuration: built in defaults,
// then an optional YAML file, then SOULVISOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"

	"github.com/soulvisor/soulvisor"
)

// EnvPrefix is stripped from environment variables before they are
// mapped onto configuration keys.
const EnvPrefix = "SOULVISOR_"

const maxConfigFileSize = 1024 * 1024

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Projects   ProjectsConfig   `koanf:"projects"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Log        LogConfig        `koanf:"log"`
}

type ServerConfig struct {
	// Listen is the TCP address of the REST server.
	Listen string `koanf:"listen"`
	// MaxConns caps concurrently accepted connections.  Zero means no cap.
	MaxConns int `koanf:"max_conns"`
	// AuthUser and AuthHash enable basic auth when both are set.  The
	// hash is a bcrypt hash of the password.
	AuthUser string `koanf:"auth_user"`
	AuthHash string `koanf:"auth_hash"`
}

type ProjectsConfig struct {
	Dir   string `koanf:"dir"`
	Store string `koanf:"store"`
}

type SupervisorConfig struct {
	SelfName    string        `koanf:"self_name"`
	StopTimeout time.Duration `koanf:"stop_timeout"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   "127.0.0.1:8321",
			MaxConns: 64,
		},
		Projects: ProjectsConfig{
			Dir:   "projects",
			Store: "projects.json",
		},
		Supervisor: SupervisorConfig{
			SelfName:    soulvisor.DefaultSelfName,
			StopTimeout: soulvisor.DefaultStopTimeout,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// envKey maps SOULVISOR_SERVER_MAX_CONNS to server.max_conns: the first
// underscore separates the section, the rest belong to the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Load builds the configuration.  An empty path skips the file; a path
// that is given must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Keys missing from both sources keep their defaults.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)",
			info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.Server.Listen == "":
		return fmt.Errorf("%w: server.listen is required", ErrInvalid)
	case c.Server.MaxConns < 0:
		return fmt.Errorf("%w: server.max_conns must not be negative", ErrInvalid)
	case (c.Server.AuthUser == "") != (c.Server.AuthHash == ""):
		return fmt.Errorf("%w: server.auth_user and server.auth_hash go together", ErrInvalid)
	case c.Projects.Dir == "":
		return fmt.Errorf("%w: projects.dir is required", ErrInvalid)
	case c.Projects.Store == "":
		return fmt.Errorf("%w: projects.store is required", ErrInvalid)
	case c.Supervisor.StopTimeout <= 0:
		return fmt.Errorf("%w: supervisor.stop_timeout must be positive", ErrInvalid)
	case c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0:
		return fmt.Errorf("%w: log rotation limits must not be negative", ErrInvalid)
	}
	if err := soulvisor.ValidateName(c.Supervisor.SelfName); err != nil {
		return fmt.Errorf("%w: supervisor.self_name: %v", ErrInvalid, err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log.format must be json or console", ErrInvalid)
	}
	return nil
}

// AuthEnabled reports whether the REST server requires credentials.
func (c *Config) AuthEnabled() bool {
	return c.Server.AuthUser != "" && c.Server.AuthHash != ""
}
