// Package config holds the static application configuration and the
// layered runtime settings. The app config is a YAML file read once at
// startup; runtime settings are JSON defaults overlaid with database
// overrides and re-read on every gated call.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"daftar/internal/logging"
)

// Config holds all daftar configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Files    FilesConfig    `yaml:"files"`
	Logging  logging.Config `yaml:"logging"`
}

// DatabaseConfig locates the SQLite storage file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig configures the fact extraction client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// FilesConfig locates the directory the file tools may read.
type FilesConfig struct {
	Dir string `yaml:"dir"`
}

// MemoryConfig configures the conversation history manager and the
// runtime settings defaults file.
type MemoryConfig struct {
	// MaxChatHistory caps the per-session turn log.
	MaxChatHistory int `yaml:"max_chat_history"`

	// DefaultsPath is the JSON file of runtime setting defaults.
	DefaultsPath string `yaml:"defaults_path"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Name:    "daftar",
		Version: "1.0.0",
		Database: DatabaseConfig{
			Path: "data/database/memory.db",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8089",
		},
		LLM: LLMConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "10s",
		},
		Memory: MemoryConfig{
			MaxChatHistory: 20,
			DefaultsPath:   "config/defaults.json",
		},
		Files: FilesConfig{
			Dir: "data/files",
		},
		Logging: logging.Config{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
