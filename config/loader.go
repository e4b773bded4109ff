package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/encoding/ini"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/sdkrtl/logger"
)

// DefaultEnvPrefix prefixes the environment variables Load reads.
const DefaultEnvPrefix = "SDK_"

// FileSystem interface for file operations (useful for testing).
type FileSystem interface {
	Exists(path string) bool
	ReadFile(path string) ([]byte, error)
	ReadEnv(path string) (map[string]string, error)
	Environ() []string
	UserConfigDir() (string, error)
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (rfs *RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (rfs *RealFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ReadEnv parses a .env file without touching the process environment.
func (rfs *RealFileSystem) ReadEnv(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

func (rfs *RealFileSystem) Environ() []string {
	return os.Environ()
}

func (rfs *RealFileSystem) UserConfigDir() (string, error) {
	return os.UserConfigDir()
}

// Resolver handles finding and resolving config and env files.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles finds config and env files for a client.
// Returns explicit paths if provided, otherwise searches for them.
func (cr *Resolver) ResolveFiles(name string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}

	if resolved.ConfigFile == "" {
		resolved.ConfigFile = cr.findConfigFile(name)
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = cr.findEnvFile(name)
	}

	return resolved
}

var configExts = []string{".yml", ".yaml", ".ini"}

// findConfigFile searches the working directory, ./config and the user
// config directory, in that order.
func (cr *Resolver) findConfigFile(name string) string {
	var searchPaths []string
	for _, ext := range configExts {
		searchPaths = append(searchPaths,
			"./"+name+ext,
			"./config/"+name+ext,
		)
	}
	if dir, err := cr.FileSystem.UserConfigDir(); err == nil && dir != "" {
		for _, ext := range configExts {
			searchPaths = append(searchPaths, filepath.Join(dir, name, "config"+ext))
		}
	}

	for _, path := range searchPaths {
		if cr.FileSystem.Exists(path) {
			return path
		}
	}
	return ""
}

// findEnvFile searches for .env files in standard locations.
func (cr *Resolver) findEnvFile(name string) string {
	envFiles := []string{
		fmt.Sprintf(".env.%s", name),
		".env",
	}
	for _, envFile := range envFiles {
		for _, dir := range []string{".", "./config"} {
			fullPath := dir + "/" + envFile
			if cr.FileSystem.Exists(fullPath) {
				return fullPath
			}
		}
	}
	return ""
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string // Direct config file path (optional)
	EnvFile    string // Direct env file path (optional)
	Section    string // Key of the transport settings (default "sdk")
	EnvPrefix  string // Environment variable prefix (default "SDK_")
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path. Unlike a searched file,
// it must exist.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithSection sets the key the transport settings are read from.
func WithSection(section string) LoaderOption {
	return func(lc *LoaderConfig) { lc.Section = section }
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// Load reads the configuration of the client called name. Sources, lowest
// precedence first: the config file (YAML or INI), the .env file, the
// process environment. The result has defaults applied and is validated.
//
// Environment keys drop the prefix and map onto config keys:
//
//	SDK_BASE_URL              -> sdk.base_url
//	SDK_HEADER_X_TENANT       -> sdk.headers.X-Tenant
//	SDK_RETRY_MAX_ATTEMPTS    -> retry.max_attempts
//	SDK_LOGGING_LEVEL         -> logging.level
func Load(name string, opts ...LoaderOption) (*ClientConfig, error) {
	lc := LoaderConfig{Section: DefaultSection, EnvPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}

	if lc.ConfigFile != "" && !lc.FileSystem.Exists(lc.ConfigFile) {
		return nil, fmt.Errorf("config file %s: %w", lc.ConfigFile, os.ErrNotExist)
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(name, lc)

	return loadFromResolvedFiles(name, files, lc)
}

// loadFromResolvedFiles loads configuration from specific files.
func loadFromResolvedFiles(name string, files ResolvedFiles, lc LoaderConfig) (*ClientConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	// 1. Config file (base configuration)
	if files.ConfigFile != "" {
		data, err := lc.FileSystem.ReadFile(files.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", files.ConfigFile, err)
		}
		v.SetConfigType(configType(files.ConfigFile))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", files.ConfigFile, err)
		}
		logger.Debug("config file loaded", logger.Fields("file", files.ConfigFile))
	}

	// 2. .env file, overridden by the process environment
	env := map[string]string{}
	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		values, err := lc.FileSystem.ReadEnv(files.EnvFile)
		if err != nil {
			logger.Warn("failed to load .env file", logger.MergeWithError(logger.Fields("file", files.EnvFile), err))
		}
		for k, val := range values {
			env[k] = val
		}
	}
	for _, kv := range lc.FileSystem.Environ() {
		if k, val, ok := strings.Cut(kv, "="); ok {
			env[k] = val
		}
	}
	bindEnv(v, env, lc.EnvPrefix, lc.Section)

	// 3. Unmarshal
	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config for %s: %w", name, err)
	}
	if err := decodeSection(v.AllSettings()[lc.Section], cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s settings for %s: %w", lc.Section, name, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configType derives the codec from the file extension; YAML by default.
func configType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ini", ".json", ".toml":
		return ext[1:]
	default:
		return "yaml"
	}
}

// newViper returns a viper instance that also understands INI files.
func newViper() (*viper.Viper, error) {
	codecs := viper.NewCodecRegistry()
	if err := codecs.RegisterCodec("ini", &ini.Codec{}); err != nil {
		return nil, fmt.Errorf("register ini codec: %w", err)
	}
	return viper.NewWithOptions(viper.WithCodecRegistry(codecs)), nil
}

// decodeSection decodes the settings section. The merged map from
// AllSettings is used because viper returns override sub-trees unmerged.
func decodeSection(raw any, cfg *ClientConfig) error {
	if raw == nil {
		return nil
	}
	if _, ok := raw.(map[string]any); !ok {
		return errors.New("section is not a table")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg.Settings,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// groups are the top-level keys besides the settings section that
// environment variables may address.
var groups = []string{"rate_limit", "circuit_breaker", "retry", "logging", "tls", "http2"}

// settingsKeys are the settings fields environment variables may address.
var settingsKeys = []string{"base_url", "timeout", "agent_tag", "verify_ssl"}

// bindEnv sets every prefixed environment variable on v under its config key.
func bindEnv(v *viper.Viper, env map[string]string, prefix, section string) {
	for k, val := range env {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if key, ok := envKey(strings.TrimPrefix(k, prefix), section); ok {
			v.Set(key, val)
		}
	}
}

// envKey maps an environment name without its prefix to a config key.
func envKey(name, section string) (string, bool) {
	lower := strings.ToLower(name)
	if header, ok := strings.CutPrefix(lower, "header_"); ok && header != "" {
		return section + ".headers." + strings.ReplaceAll(header, "_", "-"), true
	}
	for _, key := range settingsKeys {
		if lower == key {
			return section + "." + key, true
		}
	}
	for _, group := range groups {
		if lower == group {
			return group, true
		}
		if rest, ok := strings.CutPrefix(lower, group+"_"); ok && rest != "" {
			return group + "." + rest, true
		}
	}
	return "", false
}
