// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/servicebay/servicebay/internal/fsutil"
	"github.com/servicebay/servicebay/pkg/cueutil"
	"github.com/servicebay/servicebay/pkg/issue"
	"github.com/servicebay/servicebay/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "servicebay"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix namespaces the environment variable overrides
	// (SERVICEBAY_BATCH_MAX_WORKERS and friends).
	EnvPrefix = "SERVICEBAY"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the servicebay configuration directory using
// platform-specific conventions: Windows uses %APPDATA%, macOS uses
// ~/Library/Application Support, and Linux/others use $XDG_CONFIG_HOME
// (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// CheckpointsDir returns the default directory for the checkpoint store.
// The path is ~/.servicebay/checkpoints on all platforms; the
// checkpoint.dir config field overrides it.
func CheckpointsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "."+AppName, "checkpoints"), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level cache state. Callers that want caching can wrap this function.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("checkpoint.dir", defaults.Checkpoint.Dir)
	v.SetDefault("checkpoint.compress", defaults.Checkpoint.Compress)
	v.SetDefault("checkpoint.retention_days", defaults.Checkpoint.RetentionDays)
	v.SetDefault("batch.max_workers", defaults.Batch.MaxWorkers)
	v.SetDefault("batch.checkpoint", defaults.Batch.Checkpoint)
	v.SetDefault("tools.wim", defaults.Tools.WIM)
	v.SetDefault("tools.vhd_mount", defaults.Tools.VHDMount)
	v.SetDefault("tools.vhd_unmount", defaults.Tools.VHDUnmount)
	v.SetDefault("tools.iso", defaults.Tools.ISO)
	v.SetDefault("tools.archive", defaults.Tools.Archive)
	v.SetDefault("tools.timeout", defaults.Tools.Timeout)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	// Environment overrides: SERVICEBAY_<SECTION>_<FIELD>. These bypass the
	// CUE schema, so the decoded Config is re-validated below.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	// If a custom config file path is set, use it exclusively.
	if opts.ConfigFilePath != "" {
		customPath := opts.ConfigFilePath.String()
		if !fsutil.FileExists(customPath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(customPath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", customPath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, customPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(customPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				Wrap(err).
				BuildError()
		}
		resolvedPath = customPath
	} else {
		// Get config directory
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath.String())
		if err != nil {
			return nil, "", err
		}

		// Try to load CUE config file
		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fsutil.FileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", issue.NewErrorContext().
					WithOperation("load configuration").
					WithResource(cuePath).
					WithSuggestion("Check that the file contains valid CUE syntax").
					WithSuggestion("Verify the configuration values match the expected schema").
					Wrap(err).
					BuildError()
			}
			resolvedPath = cuePath
		} else {
			// Also check current directory
			localCuePath := ConfigFileName + "." + ConfigFileExt
			if fsutil.FileExists(localCuePath) {
				if err := loadCUEIntoViper(v, localCuePath); err != nil {
					return nil, "", issue.NewErrorContext().
						WithOperation("load configuration").
						WithResource(localCuePath).
						WithSuggestion("Check that the file contains valid CUE syntax").
						WithSuggestion("Verify the configuration values match the expected schema").
						Wrap(err).
						BuildError()
				}
				resolvedPath = localCuePath
			}
			// If no config file found, use defaults (no error)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate the decoded config. The CUE schema already rejects bad
	// values in config files, but environment overrides never pass through
	// it, so a bogus SERVICEBAY_* value would otherwise slip in silently.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Fix the reported fields in the config file").
			WithSuggestion("Check SERVICEBAY_* environment variables, which bypass schema validation").
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config
// schema, and merges its contents into Viper. Config files are partial
// documents merged over defaults, so concrete validation is off; the
// schema still enforces field names, types, and enums.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, data, "#Config",
		cueutil.WithConcrete(false), cueutil.WithFilename(path))
	if err != nil {
		return err
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return fsutil.EnsureDir(cfgDir)
}

// EnsureCheckpointsDir creates the default checkpoint store directory if it
// doesn't exist
func EnsureCheckpointsDir() error {
	ckptDir, err := CheckpointsDir()
	if err != nil {
		return err
	}
	return fsutil.EnsureDir(ckptDir)
}

// CreateDefaultConfig creates a default config file if it doesn't exist
func CreateDefaultConfig() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := fsutil.EnsureDir(cfgDir); err != nil {
		return err
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	// Check if file already exists
	if fsutil.FileExists(cfgPath) {
		return nil
	}

	defaults := DefaultConfig()
	cueContent := GenerateCUE(defaults)

	if err := os.WriteFile(cfgPath, []byte(cueContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Save writes the current configuration to file
func Save(cfg *Config) error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := fsutil.EnsureDir(cfgDir); err != nil {
		return err
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	cueContent := GenerateCUE(cfg)

	if err := os.WriteFile(cfgPath, []byte(cueContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// servicebay configuration file\n")
	sb.WriteString("// See https://github.com/servicebay/servicebay for documentation.\n\n")

	// Checkpoint store
	sb.WriteString("checkpoint: {\n")
	if cfg.Checkpoint.Dir != "" {
		sb.WriteString(fmt.Sprintf("\tdir: %q\n", cfg.Checkpoint.Dir))
	}
	sb.WriteString(fmt.Sprintf("\tcompress: %v\n", cfg.Checkpoint.Compress))
	sb.WriteString(fmt.Sprintf("\tretention_days: %d\n", cfg.Checkpoint.RetentionDays))
	sb.WriteString("}\n")

	// Batch processor
	sb.WriteString("\nbatch: {\n")
	sb.WriteString(fmt.Sprintf("\tmax_workers: %d\n", cfg.Batch.MaxWorkers))
	sb.WriteString(fmt.Sprintf("\tcheckpoint: %v\n", cfg.Batch.Checkpoint))
	sb.WriteString("}\n")

	// Tool overrides, only when something diverges from the standard tools
	var tools []string
	if cfg.Tools.WIM != "" {
		tools = append(tools, fmt.Sprintf("\twim: %q\n", cfg.Tools.WIM))
	}
	if cfg.Tools.VHDMount != "" {
		tools = append(tools, fmt.Sprintf("\tvhd_mount: %q\n", cfg.Tools.VHDMount))
	}
	if cfg.Tools.VHDUnmount != "" {
		tools = append(tools, fmt.Sprintf("\tvhd_unmount: %q\n", cfg.Tools.VHDUnmount))
	}
	if cfg.Tools.ISO != "" {
		tools = append(tools, fmt.Sprintf("\tiso: %q\n", cfg.Tools.ISO))
	}
	if cfg.Tools.Archive != "" {
		tools = append(tools, fmt.Sprintf("\tarchive: %q\n", cfg.Tools.Archive))
	}
	if cfg.Tools.Timeout > 0 {
		tools = append(tools, fmt.Sprintf("\ttimeout: %q\n", cfg.Tools.Timeout.String()))
	}
	if len(tools) > 0 {
		sb.WriteString("\ntools: {\n")
		for _, line := range tools {
			sb.WriteString(line)
		}
		sb.WriteString("}\n")
	}

	// Logging
	sb.WriteString("\nlogging: {\n")
	sb.WriteString(fmt.Sprintf("\tlevel: %q\n", cfg.Logging.Level))
	sb.WriteString(fmt.Sprintf("\tformat: %q\n", cfg.Logging.Format))
	sb.WriteString("}\n")

	return sb.String()
}
