// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LogLevelDebug enables debug-level logging.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo enables info-level logging.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn enables warn-level logging.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError enables error-level logging.
	LogLevelError LogLevel = "error"

	// LogFormatText renders log records as styled text.
	LogFormatText LogFormat = "text"
	// LogFormatJSON renders log records as JSON lines.
	LogFormatJSON LogFormat = "json"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidToolPath is returned when a ToolPath value is whitespace-only.
	ErrInvalidToolPath = errors.New("invalid tool path")
	// ErrInvalidBackupDirPath is returned when a BackupDirPath value is whitespace-only.
	ErrInvalidBackupDirPath = errors.New("invalid backup dir path")
	// ErrInvalidCheckpointConfig is the sentinel error wrapped by InvalidCheckpointConfigError.
	ErrInvalidCheckpointConfig = errors.New("invalid checkpoint config")
	// ErrInvalidBatchConfig is the sentinel error wrapped by InvalidBatchConfigError.
	ErrInvalidBatchConfig = errors.New("invalid batch config")
	// ErrInvalidToolsConfig is the sentinel error wrapped by InvalidToolsConfigError.
	ErrInvalidToolsConfig = errors.New("invalid tools config")
	// ErrInvalidLoggingConfig is the sentinel error wrapped by InvalidLoggingConfigError.
	ErrInvalidLoggingConfig = errors.New("invalid logging config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel specifies the minimum severity of emitted log records.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// LogFormat specifies the log record rendering.
	LogFormat string

	// InvalidLogFormatError is returned when a LogFormat value is not recognized.
	// It wraps ErrInvalidLogFormat for errors.Is() compatibility.
	InvalidLogFormatError struct {
		Value LogFormat
	}

	// ToolPath holds a servicing tool override: a binary name, a path, or
	// a command string with flags. The zero value ("") is valid and means
	// "use the standard tool from PATH". Non-zero values must not be
	// whitespace-only.
	ToolPath string

	// InvalidToolPathError is returned when a ToolPath value is non-empty
	// but whitespace-only. It wraps ErrInvalidToolPath for errors.Is().
	InvalidToolPathError struct {
		Value ToolPath
	}

	// BackupDirPath represents a filesystem path to the checkpoint store
	// directory. The zero value ("") is valid and means "use the default
	// store directory". Non-zero values must not be whitespace-only.
	BackupDirPath string

	// InvalidBackupDirPathError is returned when a BackupDirPath value is
	// non-empty but whitespace-only. It wraps ErrInvalidBackupDirPath for errors.Is().
	InvalidBackupDirPathError struct {
		Value BackupDirPath
	}

	// InvalidCheckpointConfigError is returned when a CheckpointConfig has invalid
	// fields. It wraps ErrInvalidCheckpointConfig for errors.Is() compatibility
	// and collects field-level validation errors.
	InvalidCheckpointConfigError struct {
		FieldErrors []error
	}

	// InvalidBatchConfigError is returned when a BatchConfig has invalid fields.
	// It wraps ErrInvalidBatchConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidBatchConfigError struct {
		FieldErrors []error
	}

	// InvalidToolsConfigError is returned when a ToolsConfig has invalid fields.
	// It wraps ErrInvalidToolsConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidToolsConfigError struct {
		FieldErrors []error
	}

	// InvalidLoggingConfigError is returned when a LoggingConfig has invalid fields.
	// It wraps ErrInvalidLoggingConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidLoggingConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Checkpoint configures the checkpoint store
		Checkpoint CheckpointConfig `json:"checkpoint" mapstructure:"checkpoint"`
		// Batch configures the batch processor
		Batch BatchConfig `json:"batch" mapstructure:"batch"`
		// Tools overrides the external servicing tool binaries
		Tools ToolsConfig `json:"tools" mapstructure:"tools"`
		// Logging configures the process-wide logger
		Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	}

	// CheckpointConfig configures the checkpoint store.
	CheckpointConfig struct {
		// Dir overrides the checkpoint store directory
		Dir BackupDirPath `json:"dir" mapstructure:"dir"`
		// Compress stores checkpoint backups zstd-compressed (default: true)
		Compress bool `json:"compress" mapstructure:"compress"`
		// RetentionDays bounds checkpoint age for cleanup; 0 keeps forever
		RetentionDays int `json:"retention_days" mapstructure:"retention_days"`
	}

	// BatchConfig configures the batch processor.
	BatchConfig struct {
		// MaxWorkers caps concurrently serviced artifacts (default: 4)
		MaxWorkers int `json:"max_workers" mapstructure:"max_workers"`
		// Checkpoint wraps every batch task in a checkpoint transaction
		// so a failed tweak rolls its artifact back (default: true)
		Checkpoint bool `json:"checkpoint" mapstructure:"checkpoint"`
	}

	// ToolsConfig overrides the external servicing tool binaries. Unset
	// fields fall back to the standard tool resolved from PATH. An
	// override may carry flags ("7z -mmt4"); values are split with shell
	// quoting rules, so a path containing spaces must be quoted.
	ToolsConfig struct {
		// WIM services compressed-container artifacts
		WIM ToolPath `json:"wim" mapstructure:"wim"`
		// VHDMount attaches virtual-disk artifacts
		VHDMount ToolPath `json:"vhd_mount" mapstructure:"vhd_mount"`
		// VHDUnmount detaches virtual-disk mounts
		VHDUnmount ToolPath `json:"vhd_unmount" mapstructure:"vhd_unmount"`
		// ISO extracts and rebuilds optical-disc artifacts
		ISO ToolPath `json:"iso" mapstructure:"iso"`
		// Archive extracts and rebuilds provisioning packages
		Archive ToolPath `json:"archive" mapstructure:"archive"`
		// Timeout bounds each tool invocation; 0 means no deadline
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// LoggingConfig configures the process-wide logger.
	LoggingConfig struct {
		// Level sets the minimum severity of emitted records
		Level LogLevel `json:"level" mapstructure:"level"`
		// Format selects text or JSON rendering
		Format LogFormat `json:"format" mapstructure:"format"`
	}
)

// IsValid returns whether the CheckpointConfig has valid fields.
// It delegates to Dir.IsValid() and checks RetentionDays is not negative;
// the Compress bool needs no validation.
func (c CheckpointConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Dir.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention days %d: must not be negative", c.RetentionDays))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidCheckpointConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidCheckpointConfigError.
func (e *InvalidCheckpointConfigError) Error() string {
	return fmt.Sprintf("invalid checkpoint config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidCheckpointConfig for errors.Is() compatibility.
func (e *InvalidCheckpointConfigError) Unwrap() error { return ErrInvalidCheckpointConfig }

// IsValid returns whether the BatchConfig has valid fields.
// MaxWorkers must be positive; the Checkpoint bool needs no validation.
func (c BatchConfig) IsValid() (bool, []error) {
	var errs []error
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("max workers %d: must be positive", c.MaxWorkers))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidBatchConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidBatchConfigError.
func (e *InvalidBatchConfigError) Error() string {
	return fmt.Sprintf("invalid batch config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidBatchConfig for errors.Is() compatibility.
func (e *InvalidBatchConfigError) Unwrap() error { return ErrInvalidBatchConfig }

// IsValid returns whether the ToolsConfig has valid fields.
// It delegates to each ToolPath's IsValid() and checks Timeout is not negative.
func (c ToolsConfig) IsValid() (bool, []error) {
	var errs []error
	for _, p := range []ToolPath{c.WIM, c.VHDMount, c.VHDUnmount, c.ISO, c.Archive} {
		if valid, fieldErrs := p.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout %s: must not be negative", c.Timeout))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidToolsConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidToolsConfigError.
func (e *InvalidToolsConfigError) Error() string {
	return fmt.Sprintf("invalid tools config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidToolsConfig for errors.Is() compatibility.
func (e *InvalidToolsConfigError) Unwrap() error { return ErrInvalidToolsConfig }

// IsValid returns whether the LoggingConfig has valid fields.
// It delegates to Level.IsValid() and Format.IsValid().
func (c LoggingConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Format.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidLoggingConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLoggingConfigError.
func (e *InvalidLoggingConfigError) Error() string {
	return fmt.Sprintf("invalid logging config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidLoggingConfig for errors.Is() compatibility.
func (e *InvalidLoggingConfigError) Unwrap() error { return ErrInvalidLoggingConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to Checkpoint.IsValid(), Batch.IsValid(), Tools.IsValid(),
// and Logging.IsValid().
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Checkpoint.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Batch.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Tools.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Logging.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// String returns the string representation of the ToolPath.
func (p ToolPath) String() string { return string(p) }

// IsValid returns whether the ToolPath is valid.
// The zero value ("") is valid (means "use the standard tool from PATH").
// Non-zero values must not be whitespace-only.
func (p ToolPath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidToolPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidToolPathError.
func (e *InvalidToolPathError) Error() string {
	return fmt.Sprintf("invalid tool path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidToolPath for errors.Is() compatibility.
func (e *InvalidToolPathError) Unwrap() error { return ErrInvalidToolPath }

// String returns the string representation of the BackupDirPath.
func (p BackupDirPath) String() string { return string(p) }

// IsValid returns whether the BackupDirPath is valid.
// The zero value ("") is valid (means "use the default store directory").
// Non-zero values must not be whitespace-only.
func (p BackupDirPath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidBackupDirPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidBackupDirPathError.
func (e *InvalidBackupDirPathError) Error() string {
	return fmt.Sprintf("invalid backup dir path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidBackupDirPath for errors.Is() compatibility.
func (e *InvalidBackupDirPathError) Unwrap() error { return ErrInvalidBackupDirPath }

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error {
	return ErrInvalidLogLevel
}

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels,
// and a list of validation errors if it is not.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Error implements the error interface for InvalidLogFormatError.
func (e *InvalidLogFormatError) Error() string {
	return fmt.Sprintf("invalid log format %q (valid: text, json)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidLogFormatError) Unwrap() error {
	return ErrInvalidLogFormat
}

// String returns the string representation of the LogFormat.
func (f LogFormat) String() string { return string(f) }

// IsValid returns whether the LogFormat is one of the defined formats,
// and a list of validation errors if it is not.
func (f LogFormat) IsValid() (bool, []error) {
	switch f {
	case LogFormatText, LogFormatJSON:
		return true, nil
	default:
		return false, []error{&InvalidLogFormatError{Value: f}}
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Checkpoint: CheckpointConfig{
			Dir:           "", // Will use the default store directory if empty
			Compress:      true,
			RetentionDays: 30,
		},
		Batch: BatchConfig{
			MaxWorkers: 4,
			Checkpoint: true,
		},
		Tools: ToolsConfig{
			WIM:        "", // Standard tools resolved from PATH if empty
			VHDMount:   "",
			VHDUnmount: "",
			ISO:        "",
			Archive:    "",
			Timeout:    0,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}
