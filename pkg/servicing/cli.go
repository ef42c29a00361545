// SPDX-License-Identifier: MPL-2.0

package servicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/servicebay/servicebay/pkg/platform"
	"github.com/servicebay/servicebay/pkg/types"
)

const (
	// DefaultWIMTool services compressed-container artifacts (mount/unmount).
	DefaultWIMTool = "wimlib-imagex"
	// DefaultVHDMountTool mounts virtual-disk artifacts through libguestfs.
	DefaultVHDMountTool = "guestmount"
	// DefaultVHDUnmountTool detaches virtual-disk mounts.
	DefaultVHDUnmountTool = "guestunmount"
	// DefaultISOTool extracts and rebuilds optical-disc artifacts.
	DefaultISOTool = "xorriso"
	// DefaultArchiveTool extracts and rebuilds zip-based provisioning packages.
	DefaultArchiveTool = "7z"

	// diagnosticLimit caps the tool output carried inside a ToolError.
	// Servicing tools can emit megabytes of progress output; only the tail
	// is useful for diagnosis.
	diagnosticLimit = 4096
)

type (
	// CLIExecutorOption configures a CLIExecutor.
	CLIExecutorOption func(*CLIExecutor)

	// CLIExecutor implements Executor by shelling out to the standard
	// servicing tool for each format family. Tool binaries are resolved
	// from PATH unless overridden; every invocation captures combined
	// output for failure diagnostics.
	//
	// A tool override may be a bare binary name, a path, or a command
	// string with flags ("7z -mmt4"). Command strings are split with shell
	// quoting rules and environment references expand from the process
	// environment, so a path containing spaces must be quoted.
	//
	// When the process runs inside an application sandbox (Flatpak, Snap),
	// the servicing tools live on the host, not inside the sandbox. Every
	// invocation is then routed through the sandbox's host spawn mechanism
	// so mounts and loop devices are set up where they actually work.
	CLIExecutor struct {
		wimTool        string
		vhdMountTool   string
		vhdUnmountTool string
		isoTool        string
		archiveTool    string

		execCommand ExecCommandFunc
		timeout     time.Duration
		logger      *slog.Logger
		sandboxType platform.SandboxType
	}

	// ToolError describes a failed servicing tool invocation. Output holds
	// the tail of the tool's combined stdout/stderr for diagnosis. ExitCode
	// is the tool's exit status when it exited; it stays 0 when the failure
	// was not an exit (start failure, context cancellation).
	ToolError struct {
		Tool     string
		Args     []string
		ExitCode types.ExitCode
		Output   string
		Err      error
	}
)

// Error implements the error interface for ToolError.
func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %s", e.Tool, strings.Join(e.Args, " "), e.Err, e.Output)
}

// Unwrap returns the underlying execution error.
func (e *ToolError) Unwrap() error { return e.Err }

// WithWIMTool overrides the binary used for compressed-container artifacts.
func WithWIMTool(path string) CLIExecutorOption {
	return func(e *CLIExecutor) { e.wimTool = path }
}

// WithVHDTools overrides the binaries used for virtual-disk artifacts.
func WithVHDTools(mountPath, unmountPath string) CLIExecutorOption {
	return func(e *CLIExecutor) {
		e.vhdMountTool = mountPath
		e.vhdUnmountTool = unmountPath
	}
}

// WithISOTool overrides the binary used for optical-disc artifacts.
func WithISOTool(path string) CLIExecutorOption {
	return func(e *CLIExecutor) { e.isoTool = path }
}

// WithArchiveTool overrides the binary used for provisioning packages.
func WithArchiveTool(path string) CLIExecutorOption {
	return func(e *CLIExecutor) { e.archiveTool = path }
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) CLIExecutorOption {
	return func(e *CLIExecutor) { e.execCommand = fn }
}

// WithTimeout bounds each tool invocation. Zero (the default) means no
// per-invocation deadline beyond the caller's context.
func WithTimeout(d time.Duration) CLIExecutorOption {
	return func(e *CLIExecutor) { e.timeout = d }
}

// WithLogger sets the logger used for invocation tracing.
func WithLogger(logger *slog.Logger) CLIExecutorOption {
	return func(e *CLIExecutor) { e.logger = logger }
}

// NewCLIExecutor creates a CLIExecutor with the default tool set.
func NewCLIExecutor(opts ...CLIExecutorOption) *CLIExecutor {
	e := &CLIExecutor{
		wimTool:        DefaultWIMTool,
		vhdMountTool:   DefaultVHDMountTool,
		vhdUnmountTool: DefaultVHDUnmountTool,
		isoTool:        DefaultISOTool,
		archiveTool:    DefaultArchiveTool,
		execCommand:    exec.CommandContext,
		logger:         slog.Default(),
		sandboxType:    platform.DetectSandbox(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Available reports whether the external tools backing the given format
// family can be found. Returns a ToolNotAvailableError naming the first
// missing tool.
//
// Inside a sandbox the tools live on the host and cannot be probed through
// the sandbox PATH; availability then only verifies the spawn mechanism.
func (e *CLIExecutor) Available(kind Kind) error {
	if spawn := platform.SpawnCommandFor(e.sandboxType); spawn != "" {
		if _, err := exec.LookPath(spawn); err != nil {
			return &ToolNotAvailableError{Tool: spawn, Reason: err.Error()}
		}
		return nil
	}
	for _, tool := range e.toolsFor(kind) {
		argv, err := splitToolCommand(tool)
		if err != nil {
			return &ToolNotAvailableError{Tool: tool, Reason: err.Error()}
		}
		if _, err := exec.LookPath(argv[0]); err != nil {
			return &ToolNotAvailableError{Tool: argv[0], Reason: err.Error()}
		}
	}
	return nil
}

// ToolVersion runs the version query for the format family's primary tool
// and returns the first line of its output.
func (e *CLIExecutor) ToolVersion(ctx context.Context, kind Kind) (string, error) {
	tools := e.toolsFor(kind)
	if len(tools) == 0 {
		return "", &InvalidKindError{Value: kind}
	}

	args := []string{"--version"}
	if kind == KindISO {
		args = []string{"-version"}
	}

	out, err := e.runTool(ctx, tools[0], "", args...)
	if err != nil {
		return "", err
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}

// Mount implements Executor for the in-place format families (wim, vhd).
// Archive-style kinds (iso, ppkg) return an UnsupportedRequestError; their
// handlers use Extract instead.
func (e *CLIExecutor) Mount(ctx context.Context, req MountRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	switch req.Kind {
	case KindWIM:
		_, err := e.runTool(ctx, e.wimTool, "", e.WIMMountArgs(req)...)
		return err
	case KindVHD:
		_, err := e.runTool(ctx, e.vhdMountTool, "", e.VHDMountArgs(req)...)
		return err
	default:
		return &UnsupportedRequestError{Kind: req.Kind, Op: "in-place mount"}
	}
}

// Unmount implements Executor for the in-place format families.
//
// Virtual-disk mounts write through to the image file, so Commit=false
// cannot revert changes already flushed; the unmount still detaches
// cleanly. Compressed-container mounts honor Commit exactly.
func (e *CLIExecutor) Unmount(ctx context.Context, req UnmountRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	switch req.Kind {
	case KindWIM:
		_, err := e.runTool(ctx, e.wimTool, "", e.WIMUnmountArgs(req)...)
		return err
	case KindVHD:
		_, err := e.runTool(ctx, e.vhdUnmountTool, "", e.VHDUnmountArgs(req)...)
		return err
	default:
		return &UnsupportedRequestError{Kind: req.Kind, Op: "unmount"}
	}
}

// Extract implements Executor for the archive-style format families
// (iso, ppkg).
func (e *CLIExecutor) Extract(ctx context.Context, req ExtractRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	switch req.Kind {
	case KindISO:
		_, err := e.runTool(ctx, e.isoTool, "", e.ISOExtractArgs(req)...)
		return err
	case KindPPKG:
		_, err := e.runTool(ctx, e.archiveTool, "", e.ArchiveExtractArgs(req)...)
		return err
	default:
		return &UnsupportedRequestError{Kind: req.Kind, Op: "extract"}
	}
}

// Repack implements Executor for the archive-style format families. The
// replacement container is built next to the artifact and renamed over it
// only after the tool succeeds, so a failed repack leaves the original
// untouched.
func (e *CLIExecutor) Repack(ctx context.Context, req RepackRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	out, err := filepath.Abs(req.Artifact + ".repack.tmp")
	if err != nil {
		return fmt.Errorf("resolve repack output path: %w", err)
	}

	switch req.Kind {
	case KindISO:
		if _, err := e.runTool(ctx, e.isoTool, "", e.ISORepackArgs(req, out)...); err != nil {
			_ = os.Remove(out) // Best-effort cleanup of the partial output
			return err
		}
	case KindPPKG:
		// 7z archives entries relative to its working directory, so the
		// source dir becomes the command's Dir and the output path must be
		// absolute.
		if _, err := e.runTool(ctx, e.archiveTool, req.SourceDir, e.ArchiveRepackArgs(req, out)...); err != nil {
			_ = os.Remove(out)
			return err
		}
	default:
		return &UnsupportedRequestError{Kind: req.Kind, Op: "repack"}
	}

	if err := os.Rename(out, req.Artifact); err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("replace artifact with repacked container: %w", err)
	}

	return nil
}

// --- Argument Builders ---

// WIMMountArgs constructs arguments for a compressed-container mount.
//
// Generated command: wimlib-imagex mount|mountrw <wim> <index> <dir>
func (e *CLIExecutor) WIMMountArgs(req MountRequest) []string {
	sub := "mountrw"
	if req.ReadOnly {
		sub = "mount"
	}
	return []string{sub, req.Artifact, strconv.Itoa(selectorOrDefault(req.Selector)), req.MountPoint}
}

// WIMUnmountArgs constructs arguments for a compressed-container unmount.
//
// Generated command: wimlib-imagex unmount <dir> [--commit]
func (e *CLIExecutor) WIMUnmountArgs(req UnmountRequest) []string {
	args := []string{"unmount", req.MountPoint}
	if req.Commit {
		args = append(args, "--commit")
	}
	return args
}

// VHDMountArgs constructs arguments for a virtual-disk mount.
//
// Generated command: guestmount -a <disk> -m /dev/sda<partition> --ro|--rw <dir>
func (e *CLIExecutor) VHDMountArgs(req MountRequest) []string {
	device := "/dev/sda" + strconv.Itoa(selectorOrDefault(req.Selector))
	access := "--rw"
	if req.ReadOnly {
		access = "--ro"
	}
	return []string{"-a", req.Artifact, "-m", device, access, req.MountPoint}
}

// VHDUnmountArgs constructs arguments for a virtual-disk unmount.
//
// Generated command: guestunmount <dir>
func (e *CLIExecutor) VHDUnmountArgs(req UnmountRequest) []string {
	return []string{req.MountPoint}
}

// ISOExtractArgs constructs arguments for an optical-disc extraction.
//
// Generated command: xorriso -osirrox on -indev <iso> -extract / <dir>
func (e *CLIExecutor) ISOExtractArgs(req ExtractRequest) []string {
	return []string{"-osirrox", "on", "-indev", req.Artifact, "-extract", "/", req.TargetDir}
}

// ISORepackArgs constructs arguments for rebuilding an optical-disc
// container into out.
//
// Generated command: xorriso -as mkisofs -o <out> -J -R <dir>
func (e *CLIExecutor) ISORepackArgs(req RepackRequest, out string) []string {
	return []string{"-as", "mkisofs", "-o", out, "-J", "-R", req.SourceDir}
}

// ArchiveExtractArgs constructs arguments for a provisioning-package
// extraction.
//
// Generated command: 7z x -y -o<dir> <pkg>
func (e *CLIExecutor) ArchiveExtractArgs(req ExtractRequest) []string {
	return []string{"x", "-y", "-o" + req.TargetDir, req.Artifact}
}

// ArchiveRepackArgs constructs arguments for rebuilding a provisioning
// package into out. The command runs with the source directory as its
// working directory so archive entries stay relative.
//
// Generated command: 7z a -y -tzip <out> .
func (e *CLIExecutor) ArchiveRepackArgs(req RepackRequest, out string) []string {
	return []string{"a", "-y", "-tzip", out, "."}
}

// --- Command Execution ---

// runTool executes a servicing tool and returns its combined output. A
// failed invocation returns a ToolError carrying the output tail.
func (e *CLIExecutor) runTool(ctx context.Context, tool, dir string, args ...string) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	argv, err := splitToolCommand(tool)
	if err != nil {
		return nil, &ToolError{Tool: tool, Args: args, Err: err}
	}
	if len(argv) > 1 {
		merged := make([]string, 0, len(argv)-1+len(args))
		merged = append(merged, argv[1:]...)
		merged = append(merged, args...)
		args = merged
	}
	tool = argv[0]

	tool, args = e.hostCommand(tool, args)

	e.logger.Debug("invoking servicing tool", "tool", tool, "args", args)

	cmd := e.execCommand(ctx, tool, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		var code types.ExitCode
		if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
			code = types.ExitCode(exitErr.ExitCode())
			err = fmt.Errorf("exit status %s", code)
		}
		return out, &ToolError{
			Tool:     tool,
			Args:     args,
			ExitCode: code,
			Output:   diagnosticTail(out),
			Err:      err,
		}
	}

	return out, nil
}

// hostCommand rewrites a tool invocation to run on the host when the
// process is confined to an application sandbox. Outside a sandbox the
// invocation passes through unchanged.
//
// For Flatpak: flatpak-spawn --host <tool> <args...>
// For Snap: snap run --shell <tool> <args...>
func (e *CLIExecutor) hostCommand(tool string, args []string) (string, []string) {
	spawn := platform.SpawnCommandFor(e.sandboxType)
	if spawn == "" {
		return tool, args
	}

	spawnArgs := platform.SpawnArgsFor(e.sandboxType)
	full := make([]string, 0, len(spawnArgs)+1+len(args))
	full = append(full, spawnArgs...)
	full = append(full, tool)
	full = append(full, args...)
	return spawn, full
}

// toolsFor returns the binaries a format family depends on.
func (e *CLIExecutor) toolsFor(kind Kind) []string {
	switch kind {
	case KindWIM:
		return []string{e.wimTool}
	case KindVHD:
		return []string{e.vhdMountTool, e.vhdUnmountTool}
	case KindISO:
		return []string{e.isoTool}
	case KindPPKG:
		return []string{e.archiveTool}
	default:
		return nil
	}
}

// splitToolCommand splits a tool override into argv using shell quoting
// rules. Environment references expand from the process environment.
// Command substitution has no handler, so a config value can never
// trigger nested execution.
func splitToolCommand(command string) ([]string, error) {
	var words []*syntax.Word
	err := syntax.NewParser().Words(strings.NewReader(command), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("parse tool command %q: %w", command, err)
	}

	argv, err := expand.Fields(&expand.Config{Env: expand.FuncEnviron(os.Getenv)}, words...)
	if err != nil {
		return nil, fmt.Errorf("expand tool command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("tool command %q is empty", command)
	}

	return argv, nil
}

// selectorOrDefault maps the zero selector to the tools' first entry.
func selectorOrDefault(sel int) int {
	if sel == 0 {
		return 1
	}
	return sel
}

// diagnosticTail trims tool output to the last diagnosticLimit bytes.
func diagnosticTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > diagnosticLimit {
		s = "..." + s[len(s)-diagnosticLimit:]
	}
	return s
}
