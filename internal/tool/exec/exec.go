// Package exec is the reference tool.Adapter: it runs a shell command and
// reports stdout/stderr/exit status as structured output. It only runs at
// all when its Permissions grant allow_shell — the manifest's refusal of
// that permission can never be overridden (see internal/override).
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/tool"
)

// Adapter runs whatever command its invocation inputs name under the shell
// resolved for the host OS.
type Adapter struct {
	Permissions tool.Permissions
	// Env, when non-nil, seeds the child process's environment in addition
	// to the parent's. Primarily for tests that want a hermetic PATH.
	Env map[string]string
}

// New constructs a shell-exec adapter gated on the given permissions.
func New(perms tool.Permissions) *Adapter {
	return &Adapter{Permissions: perms}
}

// Invoke expects inputs["command"] (required) and optional inputs["work_dir"].
// Output carries "stdout", "stderr", and "exit_code".
func (a *Adapter) Invoke(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	if !a.Permissions.AllowShell {
		return nil, domain.New(domain.ErrSecurity, "tool refused: allow_shell is not granted", nil, nil)
	}

	command, _ := inputs["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, domain.New(domain.ErrValidation, "command input is required", nil, nil)
	}
	workDir, _ := inputs["work_dir"].(string)
	if workDir == "" {
		workDir = a.Permissions.RootPath
	}

	shell, shellArgs, err := determineShell()
	if err != nil {
		return nil, domain.New(domain.ErrTool, "no suitable shell found", err, nil)
	}

	args := append(shellArgs, command)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Env = buildEnv(a.Env)
	if workDir != "" {
		cmd.Dir = workDir
	}

	result, runErr := runStreaming(cmd)
	output := map[string]interface{}{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": cmd.ProcessState.ExitCode(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return output, domain.New(domain.ErrTool, fmt.Sprintf("command exited %d", exitErr.ExitCode()), runErr, output)
		}
		return output, domain.New(domain.ErrTool, "command invocation failed", runErr, output)
	}

	return output, nil
}

var _ tool.Adapter = (*Adapter)(nil)

type streamResult struct {
	Stdout string
	Stderr string
}

func runStreaming(cmd *exec.Cmd) (streamResult, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &stdoutBuf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderrBuf)

	err := cmd.Run()
	return streamResult{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}, err
}

func determineShell() (string, []string, error) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}, nil
	}
	if path, err := exec.LookPath("bash"); err == nil {
		return path, []string{"-c"}, nil
	}
	if path, err := exec.LookPath("sh"); err == nil {
		return path, []string{"-c"}, nil
	}
	return "", nil, fmt.Errorf("no suitable shell found")
}

func buildEnv(custom map[string]string) []string {
	env := os.Environ()
	for k, v := range custom {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
