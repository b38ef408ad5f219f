package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

// DockerHandle is a Handle backed by a single Docker container, driven via
// the docker CLI rather than the Docker HTTP API.
type DockerHandle struct {
	containerID string
	image       string
	cpus        string
	memory      string
}

// DockerHandleConfig controls the resource limits applied to a container at
// creation time.
type DockerHandleConfig struct {
	Image  string
	CPUs   string // e.g. "1.0"
	Memory string // e.g. "1g"

	// WorkspaceHostPath, when non-empty, is bind-mounted into every sandbox
	// at containerWorkspacePath according to WorkspaceAccess.
	WorkspaceHostPath string
	WorkspaceAccess   WorkspaceAccessMode
}

// NewDockerHandle creates and starts a detached, network-isolated-by-default
// container from cfg.Image, returning a handle to it.
func NewDockerHandle(ctx context.Context, cfg DockerHandleConfig) (*DockerHandle, error) {
	args := []string{
		"run", "-d",
		"--cpus", cfg.CPUs,
		"--memory", cfg.Memory,
	}
	if mount := workspaceMountArg(cfg); mount != "" {
		args = append(args, "--mount", mount)
	}
	args = append(args,
		"--entrypoint", "sh",
		cfg.Image,
		"-c", "sleep infinity",
	)
	out, err := runDocker(ctx, args...)
	if err != nil {
		return nil, catalogerr.Wrap(catalogerr.SandboxLost, "docker.run", err)
	}
	id := strings.TrimSpace(out)
	return &DockerHandle{containerID: id, image: cfg.Image, cpus: cfg.CPUs, memory: cfg.Memory}, nil
}

func (h *DockerHandle) ID() string { return h.containerID }

func (h *DockerHandle) Running(ctx context.Context) (bool, error) {
	out, err := runDocker(ctx, "inspect", "-f", "{{.State.Running}}", h.containerID)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

func (h *DockerHandle) Restart(ctx context.Context) error {
	if _, err := runDocker(ctx, "start", h.containerID); err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "docker.restart", err)
	}
	return nil
}

func (h *DockerHandle) Exec(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"exec", h.containerID}, args...)
	out, err := runDocker(ctx, full...)
	if err != nil {
		return out, catalogerr.Wrap(catalogerr.ExecutionError, "docker.exec", err)
	}
	return out, nil
}

func (h *DockerHandle) WriteFile(ctx context.Context, path, content string) error {
	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", h.containerID, "sh", "-c", "cat > "+shellQuote(path))
	cmd.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "docker.write_file", fmt.Errorf("%s: %w", stderr.String(), err))
	}
	return nil
}

func (h *DockerHandle) ReadFile(ctx context.Context, path string) (string, bool, error) {
	out, err := runDocker(ctx, "exec", h.containerID, "sh", "-c",
		fmt.Sprintf("[ -f %s ] && cat %s || true", shellQuote(path), shellQuote(path)))
	if err != nil {
		return "", false, catalogerr.Wrap(catalogerr.SandboxLost, "docker.read_file", err)
	}
	exists, err := runDocker(ctx, "exec", h.containerID, "sh", "-c",
		fmt.Sprintf("[ -f %s ] && echo yes || echo no", shellQuote(path)))
	if err != nil {
		return "", false, catalogerr.Wrap(catalogerr.SandboxLost, "docker.read_file", err)
	}
	if strings.TrimSpace(exists) != "yes" {
		return "", false, nil
	}
	return out, true, nil
}

func (h *DockerHandle) RemoveFile(ctx context.Context, path string) error {
	if _, err := runDocker(ctx, "exec", h.containerID, "sh", "-c", "rm -f "+shellQuote(path)); err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "docker.remove_file", err)
	}
	return nil
}

func (h *DockerHandle) Stop(ctx context.Context) error {
	_, _ = runDocker(ctx, "rm", "-f", h.containerID)
	return nil
}

func runDocker(ctx context.Context, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// workspaceMountArg renders the --mount flag for cfg, or "" when no host
// directory should be mounted.
func workspaceMountArg(cfg DockerHandleConfig) string {
	if cfg.WorkspaceHostPath == "" || cfg.WorkspaceAccess == WorkspaceNone {
		return ""
	}
	mount := fmt.Sprintf("type=bind,source=%s,target=%s", cfg.WorkspaceHostPath, containerWorkspacePath)
	if cfg.WorkspaceAccess == WorkspaceReadOnly {
		mount += ",readonly"
	}
	return mount
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
