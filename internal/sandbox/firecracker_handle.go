//go:build linux

// Package sandbox's Firecracker backend boots one microVM per sandbox
// instead of a Docker container, for deployments that need hardware-enforced
// isolation around agent-generated code. It speaks the same host/guest vsock
// protocol the rest of the cataloger corpus's microVM sandboxing uses: JSON
// requests carrying a command or a file to write, JSON responses carrying
// captured stdout/stderr.
package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/google/uuid"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

// guestAgentPort is the vsock port the in-guest agent listens on inside the
// rootfs image; it is baked into the image alongside the Python interpreter
// so a microVM sandbox behaves identically to a Docker one from Runtime's
// point of view.
const guestAgentPort = 52

// FirecrackerConfig describes the resources one microVM sandbox is given.
type FirecrackerConfig struct {
	KernelPath string // path to the Linux kernel image
	RootFSPath string // path to the sandbox rootfs image
	VCPUs      int64
	MemSizeMB  int64
	BootArgs   string // defaults to a minimal console/boot configuration
}

func (c FirecrackerConfig) withDefaults() FirecrackerConfig {
	if c.VCPUs <= 0 {
		c.VCPUs = 1
	}
	if c.MemSizeMB <= 0 {
		c.MemSizeMB = 2048
	}
	if c.BootArgs == "" {
		c.BootArgs = "console=ttyS0 reboot=k panic=1 pci=off"
	}
	return c
}

// FirecrackerHandle is a Handle backed by one Firecracker microVM, reached
// over vsock rather than `docker exec`.
type FirecrackerHandle struct {
	id      string
	cfg     FirecrackerConfig
	workDir string

	machine *firecracker.Machine
	cmd     *exec.Cmd

	mu      sync.Mutex
	conn    net.Conn
	nextReq uint64
	running atomic.Bool
}

// guestRequest mirrors the command/file-sync protocol the sandbox's guest
// agent accepts. Exactly one of Command or (Path, Content, Remove) is set
// per request, matching how the Runtime's file-based kernel channel and
// Handle.Exec both reduce to "run this command" at the vsock layer.
type guestRequest struct {
	ID      uint64 `json:"id"`
	Type    string `json:"type"` // "execute" | "file_write" | "file_read" | "file_remove"
	Command string `json:"command,omitempty"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
}

type guestResponse struct {
	ID       uint64 `json:"id"`
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Exists   bool   `json:"exists,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewFirecrackerHandle boots a fresh microVM and connects its guest agent
// over vsock.
func NewFirecrackerHandle(ctx context.Context, cfg FirecrackerConfig) (*FirecrackerHandle, error) {
	cfg = cfg.withDefaults()
	if cfg.KernelPath == "" || cfg.RootFSPath == "" {
		return nil, catalogerr.New(catalogerr.ConfigMissing, "firecracker.new", "kernel_path and rootfs_path are required")
	}

	id := uuid.NewString()
	workDir := filepath.Join(os.TempDir(), "cataloger-vm", id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.new", err)
	}

	h := &FirecrackerHandle{id: id, cfg: cfg, workDir: workDir}
	if err := h.boot(ctx); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}
	return h, nil
}

func (h *FirecrackerHandle) boot(ctx context.Context) error {
	socketPath := filepath.Join(h.workDir, "api.sock")
	logPath := filepath.Join(h.workDir, "vm.log")

	fcConfig := firecracker.Config{
		SocketPath:      socketPath,
		LogPath:         logPath,
		LogLevel:        "Warning",
		KernelImagePath: h.cfg.KernelPath,
		KernelArgs:      h.cfg.BootArgs,
		Drives: []models.Drive{{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(h.cfg.RootFSPath),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		}},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(h.cfg.VCPUs),
			MemSizeMib: firecracker.Int64(h.cfg.MemSizeMB),
			Smt:        firecracker.Bool(false),
		},
		VsockDevices: []firecracker.VsockDevice{{
			Path: filepath.Join(h.workDir, "vsock.sock"),
			CID:  3,
		}},
	}

	firecrackerBin, err := exec.LookPath("firecracker")
	if err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.boot", err)
	}
	cmd := firecracker.VMCommandBuilder{}.
		WithBin(firecrackerBin).
		WithSocketPath(socketPath).
		Build(ctx)
	h.cmd = cmd

	machine, err := firecracker.NewMachine(ctx, fcConfig, firecracker.WithProcessRunner(cmd))
	if err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.boot", err)
	}
	if err := machine.Start(ctx); err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.boot", err)
	}
	h.machine = machine
	h.running.Store(true)

	// The guest agent inside the rootfs image takes a moment to bind its
	// vsock listener after the kernel finishes booting.
	select {
	case <-time.After(750 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.dial(ctx)
}

func (h *FirecrackerHandle) dial(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		_ = h.conn.Close()
	}
	// Firecracker's vsock device exposes a Unix socket on the host;
	// connecting to it and writing "CONNECT <port>\n" is the documented
	// handshake for reaching a guest-side vsock listener.
	conn, err := net.Dial("unix", filepath.Join(h.workDir, "vsock.sock"))
	if err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.dial", err)
	}
	if _, err := fmt.Fprintf(conn, "CONNECT %d\n", guestAgentPort); err != nil {
		_ = conn.Close()
		return catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.dial", err)
	}
	h.conn = conn
	return nil
}

func (h *FirecrackerHandle) roundTrip(ctx context.Context, req guestRequest) (*guestResponse, error) {
	h.mu.Lock()
	if h.conn == nil {
		h.mu.Unlock()
		if err := h.dial(ctx); err != nil {
			return nil, err
		}
		h.mu.Lock()
	}
	req.ID = atomic.AddUint64(&h.nextReq, 1)
	conn := h.conn
	h.mu.Unlock()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.roundtrip", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var resp guestResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, catalogerr.Wrap(catalogerr.SandboxLost, "firecracker.roundtrip", err)
	}
	return &resp, nil
}

func (h *FirecrackerHandle) ID() string { return h.id }

func (h *FirecrackerHandle) Running(ctx context.Context) (bool, error) {
	if !h.running.Load() {
		return false, nil
	}
	if h.cmd == nil || h.cmd.Process == nil {
		return false, nil
	}
	// Signal 0 probes liveness without affecting the process.
	if err := h.cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}

func (h *FirecrackerHandle) Restart(ctx context.Context) error {
	_ = h.Stop(ctx)
	return h.boot(ctx)
}

func (h *FirecrackerHandle) Exec(ctx context.Context, args ...string) (string, error) {
	cmd := ""
	for i, a := range args {
		if i > 0 {
			cmd += " "
		}
		cmd += a
	}
	resp, err := h.roundTrip(ctx, guestRequest{Type: "execute", Command: cmd})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return resp.Stdout, catalogerr.New(catalogerr.ExecutionError, "firecracker.exec", "%s", resp.Error)
	}
	return resp.Stdout, nil
}

func (h *FirecrackerHandle) WriteFile(ctx context.Context, path, content string) error {
	resp, err := h.roundTrip(ctx, guestRequest{Type: "file_write", Path: path, Content: content})
	if err != nil {
		return err
	}
	if !resp.Success {
		return catalogerr.New(catalogerr.SandboxLost, "firecracker.write_file", "%s", resp.Error)
	}
	return nil
}

func (h *FirecrackerHandle) ReadFile(ctx context.Context, path string) (string, bool, error) {
	resp, err := h.roundTrip(ctx, guestRequest{Type: "file_read", Path: path})
	if err != nil {
		return "", false, err
	}
	if !resp.Success {
		if !resp.Exists {
			return "", false, nil
		}
		return "", false, catalogerr.New(catalogerr.SandboxLost, "firecracker.read_file", "%s", resp.Error)
	}
	return resp.Stdout, resp.Exists, nil
}

func (h *FirecrackerHandle) RemoveFile(ctx context.Context, path string) error {
	resp, err := h.roundTrip(ctx, guestRequest{Type: "file_remove", Path: path})
	if err != nil {
		return err
	}
	if !resp.Success {
		return catalogerr.New(catalogerr.SandboxLost, "firecracker.remove_file", "%s", resp.Error)
	}
	return nil
}

func (h *FirecrackerHandle) Stop(ctx context.Context) error {
	h.running.Store(false)
	h.mu.Lock()
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
	h.mu.Unlock()

	if h.machine != nil {
		_ = h.machine.StopVMM()
		h.machine = nil
	}
	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = h.cmd.Process.Kill()
		}
	}
	_ = os.RemoveAll(h.workDir)
	return nil
}

var _ Handle = (*FirecrackerHandle)(nil)
