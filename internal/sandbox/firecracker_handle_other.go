//go:build !linux

package sandbox

import (
	"context"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

// FirecrackerConfig describes the resources one microVM sandbox is given.
// Firecracker itself is Linux/KVM-only; on other platforms NewFirecrackerHandle
// always fails so callers get a clear error instead of a silent no-op backend.
type FirecrackerConfig struct {
	KernelPath string
	RootFSPath string
	VCPUs      int64
	MemSizeMB  int64
	BootArgs   string
}

// NewFirecrackerHandle always fails outside Linux.
func NewFirecrackerHandle(ctx context.Context, cfg FirecrackerConfig) (Handle, error) {
	return nil, catalogerr.New(catalogerr.ConfigMissing, "firecracker.new", "the firecracker sandbox backend requires Linux/KVM")
}
