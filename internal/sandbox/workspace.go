package sandbox

import "strings"

// WorkspaceAccessMode controls whether a sandbox container gets a host
// workspace directory bind-mounted, and with what permissions. Agent code
// that writes large intermediate files (e.g. ibis/polars spill files) needs
// somewhere durable to put them; a misbehaving or compromised script
// shouldn't be able to touch the host filesystem beyond that.
type WorkspaceAccessMode string

const (
	// WorkspaceNone mounts no host directory into the container at all.
	WorkspaceNone WorkspaceAccessMode = "none"
	// WorkspaceReadOnly bind-mounts the workspace directory read-only.
	WorkspaceReadOnly WorkspaceAccessMode = "readonly"
	// WorkspaceReadWrite bind-mounts the workspace directory read-write.
	WorkspaceReadWrite WorkspaceAccessMode = "readwrite"
)

// ParseWorkspaceAccess converts a config string to a workspace access mode.
// Unrecognized or empty values fall back to WorkspaceReadOnly, the safer
// default for a pool of sandboxes that run agent-generated code.
func ParseWorkspaceAccess(raw string) WorkspaceAccessMode {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "rw", "readwrite", "read-write", "write":
		return WorkspaceReadWrite
	case "none", "disabled":
		return WorkspaceNone
	case "ro", "readonly", "read-only":
		return WorkspaceReadOnly
	default:
		return WorkspaceReadOnly
	}
}

// containerWorkspacePath is the fixed mount point inside every sandbox
// container; agent code and interpreter scripts can rely on it being stable
// across sandboxes.
const containerWorkspacePath = "/workspace"
