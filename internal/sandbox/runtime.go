package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

// StoreCreds carries the object-store credentials forwarded into a sandbox's
// environment so agent code can read/write the same bucket the workflow
// publishes to.
type StoreCreds struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Handle abstracts the OS-level isolation boundary hosting one kernel
// process. Production code backs it with a Docker container (see
// docker_handle.go); tests back it with an in-memory fake.
type Handle interface {
	// ID returns a stable identifier for logging.
	ID() string
	// Running reports whether the sandbox process is alive.
	Running(ctx context.Context) (bool, error)
	// Restart brings a stopped sandbox back up.
	Restart(ctx context.Context) error
	// Exec runs a shell command inside the sandbox and returns combined output.
	Exec(ctx context.Context, args ...string) (string, error)
	// WriteFile creates or overwrites a file inside the sandbox.
	WriteFile(ctx context.Context, path, content string) error
	// ReadFile reads a file inside the sandbox. Returns ("", false, nil) if absent.
	ReadFile(ctx context.Context, path string) (content string, ok bool, err error)
	// RemoveFile deletes a file inside the sandbox, succeeding if already absent.
	RemoveFile(ctx context.Context, path string) error
	// Stop halts and removes the sandbox.
	Stop(ctx context.Context) error
}

const (
	codeInputPath  = "/tmp/code_input.py"
	codeOutputPath = "/tmp/code_output.txt"
	interpreterSrc = "/tmp/interpreter.py"
	interpreterLog = "/tmp/interpreter.log"
	pollInterval   = 100 * time.Millisecond
	errorSentinel  = "__CATALOGER_EXEC_ERROR__"
)

// Runtime is a single stateful code-execution kernel hosted inside one
// Handle. Construction starts a persistent interpreter process; Execute
// drives it over a file-based request/response channel so that variables,
// imports, and function definitions persist across calls.
type Runtime struct {
	handle       Handle
	dbConn       string
	creds        StoreCreds
	sessionID    string
	outputMarker string

	mu            sync.Mutex
	codeHistory   []string
	outputHistory []string
}

// NewRuntime starts a fresh interpreter process inside handle, scoped to the
// given database connection string and object-store credentials.
func NewRuntime(ctx context.Context, handle Handle, dbConn string, creds StoreCreds) (*Runtime, error) {
	sessionID := uuid.NewString()[:8]
	rt := &Runtime{
		handle:       handle,
		dbConn:       dbConn,
		creds:        creds,
		sessionID:    sessionID,
		outputMarker: fmt.Sprintf("__CATALOGER_OUTPUT_END_%s__", sessionID),
	}
	if err := rt.startInterpreter(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) startInterpreter(ctx context.Context) error {
	script := r.interpreterScript()
	if err := r.handle.WriteFile(ctx, interpreterSrc, script); err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "runtime.start", err)
	}
	startCmd := fmt.Sprintf("python -u %s > %s 2>&1 &", interpreterSrc, interpreterLog)
	if _, err := r.handle.Exec(ctx, "sh", "-c", startCmd); err != nil {
		return catalogerr.Wrap(catalogerr.SandboxLost, "runtime.start", err)
	}
	// Give the interpreter a moment to come up before the first Execute call.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// interpreterScript renders the long-lived Python process that polls for
// code_input.py, executes it against a persistent globals dict, and writes
// captured stdout/stderr followed by the session's end-of-output marker.
func (r *Runtime) interpreterScript() string {
	return fmt.Sprintf(`import os
import sys
import time
import traceback
from io import StringIO

os.environ["DB_CONNECTION_STRING"] = %q
os.environ["AWS_ACCESS_KEY_ID"] = %q
os.environ["AWS_SECRET_ACCESS_KEY"] = %q
os.environ["AWS_DEFAULT_REGION"] = %q
os.environ["S3_BUCKET"] = %q
os.environ["S3_ENDPOINT_URL"] = %q

_globals = {"__name__": "__main__"}

while True:
    if not os.path.exists(%q):
        time.sleep(0.1)
        continue

    with open(%q, "r") as f:
        code = f.read()
    os.remove(%q)

    buf = StringIO()
    failed = False
    old_out, old_err = sys.stdout, sys.stderr
    sys.stdout = buf
    sys.stderr = buf
    try:
        exec(code, _globals)
    except Exception:
        failed = True
        traceback.print_exc()
    finally:
        sys.stdout = old_out
        sys.stderr = old_err

    with open(%q, "w") as f:
        f.write(buf.getvalue())
        f.write("\n%s\n")
        if failed:
            f.write(%q + "\n")
`,
		r.dbConn, r.creds.AccessKeyID, r.creds.SecretAccessKey, regionOrDefault(r.creds.Region),
		r.creds.Bucket, r.creds.Endpoint,
		codeInputPath, codeInputPath, codeInputPath, codeOutputPath, r.outputMarker, errorSentinel)
}

func regionOrDefault(region string) string {
	if region == "" {
		return "us-east-1"
	}
	return region
}

// Execute submits code to the persistent kernel and returns the captured
// combined stdout/stderr. State set by previous Execute calls (variables,
// imports, function definitions) remains visible.
func (r *Runtime) Execute(ctx context.Context, code string, timeout time.Duration) (string, error) {
	running, err := r.handle.Running(ctx)
	if err != nil {
		return "", catalogerr.Wrap(catalogerr.SandboxLost, "runtime.execute", err)
	}
	if !running {
		return "", catalogerr.New(catalogerr.SandboxLost, "runtime.execute", "sandbox %s is not running", r.handle.ID())
	}

	if err := r.handle.RemoveFile(ctx, codeOutputPath); err != nil {
		return "", catalogerr.Wrap(catalogerr.SandboxLost, "runtime.execute", err)
	}
	if err := r.handle.WriteFile(ctx, codeInputPath, code); err != nil {
		return "", catalogerr.Wrap(catalogerr.SandboxLost, "runtime.execute", err)
	}

	deadline := time.Now().Add(timeout)
	var raw string
	for {
		content, ok, err := r.handle.ReadFile(ctx, codeOutputPath)
		if err != nil {
			return "", catalogerr.Wrap(catalogerr.SandboxLost, "runtime.execute", err)
		}
		if ok {
			raw = content
			break
		}
		if time.Now().After(deadline) {
			return "", catalogerr.New(catalogerr.Timeout, "runtime.execute", "code execution timed out after %s", timeout)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	output, execFailed := r.stripMarker(raw)

	r.mu.Lock()
	r.codeHistory = append(r.codeHistory, code)
	r.outputHistory = append(r.outputHistory, output)
	r.mu.Unlock()

	if execFailed {
		return "", catalogerr.New(catalogerr.ExecutionError, "runtime.execute", "%s", output)
	}
	return output, nil
}

// stripMarker removes the session's end-of-output marker (and the trailing
// error sentinel, when present) from the raw kernel output.
func (r *Runtime) stripMarker(raw string) (output string, execFailed bool) {
	markerLine := "\n" + r.outputMarker + "\n"
	if strings.HasSuffix(raw, errorSentinel+"\n") {
		execFailed = true
		raw = strings.TrimSuffix(raw, errorSentinel+"\n")
	}
	raw = strings.Replace(raw, markerLine, "", 1)
	return strings.TrimRight(raw, "\n"), execFailed
}

// GetCodeHistory returns every code block submitted on this Runtime since
// construction or the last Reset.
func (r *Runtime) GetCodeHistory() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.codeHistory))
	copy(out, r.codeHistory)
	return out
}

// GetSessionScript renders the replay script: for each executed block, a
// banner, the raw code, and the line-commented output (or a "(no output)"
// sentinel), so the script is self-describing and independently executable.
func (r *Runtime) GetSessionScript() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for i, code := range r.codeHistory {
		n := i + 1
		fmt.Fprintf(&b, "# === Code Block %d ===\n", n)
		b.WriteString(code)
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "# --- Output %d ---\n", n)
		output := r.outputHistory[i]
		if output == "" {
			b.WriteString("# (no output)\n")
		} else {
			for _, line := range strings.Split(output, "\n") {
				b.WriteString("# ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Reset terminates the interpreter process, clears the request/response
// files, and discards code/output history. A subsequent Execute restarts the
// interpreter on this same Runtime.
func (r *Runtime) Reset(ctx context.Context) error {
	_, _ = r.handle.Exec(ctx, "sh", "-c", "pkill -f 'python -u "+interpreterSrc+"'")
	_ = r.handle.RemoveFile(ctx, codeInputPath)
	_ = r.handle.RemoveFile(ctx, codeOutputPath)
	_ = r.handle.RemoveFile(ctx, interpreterSrc)

	r.mu.Lock()
	r.codeHistory = nil
	r.outputHistory = nil
	r.mu.Unlock()

	return r.startInterpreter(ctx)
}
