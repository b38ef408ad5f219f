package sandbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/observability"
)

type fakeHandle struct {
	id      string
	running bool
	files   map[string]string
	execLog []string
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, running: true, files: make(map[string]string)}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Running(ctx context.Context) (bool, error) { return h.running, nil }

func (h *fakeHandle) Restart(ctx context.Context) error {
	h.running = true
	return nil
}

func (h *fakeHandle) Exec(ctx context.Context, args ...string) (string, error) {
	h.execLog = append(h.execLog, fmt.Sprint(args))
	return "", nil
}

func (h *fakeHandle) WriteFile(ctx context.Context, path, content string) error {
	h.files[path] = content
	return nil
}

func (h *fakeHandle) ReadFile(ctx context.Context, path string) (string, bool, error) {
	content, ok := h.files[path]
	return content, ok, nil
}

func (h *fakeHandle) RemoveFile(ctx context.Context, path string) error {
	delete(h.files, path)
	return nil
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.running = false
	return nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error"})
}

func TestPoolAcquireCreatesFreshRuntimePerCall(t *testing.T) {
	var counter int64
	factory := func(ctx context.Context) (Handle, error) {
		n := atomic.AddInt64(&counter, 1)
		return newFakeHandle(fmt.Sprintf("sbx-%d", n)), nil
	}
	pool := NewPool(factory, PoolConfig{MaxSize: 1, IdleTimeout: time.Minute}, testLogger())
	ctx := context.Background()

	leased1, err := pool.Acquire(ctx, "postgres://first", StoreCreds{AccessKeyID: "key-one"})
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	leased1.Runtime.mu.Lock()
	leased1.Runtime.codeHistory = append(leased1.Runtime.codeHistory, "x = 1")
	leased1.Runtime.outputHistory = append(leased1.Runtime.outputHistory, "")
	leased1.Runtime.mu.Unlock()
	handleID := leased1.Runtime.handle.ID()
	pool.Release(ctx, leased1)

	leased2, err := pool.Acquire(ctx, "postgres://second", StoreCreds{AccessKeyID: "key-two"})
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer pool.Release(ctx, leased2)

	if leased2.Runtime.handle.ID() != handleID {
		t.Fatalf("expected the idle sandbox to be reused, got a different handle")
	}
	if leased2.Runtime.dbConn != "postgres://second" {
		t.Fatalf("new runtime carried stale db conn: %q", leased2.Runtime.dbConn)
	}
	if leased2.Runtime.creds.AccessKeyID != "key-two" {
		t.Fatalf("new runtime carried stale credentials: %q", leased2.Runtime.creds.AccessKeyID)
	}
	if len(leased2.Runtime.GetCodeHistory()) != 0 {
		t.Fatalf("fresh runtime should start with empty code history")
	}
}

func TestPoolAcquireRespectsMaxSize(t *testing.T) {
	factory := func(ctx context.Context) (Handle, error) {
		return newFakeHandle("only"), nil
	}
	pool := NewPool(factory, PoolConfig{MaxSize: 1, IdleTimeout: time.Minute}, testLogger())
	ctx := context.Background()

	leased, err := pool.Acquire(ctx, "db", StoreCreds{})
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer pool.Release(ctx, leased)

	_, err = pool.Acquire(ctx, "db2", StoreCreds{})
	if !catalogerr.Is(err, catalogerr.PoolExhausted) {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
}

func TestPoolCleanupReclaimsIdleSandboxes(t *testing.T) {
	factory := func(ctx context.Context) (Handle, error) {
		return newFakeHandle("idle-one"), nil
	}
	pool := NewPool(factory, PoolConfig{MaxSize: 2, IdleTimeout: time.Millisecond}, testLogger())
	ctx := context.Background()

	leased, err := pool.Acquire(ctx, "db", StoreCreds{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(ctx, leased)

	time.Sleep(5 * time.Millisecond)
	pool.Cleanup(ctx)

	if got := pool.Size(); got != 0 {
		t.Fatalf("expected pool size 0 after reclaiming idle sandbox, got %d", got)
	}
}
