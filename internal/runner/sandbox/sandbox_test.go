package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/criyle/go-sandbox/pkg/cgroup"
	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/pkg/errors"
)

var (
	sbRunner   *SandboxRunner
	skipReason string
)

func initSandbox() error {
	if os.Getuid() != 0 {
		return fmt.Errorf("sandbox tests require root privileges")
	}
	sbRunner = NewSandboxRunner(SandboxRunnerConfig{ContainersPoolSize: 2}, nil)
	return sbRunner.Init()
}

func cleanupSandbox() {
	if sbRunner != nil {
		sbRunner.Close()
	}
}

func TestMain(m *testing.M) {
	if err := initSandbox(); err != nil {
		skipReason = err.Error()
		sbRunner = nil
	}
	code := m.Run()
	cleanupSandbox()
	os.Exit(code)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func requireSandbox(t *testing.T) {
	t.Helper()
	if sbRunner == nil {
		t.Skipf("sandbox unavailable: %s", skipReason)
	}
}

// stubCgroup fails the calls checkCgroup makes; other methods are never reached.
type stubCgroup struct {
	cgroup.Cgroup
	randomErr error
	openErr   error
	destroyed bool
}

func (c *stubCgroup) Random(string) (cgroup.Cgroup, error) {
	if c.randomErr != nil {
		return nil, c.randomErr
	}
	return c, nil
}

func (c *stubCgroup) Open() (*os.File, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return os.Open(os.DevNull)
}

func (c *stubCgroup) Destroy() error {
	c.destroyed = true
	return nil
}

func TestCheckCgroup(t *testing.T) {
	tests := []struct {
		name    string
		cg      *stubCgroup
		wantErr bool
	}{
		{name: "usable", cg: &stubCgroup{}},
		{name: "no child cgroup", cg: &stubCgroup{randomErr: errors.New("permission denied")}, wantErr: true},
		{name: "not initialized", cg: &stubCgroup{openErr: errors.New("cgroup was not initialized")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCgroup(tt.cg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkCgroup error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.cg.randomErr == nil && !tt.cg.destroyed {
				t.Fatal("child cgroup was not destroyed")
			}
		})
	}
}

func TestSandboxRunner(t *testing.T) {
	requireSandbox(t)
	tests := []struct {
		name     string
		script   string
		input    string
		timeout  time.Duration
		status   runner.Status
		expected string
	}{
		{name: "echo", script: `read a b; echo $((a + b))`, input: "2 3\n", timeout: 2 * time.Second, status: runner.StatusNormal, expected: "5\n"},
		{name: "exit code", script: `exit 4`, timeout: 2 * time.Second, status: runner.StatusNonzeroExitStatus},
		{name: "timeout", script: `while :; do :; done`, timeout: 500 * time.Millisecond, status: runner.StatusTimeLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := sbRunner.Run(context.Background(), &dto.RunRequest{
				Executable:    writeScript(t, tt.script),
				Input:         tt.input,
				Timeout:       tt.timeout,
				MemoryLimitKB: 256 * 1024,
				MaxOutputSize: 1 << 20,
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Status != tt.status {
				t.Fatalf("Unexpected status: %v, error: %s", res.Status, res.Error)
			}
			if tt.status == runner.StatusNormal && res.Output != tt.expected {
				t.Fatalf("Output mismatch: expected %q, got %q", tt.expected, res.Output)
			}
		})
	}
}
