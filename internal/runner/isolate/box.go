package isolate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/pkg/errors"
)

type runParams struct {
	Timeout       time.Duration
	MemoryLimitKB int64
	MaxFileSizeKB int64
	Processes     int
	MetaPath      string
}

// isolatedBox is one initialized isolate box. FilesDir is mounted as /box inside it.
type isolatedBox struct {
	id       int
	execPath string
	FilesDir string
}

func boxArg(id int) string {
	return fmt.Sprintf("--box-id=%d", id)
}

func newIsolatedBox(ctx context.Context, execPath string, id int) (*isolatedBox, error) {
	cmd := shell.NewCommand(ctx, execPath, "--cg", boxArg(id), "--init")
	out, err := cmd.Cmd.Output()
	if err != nil {
		return nil, errors.Wrap(err, "failed to init isolate box")
	}
	baseDir := strings.TrimSpace(string(out))
	if baseDir == "" {
		return nil, errors.New("isolate did not report the box directory")
	}
	return &isolatedBox{id: id, execPath: execPath, FilesDir: filepath.Join(baseDir, "box")}, nil
}

func (b *isolatedBox) command(ctx context.Context, p runParams, program string) *shell.Command {
	args := []string{
		"--cg",
		boxArg(b.id),
		"--silent",
		"--meta=" + p.MetaPath,
		fmt.Sprintf("--time=%.3f", p.Timeout.Seconds()),
		fmt.Sprintf("--wall-time=%.3f", p.Timeout.Seconds()),
		fmt.Sprintf("--fsize=%d", p.MaxFileSizeKB),
		fmt.Sprintf("--processes=%d", p.Processes),
	}
	if p.MemoryLimitKB > 0 {
		args = append(args, fmt.Sprintf("--cg-mem=%d", p.MemoryLimitKB))
	}
	args = append(args, "--run", "--", program)
	return shell.NewCommand(ctx, b.execPath, args...)
}

func (b *isolatedBox) clean() error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	return shell.NewCommand(ctx, b.execPath, "--cg", boxArg(b.id), "--cleanup").Cmd.Run()
}
