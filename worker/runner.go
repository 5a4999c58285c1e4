package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/multyvac/vac/fn"
	"github.com/multyvac/vac/models"
)

// Mount binds a volume or layer tree into a job workspace.
type Mount struct {
	Source string
	Target string
	// Layer mounts link the tree's top-level entries into the
	// workspace root instead of linking the tree at Target.
	Overlay bool
}

// RunSpec is everything a Runner needs to execute one job.
type RunSpec struct {
	Job    *models.Job
	Mounts []Mount
}

// RunResult reports one finished execution. Killed is set when the
// process was terminated through the context, either by a kill request
// or by the job's max runtime.
type RunResult struct {
	Result         []byte
	Stdout         string
	Stderr         string
	ReturnCode     int
	Killed         bool
	Overhead       time.Duration
	CPUTimeUser    float64
	CPUTimeSystem  float64
	MemoryMaxUsage int64
}

type Runner interface {
	Run(ctx context.Context, spec *RunSpec) (*RunResult, error)
}

// LocalRunner executes jobs as shell commands in per-job workspaces
// under DataDir/jobs. When a Registry is attached, jobs submitted with
// the bootstrap command are invoked in-process instead of spawning the
// bootstrap binary.
type LocalRunner struct {
	DataDir      string
	BootstrapCmd string
	MaxOutput    int
	KeepWorkdir  bool
	Registry     *fn.Registry
}

func (r *LocalRunner) Run(ctx context.Context, spec *RunSpec) (*RunResult, error) {
	setupStart := time.Now()
	job := spec.Job

	if r.Registry != nil && job.Cmd == r.BootstrapCmd {
		return r.runEmbedded(ctx, job, setupStart)
	}

	workspace := filepath.Join(r.DataDir, "jobs", strconv.FormatInt(job.JID, 10))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if !r.KeepWorkdir {
		defer os.RemoveAll(workspace)
	}

	if err := mountAll(workspace, spec.Mounts); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", job.Cmd)
	cmd.Dir = workspace
	cmd.Stdin = bytes.NewReader(job.Stdin)
	cmd.WaitDelay = 5 * time.Second

	stdout := newCappedBuffer(r.maxOutput())
	stderr := newCappedBuffer(r.maxOutput())
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cmd.Env = append(os.Environ(),
		"ON_MULTYVAC=true",
		"VAC_JID="+strconv.FormatInt(job.JID, 10),
		"VAC_WORKSPACE="+workspace,
	)
	for name, value := range job.Env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}

	overhead := time.Since(setupStart)
	runErr := cmd.Run()

	res := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Overhead: overhead,
	}
	collectUsage(cmd, res)

	if ctx.Err() != nil {
		res.Killed = true
		res.ReturnCode = -1
		return res, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ReturnCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("starting job command: %w", runErr)
	}

	res.ReturnCode = 0
	if err := collectResult(workspace, job, res); err != nil {
		res.ReturnCode = 1
		res.Stderr = appendLine(res.Stderr, err.Error())
	}
	return res, nil
}

func (r *LocalRunner) maxOutput() int {
	if r.MaxOutput <= 0 {
		return 1 << 20
	}
	return r.MaxOutput
}

// runEmbedded invokes a function payload against the in-process
// registry, honoring the context the way a spawned bootstrap would.
func (r *LocalRunner) runEmbedded(ctx context.Context, job *models.Job, setupStart time.Time) (*RunResult, error) {
	res := &RunResult{Overhead: time.Since(setupStart)}

	type invocation struct {
		result []byte
		err    error
	}
	done := make(chan invocation, 1)
	go func() {
		result, err := r.Registry.InvokePayload(job.Stdin)
		done <- invocation{result, err}
	}()

	select {
	case <-ctx.Done():
		res.Killed = true
		res.ReturnCode = -1
		return res, nil
	case inv := <-done:
		if inv.err != nil {
			res.ReturnCode = 1
			res.Stderr = inv.err.Error()
			return res, nil
		}
		res.Result = inv.result
		return res, nil
	}
}

func mountAll(workspace string, mounts []Mount) error {
	for _, m := range mounts {
		if m.Overlay {
			entries, err := os.ReadDir(m.Source)
			if err != nil {
				return fmt.Errorf("reading layer tree: %w", err)
			}
			for _, entry := range entries {
				link := filepath.Join(workspace, entry.Name())
				if err := os.Symlink(filepath.Join(m.Source, entry.Name()), link); err != nil && !os.IsExist(err) {
					return fmt.Errorf("linking layer entry %s: %w", entry.Name(), err)
				}
			}
			continue
		}

		target, err := resolveInWorkspace(workspace, m.Target)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating mount point: %w", err)
		}
		if err := os.Symlink(m.Source, target); err != nil && !os.IsExist(err) {
			return fmt.Errorf("mounting %s: %w", m.Target, err)
		}
	}
	return nil
}

func collectResult(workspace string, job *models.Job, res *RunResult) error {
	switch {
	case job.ResultSource == "" || job.ResultSource == models.ResultSourceStdout:
		res.Result = []byte(res.Stdout)
	case strings.HasPrefix(job.ResultSource, models.ResultSourceFilePrefix):
		rel := strings.TrimPrefix(job.ResultSource, models.ResultSourceFilePrefix)
		path, err := resolveInWorkspace(workspace, rel)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("result file %s: %w", rel, err)
		}
		res.Result = data
	default:
		return fmt.Errorf("unknown result source %q", job.ResultSource)
	}
	return nil
}

// resolveInWorkspace joins rel onto the workspace and rejects paths
// escaping it.
func resolveInWorkspace(workspace, rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	path := filepath.Join(workspace, rel)
	if path != workspace && !strings.HasPrefix(path, workspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the job workspace", rel)
	}
	return path, nil
}

func collectUsage(cmd *exec.Cmd, res *RunResult) {
	ps := cmd.ProcessState
	if ps == nil {
		return
	}
	res.CPUTimeUser = ps.UserTime().Seconds()
	res.CPUTimeSystem = ps.SystemTime().Seconds()
	if rusage, ok := ps.SysUsage().(*syscall.Rusage); ok && rusage != nil {
		// Maxrss is in kilobytes on Linux.
		res.MemoryMaxUsage = rusage.Maxrss * 1024
	}
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}

// cappedBuffer keeps the first cap bytes and drops the rest, so jobs
// with huge outputs cannot balloon the database.
type cappedBuffer struct {
	buf     bytes.Buffer
	cap     int
	dropped bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{cap: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.cap - b.buf.Len()
	if room > 0 {
		if len(p) <= room {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:room])
			b.dropped = true
		}
	} else if len(p) > 0 {
		b.dropped = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.dropped {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
