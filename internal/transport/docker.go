package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerExec is the container-exec backend: it multiplexes stdout/stderr on a single hijacked
// connection using the Docker engine's stream-copy framing, and determines liveness by polling
// the exec-inspect endpoint, following the same `ContainerExecCreate` / `ContainerExecAttach` /
// `ContainerExecInspect` sequence as a direct interactive docker exec session.
type DockerExec struct {
	base

	cli         *client.Client
	containerID string

	writeMu  sync.Mutex
	stdin    io.WriteCloser
	execID   string
	cancelFn context.CancelFunc
}

const dockerMonitorPoll = 500 * time.Millisecond

// NewDockerFactory returns a Factory that execs into the named container on the given Docker
// client. sandboxName is the container name or id; the sidecar never creates containers, only
// execs into ones that already exist.
func NewDockerFactory(cli *client.Client) Factory {
	return func(sandboxName string) Transport {
		return &DockerExec{base: newBase(), cli: cli, containerID: sandboxName}
	}
}

func (d *DockerExec) Connect(ctx context.Context, command []string, env Env) error {
	execCtx, cancel := context.WithCancel(context.Background())
	d.cancelFn = cancel

	envSlice := make([]string, 0, len(env.Vars))
	for k, v := range env.Vars {
		envSlice = append(envSlice, k+"="+v)
	}

	createResp, err := d.cli.ContainerExecCreate(ctx, d.containerID, containertypes.ExecOptions{
		Cmd:          shellWrap(command),
		Env:          envSlice,
		WorkingDir:   env.WorkingDir,
		User:         env.User,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	})
	if err != nil {
		cancel()
		return &ConnectError{Sandbox: d.containerID, Err: err}
	}
	d.execID = createResp.ID

	attachResp, err := d.cli.ContainerExecAttach(ctx, d.execID, containertypes.ExecAttachOptions{Tty: false})
	if err != nil {
		cancel()
		return &ConnectError{Sandbox: d.containerID, Err: err}
	}

	d.stdin = attachResp.Conn
	d.base.setReady()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, attachResp.Reader)
		if copyErr != nil && copyErr != io.EOF {
			slog.Warn("transport/docker: stdcopy demux ended", "error", copyErr, "container", d.containerID)
		}
	}()

	go func() {
		d.pump(stdoutR, d.stdoutCh)
		close(d.stdoutCh)
	}()
	go func() {
		d.pump(stderrR, d.stderrCh)
		close(d.stderrCh)
	}()
	go d.monitor(execCtx)

	return nil
}

func (d *DockerExec) pump(r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// monitor polls ContainerExecInspect every 500ms until the process is no longer running, then
// records the terminal ExitError. This is the suspension point named in the concurrency model.
func (d *DockerExec) monitor(ctx context.Context) {
	ticker := time.NewTicker(dockerMonitorPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inspect, err := d.cli.ContainerExecInspect(context.Background(), d.execID)
			if err != nil {
				d.markExited(&ExitError{ExitCode: -1, Err: err})
				return
			}
			if !inspect.Running {
				if inspect.ExitCode == 0 {
					d.markExited(nil)
					return
				}
				d.markExited(&ExitError{
					ExitCode: inspect.ExitCode,
					Err:      fmt.Errorf("exec %s exited with code %d", d.execID, inspect.ExitCode),
				})
				return
			}
		}
	}
}

func (d *DockerExec) Send(data []byte) error {
	if !d.IsReady() {
		if err := d.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return ErrNotReady
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.stdin.Write(data)
	return err
}

func (d *DockerExec) CloseStdin() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.stdin == nil {
		return nil
	}
	return d.stdin.Close()
}

func (d *DockerExec) Close() error {
	d.markExited(nil)
	if d.cancelFn != nil {
		d.cancelFn()
	}
	d.writeMu.Lock()
	var err error
	if d.stdin != nil {
		err = d.stdin.Close()
	}
	d.writeMu.Unlock()
	return err
}

// shellWrap launches the agent with `bash -c 'exec <agent-command>'` per §4.1, so the agent
// process replaces the shell and inherits its signal disposition directly.
func shellWrap(command []string) []string {
	return []string{"bash", "-c", "exec " + strings.Join(command, " ")}
}
