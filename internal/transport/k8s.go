package transport

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
)

// Pod-exec websocket channel prefixes, per the Kubernetes exec subprotocol
// (`v4.channel.k8s.io`): the first byte of every frame selects the logical stream.
const (
	channelStdin  byte = 0
	channelStdout byte = 1
	channelStderr byte = 2
	channelError  byte = 3
)

// PodExec is the pod-exec backend: it execs via the pod `exec` subresource upgraded to a
// websocket, and demultiplexes stdin/stdout/stderr/error by the leading channel-prefix byte of
// each frame rather than Docker's stream-copy framing. It cannot half-close stdin, so
// CloseStdin sends an empty stdin frame instead.
type PodExec struct {
	base

	clientset *kubernetes.Clientset
	restCfg   *rest.Config
	namespace string
	pod       string

	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// NewPodFactory returns a Factory that execs into the named pod in namespace, using cfg (built
// from in-cluster config or a kubeconfig by the caller) for authentication/transport.
func NewPodFactory(cfg *rest.Config, clientset *kubernetes.Clientset, namespace string) Factory {
	return func(sandboxName string) Transport {
		return &PodExec{base: newBase(), clientset: clientset, restCfg: cfg, namespace: namespace, pod: sandboxName}
	}
}

func (p *PodExec) Connect(ctx context.Context, command []string, env Env) error {
	execCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	req := p.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(p.namespace).
		Name(p.pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: []string{"sh", "-c", p.commandFor(command, env)},
			Stdin:   true,
			Stdout:  true,
			Stderr:  true,
			TTY:     false,
		}, scheme.ParameterCodec)

	wsURL, err := wsURLFrom(req.URL())
	if err != nil {
		cancel()
		return &ConnectError{Sandbox: p.pod, Err: err}
	}

	httpClient, err := rest.HTTPClientFor(p.restCfg)
	if err != nil {
		cancel()
		return &ConnectError{Sandbox: p.pod, Err: err}
	}

	conn, _, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{"v4.channel.k8s.io"},
	})
	if err != nil {
		cancel()
		return &ConnectError{Sandbox: p.pod, Err: err}
	}
	p.conn = conn
	p.base.setReady()

	go p.readLoop(execCtx)
	go p.monitor(execCtx)

	return nil
}

// commandFor builds the shell wrapper pod-exec needs because the exec subresource does not
// honor `user` or working directory cleanly: export every env var (single-quoted, with `'` ->
// `'\''`), cd into the working directory, then exec the agent command.
func (p *PodExec) commandFor(command []string, env Env) string {
	var b strings.Builder
	for k, v := range env.Vars {
		fmt.Fprintf(&b, "export %s=%s; ", k, shQuote(v))
	}
	if env.WorkingDir != "" {
		fmt.Fprintf(&b, "cd %s; ", shQuote(env.WorkingDir))
	}
	b.WriteString("exec ")
	b.WriteString(strings.Join(command, " "))
	return b.String()
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (p *PodExec) readLoop(ctx context.Context) {
	defer close(p.stdoutCh)
	defer close(p.stderrCh)
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			p.markExited(&ExitError{ExitCode: -1, Err: err})
			return
		}
		if len(data) == 0 {
			continue
		}
		channel, payload := data[0], data[1:]
		switch channel {
		case channelStdout:
			scanLines(payload, p.stdoutCh)
		case channelStderr:
			scanLines(payload, p.stderrCh)
		case channelError:
			p.markExited(parseExecStatus(payload))
			return
		}
	}
}

func scanLines(data []byte, out chan<- string) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// monitor awaits reader termination; pod-exec has no separate liveness poll, it learns of exit
// purely from the error channel or the websocket closing, per §4.1.
func (p *PodExec) monitor(ctx context.Context) {
	<-p.Done()
	_ = ctx
}

func (p *PodExec) Send(data []byte) error {
	if !p.IsReady() {
		if err := p.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return ErrNotReady
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	frame := append([]byte{channelStdin}, data...)
	return p.conn.Write(context.Background(), websocket.MessageBinary, frame)
}

// CloseStdin is a no-op equivalent on pod-exec: it sends an empty stdin frame rather than
// actually half-closing the channel, since the exec subresource cannot half-close.
func (p *PodExec) CloseStdin() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(context.Background(), websocket.MessageBinary, []byte{channelStdin})
}

func (p *PodExec) Close() error {
	p.markExited(nil)
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn == nil {
		return nil
	}
	return p.conn.Close(websocket.StatusNormalClosure, "transport closed")
}

func wsURLFrom(u *url.URL) (*url.URL, error) {
	out := *u
	switch out.Scheme {
	case "https":
		out.Scheme = "wss"
	case "http":
		out.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported scheme %q for pod exec websocket", out.Scheme)
	}
	return &out, nil
}

// parseExecStatus decodes the final status document carried on the error channel. A non-zero
// exit status is surfaced as an ExitError; an empty/"Success" status means clean exit.
func parseExecStatus(payload []byte) error {
	status := strings.TrimSpace(string(payload))
	if status == "" || strings.Contains(status, `"status":"Success"`) {
		return nil
	}
	slog.Debug("transport/k8s: exec error channel status", "status", status)
	return &ExitError{ExitCode: -1, Err: fmt.Errorf("pod exec status: %s", status)}
}
