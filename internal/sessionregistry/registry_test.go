package sessionregistry

import (
	"context"
	"testing"
	"time"

	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// fakeTransport is a minimal in-memory Transport stand-in so registry tests never touch Docker
// or Kubernetes: Connect succeeds unless connectFn returns an error, and IsReady stays true
// until Close.
type fakeTransport struct {
	ready     bool
	closed    bool
	stdout    chan string
	stderr    chan string
	done      chan struct{}
	connectFn func() error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{stdout: make(chan string), stderr: make(chan string), done: make(chan struct{})}
}

func (f *fakeTransport) Connect(ctx context.Context, command []string, env transport.Env) error {
	if f.connectFn != nil {
		if err := f.connectFn(); err != nil {
			return err
		}
	}
	f.ready = true
	return nil
}
func (f *fakeTransport) IsReady() bool          { return f.ready && !f.closed }
func (f *fakeTransport) Send(data []byte) error { return nil }
func (f *fakeTransport) Recv() <-chan string    { return f.stdout }
func (f *fakeTransport) Stderr() <-chan string  { return f.stderr }
func (f *fakeTransport) CloseStdin() error      { return nil }
func (f *fakeTransport) Close() error {
	if !f.closed {
		f.closed = true
		close(f.stdout)
		close(f.stderr)
		close(f.done)
	}
	return nil
}
func (f *fakeTransport) Done() <-chan struct{} { return f.done }
func (f *fakeTransport) Err() error            { return nil }

func fakeFactory() (transport.Factory, *fakeTransport) {
	ft := newFakeTransport()
	return func(string) transport.Transport { return ft }, ft
}

func TestGetOrCreateCreatesNewSession(t *testing.T) {
	r := New(nil)
	factory, _ := fakeFactory()

	session, err := r.GetOrCreate(context.Background(), CreateParams{ChatID: "c1", SandboxID: "box1", ConfigFingerprint: "fp1"}, factory)
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if session.ChatID != "c1" || session.SandboxID != "box1" {
		t.Errorf("session = %+v, want ChatID=c1 SandboxID=box1", session)
	}
}

func TestGetOrCreateReusesSession(t *testing.T) {
	r := New(nil)
	factory, _ := fakeFactory()
	params := CreateParams{ChatID: "c1", SandboxID: "box1", ConfigFingerprint: "fp1"}

	first, _ := r.GetOrCreate(context.Background(), params, factory)
	second, _ := r.GetOrCreate(context.Background(), params, factory)
	if first != second {
		t.Error("GetOrCreate should return the same session when nothing changed")
	}
}

func TestGetOrCreateRestartsOnFingerprintChange(t *testing.T) {
	r := New(nil)
	factory, ft := fakeFactory()
	params := CreateParams{ChatID: "c1", SandboxID: "box1", ConfigFingerprint: "fp1"}

	first, _ := r.GetOrCreate(context.Background(), params, factory)

	params2 := params
	params2.ConfigFingerprint = "fp2"
	factory2, _ := fakeFactory()
	second, _ := r.GetOrCreate(context.Background(), params2, factory2)
	if first == second {
		t.Error("GetOrCreate should create a new session when the fingerprint changes")
	}
	if !ft.closed {
		t.Error("old transport should be closed after fingerprint-driven restart")
	}
}

func TestGetOrCreateRestartsWhenTransportNotReady(t *testing.T) {
	r := New(nil)
	factory, ft := fakeFactory()
	params := CreateParams{ChatID: "c1", SandboxID: "box1", ConfigFingerprint: "fp1"}

	first, _ := r.GetOrCreate(context.Background(), params, factory)
	ft.ready = false // simulate the transport having died

	second, _ := r.GetOrCreate(context.Background(), params, factory)
	if first == second {
		t.Error("GetOrCreate should create a new session when the transport is no longer ready")
	}
}

func TestCancelGenerationSignalsActiveTurn(t *testing.T) {
	r := New(nil)
	factory, _ := fakeFactory()
	session, _ := r.GetOrCreate(context.Background(), CreateParams{ChatID: "c1", SandboxID: "box1"}, factory)

	cancelCh, done := session.BeginTurn(func() {})
	defer close(done)

	r.CancelGeneration("c1")

	select {
	case <-cancelCh:
	case <-time.After(time.Second):
		t.Fatal("cancel channel was not closed after CancelGeneration")
	}
}

func TestConsumePendingCancel(t *testing.T) {
	r := New(nil)
	if r.ConsumePendingCancel("never-requested") {
		t.Error("ConsumePendingCancel should be false with no prior cancel")
	}

	r.CancelGeneration("c1") // no session exists yet; should still record pending
	if !r.ConsumePendingCancel("c1") {
		t.Error("ConsumePendingCancel should be true after CancelGeneration, even with no session")
	}
	if r.ConsumePendingCancel("c1") {
		t.Error("ConsumePendingCancel should clear the flag after being consumed once")
	}
}

func TestTerminateClosesSession(t *testing.T) {
	r := New(nil)
	factory, ft := fakeFactory()
	r.GetOrCreate(context.Background(), CreateParams{ChatID: "c1", SandboxID: "box1"}, factory)

	r.Terminate("c1")
	if !ft.closed {
		t.Error("Terminate should close the transport")
	}
	if r.GetSession("c1") != nil {
		t.Error("Terminate should remove the session from the registry")
	}
}

func TestReapIdleSkipsSessionsWithActiveTurn(t *testing.T) {
	r := New(nil)
	factory, ft := fakeFactory()
	session, _ := r.GetOrCreate(context.Background(), CreateParams{ChatID: "c1", SandboxID: "box1"}, factory)

	_, done := session.BeginTurn(func() {})
	defer close(done)

	r.ReapIdle(0) // ttl=0 means "idle at all" would normally match instantly
	if ft.closed {
		t.Error("ReapIdle should not close a session with an active turn")
	}
	if r.GetSession("c1") == nil {
		t.Error("session with active turn should remain in the registry")
	}
}

func TestReapIdleClosesIdleSessions(t *testing.T) {
	r := New(nil)
	factory, ft := fakeFactory()
	r.GetOrCreate(context.Background(), CreateParams{ChatID: "c1", SandboxID: "box1"}, factory)

	r.ReapIdle(0)
	if !ft.closed {
		t.Error("ReapIdle should close an idle session once ttl has elapsed")
	}
}
