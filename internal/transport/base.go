package transport

import "sync"

// base holds the state shared by both concrete backends: readiness, the terminal exit error,
// and the done signal the monitor goroutine raises. Embedding base keeps the channel-selection
// framing logic (Docker's stdcopy tags, the pod-exec 1-byte prefix) isolated to each backend so
// a third backend can be added without touching this bookkeeping.
type base struct {
	mu      sync.RWMutex
	ready   bool
	exitErr error
	done    chan struct{}
	doneOne sync.Once

	stdoutCh chan string
	stderrCh chan string
}

func newBase() base {
	return base{
		done:     make(chan struct{}),
		stdoutCh: make(chan string, 256),
		stderrCh: make(chan string, 64),
	}
}

func (b *base) setReady() {
	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()
}

func (b *base) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.exitErr == nil
}

// markExited records the terminal error and closes Done exactly once. Safe to call from the
// monitor goroutine and from Close concurrently.
func (b *base) markExited(err error) {
	b.mu.Lock()
	if b.exitErr == nil {
		b.exitErr = err
	}
	b.ready = false
	b.mu.Unlock()
	b.doneOne.Do(func() { close(b.done) })
}

func (b *base) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exitErr
}

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Recv() <-chan string   { return b.stdoutCh }
func (b *base) Stderr() <-chan string { return b.stderrCh }
