package sessionregistry

import (
	"sync"
	"time"

	"github.com/HyphaGroup/chatsidecar/internal/agentclient"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// ChatSession is the live, in-memory handle for one chat's reusable sandbox connection: the
// transport and agent client stay connected across turns so the agent process keeps its own
// conversational context, and are only torn down when the chat goes idle, its configuration
// changes, or the sandbox itself disappears.
type ChatSession struct {
	ChatID            string
	SandboxID         string
	Transport         transport.Transport
	Client            *agentclient.Client
	ConfigFingerprint string

	mu         sync.Mutex
	lastUsedAt time.Time

	turnCancel func()
	turnDone   chan struct{}

	cancelRequested bool
	cancelCh        chan struct{}
}

func newChatSession(chatID, sandboxID string, t transport.Transport, c *agentclient.Client, fingerprint string) *ChatSession {
	return &ChatSession{
		ChatID:            chatID,
		SandboxID:         sandboxID,
		Transport:         t,
		Client:            c,
		ConfigFingerprint: fingerprint,
		lastUsedAt:        time.Now(),
		cancelCh:          make(chan struct{}),
	}
}

func (s *ChatSession) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *ChatSession) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsedAt)
}

// BeginTurn records the cancel func for the turn about to run and returns a fresh cancellation
// channel for this turn. Call EndTurn when the turn's goroutine returns, whatever the outcome.
func (s *ChatSession) BeginTurn(cancel func()) (cancelCh <-chan struct{}, done chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCancel = cancel
	s.turnDone = make(chan struct{})
	s.cancelCh = make(chan struct{})
	s.cancelRequested = false
	return s.cancelCh, s.turnDone
}

// EndTurn clears the active-turn bookkeeping once a turn's goroutine has finished.
func (s *ChatSession) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCancel = nil
	s.turnDone = nil
}

// hasActiveTurn reports whether a generation task is currently running, used by ReapIdle to
// never reap a chat session mid-turn regardless of how long the turn itself takes.
func (s *ChatSession) hasActiveTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnDone != nil
}

// waitForTurn blocks until the active turn's done channel closes, or timeout elapses, returning
// false on timeout. A nil done channel (no active turn) returns true immediately.
func (s *ChatSession) waitForTurn(timeout time.Duration) bool {
	s.mu.Lock()
	done := s.turnDone
	s.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// requestCancel signals the active turn's cancellation channel, exactly once per turn.
func (s *ChatSession) requestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRequested {
		return
	}
	s.cancelRequested = true
	close(s.cancelCh)
	if s.turnCancel != nil {
		s.turnCancel()
	}
}

// CancelChan returns the channel that closes when CancelGeneration has been called for the turn
// currently in flight. The stream runtime selects on this alongside the agent client's Receive
// channel.
func (s *ChatSession) CancelChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCh
}
