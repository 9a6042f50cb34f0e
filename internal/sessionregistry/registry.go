// Package sessionregistry implements the Session Registry (C5): the in-memory map from chat id
// to a live, reusable sandbox connection, plus the lifecycle that creates, invalidates, cancels,
// and reaps those connections.
package sessionregistry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HyphaGroup/chatsidecar/internal/agentclient"
	"github.com/HyphaGroup/chatsidecar/internal/audit"
	"github.com/HyphaGroup/chatsidecar/internal/metrics"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// TaskCancelTimeout bounds how long Terminate/ReapIdle wait for an in-flight turn to observe
// cancellation before giving up and closing the transport out from under it anyway.
const TaskCancelTimeout = 5 * time.Second

// ReaperInterval is the cadence ReapIdle is expected to be invoked at by the caller's own
// ticker loop (cmd/sidecar wires this); the registry itself does not start a ticker.
const ReaperInterval = 60 * time.Second

// CreateParams supplies everything needed to launch a brand-new ChatSession when GetOrCreate
// decides one doesn't already exist (or the existing one must be replaced).
type CreateParams struct {
	ChatID            string
	SandboxID         string
	ConfigFingerprint string
	Command           []string
	Env               transport.Env
}

// Registry is the Session Registry. The zero value is not usable; construct with New.
type Registry struct {
	mu             sync.Mutex
	sessions       map[string]*ChatSession
	pendingCancels map[string]struct{}
	locks          *chatLockMap
	logger         *slog.Logger
}

// New returns an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:       make(map[string]*ChatSession),
		pendingCancels: make(map[string]struct{}),
		locks:          newChatLockMap(),
		logger:         logger,
	}
}

// GetOrCreate resolves the session for chatID, tearing down and replacing it if the sandbox
// changed, the launch configuration's fingerprint changed, or the existing transport is no
// longer ready. The whole resolve-or-create sequence runs under the registry lock, matching the
// original implementation's choice to serialize session creation globally rather than just per
// chat — a concurrent GetOrCreate for an unrelated chat id will wait out a slow connect.
func (r *Registry) GetOrCreate(ctx context.Context, params CreateParams, factory transport.Factory) (*ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.sessions[params.ChatID]
	if session != nil {
		needsRestart := session.SandboxID != params.SandboxID ||
			session.ConfigFingerprint != params.ConfigFingerprint ||
			!session.Transport.IsReady()
		if needsRestart {
			r.closeSession(session)
			delete(r.sessions, params.ChatID)
			session = nil
		}
	}

	if session == nil {
		var err error
		session, err = r.createSession(ctx, params, factory)
		if err != nil {
			return nil, err
		}
		r.sessions[params.ChatID] = session
	}

	session.touch()
	return session, nil
}

func (r *Registry) createSession(ctx context.Context, params CreateParams, factory transport.Factory) (*ChatSession, error) {
	t := factory(params.SandboxID)
	client := agentclient.New(t, r.logger)

	if err := client.Connect(ctx, params.Command, params.Env); err != nil {
		_ = client.Disconnect()
		audit.Log(&audit.Event{
			Operation: audit.OpSessionCreate,
			SessionID: params.ChatID,
			SandboxID: params.SandboxID,
			Success:   false,
			Error:     err.Error(),
		})
		return nil, err
	}

	metrics.ActiveSessions.Inc()
	audit.Log(&audit.Event{
		Operation: audit.OpSessionCreate,
		SessionID: params.ChatID,
		SandboxID: params.SandboxID,
		Success:   true,
	})
	return newChatSession(params.ChatID, params.SandboxID, t, client, params.ConfigFingerprint), nil
}

// GetSession returns the session for chatID if one exists, without creating one.
func (r *Registry) GetSession(chatID string) *ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[chatID]
}

// ChatLock/ChatUnlock serialize concurrent turns against the same chat id; the stream runtime
// holds this for the full duration of ExecuteChat.
func (r *Registry) ChatLock(chatID string)   { r.locks.Lock(chatID) }
func (r *Registry) ChatUnlock(chatID string) { r.locks.Unlock(chatID) }

// CancelGeneration marks chatID's next (or current) turn for cancellation. If a turn is
// in flight, its cancellation channel is closed immediately and the agent client is asked to
// interrupt; interrupt failures are logged and otherwise swallowed, since the cooperative
// cancel-channel path is always a sufficient fallback per §4.4.
func (r *Registry) CancelGeneration(chatID string) {
	r.mu.Lock()
	r.pendingCancels[chatID] = struct{}{}
	session := r.sessions[chatID]
	r.mu.Unlock()

	if session == nil {
		return
	}
	session.requestCancel()
	if err := session.Client.Interrupt(); err != nil {
		r.logger.Debug("sessionregistry: interrupt failed", "chat_id", chatID, "error", err)
	}
}

// ConsumePendingCancel reports whether chatID had a cancellation requested since the last call,
// clearing the flag as a side effect. ExecuteChat calls this once at the very start of a turn so
// a cancel requested between turns (when no session existed to signal) still takes effect on the
// turn it arrives just before, rather than being silently dropped.
func (r *Registry) ConsumePendingCancel(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingCancels[chatID]; ok {
		delete(r.pendingCancels, chatID)
		return true
	}
	return false
}

// Terminate removes and closes the session for chatID, if any.
func (r *Registry) Terminate(chatID string) {
	r.mu.Lock()
	session := r.sessions[chatID]
	delete(r.sessions, chatID)
	r.mu.Unlock()

	if session != nil {
		r.closeSession(session)
		r.locks.Delete(chatID)
	}
}

// TerminateAll closes every live session, used during graceful shutdown.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	sessions := make([]*ChatSession, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		r.locks.Delete(id)
	}
	r.sessions = make(map[string]*ChatSession)
	r.mu.Unlock()

	for _, session := range sessions {
		r.closeSession(session)
	}
}

// ReapIdle closes and removes every session with no active turn that has been idle at least
// ttl. Intended to be called periodically (every ReaperInterval) by the caller's own ticker.
func (r *Registry) ReapIdle(ttl time.Duration) {
	now := time.Now()

	r.mu.Lock()
	var expired []*ChatSession
	for chatID, session := range r.sessions {
		if session.hasActiveTurn() {
			continue
		}
		if session.idleSince(now) >= ttl {
			expired = append(expired, session)
			delete(r.sessions, chatID)
			r.locks.Delete(chatID)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		r.closeSession(session)
	}
	if len(expired) > 0 {
		r.logger.Info("sessionregistry: reaped idle chat sessions", "count", len(expired))
	}
}

// closeSession cancels any in-flight turn (waiting up to TaskCancelTimeout for it to notice),
// then disconnects the agent client, then closes the transport — each step swallows its own
// error and logs at debug level, since a close path must never itself fail.
func (r *Registry) closeSession(session *ChatSession) {
	metrics.ActiveSessions.Dec()
	audit.Log(&audit.Event{
		Operation: audit.OpSessionTerminate,
		SessionID: session.ChatID,
		SandboxID: session.SandboxID,
		Success:   true,
	})
	session.requestCancel()
	if !session.waitForTurn(TaskCancelTimeout) {
		r.logger.Debug("sessionregistry: timed out waiting for turn cancellation", "chat_id", session.ChatID)
	}

	if err := session.Client.Disconnect(); err != nil {
		r.logger.Debug("sessionregistry: error disconnecting client", "chat_id", session.ChatID, "error", err)
	}
	if err := session.Transport.Close(); err != nil {
		r.logger.Debug("sessionregistry: error closing transport", "chat_id", session.ChatID, "error", err)
	}
}
