package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/HyphaGroup/chatsidecar/internal/agentlaunch"
	"github.com/HyphaGroup/chatsidecar/internal/sessionregistry"
	"github.com/HyphaGroup/chatsidecar/internal/streamruntime"
)

type chatRequestBody struct {
	Prompt string `json:"prompt"`
}

type chatResponseBody struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
}

// handleChat persists the user turn and a placeholder assistant message, then hands the turn off
// to the Stream Runtime as a background task so the response can return immediately — mirroring
// initiate_chat_completion's create-then-detach shape.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "X-Session-ID header is required")
		return
	}
	sandboxName := r.Header.Get("X-Sandbox-Name")
	if sandboxName == "" {
		// The original source always passed whatever sandbox_name it was given, including the
		// empty string, down to a transport layer not in scope here. A sandbox execs into an
		// already-running container/pod, so falling back to the session id gives callers that
		// name their sandbox after the session a header they can simply omit.
		sandboxName = sessionID
	}

	ctx, log := withSessionLogger(r.Context(), sessionID)

	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if _, err := s.store.CreateMessage(ctx, sessionID, body.Prompt, "user"); err != nil {
		log.Error("httpapi: create user message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	assistantMessageID, err := s.store.CreateMessage(ctx, sessionID, "", "assistant")
	if err != nil {
		log.Error("httpapi: create assistant message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	continuing, err := s.store.HasPriorAssistant(ctx, sessionID)
	if err != nil {
		log.Warn("httpapi: has prior assistant check failed, assuming new conversation", "error", err)
		continuing = false
	}

	command := agentlaunch.Command(s.cfg, agentlaunch.Options{ContinueConversation: continuing})
	env := agentlaunch.Env(s.cfg)
	// Fingerprinted against the stable launch config only — never against ContinueConversation,
	// which flips on every turn after the first and would otherwise make GetOrCreate tear down
	// and relaunch the agent process on every turn instead of reusing it.
	stableCommand := agentlaunch.Command(s.cfg, agentlaunch.Options{})
	fingerprint := sessionregistry.Fingerprint(sessionregistry.FingerprintInputs{
		SystemPrompt: strings.Join(stableCommand, "\x1f"),
		Env:          env.Vars,
	})

	// Detached from the request context: the turn outlives the HTTP response that kicked it off.
	s.runtime.StartBackgroundChat(context.Background(), streamruntime.Request{
		ChatID:             sessionID,
		SandboxID:          sandboxName,
		Prompt:             body.Prompt,
		AssistantMessageID: assistantMessageID,
		ConfigFingerprint:  fingerprint,
		Command:            command,
		Env:                env,
		Factory:            s.factory,
	})

	writeJSON(w, http.StatusOK, chatResponseBody{MessageID: assistantMessageID, SessionID: sessionID})
}
