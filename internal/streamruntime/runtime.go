// Package streamruntime implements the Stream Runtime (C6): it owns a turn end to end, from
// handing the prompt to the Agent Client through emitting render events to the Live Bus and
// batching them into the Message Store, to deciding the message's terminal stream_status.
package streamruntime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/HyphaGroup/chatsidecar/internal/agentmsg"
	"github.com/HyphaGroup/chatsidecar/internal/audit"
	"github.com/HyphaGroup/chatsidecar/internal/livebus"
	"github.com/HyphaGroup/chatsidecar/internal/metrics"
	"github.com/HyphaGroup/chatsidecar/internal/render"
	"github.com/HyphaGroup/chatsidecar/internal/sessionregistry"
	"github.com/HyphaGroup/chatsidecar/internal/store"
	"github.com/HyphaGroup/chatsidecar/internal/streamproc"
	"github.com/HyphaGroup/chatsidecar/internal/toolhandler"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// snapshotFlushEventCount and snapshotFlushInterval bound how long a turn's render events sit in
// memory before their batch is flushed to the Message Store: whichever threshold is crossed
// first triggers a flush. A forced flush (the turn's terminal event) ignores both and always
// writes, since that write also carries the message's final stream_status.
const (
	snapshotFlushEventCount     = 24
	snapshotFlushIntervalMillis = 200
)

// Stream status values a message's final flush can write. "in_progress" is never written by a
// forced flush; it is only ever the placeholder a message starts with and what intermediate
// (non-forced) flushes report while the turn is still running.
const (
	statusInProgress  = "in_progress"
	statusCompleted   = "completed"
	statusInterrupted = "interrupted"
	statusFailed      = "failed"
)

// Request carries everything one turn needs: the prompt to send, which chat/sandbox it belongs
// to, the message row its events accumulate into, and how to launch the sandbox if the chat's
// session doesn't already have one.
type Request struct {
	ChatID             string
	SandboxID          string
	Prompt             string
	AssistantMessageID string
	ConfigFingerprint  string
	Command            []string
	Env                transport.Env
	Factory            transport.Factory
}

// Runtime is the Stream Runtime. The zero value is not usable; construct with New.
type Runtime struct {
	store    *store.Store
	bus      *livebus.Bus
	sessions *sessionregistry.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// New wires the Stream Runtime to its three collaborators: the Message Store it persists turns
// to, the Live Bus it publishes render events to, and the Session Registry it resolves chat
// sessions through.
func New(st *store.Store, bus *livebus.Bus, sessions *sessionregistry.Registry, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:    st,
		bus:      bus,
		sessions: sessions,
		logger:   logger,
		running:  make(map[string]struct{}),
	}
}

// StartBackgroundChat launches ExecuteChat on its own goroutine and returns immediately; the
// HTTP edge calls this so POST /chat can respond as soon as the placeholder assistant message
// exists, without waiting for the turn itself to finish. Errors ExecuteChat returns are logged
// and otherwise swallowed — by the time a caller could observe them the HTTP response is long
// gone, and the stream's own `error` event is the channel a client actually watches.
func (rt *Runtime) StartBackgroundChat(ctx context.Context, req Request) {
	rt.mu.Lock()
	rt.running[req.ChatID] = struct{}{}
	rt.mu.Unlock()

	go func() {
		defer func() {
			rt.mu.Lock()
			delete(rt.running, req.ChatID)
			rt.mu.Unlock()
		}()
		if err := rt.ExecuteChat(ctx, req); err != nil {
			rt.logger.Error("streamruntime: execute chat failed", "chat_id", req.ChatID, "error", err)
		}
	}()
}

// IsRunning reports whether a background turn is currently in flight for chatID.
func (rt *Runtime) IsRunning(chatID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.running[chatID]
	return ok
}

// ExecuteChat resolves (or creates) the chat's session, then runs one turn to completion under
// the chat's exclusive lock — only one turn per chat id is ever in flight, matching the original
// implementation's single-generation-at-a-time contract.
func (rt *Runtime) ExecuteChat(ctx context.Context, req Request) error {
	rt.sessions.ChatLock(req.ChatID)
	defer rt.sessions.ChatUnlock(req.ChatID)

	session, err := rt.sessions.GetOrCreate(ctx, sessionregistry.CreateParams{
		ChatID:            req.ChatID,
		SandboxID:         req.SandboxID,
		ConfigFingerprint: req.ConfigFingerprint,
		Command:           req.Command,
		Env:               req.Env,
	}, req.Factory)
	if err != nil {
		return rt.failWithoutSession(ctx, req, err)
	}

	cancelCh, done := session.BeginTurn(func() {})
	defer func() {
		session.EndTurn()
		close(done)
	}()

	// A cancellation recorded on the registry before this turn started (e.g. DELETE
	// /stream/{id} racing the very first POST /chat for a chat id, when no session existed to
	// signal) is consumed here, once: the turn ends with a single cancelled event and the prompt
	// is never sent.
	preCancelled := rt.sessions.ConsumePendingCancel(req.ChatID)

	seq, err := rt.store.GetNextSeq(ctx, req.ChatID)
	if err != nil {
		return err
	}
	sc := newStreamContext(req.ChatID, req.AssistantMessageID, seq)

	if preCancelled {
		rt.emitEvent(ctx, sc, render.KindCancelled, render.MustPayload(struct{}{}))
		rt.flushSnapshot(ctx, sc, statusInterrupted, true)
		audit.LogTurnOutcome(sc.sessionID, sc.messageID, statusInterrupted, nil)
		return nil
	}

	rt.run(ctx, sc, session, cancelCh, req.Prompt)
	return nil
}

// failWithoutSession records a turn that never got as far as a connected agent client — the
// session/transport itself could not be created — as a failed message with a single error event,
// since there is no StreamContext/session lifecycle to run a normal turn through.
func (rt *Runtime) failWithoutSession(ctx context.Context, req Request, cause error) error {
	seq, err := rt.store.GetNextSeq(ctx, req.ChatID)
	if err != nil {
		seq = 1
	}
	sc := newStreamContext(req.ChatID, req.AssistantMessageID, seq)
	rt.emitEvent(ctx, sc, render.KindError, render.MustPayload(render.ErrorPayload{
		Message: cause.Error(),
		Type:    "session_error",
	}))
	rt.flushSnapshot(ctx, sc, statusFailed, true)
	audit.LogTurnOutcome(sc.sessionID, sc.messageID, statusFailed, cause)
	return cause
}

// run drives one turn's message loop: send the prompt, process every agent message into render
// events as it arrives, and stop at whichever of three boundaries comes first — a normal result
// message, a cancellation, or the transport dying mid-stream. Exactly one terminal event
// (complete/cancelled/error) is emitted, and the final (forced) flush always follows it.
func (rt *Runtime) run(ctx context.Context, sc *streamContext, session *sessionregistry.ChatSession, cancelCh <-chan struct{}, prompt string) {
	processor := streamproc.New(toolhandler.New(), nil)
	sc.processor = processor

	if err := session.Client.Send(prompt); err != nil {
		rt.emitEvent(ctx, sc, render.KindError, render.MustPayload(render.ErrorPayload{
			Message: err.Error(), Type: "send_error",
		}))
		rt.flushSnapshot(ctx, sc, statusFailed, true)
		return
	}

	var (
		outcome = statusCompleted
		runErr  error
		receive = session.Client.Receive()
		errs    = session.Client.Errors()
	)

loop:
	for {
		select {
		case <-cancelCh:
			outcome = statusInterrupted
			break loop

		case err := <-errs:
			runErr = err
			outcome = statusFailed
			if isClosed(cancelCh) {
				outcome = statusInterrupted
			}
			break loop

		case msg, ok := <-receive:
			if !ok {
				// The transport closed without ever delivering a result message for this turn:
				// the agent process died mid-stream. A pending error on errs (non-blocking, since
				// decodeLoop sends it before closing msgCh) names the cause; its absence still
				// means the connection dropped, so "failed" is the right default either way.
				select {
				case runErr = <-errs:
				default:
				}
				outcome = statusFailed
				if isClosed(cancelCh) {
					outcome = statusInterrupted
				}
				break loop
			}

			for _, ev := range processor.Process(msg) {
				rt.emitEvent(ctx, sc, ev.Kind, ev.Payload)
			}
			if msg.Kind == agentmsg.MessageResult {
				outcome = statusCompleted
				break loop
			}
		}
	}

	switch outcome {
	case statusInterrupted:
		rt.emitEvent(ctx, sc, render.KindCancelled, render.MustPayload(struct{}{}))
	case statusFailed:
		rt.emitEvent(ctx, sc, render.KindError, render.MustPayload(render.ErrorPayload{
			Message: errMessage(runErr), Type: errTypeName(runErr),
		}))
	case statusCompleted:
		rt.emitEvent(ctx, sc, render.KindComplete, render.MustPayload(render.CompletePayload{
			TotalCostUSD: processor.TotalCostUSD, Usage: processor.Usage,
		}))
	}

	rt.flushSnapshot(ctx, sc, outcome, true)
	audit.LogTurnOutcome(sc.sessionID, sc.messageID, outcome, runErr)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func errMessage(err error) string {
	if err == nil {
		return "the agent process ended unexpectedly"
	}
	return err.Error()
}

func errTypeName(err error) string {
	if _, ok := err.(*transport.ExitError); ok {
		return "transport_exited"
	}
	return "transport_error"
}

// emitEvent assigns the next seq, feeds the event into the turn's snapshot accumulator, queues it
// for the next batch flush, and publishes it live — in that order, so a flush or publish failure
// never leaves the in-memory snapshot out of sync with what was queued.
func (rt *Runtime) emitEvent(ctx context.Context, sc *streamContext, kind render.Kind, payload []byte) {
	seq := sc.seq
	sc.seq++
	sc.snapshot.addEvent(kind, payload)
	sc.pendingEvents = append(sc.pendingEvents, pendingEvent{seq: seq, eventType: string(kind), renderPayload: payload})

	envelope := render.Envelope{
		SessionID: sc.sessionID,
		MessageID: sc.messageID,
		StreamID:  sc.streamID,
		Seq:       seq,
		Kind:      kind,
		Payload:   payload,
		TS:        time.Now().UnixMilli(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		rt.logger.Error("streamruntime: marshal envelope", "session_id", sc.sessionID, "error", err)
	} else if err := rt.bus.Publish(ctx, sc.sessionID, data); err != nil {
		rt.logger.Warn("streamruntime: publish failed", "session_id", sc.sessionID, "error", err)
	}

	sc.eventsSinceFlush++
	now := time.Now().UnixMilli()
	if sc.eventsSinceFlush >= snapshotFlushEventCount || now-sc.lastFlushAt >= snapshotFlushIntervalMillis {
		rt.flushSnapshot(ctx, sc, statusInProgress, false)
	}
}

// flushSnapshot writes sc's queued events and current snapshot to the Message Store. A
// non-forced flush is purely a throttled checkpoint and is skipped entirely once there is nothing
// new to write; a forced flush always writes, since it is also what records the message's
// terminal stream_status.
func (rt *Runtime) flushSnapshot(ctx context.Context, sc *streamContext, status string, force bool) {
	if len(sc.pendingEvents) == 0 && !force {
		return
	}

	if len(sc.pendingEvents) > 0 {
		events := make([]store.Event, len(sc.pendingEvents))
		for i, pe := range sc.pendingEvents {
			events[i] = store.Event{
				SessionID:     sc.sessionID,
				MessageID:     sc.messageID,
				StreamID:      sc.streamID,
				Seq:           pe.seq,
				EventType:     pe.eventType,
				RenderPayload: pe.renderPayload,
			}
		}
		if err := rt.store.AppendEventsBatch(ctx, events); err != nil {
			rt.logger.Warn("streamruntime: batch append failed, falling back to per-row", "message_id", sc.messageID, "error", err)
			for _, evt := range events {
				if err := rt.store.AppendEvent(ctx, evt); err != nil {
					rt.logger.Warn("streamruntime: append event failed, dropping", "message_id", sc.messageID, "seq", evt.Seq, "error", err)
					metrics.RecordEventDrop(sc.sessionID)
				}
			}
		}
		sc.pendingEvents = nil
	}

	totalCost := 0.0
	if sc.processor != nil {
		totalCost = sc.processor.TotalCostUSD
	}

	lastSeq := sc.seq - 1
	if lastSeq < 0 {
		lastSeq = 0
	}

	renderDoc, err := sc.snapshot.render()
	if err != nil {
		rt.logger.Error("streamruntime: marshal snapshot", "message_id", sc.messageID, "error", err)
		renderDoc = []byte(`{"events":[]}`)
	}

	if err := rt.store.UpdateMessageSnapshot(ctx, sc.messageID, sc.snapshot.contentText(), renderDoc, lastSeq, status, totalCost); err != nil {
		rt.logger.Error("streamruntime: update message snapshot failed", "message_id", sc.messageID, "error", err)
	}

	sc.lastFlushAt = time.Now().UnixMilli()
	sc.eventsSinceFlush = 0

	if force {
		metrics.RecordTurnEnd(status, time.Since(sc.startedAt).Seconds())
	}
}
