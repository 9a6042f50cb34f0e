// Package agentclient implements the Agent Client (C2): it wraps a Sandbox Transport and
// exposes the narrow contract the rest of the system depends on — Send, Receive, Interrupt,
// Connect/Disconnect — translating the agent CLI's line-delimited JSON protocol into the
// agentmsg tagged union. The spec treats this component as an external SDK specified only at
// its interface; this package is the concrete stand-in, grounded on the same
// reader-goroutine/channel/context-cancel idiom the teacher's streaming JSON-RPC executor uses.
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/HyphaGroup/chatsidecar/internal/agentmsg"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// Client is the concrete Agent Client. One Client is constructed per ChatSession and lives for
// as long as the session is reused.
type Client struct {
	t       transport.Transport
	msgCh   chan agentmsg.Message
	errCh   chan error
	closed  atomic.Bool
	reqSeq  atomic.Int64
	logger  *slog.Logger
	running atomic.Bool
}

// New wraps an already-constructed (but not yet connected) Transport.
func New(t transport.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		t:      t,
		msgCh:  make(chan agentmsg.Message, 64),
		errCh:  make(chan error, 1),
		logger: logger,
	}
}

// Connect launches the agent process over the transport and starts the line-decoding goroutine.
func (c *Client) Connect(ctx context.Context, command []string, env transport.Env) error {
	if err := c.t.Connect(ctx, command, env); err != nil {
		return err
	}
	c.running.Store(true)
	go c.decodeLoop()
	return nil
}

// Send delivers one user prompt to the agent. Only one turn is ever in flight per session,
// enforced by the ChatSession's lock upstream, so no request framing/ids are needed here beyond
// what the wire protocol itself requires.
func (c *Client) Send(prompt string) error {
	frame := wireMessage{Type: "user", Text: prompt}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("agentclient: marshal prompt: %w", err)
	}
	data = append(data, '\n')
	return c.t.Send(data)
}

// Interrupt requests cooperative cancellation of the current turn. Errors are intentionally
// swallowed by callers (per §4.4's CancelGeneration contract); this method still returns them so
// the registry can log.
func (c *Client) Interrupt() error {
	frame := wireMessage{Type: "control", Subtype: "interrupt"}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("agentclient: marshal interrupt: %w", err)
	}
	data = append(data, '\n')
	return c.t.Send(data)
}

// Receive returns the channel of decoded agent messages. Closed once the underlying transport's
// stdout channel closes.
func (c *Client) Receive() <-chan agentmsg.Message { return c.msgCh }

// Errors returns the channel of terminal decode/transport errors (at most one value is ever
// sent, then the channel is left open but silent — callers select on it alongside Receive).
func (c *Client) Errors() <-chan error { return c.errCh }

// Disconnect tears down the transport. Idempotent.
func (c *Client) Disconnect() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.t.Close()
}

// IsReady reports whether the underlying transport is connected and live, used by the Session
// Registry's GetOrCreate reuse check.
func (c *Client) IsReady() bool { return c.t.IsReady() }

// wireMessage is the line-delimited JSON frame shape exchanged with the agent CLI over stdio.
// Inbound frames use the richer shape decoded in decode.go; this outbound shape is deliberately
// minimal since the agent CLI only needs a prompt or a control signal from the sidecar.
type wireMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (c *Client) decodeLoop() {
	defer close(c.msgCh)
	for line := range c.t.Recv() {
		msg, err := decodeLine(line)
		if err != nil {
			c.logger.Warn("agentclient: skipping malformed line", "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		c.msgCh <- *msg
	}
	c.running.Store(false)
	if err := c.t.Err(); err != nil {
		select {
		case c.errCh <- err:
		default:
		}
	}
}
