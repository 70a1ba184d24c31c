// Package connserver implements the server-side Connection State Machine
// (spec.md §4.4): per-connection auth-wait timer, first-message gate,
// dispatch of text vs. binary frames, response routing, and close-code
// discipline. It is grounded on the teacher's connection lifecycle wrapper
// (internal/rtmp/conn/conn.go) — context-scoped goroutine, per-connection id,
// structured per-connection logger — reshaped from RTMP's
// handshake-then-chunk-loop into CTProto's auth-wait/authorized state
// machine with no handshake phase (delegated entirely to the transport).
package connserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ctproto/ctproto-go/internal/ctprotoerr"
	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/logger"
	"github.com/ctproto/ctproto-go/internal/reassembler"
	"github.com/ctproto/ctproto-go/internal/registry"
	"github.com/ctproto/ctproto-go/internal/transport"
)

// AuthWaitTimeout is how long a new connection has to send "authorize"
// before it is closed with 1013 (spec.md §4.4, §5).
const AuthWaitTimeout = 3000 * time.Millisecond

// State is the connection's position in AUTH_WAIT → AUTHORIZED → CLOSED.
type State int

const (
	StateAuthWait State = iota
	StateAuthorized
	StateClosed
)

// Handlers are the application hooks supplied by the host (spec.md §6).
type Handlers struct {
	OnAuth          func(ctx context.Context, payload json.RawMessage) (any, error)
	OnMessage       func(ctx context.Context, env *ctwire.Envelope) (any, error)
	OnUploadMessage reassembler.Handler

	// OnClose, if set, fires once for every connection that closes (peer
	// close, transport error, policy close, or auth-wait timeout), whether
	// or not it was ever added to the registry.
	OnClose func(connID string)
	// OnUploadTimeout, if set, fires when a reassembly slot's 15s idle
	// timer expires before the file completes.
	OnUploadTimeout func(fileID string)
}

// nextID mints an internal, non-wire-format connection id. It never appears
// on the wire (messageId/fileId use internal/idgen's shorter alphabet); it
// only labels log lines and the registry's Client record.
func nextID() string { return uuid.NewString() }

// Conn drives one accepted connection through its state machine. Run blocks
// until the connection closes.
type Conn struct {
	id   string
	conn transport.Conn
	reg  *registry.Registry
	h    Handlers
	log  *slog.Logger

	reassembler *reassembler.Reassembler

	state     State
	authTimer *time.Timer
}

// readResult carries one Read() outcome across to the single-threaded Run
// loop, so timer firing and inbound frames are never handled concurrently
// (spec.md §5: each connection is single-logical-thread cooperative).
type readResult struct {
	frame transport.Frame
	err   error
}

// New wires a freshly-accepted transport connection to the state machine.
func New(tc transport.Conn, reg *registry.Registry, h Handlers) *Conn {
	id := nextID()
	c := &Conn{
		id:    id,
		conn:  tc,
		reg:   reg,
		h:     h,
		log:   logger.WithConn(logger.Logger(), id, tc.RemoteAddr()),
		state: StateAuthWait,
	}
	c.reassembler = reassembler.New(h.OnUploadMessage)
	if h.OnUploadTimeout != nil {
		c.reassembler.OnTimeout(h.OnUploadTimeout)
	}
	return c
}

// Run arms the auth-wait timer and services inbound frames until the
// connection closes, either by the peer, by a fatal protocol error, or by
// ctx cancellation. The blocking conn.Read() call runs on its own goroutine
// so the select below can race it against the auth timer and ctx.Done()
// without either side touching connection state concurrently.
func (c *Conn) Run(ctx context.Context) {
	c.authTimer = time.NewTimer(AuthWaitTimeout)
	defer c.cleanup()

	// Buffered by one so the reader goroutine can deliver its final result
	// (or unblock after Close) and exit even if Run has already returned.
	reads := make(chan readResult, 1)
	go func() {
		for {
			frame, err := c.conn.Read()
			reads <- readResult{frame, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.closeAndRemove(transport.CloseNormal, "server shutting down")
			return

		case <-c.authTimer.C:
			c.log.Warn("auth wait timer fired")
			c.closeAndRemove(transport.CloseTryAgainLater, "Authorization required")
			return

		case res := <-reads:
			if res.err != nil {
				c.log.Debug("connection read ended", "error", res.err)
				c.markClosedAndRemove()
				return
			}

			c.stopAuthTimer()

			switch c.state {
			case StateAuthWait:
				c.handleAuthWait(ctx, res.frame)
			case StateAuthorized:
				c.handleAuthorized(ctx, res.frame)
			}

			if c.state == StateClosed {
				return
			}
		}
	}
}

func (c *Conn) stopAuthTimer() {
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
}

func (c *Conn) handleAuthWait(ctx context.Context, frame transport.Frame) {
	if frame.Kind == transport.FrameBinary {
		c.closeAndRemove(transport.CloseUnsupportedData, "Unsupported Data")
		return
	}

	env, err := ctwire.ValidateText(frame.Data, true)
	if err != nil {
		if ctprotoerr.IsParse(err) {
			c.closeAndRemove(transport.CloseUnsupportedData, "Unsupported Data")
			return
		}
		c.sendFormatError(err)
		return
	}

	if env.Type != ctwire.ReservedTypeAuthorize {
		c.closeAndRemove(transport.ClosePolicyViolation, "Unauthorized")
		return
	}

	authData, err := c.h.OnAuth(ctx, env.Payload)
	if err != nil {
		c.closeAndRemove(transport.ClosePolicyViolation, "Authorization failed: "+err.Error())
		return
	}

	client := &registry.Client{ID: c.id, Conn: c.conn, AuthData: authData}
	c.reg.Add(client)

	if err := c.respond(env.MessageID, authData); err != nil {
		c.log.Warn("failed to send authorize response", "error", err)
	}
	c.state = StateAuthorized
	c.log.Info("client authorized")
}

func (c *Conn) handleAuthorized(ctx context.Context, frame transport.Frame) {
	if frame.Kind == transport.FrameBinary {
		chunkFrame, err := ctwire.ValidateBinary(frame.Data)
		if err != nil {
			if ctprotoerr.IsParse(err) {
				c.closeAndRemove(transport.CloseUnsupportedData, "Unsupported Data")
				return
			}
			c.sendFormatError(err)
			return
		}
		if err := c.reassembler.HandleFrame(chunkFrame, c.respond); err != nil {
			c.log.Error("upload handler failed", "error", err, "file_id", chunkFrame.FileID)
		}
		return
	}

	env, err := ctwire.ValidateText(frame.Data, true)
	if err != nil {
		if ctprotoerr.IsParse(err) {
			c.closeAndRemove(transport.CloseUnsupportedData, "Unsupported Data")
			return
		}
		c.sendFormatError(err)
		return
	}

	if env.Type == ctwire.ReservedTypeAuthorize {
		return // duplicate authorize is silently ignored
	}

	result, err := c.h.OnMessage(ctx, env)
	if err != nil {
		c.log.Error("onMessage failed", "error", err, "message_id", env.MessageID)
		return
	}
	if result == nil {
		return
	}
	if err := c.respond(env.MessageID, result); err != nil {
		c.log.Warn("failed to send response", "error", err)
	}
}

// sendFormatError emits the reserved `error` NewMessage for a non-critical
// format failure, prefixed per spec.md §8 scenario S4.
func (c *Conn) sendFormatError(err error) {
	fe, ok := err.(*ctprotoerr.FormatError)
	msg := err.Error()
	if ok {
		msg = fe.Msg
	}
	env, buildErr := ctwire.BuildError("Message Format Error: " + msg)
	if buildErr != nil {
		c.log.Error("failed to build error envelope", "error", buildErr)
		return
	}
	raw, marshalErr := ctwire.Marshal(env)
	if marshalErr != nil {
		c.log.Error("failed to marshal error envelope", "error", marshalErr)
		return
	}
	if sendErr := c.conn.SendText(raw); sendErr != nil {
		c.log.Warn("failed to send format error", "error", sendErr)
	}
}

func (c *Conn) respond(messageID string, payload any) error {
	env, err := ctwire.BuildResponse(messageID, payload)
	if err != nil {
		return err
	}
	raw, err := ctwire.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.SendText(raw)
}

func (c *Conn) closeAndRemove(code int, reason string) {
	c.state = StateClosed
	_ = c.conn.Close(code, reason)
	c.reg.Find(registry.ByID(c.id)).Remove(code, reason)
	c.notifyClose()
}

func (c *Conn) markClosedAndRemove() {
	c.state = StateClosed
	c.reg.Find(registry.ByID(c.id)).Remove(transport.CloseNormal, "connection lost")
	c.notifyClose()
}

func (c *Conn) notifyClose() {
	if c.h.OnClose != nil {
		c.h.OnClose(c.id)
	}
}

func (c *Conn) cleanup() {
	c.stopAuthTimer()
	c.reassembler.Close()
}
