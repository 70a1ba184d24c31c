// Package sendengine implements the client-side Send Engine (spec.md §4.5):
// a pending-request table keyed by messageId, a send queue drained on
// reconnect, and a bounded reconnect loop. It is grounded on the teacher's
// client.go (internal/rtmp/client/client.go) — single connection field
// guarded by a mutex, a Close that tears down reader state — reshaped from
// RTMP's one-shot connect/publish/play handshake into CTProto's
// always-on, auto-reconnecting duplex channel.
package sendengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ctproto/ctproto-go/internal/ctprotoerr"
	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/logger"
	"github.com/ctproto/ctproto-go/internal/transport"
)

// ReconnectDelay and ReconnectBudget implement spec.md §4.5 / §5's
// reconnect timer and attempt cap.
const (
	ReconnectDelay  = 5 * time.Second
	ReconnectBudget = 5
)

// ErrReconnectExhausted is returned (and used to reject queued resolvers)
// once the 5-attempt reconnect budget is spent. Spec.md §9 calls rejecting
// these futures an intentional extension over the source's leak.
var ErrReconnectExhausted = errors.New("sendengine: reconnect budget exhausted")

// Dialer opens a fresh transport connection to the configured endpoint.
type Dialer func(ctx context.Context) (transport.Conn, error)

// Config wires the engine to its host application (spec.md §6).
type Config struct {
	Dialer             Dialer
	AuthRequestPayload any
	OnAuth             func(payload json.RawMessage)
	OnMessage          func(env *ctwire.Envelope)
}

// connState tracks OPEN vs. not-OPEN (spec.md §4.5); "not OPEN" covers both
// CONNECTING/CLOSING and the fully CLOSED case that triggers a reconnect.
// terminal (below, on Engine) is a separate flag: true once the reconnect
// budget is spent and the client gives up for good.
type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateOpen
)

type result struct {
	payload json.RawMessage
	err     error
}

type queuedText struct {
	messageID string
	msgType   string
	payload   any
	resultCh  chan result
}

type queuedChunk struct {
	data []byte
}

// Engine is the client-side send/await-reply driver for one logical
// connection (reconnecting transparently underneath).
type Engine struct {
	cfg Config
	log *slog.Logger

	mu                sync.Mutex
	conn              transport.Conn
	state             connState
	terminal          bool
	pending           map[string]chan result
	textQueue         []queuedText
	chunkQueue        []queuedChunk
	reconnectAttempts int
}

// New constructs an engine in the closed state; call Connect to dial.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     logger.Logger(),
		pending: make(map[string]chan result),
		state:   stateClosed,
	}
}

// Connect dials the transport, flushes any queued sends, and starts the
// read loop. On success it automatically primes authorization (spec.md
// §4.5 "Open-connection priming").
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	e.state = stateConnecting
	e.mu.Unlock()

	conn, err := e.cfg.Dialer(ctx)
	if err != nil {
		e.mu.Lock()
		e.state = stateClosed
		e.mu.Unlock()
		e.scheduleReconnect()
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.state = stateOpen
	e.reconnectAttempts = 0
	e.terminal = false
	e.mu.Unlock()

	go e.readLoop(conn)
	e.flushQueues()

	go func() {
		payload, err := e.Send(ctx, ctwire.ReservedTypeAuthorize, e.cfg.AuthRequestPayload)
		if err != nil {
			e.log.Warn("authorize priming failed", "error", err)
			return
		}
		if e.cfg.OnAuth != nil {
			e.cfg.OnAuth(payload)
		}
	}()

	return nil
}

// Send implements the public sendEngine.send(type, payload) contract:
// constructs an envelope with a fresh messageId and returns its eventual
// response payload.
func (e *Engine) Send(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	env, err := ctwire.BuildNew(msgType, payload)
	if err != nil {
		return nil, err
	}
	resultCh := make(chan result, 1)

	e.mu.Lock()
	e.pending[env.MessageID] = resultCh
	open := e.state == stateOpen
	isClosed := e.state == stateClosed
	if open {
		conn := e.conn
		e.mu.Unlock()
		raw, marshalErr := ctwire.Marshal(env)
		if marshalErr != nil {
			e.removePending(env.MessageID)
			return nil, marshalErr
		}
		if sendErr := conn.SendText(raw); sendErr != nil {
			e.removePending(env.MessageID)
			e.handleTransportError(sendErr)
			return nil, sendErr
		}
	} else {
		e.textQueue = append(e.textQueue, queuedText{
			messageID: env.MessageID,
			msgType:   msgType,
			payload:   payload,
			resultCh:  resultCh,
		})
		e.mu.Unlock()
		if isClosed {
			e.scheduleReconnect()
		}
	}

	select {
	case res := <-resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		e.removePending(env.MessageID)
		return nil, ctx.Err()
	}
}

// Register pre-arms a pending resolver for messageID without blocking. A
// reply that arrives before the matching Await call is still captured on
// the buffered channel and handed back once Await is reached. The upload
// driver uses this to register the file's completion resolver before its
// last chunk's ack can possibly return, since the server emits the
// completion response immediately after that ack (spec.md §4.3) and
// readLoop would otherwise find no pending entry for it.
func (e *Engine) Register(messageID string) {
	e.mu.Lock()
	if _, ok := e.pending[messageID]; !ok {
		e.pending[messageID] = make(chan result, 1)
	}
	e.mu.Unlock()
}

// Await blocks until a resolver registered under messageID (by Register or
// by a prior Await call) receives a reply, or ctx is done. It is used by
// callers (the upload driver) that build and send their own binary frames
// out-of-band via PushChunk rather than going through Send.
func (e *Engine) Await(ctx context.Context, messageID string) (json.RawMessage, error) {
	e.mu.Lock()
	resultCh, ok := e.pending[messageID]
	if !ok {
		resultCh = make(chan result, 1)
		e.pending[messageID] = resultCh
	}
	e.mu.Unlock()

	select {
	case res := <-resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		e.removePending(messageID)
		return nil, ctx.Err()
	}
}

// CancelAwait drops a pending resolver registered via Await without
// resolving it, used when a caller gives up waiting outside of a ctx
// deadline (e.g. the upload driver failing a job after its retry budget).
func (e *Engine) CancelAwait(messageID string) {
	e.removePending(messageID)
}

// PushChunk queues a pre-built binary chunk frame for transmission,
// draining it immediately if the connection is open or onto chunkQueue
// otherwise (spec.md §4.6's "queueing while disconnected").
func (e *Engine) PushChunk(frame []byte) error {
	e.mu.Lock()
	if e.state == stateOpen {
		conn := e.conn
		e.mu.Unlock()
		return conn.SendBinary(frame)
	}
	e.chunkQueue = append(e.chunkQueue, queuedChunk{data: frame})
	e.mu.Unlock()
	return nil
}

func (e *Engine) flushQueues() {
	e.mu.Lock()
	texts := e.textQueue
	e.textQueue = nil
	chunks := e.chunkQueue
	e.chunkQueue = nil
	conn := e.conn
	e.mu.Unlock()

	for _, qt := range texts {
		raw, err := ctwire.Marshal(&ctwire.Envelope{MessageID: qt.messageID, Type: qt.msgType, Payload: marshalOrNull(qt.payload)})
		if err != nil {
			e.removePending(qt.messageID)
			continue
		}
		if err := conn.SendText(raw); err != nil {
			e.handleTransportError(err)
			return
		}
	}
	for _, qc := range chunks {
		if err := conn.SendBinary(qc.data); err != nil {
			e.handleTransportError(err)
			return
		}
	}
}

func marshalOrNull(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func (e *Engine) removePending(messageID string) {
	e.mu.Lock()
	delete(e.pending, messageID)
	e.mu.Unlock()
}

// readLoop parses every inbound text frame (requireType=false: an inbound
// ResponseMessage has no type) and dispatches it to a pending resolver, the
// application's onMessage hook, or both.
func (e *Engine) readLoop(conn transport.Conn) {
	for {
		frame, err := conn.Read()
		if err != nil {
			e.handleTransportError(err)
			return
		}
		if frame.Kind != transport.FrameText {
			continue
		}
		env, err := ctwire.ValidateText(frame.Data, false)
		if err != nil {
			if ctprotoerr.IsFormat(err) {
				e.log.Warn("dropping malformed inbound frame", "error", err)
				continue
			}
			e.log.Warn("dropping unparseable inbound frame", "error", err)
			continue
		}

		e.mu.Lock()
		resultCh, ok := e.pending[env.MessageID]
		if ok {
			delete(e.pending, env.MessageID)
		}
		e.mu.Unlock()

		if ok {
			resultCh <- result{payload: env.Payload}
		}
		if env.Type != "" && e.cfg.OnMessage != nil {
			e.cfg.OnMessage(env)
		}
	}
}

// handleTransportError tears down the current connection and schedules a
// reconnect attempt (spec.md §4.5's reconnect loop).
func (e *Engine) handleTransportError(_ error) {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return
	}
	if e.conn != nil {
		_ = e.conn.Close(transport.CloseNormal, "transport error")
	}
	e.conn = nil
	e.state = stateClosed
	e.mu.Unlock()

	e.scheduleReconnect()
}

func (e *Engine) scheduleReconnect() {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return
	}
	if e.reconnectAttempts >= ReconnectBudget {
		e.terminal = true
		e.mu.Unlock()
		e.rejectQueued()
		return
	}
	e.reconnectAttempts++
	e.mu.Unlock()

	time.AfterFunc(ReconnectDelay, func() {
		if err := e.Connect(context.Background()); err != nil {
			e.log.Warn("reconnect attempt failed", "error", err)
		}
	})
}

// rejectQueued fails every resolver left on the text queue once the
// reconnect budget is exhausted (spec.md §9: an intentional extension over
// the source's leak of abandoned futures).
func (e *Engine) rejectQueued() {
	e.mu.Lock()
	texts := e.textQueue
	e.textQueue = nil
	e.mu.Unlock()

	for _, qt := range texts {
		qt.resultCh <- result{err: ErrReconnectExhausted}
	}
}

// Close tears down the connection without attempting to reconnect.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.state = stateClosed
	e.terminal = true
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(transport.CloseNormal, "client closing")
}
