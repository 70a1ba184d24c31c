package connserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/idgen"
	"github.com/ctproto/ctproto-go/internal/registry"
	"github.com/ctproto/ctproto-go/internal/transport"
)

// fakeConn is a scriptable transport.Conn: Read replays a queue of inbound
// frames then blocks until closed, and every outbound write is recorded.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan transport.Frame
	sent    [][]byte
	closed  bool
	code    int
	reason  string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan transport.Frame, 16)}
}

func (f *fakeConn) push(frame transport.Frame) { f.inbound <- frame }

func (f *fakeConn) Read() (transport.Frame, error) {
	frame, ok := <-f.inbound
	if !ok {
		return transport.Frame{}, io.EOF
	}
	return frame, nil
}

func (f *fakeConn) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeConn) SendBinary(data []byte) error { return nil }

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.code = code
	f.reason = reason
	close(f.inbound)
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake-remote" }

func (f *fakeConn) snapshot() (closed bool, code int, reason string, sent [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code, f.reason, append([][]byte{}, f.sent...)
}

func textFrame(t *testing.T, messageID, msgType string, payload any) transport.Frame {
	t.Helper()
	env := &ctwire.Envelope{MessageID: messageID, Type: msgType}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env.Payload = raw
	data, err := ctwire.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return transport.Frame{Kind: transport.FrameText, Data: data}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func runConn(t *testing.T, fc *fakeConn, h Handlers) (*registry.Registry, context.CancelFunc) {
	t.Helper()
	reg := registry.New()
	c := New(fc, reg, h)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return reg, cancel
}

func TestHappyAuth(t *testing.T) {
	fc := newFakeConn()
	h := Handlers{
		OnAuth: func(ctx context.Context, payload json.RawMessage) (any, error) {
			return map[string]string{"userId": "u1"}, nil
		},
	}
	reg, cancel := runConn(t, fc, h)
	defer cancel()

	mid := idgen.WireID()
	fc.push(textFrame(t, mid, "authorize", map[string]string{"token": "T"}))

	waitUntil(t, time.Second, func() bool {
		_, _, _, sent := fc.snapshot()
		return len(sent) == 1
	})

	_, _, _, sent := fc.snapshot()
	var env ctwire.Envelope
	if err := json.Unmarshal(sent[0], &env); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if env.MessageID != mid {
		t.Fatalf("expected response keyed by %q, got %q", mid, env.MessageID)
	}

	waitUntil(t, time.Second, func() bool { return reg.Find(registry.All()).Exists() })
}

func TestAuthTimeout(t *testing.T) {
	fc := newFakeConn()
	_, cancel := runConn(t, fc, Handlers{})
	defer cancel()

	waitUntil(t, AuthWaitTimeout+time.Second, func() bool {
		closed, _, _, _ := fc.snapshot()
		return closed
	})
	_, code, reason, _ := fc.snapshot()
	if code != transport.CloseTryAgainLater {
		t.Fatalf("expected close code %d, got %d", transport.CloseTryAgainLater, code)
	}
	if reason != "Authorization required" {
		t.Fatalf("unexpected reason: %q", reason)
	}
}

func TestWrongFirstMessageClosesPolicyViolation(t *testing.T) {
	fc := newFakeConn()
	_, cancel := runConn(t, fc, Handlers{})
	defer cancel()

	fc.push(textFrame(t, "0123456789", "ping", map[string]any{}))

	waitUntil(t, time.Second, func() bool {
		closed, _, _, _ := fc.snapshot()
		return closed
	})
	_, code, reason, _ := fc.snapshot()
	if code != transport.ClosePolicyViolation || reason != "Unauthorized" {
		t.Fatalf("unexpected close: %d %q", code, reason)
	}
}

func TestFormatErrorResponseDoesNotClose(t *testing.T) {
	fc := newFakeConn()
	h := Handlers{
		OnAuth: func(ctx context.Context, payload json.RawMessage) (any, error) { return nil, nil },
	}
	_, cancel := runConn(t, fc, h)
	defer cancel()

	fc.push(transport.Frame{Kind: transport.FrameText, Data: []byte(`{"foo":"bar"}`)})

	waitUntil(t, time.Second, func() bool {
		_, _, _, sent := fc.snapshot()
		return len(sent) == 1
	})

	closed, _, _, sent := fc.snapshot()
	if closed {
		t.Fatal("format error must not close the connection")
	}
	var env ctwire.Envelope
	if err := json.Unmarshal(sent[0], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var errPayload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(env.Payload, &errPayload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	want := "Message Format Error: 'messageId' field missed"
	if errPayload.Error != want {
		t.Fatalf("expected %q, got %q", want, errPayload.Error)
	}
}

func TestOnMessageResponseAfterAuth(t *testing.T) {
	fc := newFakeConn()
	h := Handlers{
		OnAuth: func(ctx context.Context, payload json.RawMessage) (any, error) { return nil, nil },
		OnMessage: func(ctx context.Context, env *ctwire.Envelope) (any, error) {
			return map[string]string{"echo": env.Type}, nil
		},
	}
	_, cancel := runConn(t, fc, h)
	defer cancel()

	fc.push(textFrame(t, idgen.WireID(), "authorize", map[string]string{}))
	waitUntil(t, time.Second, func() bool {
		_, _, _, sent := fc.snapshot()
		return len(sent) == 1
	})

	mid := idgen.WireID()
	fc.push(textFrame(t, mid, "ping", map[string]string{}))
	waitUntil(t, time.Second, func() bool {
		_, _, _, sent := fc.snapshot()
		return len(sent) == 2
	})

	_, _, _, sent := fc.snapshot()
	var env ctwire.Envelope
	if err := json.Unmarshal(sent[1], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.MessageID != mid {
		t.Fatalf("expected response keyed by %q, got %q", mid, env.MessageID)
	}
}

func TestDuplicateAuthorizeIsIgnored(t *testing.T) {
	fc := newFakeConn()
	authCalls := 0
	h := Handlers{
		OnAuth: func(ctx context.Context, payload json.RawMessage) (any, error) {
			authCalls++
			return nil, nil
		},
	}
	_, cancel := runConn(t, fc, h)
	defer cancel()

	fc.push(textFrame(t, idgen.WireID(), "authorize", map[string]string{}))
	waitUntil(t, time.Second, func() bool {
		_, _, _, sent := fc.snapshot()
		return len(sent) == 1
	})

	fc.push(textFrame(t, idgen.WireID(), "authorize", map[string]string{}))
	time.Sleep(50 * time.Millisecond)

	_, _, _, sent := fc.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected duplicate authorize to produce no extra response, got %d sends", len(sent))
	}
	if authCalls != 1 {
		t.Fatalf("expected onAuth called once, got %d", authCalls)
	}
}

func TestOnAuthErrorClosesPolicyViolation(t *testing.T) {
	fc := newFakeConn()
	h := Handlers{
		OnAuth: func(ctx context.Context, payload json.RawMessage) (any, error) {
			return nil, errors.New("bad token")
		},
	}
	_, cancel := runConn(t, fc, h)
	defer cancel()

	fc.push(textFrame(t, idgen.WireID(), "authorize", map[string]string{}))

	waitUntil(t, time.Second, func() bool {
		closed, _, _, _ := fc.snapshot()
		return closed
	})
	_, code, reason, _ := fc.snapshot()
	if code != transport.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %d", code)
	}
	if reason != "Authorization failed: bad token" {
		t.Fatalf("unexpected reason: %q", reason)
	}
}
