package registry

import (
	"errors"
	"testing"

	"github.com/ctproto/ctproto-go/internal/transport"
)

// fakeConn is a minimal transport.Conn for registry tests; it records
// SendText/Close calls without touching the network.
type fakeConn struct {
	sent   [][]byte
	closed bool
	code   int
	reason string
}

func (f *fakeConn) Read() (transport.Frame, error) { return transport.Frame{}, errors.New("unused") }
func (f *fakeConn) SendText(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeConn) SendBinary(data []byte) error { return nil }
func (f *fakeConn) Close(code int, reason string) error {
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}
func (f *fakeConn) RemoteAddr() string { return "fake" }

func TestAddFindExists(t *testing.T) {
	r := New()
	fc := &fakeConn{}
	r.Add(&Client{ID: "c1", Conn: fc})

	if !r.Find(ByID("c1")).Exists() {
		t.Fatal("expected c1 to exist")
	}
	if r.Find(ByID("missing")).Exists() {
		t.Fatal("expected missing to not exist")
	}
}

func TestCurrentAndToArray(t *testing.T) {
	r := New()
	r.Add(&Client{ID: "a", Conn: &fakeConn{}})
	r.Add(&Client{ID: "b", Conn: &fakeConn{}})

	all := r.Find(All()).ToArray()
	if len(all) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(all))
	}

	cur := r.Find(ByID("a")).Current()
	if cur == nil || cur.ID != "a" {
		t.Fatalf("expected current client a, got %+v", cur)
	}
}

func TestSendBuildsEnvelopePerClient(t *testing.T) {
	r := New()
	fc1 := &fakeConn{}
	fc2 := &fakeConn{}
	r.Add(&Client{ID: "a", Conn: fc1})
	r.Add(&Client{ID: "b", Conn: fc2})

	r.Find(All()).Send("notice", map[string]string{"msg": "hi"})

	if len(fc1.sent) != 1 || len(fc2.sent) != 1 {
		t.Fatalf("expected one send to each client, got %d and %d", len(fc1.sent), len(fc2.sent))
	}
}

func TestRemoveClosesAndDeletes(t *testing.T) {
	r := New()
	fc := &fakeConn{}
	r.Add(&Client{ID: "a", Conn: fc})

	r.Find(ByID("a")).Remove(1000, "bye")

	if !fc.closed {
		t.Fatal("expected connection to be closed")
	}
	if fc.code != 1000 || fc.reason != "bye" {
		t.Fatalf("unexpected close args: %d %q", fc.code, fc.reason)
	}
	if r.Find(ByID("a")).Exists() {
		t.Fatal("expected client to be removed")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	fc := &fakeConn{}
	r.Add(&Client{ID: "a", Conn: fc})

	cur := r.Find(ByID("a"))
	cur.Remove(1000, "bye")
	// Removing the same cursor's snapshot again must not panic or
	// double-close; the second pass finds the record already absent.
	cur.Remove(1000, "bye")

	if r.Find(ByID("a")).Exists() {
		t.Fatal("expected client to remain removed")
	}
}
