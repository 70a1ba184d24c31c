// Package reassembler implements the server-side Upload Reassembler
// (spec.md §4.3): per-file chunk bookkeeping, buffer growth, the 15-second
// idle timer, and handoff to the application once every declared chunk has
// arrived. It is grounded on the teacher's per-CSID chunk-stream state
// machine (internal/rtmp/chunk/state.go) — a growable buffer with a
// completion test — reshaped from RTMP's sequential byte-count completion
// into CTProto's chunk-index bitmap completion.
package reassembler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ctproto/ctproto-go/internal/bufpool"
	"github.com/ctproto/ctproto-go/internal/ctwire"
)

// IdleTimeout is the per-slot inactivity window after which an incomplete
// upload is silently discarded (spec.md §4.3).
const IdleTimeout = 15 * time.Second

// idleTimeout is the effective per-slot wait; tests shrink it to keep the
// timeout scenario fast without changing the documented default.
var idleTimeout = IdleTimeout

// Request is the assembled file handed to the application once every chunk
// has arrived.
type Request struct {
	FileID  string
	Type    string
	Payload json.RawMessage
	File    []byte
}

// Handler is the application's onUploadMessage hook.
type Handler func(ctx context.Context, req Request) (any, error)

// Responder emits a ResponseMessage back to the sender. The reassembler
// uses it both for per-chunk acknowledgements (correlated by the chunk's own
// messageId) and for the final completion response (correlated by fileId).
type Responder func(messageID string, payload any) error

// slot is the in-progress state for one fileId.
type slot struct {
	mu sync.Mutex

	buf       []byte
	received  map[uint32]bool
	chunkSize uint32

	knownType    string
	knownPayload json.RawMessage
	totalChunks  int
	haveTotal    bool

	timer *time.Timer
}

// Reassembler tracks every in-progress upload for one connection. Its
// lifetime is tied to the connection: Close cancels every outstanding idle
// timer so a closed connection never hands off a stale upload.
type Reassembler struct {
	onUpload  Handler
	onTimeout func(fileID string)

	mu    sync.Mutex
	slots map[string]*slot
}

// New returns a reassembler that calls onUpload once a file completes.
func New(onUpload Handler) *Reassembler {
	return &Reassembler{onUpload: onUpload, slots: make(map[string]*slot)}
}

// OnTimeout registers a callback fired when a slot's idle timer expires
// before the file completes (spec.md §7's upload_timeout event). Optional;
// nil is a no-op.
func (r *Reassembler) OnTimeout(fn func(fileID string)) {
	r.onTimeout = fn
}

// HandleFrame applies one validated binary chunk frame (spec.md §4.3 steps
// 1-7). respond is used to emit the per-chunk ack and, on completion, the
// final response.
func (r *Reassembler) HandleFrame(frame *ctwire.ChunkFrame, respond Responder) error {
	s := r.slotFor(frame.FileID)

	s.mu.Lock()

	// Every chunk but the last is full-size, so the largest dataSize seen is
	// the stride between chunk offsets; a short final chunk still lands
	// directly after the previous full one.
	if frame.DataSize > s.chunkSize {
		s.chunkSize = frame.DataSize
	}
	offset := int(s.chunkSize) * int(frame.ChunkNumber)
	needed := offset + len(frame.Data)
	if len(s.buf) < needed {
		grown := bufpool.Get(needed)
		copy(grown, s.buf)
		if s.buf != nil {
			bufpool.Put(s.buf)
		}
		s.buf = grown
	}
	copy(s.buf[offset:needed], frame.Data)

	if frame.ChunkNumber == 0 {
		if frame.Sidecar.Type != "" {
			s.knownType = frame.Sidecar.Type
		}
		if len(frame.Sidecar.Payload) > 0 {
			s.knownPayload = frame.Sidecar.Payload
		}
		if frame.Sidecar.Chunks > 0 {
			s.totalChunks = frame.Sidecar.Chunks
			s.haveTotal = true
		}
	}

	s.received[frame.ChunkNumber] = true
	s.resetTimer(r, frame.FileID)

	complete := s.haveTotal && s.isComplete()
	ackType := s.knownType
	var (
		assembled []byte
		reqType   string
		reqPay    json.RawMessage
	)
	if complete {
		assembled = make([]byte, len(s.buf))
		copy(assembled, s.buf)
		reqType = s.knownType
		reqPay = s.knownPayload
		s.timer.Stop()
		bufpool.Put(s.buf)
		s.buf = nil
	}
	s.mu.Unlock()

	if err := respond(frame.Sidecar.MessageID, map[string]any{
		"chunkNumber": frame.ChunkNumber,
		"type":        ackType,
		"fileId":      frame.FileID,
	}); err != nil {
		return err
	}

	if !complete {
		return nil
	}

	r.removeSlot(frame.FileID)

	result, err := r.onUpload(context.Background(), Request{FileID: frame.FileID, Type: reqType, Payload: reqPay, File: assembled})
	if err != nil {
		return err
	}
	return respond(frame.FileID, result)
}

func (s *slot) isComplete() bool {
	for i := 0; i < s.totalChunks; i++ {
		if !s.received[uint32(i)] {
			return false
		}
	}
	return true
}

// resetTimer rearms the idle timer for this slot. Must be called with s.mu
// held.
func (s *slot) resetTimer(r *Reassembler, fileID string) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(idleTimeout, func() {
		r.removeSlot(fileID)
		s.mu.Lock()
		bufpool.Put(s.buf)
		s.buf = nil
		s.mu.Unlock()
		if r.onTimeout != nil {
			r.onTimeout(fileID)
		}
	})
}

func (r *Reassembler) slotFor(fileID string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[fileID]
	if !ok {
		s = &slot{received: make(map[uint32]bool)}
		r.slots[fileID] = s
	}
	return s
}

func (r *Reassembler) removeSlot(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, fileID)
}

// Close cancels every outstanding idle timer, abandoning all in-progress
// uploads without emitting a response (spec.md §5: connection close drops
// every idle-timer slot it owns).
func (r *Reassembler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		bufpool.Put(s.buf)
		s.buf = nil
		s.mu.Unlock()
		delete(r.slots, id)
	}
}
