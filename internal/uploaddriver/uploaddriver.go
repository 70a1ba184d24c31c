// Package uploaddriver implements the client-side Upload Driver (spec.md
// §4.6): sendFile(type, file, payload) splits a whole file into
// sequentially-acknowledged 10000-byte chunks, retrying an unacknowledged
// chunk up to 5 times before failing the job. It is grounded on the
// teacher's RTMP client (internal/rtmp/client/client.go) — one job in
// flight at a time, a single owner goroutine driving send-then-await-reply
// — reshaped from RTMP's publish stream into CTProto's stop-and-wait
// chunked upload.
package uploaddriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/idgen"
	"github.com/ctproto/ctproto-go/internal/logger"
)

// ChunkSize is the fixed per-chunk byte count; a file is never split across
// boundaries differently (spec.md §4.6).
const ChunkSize = 10000

// AckTimeout and RetryBudget implement spec.md §4.6 / §5's per-chunk
// acknowledgement timer and retry cap: 6 total sends (1 initial + 5
// retries) before the job fails.
const (
	AckTimeout  = 5 * time.Second
	RetryBudget = 5
)

// ackTimeout is the effective per-chunk wait; tests shrink it to keep the
// retry-budget scenarios fast without changing the documented default.
var ackTimeout = AckTimeout

// ErrUploadFailed is returned (wrapped with the failing chunk/file) once a
// chunk's ack retry budget is exhausted.
var ErrUploadFailed = errors.New("uploaddriver: chunk ack retry budget exhausted")

// engine is the slice of sendengine.Engine the driver depends on: pushing a
// pre-built binary frame and awaiting a reply keyed by messageId. Declared
// as an interface so tests can substitute a fake without a real transport.
type engine interface {
	PushChunk(frame []byte) error
	Register(messageID string)
	Await(ctx context.Context, messageID string) (json.RawMessage, error)
	CancelAwait(messageID string)
}

// Driver drives one file upload at a time per caller; distinct files may be
// driven concurrently by distinct SendFile calls (spec.md §5: "uploads are
// sequential per file; distinct files... may interleave").
type Driver struct {
	eng engine
	log *slog.Logger
}

// New wires a driver to the send engine it pushes chunks through.
func New(eng engine) *Driver {
	return &Driver{eng: eng, log: logger.Logger()}
}

// ackPayload is the shape of a per-chunk acknowledgement's response payload
// (spec.md §4.6): "a ResponseMessage whose payload contains {chunkNumber,
// fileId, ...} with matching fileId and the expected chunkNumber."
type ackPayload struct {
	ChunkNumber int    `json:"chunkNumber"`
	FileID      string `json:"fileId"`
}

// SendFile assigns a fresh fileId, chunks file into ChunkSize pieces, and
// drives them through the connection sequentially, stop-and-wait, retrying
// an unacknowledged chunk up to RetryBudget times. It blocks until the
// server's completion response (keyed by fileId) arrives, ctx is canceled,
// or a chunk's retry budget is exhausted.
func (d *Driver) SendFile(ctx context.Context, msgType string, file []byte, payload any) (json.RawMessage, error) {
	fileID := idgen.WireID()
	chunks := totalChunksFor(len(file))

	payloadRaw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	// Registered before the first chunk goes out: the server emits the
	// fileId-keyed completion response immediately after the last chunk's
	// ack, so the resolver must already be waiting by the time that ack
	// unblocks sendChunkWithRetry, not after.
	d.eng.Register(fileID)

	for i := 0; i < chunks; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(file) {
			end = len(file)
		}

		sidecar := ctwire.ChunkSidecar{MessageID: idgen.WireID()}
		if i == 0 {
			sidecar.Type = msgType
			sidecar.Payload = payloadRaw
			sidecar.Chunks = chunks
		}

		if err := d.sendChunkWithRetry(ctx, fileID, uint32(i), file[start:end], sidecar); err != nil {
			return nil, err
		}
	}

	return d.eng.Await(ctx, fileID)
}

// sendChunkWithRetry emits one chunk and blocks until its ack arrives,
// re-emitting on each 5-second timeout up to RetryBudget times.
func (d *Driver) sendChunkWithRetry(ctx context.Context, fileID string, chunkNumber uint32, data []byte, sidecar ctwire.ChunkSidecar) error {
	frame, err := ctwire.PackChunk(fileID, chunkNumber, data, sidecar)
	if err != nil {
		return err
	}

	retryCount := 0
	for {
		if err := d.eng.PushChunk(frame); err != nil {
			return err
		}

		ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
		payload, err := d.eng.Await(ackCtx, sidecar.MessageID)
		cancel()

		if err == nil {
			var ack ackPayload
			if uerr := json.Unmarshal(payload, &ack); uerr != nil {
				return uerr
			}
			if ack.FileID != fileID || ack.ChunkNumber != int(chunkNumber) {
				return fmt.Errorf("uploaddriver: unexpected ack for chunk %d of file %s: %+v", chunkNumber, fileID, ack)
			}
			return nil
		}

		if ctx.Err() != nil {
			d.eng.CancelAwait(sidecar.MessageID)
			return ctx.Err()
		}

		retryCount++
		if retryCount > RetryBudget {
			d.eng.CancelAwait(sidecar.MessageID)
			return fmt.Errorf("%w: chunk %d of file %s", ErrUploadFailed, chunkNumber, fileID)
		}
		d.log.Warn("chunk ack timed out, retrying", "file_id", fileID, "chunk", chunkNumber, "retry", retryCount)
	}
}

func totalChunksFor(size int) int {
	if size == 0 {
		return 1
	}
	return (size + ChunkSize - 1) / ChunkSize
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
