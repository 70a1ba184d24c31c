// Package store persists reassembled upload files (spec.md §6's
// "persistent upload storage" collaborator). It is grounded on the
// teacher's media.Recorder (internal/rtmp/media/recorder.go) — a
// mutex-guarded io.WriteCloser wrapper that disables itself on a fatal
// write error rather than panicking the caller — generalized from FLV tag
// streaming into whole-file persistence of a reassembled upload, with a
// local-filesystem implementation and an Azure Blob Storage implementation
// behind the same interface.
package store

import (
	"context"
	"encoding/json"
)

// Metadata carries the chunk-0 sidecar fields an onUploadMessage handler
// received alongside the reassembled file.
type Metadata struct {
	Type    string
	Payload json.RawMessage
}

// Location identifies where a file ended up, backend-specific in shape
// (a filesystem path, or a blob URL).
type Location struct {
	Path string
	URL  string
}

// Store persists one reassembled upload. Implementations must be safe for
// concurrent use: distinct files on distinct connections may complete at
// the same moment (spec.md §5).
type Store interface {
	Save(ctx context.Context, fileID string, meta Metadata, data []byte) (Location, error)
}
