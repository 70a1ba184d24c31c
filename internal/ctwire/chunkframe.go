package ctwire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// ChunkHeaderLen is the fixed 10+4+4 byte prefix of every binary chunk frame
// (spec.md §3). The compatibility surface is fixed: little-endian 32-bit
// integers, never big-endian (spec.md §9 resolves the endianness ambiguity
// observed across source versions in favor of little-endian).
const ChunkHeaderLen = 18

// FileIDLen is the length of the fileId field embedded in every chunk frame.
const FileIDLen = 10

// ChunkSidecar is the trailing UTF-8 JSON segment of a chunk frame. Chunk 0
// carries Type/Payload/Chunks in addition to MessageID; later chunks carry
// only MessageID.
type ChunkSidecar struct {
	MessageID string          `json:"messageId"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Chunks    int             `json:"chunks,omitempty"`
}

// ChunkFrame is a parsed, validated binary chunk frame.
type ChunkFrame struct {
	FileID      string
	ChunkNumber uint32
	DataSize    uint32
	Data        []byte
	Sidecar     ChunkSidecar
}

// PackChunk lays out one binary chunk frame per spec.md §3: a 10-byte fileId,
// a little-endian chunkNumber, a little-endian dataSize, the raw chunk
// bytes, and a trailing JSON sidecar.
func PackChunk(fileID string, chunkNumber uint32, data []byte, sidecar ChunkSidecar) ([]byte, error) {
	if len(fileID) != FileIDLen {
		return nil, fmt.Errorf("ctwire: fileId must be %d bytes, got %d", FileIDLen, len(fileID))
	}
	sidecarBytes, err := json.Marshal(sidecar)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, ChunkHeaderLen+len(data)+len(sidecarBytes))
	copy(buf[0:FileIDLen], fileID)
	binary.LittleEndian.PutUint32(buf[10:14], chunkNumber)
	binary.LittleEndian.PutUint32(buf[14:18], uint32(len(data)))
	copy(buf[ChunkHeaderLen:ChunkHeaderLen+len(data)], data)
	copy(buf[ChunkHeaderLen+len(data):], sidecarBytes)
	return buf, nil
}
