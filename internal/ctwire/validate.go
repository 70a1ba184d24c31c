package ctwire

import (
	"encoding/binary"
	"encoding/json"

	"github.com/ctproto/ctproto-go/internal/ctprotoerr"
	"github.com/ctproto/ctproto-go/internal/idgen"
)

// Validator messages, bit-exact so that peers built from either side of this
// spec can match them (spec.md §4.1).
const (
	msgMessageIDMissed  = "'messageId' field missed"
	msgTypeMissed       = "'type' field missed"
	msgPayloadMissed    = "'payload' field missed"
	msgMessageIDNotStr  = "'messageId' should be a string"
	msgTypeNotStr       = "'type' should be a string"
	msgPayloadNotObject = "'payload' should be an object"
	msgInvalidMessageID = "Invalid message id"
	msgInvalidFileID    = "Invalid file id"
	msgUnsupportedData  = "Unsupported data"
)

// ValidateText validates an inbound text frame. When requireType is true
// (the server's posture: every client-originated frame is a NewMessage) a
// missing type field is a format failure. When false (the client's posture:
// inbound frames may be a typeless ResponseMessage) type is optional but, if
// present, must still be a string.
//
// Returns a *ctprotoerr.ParseError for critical failures (not UTF-8 JSON, or
// not even a JSON object) and a *ctprotoerr.FormatError for shape failures.
func ValidateText(raw []byte, requireType bool) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ctprotoerr.NewParseError("validate.text", err)
	}

	midRaw, hasMID := fields["messageId"]
	typeRaw, hasType := fields["type"]
	payloadRaw, hasPayload := fields["payload"]

	if !hasMID {
		return nil, ctprotoerr.NewFormatError("validate.text", msgMessageIDMissed)
	}
	if requireType && !hasType {
		return nil, ctprotoerr.NewFormatError("validate.text", msgTypeMissed)
	}
	if !hasPayload {
		return nil, ctprotoerr.NewFormatError("validate.text", msgPayloadMissed)
	}

	var messageID string
	if err := json.Unmarshal(midRaw, &messageID); err != nil {
		return nil, ctprotoerr.NewFormatError("validate.text", msgMessageIDNotStr)
	}

	var msgType string
	if hasType {
		if err := json.Unmarshal(typeRaw, &msgType); err != nil {
			return nil, ctprotoerr.NewFormatError("validate.text", msgTypeNotStr)
		}
	}

	if !isJSONObject(payloadRaw) {
		return nil, ctprotoerr.NewFormatError("validate.text", msgPayloadNotObject)
	}

	if !idgen.IsValidWireID(messageID) {
		return nil, ctprotoerr.NewFormatError("validate.text", msgInvalidMessageID)
	}

	return &Envelope{MessageID: messageID, Type: msgType, Payload: payloadRaw}, nil
}

// isJSONObject reports whether raw is a JSON object (starts with '{',
// ignoring leading whitespace). json.RawMessage retains surrounding bytes
// exactly as decoded, so a light scan suffices without a second Unmarshal
// into interface{}.
func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// ValidateBinary validates an inbound binary chunk frame per spec.md §3–§4.1.
//
// Returns a *ctprotoerr.ParseError for critical failures (frame shorter than
// the fixed header, declared dataSize overruns the frame, or the sidecar is
// not JSON) and a *ctprotoerr.FormatError for a malformed fileId.
func ValidateBinary(frame []byte) (*ChunkFrame, error) {
	if len(frame) < ChunkHeaderLen {
		return nil, ctprotoerr.NewParseError("validate.binary", errShortFrame)
	}

	fileID := string(frame[0:FileIDLen])
	chunkNumber := binary.LittleEndian.Uint32(frame[10:14])
	dataSize := binary.LittleEndian.Uint32(frame[14:18])

	if uint64(ChunkHeaderLen)+uint64(dataSize) > uint64(len(frame)) {
		return nil, ctprotoerr.NewParseError("validate.binary", errShortFrame)
	}

	if !idgen.IsValidWireID(fileID) {
		return nil, ctprotoerr.NewFormatError("validate.binary", msgInvalidFileID)
	}

	data := frame[ChunkHeaderLen : ChunkHeaderLen+dataSize]
	sidecarBytes := frame[ChunkHeaderLen+dataSize:]

	var sidecar ChunkSidecar
	if err := json.Unmarshal(sidecarBytes, &sidecar); err != nil {
		return nil, ctprotoerr.NewParseError("validate.binary", err)
	}

	return &ChunkFrame{
		FileID:      fileID,
		ChunkNumber: chunkNumber,
		DataSize:    dataSize,
		Data:        data,
		Sidecar:     sidecar,
	}, nil
}

var errShortFrame = shortFrameError{}

type shortFrameError struct{}

func (shortFrameError) Error() string { return msgUnsupportedData }
