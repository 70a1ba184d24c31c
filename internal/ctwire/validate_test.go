package ctwire

import (
	"testing"

	"github.com/ctproto/ctproto-go/internal/ctprotoerr"
)

func TestValidateTextRoundTripsBuildNew(t *testing.T) {
	env, err := BuildNew("greeting", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("BuildNew: %v", err)
	}
	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := ValidateText(raw, true)
	if err != nil {
		t.Fatalf("ValidateText: %v", err)
	}
	if got.MessageID != env.MessageID {
		t.Errorf("messageId mismatch: got %q want %q", got.MessageID, env.MessageID)
	}
	if got.Type != env.Type {
		t.Errorf("type mismatch: got %q want %q", got.Type, env.Type)
	}
}

func TestValidateTextRoundTripsBuildResponse(t *testing.T) {
	env, err := BuildResponse("abcdefghij", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Server never receives a typeless ResponseMessage, but the client does.
	got, err := ValidateText(raw, false)
	if err != nil {
		t.Fatalf("ValidateText: %v", err)
	}
	if got.MessageID != "abcdefghij" {
		t.Errorf("messageId mismatch: got %q", got.MessageID)
	}
	if got.Type != "" {
		t.Errorf("expected empty type on a response, got %q", got.Type)
	}
}

func TestValidateTextFormatFailures(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		requireType bool
		wantMsg     string
	}{
		{"missing messageId", `{"type":"x","payload":{}}`, true, msgMessageIDMissed},
		{"missing type when required", `{"messageId":"abcdefghij","payload":{}}`, true, msgTypeMissed},
		{"missing payload", `{"messageId":"abcdefghij","type":"x"}`, true, msgPayloadMissed},
		{"messageId not a string", `{"messageId":5,"type":"x","payload":{}}`, true, msgMessageIDNotStr},
		{"type not a string", `{"messageId":"abcdefghij","type":5,"payload":{}}`, true, msgTypeNotStr},
		{"payload not an object", `{"messageId":"abcdefghij","type":"x","payload":5}`, true, msgPayloadNotObject},
		{"invalid messageId shape", `{"messageId":"short","type":"x","payload":{}}`, true, msgInvalidMessageID},
		{"type optional and absent", `{"messageId":"abcdefghij","payload":{}}`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateText([]byte(tc.raw), tc.requireType)
			if tc.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %q, got nil", tc.wantMsg)
			}
			fe, ok := err.(*ctprotoerr.FormatError)
			if !ok {
				t.Fatalf("expected *ctprotoerr.FormatError, got %T (%v)", err, err)
			}
			if fe.Msg != tc.wantMsg {
				t.Errorf("message mismatch: got %q want %q", fe.Msg, tc.wantMsg)
			}
		})
	}
}

func TestValidateTextNotJSONIsParseError(t *testing.T) {
	_, err := ValidateText([]byte("not json"), true)
	if !ctprotoerr.IsParse(err) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestValidateBinaryRoundTrip(t *testing.T) {
	fileID := "abcdefghij"
	data := []byte("hello chunk")
	sidecar := ChunkSidecar{MessageID: "klmnopqrst", Type: "upload", Chunks: 3}

	frame, err := PackChunk(fileID, 0, data, sidecar)
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}

	got, err := ValidateBinary(frame)
	if err != nil {
		t.Fatalf("ValidateBinary: %v", err)
	}
	if got.FileID != fileID {
		t.Errorf("fileID mismatch: got %q want %q", got.FileID, fileID)
	}
	if got.ChunkNumber != 0 {
		t.Errorf("chunkNumber mismatch: got %d want 0", got.ChunkNumber)
	}
	if string(got.Data) != string(data) {
		t.Errorf("data mismatch: got %q want %q", got.Data, data)
	}
	if got.Sidecar.MessageID != sidecar.MessageID || got.Sidecar.Chunks != sidecar.Chunks {
		t.Errorf("sidecar mismatch: got %+v want %+v", got.Sidecar, sidecar)
	}
}

func TestValidateBinaryTooShortIsParseError(t *testing.T) {
	_, err := ValidateBinary(make([]byte, 10))
	if !ctprotoerr.IsParse(err) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestValidateBinaryBadFileIDIsFormatError(t *testing.T) {
	frame, err := PackChunk("abcdefghij", 1, []byte("x"), ChunkSidecar{MessageID: "klmnopqrst"})
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}
	copy(frame[0:10], "!!!short!!"[:10])

	_, err = ValidateBinary(frame)
	fe, ok := err.(*ctprotoerr.FormatError)
	if !ok {
		t.Fatalf("expected *ctprotoerr.FormatError, got %T (%v)", err, err)
	}
	if fe.Msg != msgInvalidFileID {
		t.Errorf("message mismatch: got %q want %q", fe.Msg, msgInvalidFileID)
	}
}

func TestValidateBinaryDeclaredSizeOverrunsFrame(t *testing.T) {
	frame, err := PackChunk("abcdefghij", 1, []byte("x"), ChunkSidecar{MessageID: "klmnopqrst"})
	if err != nil {
		t.Fatalf("PackChunk: %v", err)
	}
	frame = frame[:ChunkHeaderLen] // keep the header, drop the declared 1-byte data and the sidecar

	_, err = ValidateBinary(frame)
	if !ctprotoerr.IsParse(err) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}
