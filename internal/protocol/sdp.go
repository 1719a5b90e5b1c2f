package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// SDPType is the kind of session description carried by a paste blob.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

var (
	ErrEmptySDP   = errors.New("empty session description")
	ErrNoMedia    = errors.New("session description has no media sections")
	ErrBadBlob    = errors.New("not a session description or paste blob")
	ErrWrongType  = errors.New("session description has the wrong type")
	errUnknownSDP = errors.New("unknown session description type")
)

// ValidateSDP checks that text is a parseable session description with at
// least one media section. It never modifies the text.
func ValidateSDP(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptySDP
	}

	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(text); err != nil {
		return fmt.Errorf("parse session description: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return ErrNoMedia
	}
	return nil
}

// NormalizeSDP rewrites line endings to CRLF and guarantees a trailing line
// break. Pasted text often loses both.
func NormalizeSDP(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// blob is the JSON payload inside a base64 paste blob. It matches the shape
// of a browser RTCSessionDescriptionInit.
type blob struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// EncodeBlob packs a session description into one base64 line so it
// survives terminals and chat clients that mangle line breaks.
func EncodeBlob(typ SDPType, text string) string {
	data, _ := json.Marshal(blob{Type: typ, SDP: text})
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBlob accepts either a paste blob or raw SDP text starting with "v=".
// For raw text the returned type is empty: the caller decides what it is.
func DecodeBlob(input string) (SDPType, string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", ErrEmptySDP
	}
	if strings.HasPrefix(input, "v=") {
		return "", NormalizeSDP(input), nil
	}

	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(input)
		if err != nil {
			return "", "", ErrBadBlob
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var b blob
	if err := dec.Decode(&b); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadBlob, err)
	}

	switch b.Type {
	case SDPTypeOffer, SDPTypeAnswer:
	default:
		return "", "", fmt.Errorf("%w %q", errUnknownSDP, b.Type)
	}
	return b.Type, b.SDP, nil
}

// DecodeBlobAs is DecodeBlob plus a type check. Raw SDP text is accepted for
// any expected type.
func DecodeBlobAs(want SDPType, input string) (string, error) {
	typ, text, err := DecodeBlob(input)
	if err != nil {
		return "", err
	}
	if typ != "" && typ != want {
		return "", fmt.Errorf("%w: got %s, want %s", ErrWrongType, typ, want)
	}
	return text, nil
}
