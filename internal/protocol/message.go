package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType identifies the kind of message exchanged with the local web page.
type MessageType string

// Commands sent by the page.
const (
	MsgCreateSession MessageType = "createSession"
	MsgMakeOffer     MessageType = "makeOffer"
	MsgAcceptOffer   MessageType = "acceptOffer"
	MsgAcceptAnswer  MessageType = "acceptAnswer"
	MsgAddCandidate  MessageType = "addCandidate"
	MsgClose         MessageType = "close"
	MsgToggleCapture MessageType = "toggleCapture"
	MsgQueryState    MessageType = "state"
)

// Events pushed to the page.
const (
	MsgResult    MessageType = "result"
	MsgCandidate MessageType = "candidate"
	MsgStateSync MessageType = "stateSync"
)

// IsCommand reports whether t is a command the page may send.
func (t MessageType) IsCommand() bool {
	switch t {
	case MsgCreateSession, MsgMakeOffer, MsgAcceptOffer, MsgAcceptAnswer,
		MsgAddCandidate, MsgClose, MsgToggleCapture, MsgQueryState:
		return true
	}
	return false
}

// ErrorInfo is the rendered form of a failed command.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// State is the rendered form of the session and capture state.
type State struct {
	SessionID            string   `json:"sessionId,omitempty"`
	Role                 string   `json:"role"`
	Phase                string   `json:"phase"`
	RemoteDescriptionSet bool     `json:"remoteDescriptionSet"`
	LocalCandidates      int      `json:"localCandidates"`
	PendingRemote        int      `json:"pendingRemote"`
	AppliedRemote        int      `json:"appliedRemote"`
	Allowed              []string `json:"allowed"`
	Capturing            bool     `json:"capturing"`
}

// Message is the JSON structure exchanged over the local WebSocket.
type Message struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"` // echoed back in the result
	SDP       string      `json:"sdp,omitempty"`
	Text      string      `json:"text,omitempty"`      // pasted candidate JSON, parsed by the session
	Candidate *Candidate  `json:"candidate,omitempty"` // locally gathered candidate

	Fingerprint string     `json:"fingerprint,omitempty"` // of the SDP in a result
	Warning     string     `json:"warning,omitempty"`
	Running     *bool      `json:"running,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	State       *State     `json:"state,omitempty"`
}

// ParseCommand strictly decodes one command from the page: unknown fields,
// unknown types and trailing data are all rejected.
func ParseCommand(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if !msg.Type.IsCommand() {
		return Message{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}
	if msg.Candidate != nil || msg.Running != nil || msg.Error != nil || msg.State != nil ||
		msg.Fingerprint != "" || msg.Warning != "" {
		return Message{}, fmt.Errorf("%s message has unexpected fields", msg.Type)
	}
	return msg, nil
}
