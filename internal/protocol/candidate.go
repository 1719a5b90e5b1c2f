// Package protocol defines the text formats that cross the presentation
// boundary: opaque ICE candidate records, session description validation,
// single-line paste blobs and the JSON envelope of the local web bridge.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pion/webrtc/v4"
)

// Candidate is an ICE candidate record. It is never interpreted beyond
// shape checks: the fields exist for convenience, and the original JSON
// bytes are kept so that re-encoding yields exactly what was received.
type Candidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *int64 // any JSON integer; narrowed to uint16 by ToPion
	UsernameFragment *string

	raw []byte // compacted original JSON, nil when built locally
}

// candidateJSON mirrors the browser RTCIceCandidateInit dictionary.
type candidateJSON struct {
	Candidate        *string `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *int64  `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

var errMissingCandidate = errors.New(`missing "candidate" field`)

// ParseCandidate decodes a single JSON object into a Candidate. Unknown
// fields are allowed and preserved verbatim.
func ParseCandidate(data []byte) (Candidate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Candidate{}, errors.New("empty candidate")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var v candidateJSON
	if err := dec.Decode(&v); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Candidate{}, fmt.Errorf("decode candidate: unexpected trailing data")
	}
	if v.Candidate == nil {
		return Candidate{}, errMissingCandidate
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}

	return Candidate{
		Candidate:        *v.Candidate,
		SDPMid:           v.SDPMid,
		SDPMLineIndex:    v.SDPMLineIndex,
		UsernameFragment: v.UsernameFragment,
		raw:              compact.Bytes(),
	}, nil
}

// CandidateFromPion wraps a locally gathered candidate.
func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	c := Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		UsernameFragment: init.UsernameFragment,
	}
	if init.SDPMLineIndex != nil {
		idx := int64(*init.SDPMLineIndex)
		c.SDPMLineIndex = &idx
	}
	return c
}

// ToPion converts the record for pion's AddICECandidate. An index outside
// the uint16 range is left unset so pion matches on sdpMid instead.
func (c Candidate) ToPion() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		UsernameFragment: c.UsernameFragment,
	}
	if c.SDPMLineIndex != nil && *c.SDPMLineIndex >= 0 && *c.SDPMLineIndex <= math.MaxUint16 {
		idx := uint16(*c.SDPMLineIndex)
		init.SDPMLineIndex = &idx
	}
	return init
}

// MarshalJSON returns the original bytes for parsed candidates. Locally built
// candidates encode sdpMid and sdpMLineIndex explicitly, null when unset.
func (c Candidate) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		out := make([]byte, len(c.raw))
		copy(out, c.raw)
		return out, nil
	}
	cand := c.Candidate
	return json.Marshal(candidateJSON{
		Candidate:        &cand,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// UnmarshalJSON implements json.Unmarshaler via ParseCandidate.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	parsed, err := ParseCandidate(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// String renders the candidate as one line of JSON, ready to copy.
func (c Candidate) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return c.Candidate
	}
	return string(data)
}
