// Package adapter is the presentation layer: a command dispatcher shared by
// an interactive console and a local web page served over WebSocket.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/duet/internal/capture"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/util"
)

// Error kinds reported to the presentation surfaces.
const (
	KindInitialization    = "initialization"
	KindCapture           = "capture"
	KindInvalidTransition = "invalid_transition"
	KindRoleViolation     = "role_violation"
	KindMalformedInput    = "malformed_input"
	KindNegotiation       = "negotiation"
	KindInternal          = "internal"
)

var errCaptureDisabled = errors.New("audio capture is disabled in the configuration")

// Kind classifies err for rendering.
func Kind(err error) string {
	switch {
	case errors.Is(err, signaling.ErrRoleViolation):
		return KindRoleViolation
	case errors.Is(err, signaling.ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, signaling.ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, signaling.ErrNegotiation):
		return KindNegotiation
	case errors.Is(err, capture.ErrInitialization):
		return KindInitialization
	case errors.Is(err, capture.ErrCapture):
		return KindCapture
	default:
		return KindInternal
	}
}

// Dispatcher maps commands to session and capture operations. Both
// presentation adapters go through it, so they render the same results.
type Dispatcher struct {
	session *signaling.Session
	capture *capture.Controller // nil when capture is disabled
}

// NewDispatcher creates a dispatcher. controller may be nil.
func NewDispatcher(session *signaling.Session, controller *capture.Controller) *Dispatcher {
	return &Dispatcher{
		session: session,
		capture: controller,
	}
}

// Handle runs one command and returns its result message. The command ID is
// echoed and the current state is always attached.
func (d *Dispatcher) Handle(ctx context.Context, cmd protocol.Message) protocol.Message {
	res := protocol.Message{Type: protocol.MsgResult, ID: cmd.ID}

	var err error
	switch cmd.Type {
	case protocol.MsgCreateSession:
		err = d.session.CreateSession(ctx)

	case protocol.MsgMakeOffer:
		var offer string
		if offer, err = d.session.MakeOffer(ctx); err == nil {
			res.SDP = protocol.EncodeBlob(protocol.SDPTypeOffer, offer)
			res.Fingerprint = util.Fingerprint(offer)
		}

	case protocol.MsgAcceptOffer:
		var answer string
		var report signaling.FlushReport
		if answer, report, err = d.session.AcceptOffer(ctx, cmd.SDP); err == nil {
			res.SDP = protocol.EncodeBlob(protocol.SDPTypeAnswer, answer)
			res.Fingerprint = util.Fingerprint(answer)
			res.Warning = flushWarning(report)
		}

	case protocol.MsgAcceptAnswer:
		var report signaling.FlushReport
		if report, err = d.session.AcceptAnswer(ctx, cmd.SDP); err == nil {
			res.Warning = flushWarning(report)
		}

	case protocol.MsgAddCandidate:
		_, err = d.session.AddRemoteCandidate(ctx, cmd.Text)

	case protocol.MsgClose:
		err = d.session.Close(ctx)

	case protocol.MsgToggleCapture:
		if d.capture == nil {
			err = &capture.Error{Op: "start", Err: capture.ErrInitialization, Cause: errCaptureDisabled}
			break
		}
		var running bool
		running, err = d.capture.Toggle(ctx)
		res.Running = &running

	case protocol.MsgQueryState:
		if d.capture != nil {
			_, err = d.capture.QueryState(ctx)
		}

	default:
		err = fmt.Errorf("unsupported command %q", cmd.Type)
	}

	if err != nil {
		res.Error = &protocol.ErrorInfo{Kind: Kind(err), Message: err.Error()}
	}
	if cmd.Type != protocol.MsgToggleCapture && cmd.Type != protocol.MsgQueryState {
		d.Refresh(ctx)
	}
	state := d.State()
	res.State = &state

	return res
}

// Refresh re-reads whether capture is really running, so a pipeline that
// died after starting is not rendered as live.
func (d *Dispatcher) Refresh(ctx context.Context) {
	if d.capture == nil {
		return
	}
	if _, err := d.capture.QueryState(ctx); err != nil {
		util.LogDebug("capture state refresh failed: %v", err)
	}
}

// State renders the session and capture state.
func (d *Dispatcher) State() protocol.State {
	snap := d.session.Snapshot()

	allowed := make([]string, 0, len(snap.Allowed))
	for _, op := range snap.Allowed {
		allowed = append(allowed, op.String())
	}

	return protocol.State{
		SessionID:            snap.ID,
		Role:                 snap.Role.String(),
		Phase:                snap.Phase.String(),
		RemoteDescriptionSet: snap.RemoteDescriptionSet,
		LocalCandidates:      snap.LocalCandidates,
		PendingRemote:        snap.PendingRemote,
		AppliedRemote:        snap.AppliedRemote,
		Allowed:              allowed,
		Capturing:            d.capture != nil && d.capture.Running(),
	}
}

// LocalCandidates returns the candidates gathered so far in this session.
func (d *Dispatcher) LocalCandidates() []protocol.Candidate {
	return d.session.LocalCandidates()
}

// CaptureAvailable reports whether a capture controller is configured.
func (d *Dispatcher) CaptureAvailable() bool {
	return d.capture != nil
}

func flushWarning(r signaling.FlushReport) string {
	if r.Rejected == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d queued remote candidates were rejected: %v", r.Rejected, r.Applied+r.Rejected, r.Err)
}
