// Package signaling implements the manual offer/answer state machine. A
// Session owns the negotiation role and phase, decides which operations are
// legal, drives the transport engine and keeps the candidate sequences that
// the humans copy between the two peers.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

// Engine is the transport collaborator driven by a Session.
type Engine interface {
	CreatePeerConnection(ctx context.Context, epoch uint64) error
	CreateOffer(ctx context.Context) (string, error)
	HandleOfferAndCreateAnswer(ctx context.Context, offer string) (string, error)
	HandleAnswer(ctx context.Context, answer string) error
	AddICECandidate(ctx context.Context, c protocol.Candidate) error
	ClosePeerConnection(ctx context.Context) error
}

var errClosedDuringOp = errors.New("session closed while the operation was running")

// FlushReport describes the queued remote candidates handed to the engine
// once a remote description was set. Rejections never undo the transition.
type FlushReport struct {
	Applied  int
	Rejected int
	Err      error // joined engine errors, nil when nothing was rejected
}

// Snapshot is a read-only copy of the session state for rendering.
type Snapshot struct {
	ID                   string
	Role                 Role
	Phase                Phase
	RemoteDescriptionSet bool
	LocalCandidates      int
	PendingRemote        int
	AppliedRemote        int
	Allowed              []Op
}

// Session is the single negotiation of this process.
//
// transition serializes user operations. mu guards everything below it and
// is the boundary shared with the relay goroutine. Close takes only mu, so it
// never waits for an in-flight operation; that operation notices the epoch
// change when it returns and leaves the state alone.
type Session struct {
	engine Engine

	transition sync.Mutex

	mu                   sync.Mutex
	id                   string
	role                 Role
	phase                Phase
	epoch                uint64
	remoteDescriptionSet bool
	localCandidates      []protocol.Candidate
	pendingRemote        []protocol.Candidate
	appliedRemote        []protocol.Candidate
}

// NewSession creates an idle session driving engine.
func NewSession(engine Engine) *Session {
	return &Session{engine: engine}
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// CreateSession creates the peer connection and moves Idle → Created.
func (s *Session) CreateSession(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if err := s.precheckLocked(ctx, OpCreateSession); err != nil {
		s.mu.Unlock()
		return err
	}
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	err := s.engine.CreatePeerConnection(ctx, epoch)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		if err == nil {
			s.discardConnection()
		}
		return s.staleLocked(OpCreateSession)
	}
	if err != nil {
		return newError(OpCreateSession, s.phase, s.role, ErrNegotiation, err)
	}

	s.id = uuid.NewString()
	s.phase = PhaseCreated
	util.LogInfo("session %s created", s.id)

	return nil
}

// MakeOffer generates the local offer and commits this side to Offerer.
func (s *Session) MakeOffer(ctx context.Context) (string, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if err := s.precheckLocked(ctx, OpMakeOffer); err != nil {
		s.mu.Unlock()
		return "", err
	}
	epoch := s.epoch
	s.mu.Unlock()

	offer, err := s.engine.CreateOffer(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return "", s.staleLocked(OpMakeOffer)
	}
	if err != nil {
		return "", newError(OpMakeOffer, s.phase, s.role, ErrNegotiation, err)
	}

	s.role = RoleOfferer
	s.phase = PhaseOfferSent
	util.LogInfo("session %s: offer ready (%s)", s.id, util.Fingerprint(offer))

	return offer, nil
}

// AcceptOffer applies a remote offer, generates the answer and commits this
// side to Answerer. From Idle the peer connection is created first; if the
// offer is then rejected that connection is torn down again.
//
// input is raw SDP text or a paste blob.
func (s *Session) AcceptOffer(ctx context.Context, input string) (string, FlushReport, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if err := s.checkLocked(OpAcceptOffer); err != nil {
		s.mu.Unlock()
		return "", FlushReport{}, err
	}
	offer, err := decodeDescription(protocol.SDPTypeOffer, input)
	if err != nil {
		err = newError(OpAcceptOffer, s.phase, s.role, ErrMalformedInput, err)
		s.mu.Unlock()
		return "", FlushReport{}, err
	}
	if err := ctx.Err(); err != nil {
		err = newError(OpAcceptOffer, s.phase, s.role, ErrNegotiation, err)
		s.mu.Unlock()
		return "", FlushReport{}, err
	}

	from := s.phase
	if from == PhaseIdle {
		s.epoch++
	}
	epoch := s.epoch
	s.phase = PhaseOfferReceived
	s.mu.Unlock()

	if from == PhaseIdle {
		if err := s.engine.CreatePeerConnection(ctx, epoch); err != nil {
			s.mu.Lock()
			defer s.mu.Unlock()

			if s.epoch != epoch {
				return "", FlushReport{}, s.staleLocked(OpAcceptOffer)
			}
			s.phase = from
			return "", FlushReport{}, newError(OpAcceptOffer, s.phase, s.role, ErrNegotiation, err)
		}
	}

	answer, err := s.engine.HandleOfferAndCreateAnswer(ctx, offer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		if from == PhaseIdle {
			s.discardConnection()
		}
		return "", FlushReport{}, s.staleLocked(OpAcceptOffer)
	}
	if err != nil {
		if from == PhaseIdle {
			s.discardConnection()
		}
		s.phase = from
		return "", FlushReport{}, newError(OpAcceptOffer, s.phase, s.role, ErrNegotiation, err)
	}

	if from == PhaseIdle {
		s.id = uuid.NewString()
	}
	s.role = RoleAnswerer
	s.phase = PhaseAnswerSent
	s.remoteDescriptionSet = true
	util.LogInfo("session %s: offer %s accepted, answer ready (%s)", s.id, util.Fingerprint(offer), util.Fingerprint(answer))

	return answer, s.flushLocked(ctx), nil
}

// AcceptAnswer applies the remote answer. Only the Offerer may call it, and
// only after MakeOffer.
//
// input is raw SDP text or a paste blob.
func (s *Session) AcceptAnswer(ctx context.Context, input string) (FlushReport, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if err := s.checkLocked(OpAcceptAnswer); err != nil {
		s.mu.Unlock()
		return FlushReport{}, err
	}
	answer, err := decodeDescription(protocol.SDPTypeAnswer, input)
	if err != nil {
		err = newError(OpAcceptAnswer, s.phase, s.role, ErrMalformedInput, err)
		s.mu.Unlock()
		return FlushReport{}, err
	}
	if err := ctx.Err(); err != nil {
		err = newError(OpAcceptAnswer, s.phase, s.role, ErrNegotiation, err)
		s.mu.Unlock()
		return FlushReport{}, err
	}
	epoch := s.epoch
	s.mu.Unlock()

	err = s.engine.HandleAnswer(ctx, answer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return FlushReport{}, s.staleLocked(OpAcceptAnswer)
	}
	if err != nil {
		return FlushReport{}, newError(OpAcceptAnswer, s.phase, s.role, ErrNegotiation, err)
	}

	s.phase = PhaseAnswerReceived
	s.remoteDescriptionSet = true
	util.LogInfo("session %s: answer %s accepted", s.id, util.Fingerprint(answer))

	return s.flushLocked(ctx), nil
}

// AddRemoteCandidate parses a pasted candidate and applies it, or queues it
// while no remote description exists yet. The returned flag reports whether
// the candidate reached the engine.
func (s *Session) AddRemoteCandidate(ctx context.Context, text string) (bool, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(OpAddRemoteCandidate); err != nil {
		return false, err
	}
	c, err := protocol.ParseCandidate([]byte(text))
	if err != nil {
		return false, newError(OpAddRemoteCandidate, s.phase, s.role, ErrMalformedInput, err)
	}
	if err := ctx.Err(); err != nil {
		return false, newError(OpAddRemoteCandidate, s.phase, s.role, ErrNegotiation, err)
	}

	if !s.remoteDescriptionSet {
		s.pendingRemote = append(s.pendingRemote, c)
		util.Stats.AddRemoteQueued()
		util.LogDebug("remote candidate queued (%d pending)", len(s.pendingRemote))
		return false, nil
	}

	if err := s.engine.AddICECandidate(ctx, c); err != nil {
		util.Stats.AddRemoteRejected()
		return false, newError(OpAddRemoteCandidate, s.phase, s.role, ErrNegotiation, err)
	}
	s.appliedRemote = append(s.appliedRemote, c)
	util.Stats.AddRemoteApplied()

	return true, nil
}

// Close tears the session down and returns it to Idle. It is always
// accepted, including while another operation is in flight.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	wasIdle := s.phase == PhaseIdle
	id := s.id
	s.epoch++
	epoch := s.epoch
	s.phase = PhaseClosed
	s.resetLocked()
	s.mu.Unlock()

	err := s.engine.ClosePeerConnection(ctx)

	s.mu.Lock()
	if s.epoch == epoch && s.phase == PhaseClosed {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	if !wasIdle {
		util.LogInfo("session %s closed", id)
	}
	if err != nil {
		return newError(OpClose, PhaseIdle, RoleUnset, ErrNegotiation, err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Role returns the current role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Allowed lists the operations that would currently pass the legality check.
func (s *Session) Allowed() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return allowed(s.phase, s.role)
}

// LocalCandidates returns a copy of the relayed local candidates in arrival
// order.
func (s *Session) LocalCandidates() []protocol.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Candidate(nil), s.localCandidates...)
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:                   s.id,
		Role:                 s.role,
		Phase:                s.phase,
		RemoteDescriptionSet: s.remoteDescriptionSet,
		LocalCandidates:      len(s.localCandidates),
		PendingRemote:        len(s.pendingRemote),
		AppliedRemote:        len(s.appliedRemote),
		Allowed:              allowed(s.phase, s.role),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Internals (callers hold mu)
// ──────────────────────────────────────────────────────────────────────────────

// recordLocalCandidate appends a relayed candidate. Candidates from an older
// peer connection, or arriving while idle or closing, are dropped.
func (s *Session) recordLocalCandidate(epoch uint64, c protocol.Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.phase == PhaseIdle || s.phase == PhaseClosed {
		util.LogDebug("dropping local candidate from epoch %d (current %d, phase %s)", epoch, s.epoch, s.phase)
		return false
	}

	s.localCandidates = append(s.localCandidates, c)
	util.Stats.AddLocalCandidate()
	return true
}

func (s *Session) checkLocked(op Op) error {
	return check(op, s.phase, s.role)
}

func (s *Session) precheckLocked(ctx context.Context, op Op) error {
	if err := s.checkLocked(op); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newError(op, s.phase, s.role, ErrNegotiation, err)
	}
	return nil
}

func (s *Session) staleLocked(op Op) error {
	return newError(op, s.phase, s.role, ErrInvalidTransition, errClosedDuringOp)
}

// discardConnection closes a peer connection created by an operation that
// lost its session to Close or failed halfway.
func (s *Session) discardConnection() {
	if err := s.engine.ClosePeerConnection(context.Background()); err != nil {
		util.LogWarning("failed to discard peer connection: %v", err)
	}
}

// flushLocked hands every queued remote candidate to the engine in arrival
// order and empties the queue.
func (s *Session) flushLocked(ctx context.Context) FlushReport {
	ctx = context.WithoutCancel(ctx)

	var report FlushReport
	var errs []error
	for i, c := range s.pendingRemote {
		if err := s.engine.AddICECandidate(ctx, c); err != nil {
			report.Rejected++
			errs = append(errs, fmt.Errorf("queued candidate %d: %w", i, err))
			util.Stats.AddRemoteRejected()
			util.LogWarning("queued remote candidate %d rejected: %v", i, err)
			continue
		}
		report.Applied++
		s.appliedRemote = append(s.appliedRemote, c)
		util.Stats.AddRemoteApplied()
	}
	s.pendingRemote = nil
	report.Err = errors.Join(errs...)

	if report.Applied+report.Rejected > 0 {
		util.LogDebug("flushed %d queued remote candidates (%d rejected)", report.Applied+report.Rejected, report.Rejected)
	}
	return report
}

func (s *Session) resetLocked() {
	s.id = ""
	s.role = RoleUnset
	s.remoteDescriptionSet = false
	s.localCandidates = nil
	s.pendingRemote = nil
	s.appliedRemote = nil
}

// decodeDescription accepts raw SDP or a paste blob of the expected type and
// returns validated SDP text.
func decodeDescription(want protocol.SDPType, input string) (string, error) {
	text, err := protocol.DecodeBlobAs(want, input)
	if err != nil {
		return "", err
	}
	if err := protocol.ValidateSDP(text); err != nil {
		return "", err
	}
	return text, nil
}
