package signaling

// Phase is the negotiation progress of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCreated
	PhaseOfferSent
	PhaseOfferReceived // acceptOffer in flight
	PhaseAnswerSent
	PhaseAnswerReceived
	PhaseClosed // teardown in progress, always followed by Idle
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCreated:
		return "created"
	case PhaseOfferSent:
		return "offer-sent"
	case PhaseOfferReceived:
		return "offer-received"
	case PhaseAnswerSent:
		return "answer-sent"
	case PhaseAnswerReceived:
		return "answer-received"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role is the negotiation side this process took. It is chosen by the first
// of makeOffer or acceptOffer to succeed and kept until close.
type Role int

const (
	RoleUnset Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleUnset:
		return "unset"
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "unknown"
	}
}

// Op names a session operation. The string form matches the command names
// used by the presentation adapters.
type Op int

const (
	OpCreateSession Op = iota
	OpMakeOffer
	OpAcceptOffer
	OpAcceptAnswer
	OpAddRemoteCandidate
	OpClose
)

// Ops lists every operation in menu order.
var Ops = []Op{
	OpCreateSession,
	OpMakeOffer,
	OpAcceptOffer,
	OpAcceptAnswer,
	OpAddRemoteCandidate,
	OpClose,
}

func (o Op) String() string {
	switch o {
	case OpCreateSession:
		return "createSession"
	case OpMakeOffer:
		return "makeOffer"
	case OpAcceptOffer:
		return "acceptOffer"
	case OpAcceptAnswer:
		return "acceptAnswer"
	case OpAddRemoteCandidate:
		return "addCandidate"
	case OpClose:
		return "close"
	default:
		return "unknown"
	}
}
