package signaling

// rule is one row of the transition table.
type rule struct {
	from      []Phase
	forbidden Role // an established role that may never run the op
	anyPhase  bool
}

// transitions is the single source of truth for operation legality. Every
// operation consults it before touching the engine.
var transitions = map[Op]rule{
	OpCreateSession: {
		from: []Phase{PhaseIdle},
	},
	OpMakeOffer: {
		from:      []Phase{PhaseCreated},
		forbidden: RoleAnswerer,
	},
	OpAcceptOffer: {
		from:      []Phase{PhaseIdle, PhaseCreated},
		forbidden: RoleOfferer,
	},
	OpAcceptAnswer: {
		from:      []Phase{PhaseOfferSent},
		forbidden: RoleAnswerer,
	},
	OpAddRemoteCandidate: {
		from: []Phase{
			PhaseCreated,
			PhaseOfferSent,
			PhaseOfferReceived,
			PhaseAnswerSent,
			PhaseAnswerReceived,
		},
	},
	OpClose: {
		anyPhase: true,
	},
}

// check returns nil when op may run in the given phase and role. The role
// check precedes the phase check so that "wrong side" is reported even when
// the phase is also wrong.
func check(op Op, phase Phase, role Role) error {
	r, ok := transitions[op]
	if !ok {
		return &TransitionError{Op: op, Phase: phase, Role: role, Err: ErrInvalidTransition}
	}
	if r.forbidden != RoleUnset && role == r.forbidden {
		return &TransitionError{Op: op, Phase: phase, Role: role, Err: ErrRoleViolation}
	}
	if r.anyPhase {
		return nil
	}
	for _, p := range r.from {
		if p == phase {
			return nil
		}
	}
	return &TransitionError{Op: op, Phase: phase, Role: role, Err: ErrInvalidTransition}
}

// allowed lists the operations that check accepts for phase and role.
func allowed(phase Phase, role Role) []Op {
	var ops []Op
	for _, op := range Ops {
		if op == OpClose && phase == PhaseIdle {
			continue // accepted, but a no-op
		}
		if check(op, phase, role) == nil {
			ops = append(ops, op)
		}
	}
	return ops
}
