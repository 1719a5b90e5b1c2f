package signaling

import (
	"context"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/transport"
)

// CandidateSink receives each relayed local candidate exactly once.
type CandidateSink func(protocol.Candidate)

// Relay moves locally gathered candidates from the engine into the session
// and on to the presentation layer.
type Relay struct {
	session *Session
	events  <-chan transport.LocalCandidate
	sink    CandidateSink
}

// NewRelay creates a relay. sink may be nil.
func NewRelay(session *Session, events <-chan transport.LocalCandidate, sink CandidateSink) *Relay {
	return &Relay{
		session: session,
		events:  events,
		sink:    sink,
	}
}

// Run consumes events until ctx is cancelled or the channel is closed.
// Candidates are forwarded in arrival order, one at a time.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			if !r.session.recordLocalCandidate(ev.Epoch, ev.Candidate) {
				continue
			}
			if r.sink != nil {
				r.sink(ev.Candidate)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
