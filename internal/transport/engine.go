// Package transport adapts a pion PeerConnection to the operations the
// signaling session drives: create, offer, answer, remote candidates and
// teardown. Locally gathered candidates are published on a channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

const candidateBufferSize = 64 // local candidate channel capacity

var (
	ErrNoPeerConnection     = errors.New("no peer connection")
	ErrPeerConnectionExists = errors.New("peer connection already exists")
	ErrEngineClosed         = errors.New("engine closed")
)

// LocalCandidate is a candidate gathered by the engine, stamped with the
// epoch of the peer connection that produced it.
type LocalCandidate struct {
	Epoch     uint64
	Candidate protocol.Candidate
}

// Options configures an Engine.
type Options struct {
	ICEServers []string
	Net        transport.Net // nil uses the OS network stack
}

// Engine owns at most one PeerConnection at a time plus the shared audio
// track that capture writes into.
type Engine struct {
	api        *webrtc.API
	config     webrtc.Configuration
	track      *webrtc.TrackLocalStaticRTP
	sender     *rtpSender
	candidates chan LocalCandidate

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	pc    *webrtc.PeerConnection
	epoch uint64
}

// NewEngine builds an engine. The engine stops publishing candidates and
// writing RTP when ctx is cancelled or Close is called.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	track, err := newAudioTrack()
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		api:        newAPI(opts.Net),
		config:     newConfiguration(opts.ICEServers),
		track:      track,
		candidates: make(chan LocalCandidate, candidateBufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.sender = newRTPSender(ctx, track)

	return e, nil
}

// LocalCandidates returns the channel of locally gathered candidates. The
// channel is never closed; consumers stop on their own context.
func (e *Engine) LocalCandidates() <-chan LocalCandidate {
	return e.candidates
}

// CreatePeerConnection creates a fresh PeerConnection tagged with epoch.
func (e *Engine) CreatePeerConnection(ctx context.Context, epoch uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ctx.Err() != nil {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc != nil {
		return ErrPeerConnectionExists
	}

	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if err := addAudioTransceiver(pc, e.track); err != nil {
		return errors.Join(fmt.Errorf("add audio transceiver: %w", err), pc.Close())
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("ICE gathering complete (epoch %d)", epoch)
			return
		}
		e.publish(LocalCandidate{
			Epoch:     epoch,
			Candidate: protocol.CandidateFromPion(c.ToJSON()),
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			util.LogSuccess("peer connection established (epoch %d)", epoch)
		case webrtc.PeerConnectionStateFailed:
			util.LogError("peer connection failed (epoch %d)", epoch)
		default:
			util.LogDebug("peer connection state: %s (epoch %d)", s, epoch)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go drainRemoteTrack(track)
	})

	e.pc = pc
	e.epoch = epoch

	return nil
}

// publish hands a candidate to the relay. It blocks while the buffer is full
// but never past engine shutdown.
func (e *Engine) publish(c LocalCandidate) {
	select {
	case e.candidates <- c:
	case <-e.ctx.Done():
	}
}

// current returns the live PeerConnection.
func (e *Engine) current() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		return nil, ErrNoPeerConnection
	}
	return e.pc, nil
}

// CreateOffer creates an offer, applies it locally and returns its SDP.
func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pc, err := e.current()
	if err != nil {
		return "", err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	return offer.SDP, nil
}

// HandleOfferAndCreateAnswer applies a remote offer and returns the local
// answer SDP.
func (e *Engine) HandleOfferAndCreateAnswer(ctx context.Context, offer string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pc, err := e.current()
	if err != nil {
		return "", err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	return answer.SDP, nil
}

// HandleAnswer applies the remote answer.
func (e *Engine) HandleAnswer(ctx context.Context, answer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pc, err := e.current()
	if err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddICECandidate hands a remote candidate to the ICE agent.
func (e *Engine) AddICECandidate(ctx context.Context, c protocol.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pc, err := e.current()
	if err != nil {
		return err
	}

	if err := pc.AddICECandidate(c.ToPion()); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// ClosePeerConnection closes the current PeerConnection, if any.
func (e *Engine) ClosePeerConnection(ctx context.Context) error {
	e.mu.Lock()
	pc := e.pc
	epoch := e.epoch
	e.pc = nil
	e.mu.Unlock()

	if pc == nil {
		return nil
	}

	util.LogDebug("closing peer connection (epoch %d)", epoch)
	if err := pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

// WriteRTP queues a capture packet for the audio track. Packets are dropped
// when the send buffer is full.
func (e *Engine) WriteRTP(pkt *rtp.Packet) error {
	return e.sender.send(e.ctx, pkt)
}

// ConnectionState reports the state of the current PeerConnection.
func (e *Engine) ConnectionState() webrtc.PeerConnectionState {
	pc, err := e.current()
	if err != nil {
		return webrtc.PeerConnectionStateClosed
	}
	return pc.ConnectionState()
}

// Close tears down the PeerConnection and stops the background loops.
func (e *Engine) Close() error {
	err := e.ClosePeerConnection(context.Background())
	e.cancel()
	return err
}
