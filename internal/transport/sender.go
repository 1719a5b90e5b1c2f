package transport

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/util"
)

const sendBufferSize = 64 // outgoing RTP packet channel capacity

var errSendBufferFull = errors.New("rtp send buffer full")

// rtpSender is a goroutine-based packet writer that serializes all writes to
// the shared audio track.
type rtpSender struct {
	inbox chan *rtp.Packet
}

// newRTPSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled.
func newRTPSender(ctx context.Context, track *webrtc.TrackLocalStaticRTP) *rtpSender {
	s := &rtpSender{
		inbox: make(chan *rtp.Packet, sendBufferSize),
	}

	go s.loop(ctx, track)

	return s
}

// loop is the single-writer goroutine.
func (s *rtpSender) loop(ctx context.Context, track *webrtc.TrackLocalStaticRTP) {
	for {
		select {
		case pkt := <-s.inbox:
			if err := track.WriteRTP(pkt); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					continue // a binding went away with its PeerConnection
				}
				util.LogWarning("failed to write RTP packet (seq=%d): %v", pkt.SequenceNumber, err)
				continue
			}
			util.Stats.AddSent(len(pkt.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a packet without blocking. Audio is real-time: a packet that
// cannot be queued is dropped.
func (s *rtpSender) send(ctx context.Context, pkt *rtp.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.inbox <- pkt:
		return nil
	default:
		return errSendBufferFull
	}
}
