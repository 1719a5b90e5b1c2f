package transport

import (
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/util"
)

// newAPI builds the pion API shared by every PeerConnection of an Engine.
// pion logs are routed through the pterm logger. A non-nil n replaces the OS
// network stack (used with vnet in tests).
func newAPI(n transport.Net) *webrtc.API {
	se := webrtc.SettingEngine{
		LoggerFactory: util.PionLoggerFactory{},
	}
	if n != nil {
		se.SetNet(n)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// newConfiguration turns a flat URL list into a pion configuration.
func newConfiguration(iceServers []string) webrtc.Configuration {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}
	return config
}

// newAudioTrack creates the single Opus track the capture pipeline feeds.
// The same track is attached to every PeerConnection the Engine creates.
func newAudioTrack() (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"duet",
	)
}

// addAudioTransceiver attaches track as a sendrecv transceiver and starts a
// goroutine that drains incoming RTCP so interceptors keep working.
func addAudioTransceiver(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP) error {
	tr, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return err
	}

	sender := tr.Sender()
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

// drainRemoteTrack reads and counts remote audio. Playback is left to the
// operating system's own tooling; nothing is decoded here.
func drainRemoteTrack(track *webrtc.TrackRemote) {
	util.LogInfo("remote track started: %s (%s)", track.ID(), track.Codec().MimeType)

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			util.LogDebug("remote track %s ended: %v", track.ID(), err)
			return
		}
		util.Stats.AddRecv(n)
	}
}
