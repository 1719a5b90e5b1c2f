package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation/media counter.
var Stats = &stats{}

type stats struct {
	LocalCandidates  atomic.Int64 // local candidates relayed to the presentation layer
	RemoteApplied    atomic.Int64 // remote candidates handed to the engine
	RemoteQueued     atomic.Int64 // remote candidates parked until a remote description exists
	RemoteRejected   atomic.Int64 // remote candidates the engine refused
	RTPPacketsSent   atomic.Int64 // capture packets written to the audio track
	RTPBytesSent     atomic.Int64 // payload bytes written to the audio track
	RTPBytesReceived atomic.Int64 // bytes read from remote audio tracks
}

func (s *stats) AddLocalCandidate() { s.LocalCandidates.Add(1) }
func (s *stats) AddRemoteApplied()  { s.RemoteApplied.Add(1) }
func (s *stats) AddRemoteQueued()   { s.RemoteQueued.Add(1) }
func (s *stats) AddRemoteRejected() { s.RemoteRejected.Add(1) }
func (s *stats) AddSent(n int) {
	s.RTPPacketsSent.Add(1)
	s.RTPBytesSent.Add(int64(n))
}
func (s *stats) AddRecv(n int) { s.RTPBytesReceived.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media and candidate
// statistics every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevLocal, prevRemote int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.RTPBytesSent.Load()
				recv := Stats.RTPBytesReceived.Load()
				local := Stats.LocalCandidates.Load()
				remote := Stats.RemoteApplied.Load()

				secs := interval.Seconds()
				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				localC := local - prevLocal
				remoteC := remote - prevRemote

				if localC > 0 || remoteC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(outS, inS, localC, remoteC))
				}

				prevSent = sent
				prevRecv = recv
				prevLocal = local
				prevRemote = remote

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, localC, remoteC int64) string {
	return fmt.Sprintf("Audio out: %s/s | in: %s/s | ICE: %2d local %2d remote",
		formatBytes(outS),
		formatBytes(inS),
		localC,
		remoteC,
	)
}
