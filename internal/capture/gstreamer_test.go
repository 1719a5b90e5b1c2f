package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

const helperEnv = "DUET_CAPTURE_HELPER"

// TestHelperProcess stands in for gst-launch-1.0. It streams RTP to the
// port named in its arguments until interrupted, or exits at once when
// asked to.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	if mode == "exit" {
		os.Exit(3)
	}

	port := 0
	for _, arg := range os.Args {
		if v, ok := strings.CutPrefix(arg, "port="); ok {
			port, _ = strconv.Atoi(v)
		}
	}
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		os.Exit(2)
	}

	_, _ = conn.Write([]byte{0x01}) // not RTP, must be skipped
	for seq := uint16(0); ; seq++ {
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 960,
				SSRC:           0xdeadbeef,
			},
			Payload: []byte{byte(seq), 0xaa},
		}
		data, _ := pkt.Marshal()
		_, _ = conn.Write(data)
		time.Sleep(5 * time.Millisecond)
	}
}

type collectWriter struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
}

func (w *collectWriter) WriteRTP(pkt *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pkts = append(w.pkts, pkt)
	return nil
}

func (w *collectWriter) snapshot() []*rtp.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.pkts)
}

// newHelperPipeline returns a pipeline whose launcher is this test binary.
func newHelperPipeline(t *testing.T, mode string, w RTPWriter) *Pipeline {
	t.Helper()

	p := NewPipeline(PipelineConfig{Launcher: os.Args[0], Source: "audiotestsrc"}, w)
	p.command = func(name string, args ...string) *exec.Cmd {
		cmd := exec.Command(name, append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)...)
		cmd.Env = append(os.Environ(), helperEnv+"="+mode)
		return cmd
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestPipelineArgs(t *testing.T) {
	got := pipelineArgs("pulsesrc device=mic", 5004)
	want := []string{
		"-q", "-e",
		"pulsesrc", "device=mic",
		"!", "audioconvert",
		"!", "audioresample",
		"!", "opusenc",
		"!", "rtpopuspay", "pt=111",
		"!", "udpsink", "host=127.0.0.1", "port=5004",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("pipelineArgs =\n%v\nwant\n%v", got, want)
	}
}

func TestPipelineInitialize(t *testing.T) {
	ctx := context.Background()

	p := NewPipeline(PipelineConfig{Launcher: "duet-no-such-launcher", Source: "autoaudiosrc"}, &collectWriter{})
	if err := p.Initialize(ctx); !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("err = %v, want exec.ErrNotFound", err)
	}
	if err := p.Start(ctx); !errors.Is(err, errNotInitialized) {
		t.Fatalf("Start before Initialize: %v", err)
	}

	p = NewPipeline(PipelineConfig{Launcher: os.Args[0], Source: " "}, &collectWriter{})
	if err := p.Initialize(ctx); err == nil {
		t.Fatal("empty source accepted")
	}
}

func TestPipelineForwardsRTP(t *testing.T) {
	ctx := context.Background()
	w := &collectWriter{}
	p := newHelperPipeline(t, "stream", w)

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for len(w.snapshot()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d packets forwarded", len(w.snapshot()))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if capturing, err := p.IsCapturing(ctx); err != nil || !capturing {
		t.Fatalf("IsCapturing = %v, %v", capturing, err)
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if capturing, _ := p.IsCapturing(ctx); capturing {
		t.Fatal("still capturing after Stop")
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	pkts := w.snapshot()
	for i, pkt := range pkts {
		if pkt.SSRC != 0xdeadbeef || pkt.PayloadType != 111 {
			t.Fatalf("packet %d: unexpected header %+v", i, pkt.Header)
		}
		if len(pkt.Payload) != 2 || pkt.Payload[0] != byte(pkt.SequenceNumber) {
			t.Fatalf("packet %d: payload %v does not match seq %d", i, pkt.Payload, pkt.SequenceNumber)
		}
	}
}

func TestPipelineNoticesUnexpectedExit(t *testing.T) {
	ctx := context.Background()
	p := newHelperPipeline(t, "exit", &collectWriter{})

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		capturing, err := p.IsCapturing(ctx)
		if err != nil {
			t.Fatalf("IsCapturing: %v", err)
		}
		if !capturing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exited process still reported as capturing")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The controller resyncs to the same truth.
	c := NewController(p)
	c.initialized = true
	if running, err := c.QueryState(ctx); err != nil || running {
		t.Fatalf("QueryState = %v, %v", running, err)
	}
}
