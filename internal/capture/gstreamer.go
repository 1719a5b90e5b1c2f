package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/1ureka/duet/internal/util"
)

const (
	opusPayloadType = 111
	maxDatagramSize = 1500
	stopTimeout     = 3 * time.Second
	logEveryPackets = 100
)

var errNotInitialized = errors.New("capture pipeline not initialized")

// RTPWriter receives every packet the pipeline produces.
type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// PipelineConfig selects the GStreamer launcher and audio source element.
type PipelineConfig struct {
	Launcher string // gst-launch-1.0 or a path to it
	Source   string // e.g. "autoaudiosrc" or "pulsesrc device=foo"
}

// Pipeline runs a gst-launch-1.0 child process that encodes the microphone
// to Opus RTP on a loopback UDP socket, and forwards each packet to an
// RTPWriter.
type Pipeline struct {
	cfg     PipelineConfig
	writer  RTPWriter
	command func(name string, args ...string) *exec.Cmd

	mu       sync.Mutex
	launcher string
	run      *pipelineRun
}

// pipelineRun is the state of one started process.
type pipelineRun struct {
	cmd       *exec.Cmd
	conn      *net.UDPConn
	exited    chan struct{} // closed when the process has exited
	pumpDone  chan struct{} // closed when the UDP pump has returned
	closeOnce sync.Once
}

// NewPipeline creates a stopped pipeline.
func NewPipeline(cfg PipelineConfig, writer RTPWriter) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		writer:  writer,
		command: exec.Command,
	}
}

// Initialize resolves the launcher binary.
func (p *Pipeline) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(p.cfg.Source) == "" {
		return errors.New("no audio source element configured")
	}

	path, err := exec.LookPath(p.cfg.Launcher)
	if err != nil {
		return fmt.Errorf("find %s: %w", p.cfg.Launcher, err)
	}

	p.mu.Lock()
	p.launcher = path
	p.mu.Unlock()

	util.LogDebug("using GStreamer launcher %s", path)
	return nil
}

// Start binds the loopback socket and spawns the pipeline. Starting a
// running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil && !p.run.hasExited() {
		return nil
	}
	if p.launcher == "" {
		return errNotInitialized
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return fmt.Errorf("listen for RTP: %w", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	cmd := p.command(p.launcher, pipelineArgs(p.cfg.Source, port)...)
	cmd.Stdout = nil
	cmd.Stderr = &lineLogger{prefix: "[gstreamer] "}

	if err := cmd.Start(); err != nil {
		conn.Close()
		return fmt.Errorf("start %s: %w", p.launcher, err)
	}

	run := &pipelineRun{
		cmd:      cmd,
		conn:     conn,
		exited:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	p.run = run

	go run.wait()
	go run.pump(p.writer)

	util.LogDebug("capture pipeline started (pid %d, rtp port %d)", cmd.Process.Pid, port)
	return nil
}

// Stop interrupts the process, kills it if it does not exit in time and
// releases the socket. Stopping a stopped pipeline is a no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	run := p.run
	if run == nil {
		return nil
	}
	p.run = nil

	var err error
	if !run.hasExited() {
		if serr := run.cmd.Process.Signal(os.Interrupt); serr != nil {
			_ = run.cmd.Process.Kill()
		}

		timer := time.NewTimer(stopTimeout)
		defer timer.Stop()

		select {
		case <-run.exited:
		case <-timer.C:
			err = errors.New("pipeline did not exit after interrupt, killed")
			_ = run.cmd.Process.Kill()
			<-run.exited
		case <-ctx.Done():
			_ = run.cmd.Process.Kill()
			<-run.exited
			err = ctx.Err()
		}
	}

	run.cleanup()
	<-run.pumpDone

	util.LogDebug("capture pipeline stopped")
	return err
}

// IsCapturing reports whether the process is alive.
func (p *Pipeline) IsCapturing(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.run != nil && !p.run.hasExited(), nil
}

// pipelineArgs builds the gst-launch-1.0 argument list. The source may carry
// its own properties ("pulsesrc device=x").
func pipelineArgs(source string, port int) []string {
	args := []string{"-q", "-e"}
	args = append(args, strings.Fields(source)...)
	args = append(args,
		"!", "audioconvert",
		"!", "audioresample",
		"!", "opusenc",
		"!", "rtpopuspay", fmt.Sprintf("pt=%d", opusPayloadType),
		"!", "udpsink", "host=127.0.0.1", fmt.Sprintf("port=%d", port),
	)
	return args
}

func (r *pipelineRun) hasExited() bool {
	select {
	case <-r.exited:
		return true
	default:
		return false
	}
}

// wait reaps the process. An exit nobody asked for also closes the socket so
// the pump returns.
func (r *pipelineRun) wait() {
	err := r.cmd.Wait()
	close(r.exited)
	if err != nil {
		util.LogDebug("capture pipeline exited: %v", err)
	}
	r.cleanup()
}

// pump reads datagrams until the socket is closed. It uses a blocking read;
// cleanup closes the socket to unblock it.
func (r *pipelineRun) pump(writer RTPWriter) {
	defer close(r.pumpDone)

	buf := make([]byte, maxDatagramSize)
	var count uint64
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				util.LogWarning("capture socket read error: %v", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			util.LogDebug("dropping malformed RTP datagram (%d bytes): %v", n, err)
			continue
		}
		if err := writer.WriteRTP(pkt); err != nil {
			util.LogDebug("dropping RTP packet seq=%d: %v", pkt.SequenceNumber, err)
			continue
		}

		count++
		if count%logEveryPackets == 0 {
			util.LogDebug("captured %d RTP packets (last seq=%d)", count, pkt.SequenceNumber)
		}
	}
}

func (r *pipelineRun) cleanup() {
	r.closeOnce.Do(func() {
		r.conn.Close()
	})
}

// lineLogger forwards a child process's output to the debug log, one line
// at a time.
type lineLogger struct {
	prefix string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			return len(p), nil
		}
		if line = strings.TrimSpace(line); line != "" {
			util.LogDebug("%s%s", l.prefix, line)
		}
	}
}
