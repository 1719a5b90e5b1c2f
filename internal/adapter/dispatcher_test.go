package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/1ureka/duet/internal/capture"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

// fakeEngine accepts everything except what it is told to refuse.
type fakeEngine struct {
	offerErr error
	reject   bool
}

func (e *fakeEngine) CreatePeerConnection(ctx context.Context, epoch uint64) error { return nil }
func (e *fakeEngine) CreateOffer(ctx context.Context) (string, error)              { return testSDP, e.offerErr }
func (e *fakeEngine) HandleOfferAndCreateAnswer(ctx context.Context, offer string) (string, error) {
	return testSDP, nil
}
func (e *fakeEngine) HandleAnswer(ctx context.Context, answer string) error { return nil }
func (e *fakeEngine) AddICECandidate(ctx context.Context, c protocol.Candidate) error {
	if e.reject {
		return errors.New("refused")
	}
	return nil
}
func (e *fakeEngine) ClosePeerConnection(ctx context.Context) error { return nil }

type fakeCapturer struct {
	startErr   error
	running    bool
	diesAtOnce bool // Start succeeds but the process is gone right after
}

func (f *fakeCapturer) Initialize(ctx context.Context) error { return nil }
func (f *fakeCapturer) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = !f.diesAtOnce
	return nil
}
func (f *fakeCapturer) Stop(ctx context.Context) error                 { f.running = false; return nil }
func (f *fakeCapturer) IsCapturing(ctx context.Context) (bool, error) { return f.running, nil }

func newTestDispatcher(eng *fakeEngine, capt capture.Capturer) *Dispatcher {
	var ctrl *capture.Controller
	if capt != nil {
		ctrl = capture.NewController(capt)
	}
	return NewDispatcher(signaling.NewSession(eng), ctrl)
}

func handle(d *Dispatcher, typ protocol.MessageType, mutate ...func(*protocol.Message)) protocol.Message {
	cmd := protocol.Message{Type: typ, ID: "x"}
	for _, m := range mutate {
		m(&cmd)
	}
	return d.Handle(context.Background(), cmd)
}

func TestDispatcherOffererFlow(t *testing.T) {
	d := newTestDispatcher(&fakeEngine{}, nil)

	res := handle(d, protocol.MsgCreateSession)
	if res.Error != nil || res.Type != protocol.MsgResult || res.ID != "x" {
		t.Fatalf("createSession result = %+v", res)
	}

	res = handle(d, protocol.MsgMakeOffer)
	if res.Error != nil {
		t.Fatalf("makeOffer: %+v", res.Error)
	}
	typ, sdp, err := protocol.DecodeBlob(res.SDP)
	if err != nil || typ != protocol.SDPTypeOffer || sdp != testSDP {
		t.Fatalf("offer blob decodes to %q %q %v", typ, sdp, err)
	}
	if res.Fingerprint == "" {
		t.Error("no fingerprint on offer")
	}
	if res.State.Phase != "offer-sent" || res.State.Role != "offerer" {
		t.Fatalf("state = %+v", res.State)
	}

	res = handle(d, protocol.MsgAcceptAnswer, func(m *protocol.Message) { m.SDP = testSDP })
	if res.Error != nil || res.State.Phase != "answer-received" {
		t.Fatalf("acceptAnswer result = %+v %+v", res.Error, res.State)
	}
}

func TestDispatcherErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		run  func(d *Dispatcher) protocol.Message
		want string
	}{
		{
			name: "invalid transition",
			run:  func(d *Dispatcher) protocol.Message { return handle(d, protocol.MsgMakeOffer) },
			want: KindInvalidTransition,
		},
		{
			name: "role violation",
			run: func(d *Dispatcher) protocol.Message {
				handle(d, protocol.MsgAcceptOffer, func(m *protocol.Message) { m.SDP = testSDP })
				return handle(d, protocol.MsgAcceptAnswer, func(m *protocol.Message) { m.SDP = testSDP })
			},
			want: KindRoleViolation,
		},
		{
			name: "malformed sdp",
			run: func(d *Dispatcher) protocol.Message {
				return handle(d, protocol.MsgAcceptOffer, func(m *protocol.Message) { m.SDP = "nonsense" })
			},
			want: KindMalformedInput,
		},
		{
			name: "malformed candidate",
			run: func(d *Dispatcher) protocol.Message {
				handle(d, protocol.MsgCreateSession)
				return handle(d, protocol.MsgAddCandidate, func(m *protocol.Message) { m.Text = "{" })
			},
			want: KindMalformedInput,
		},
		{
			name: "capture disabled",
			run:  func(d *Dispatcher) protocol.Message { return handle(d, protocol.MsgToggleCapture) },
			want: KindInitialization,
		},
		{
			name: "unknown command",
			run:  func(d *Dispatcher) protocol.Message { return handle(d, protocol.MsgCandidate) },
			want: KindInternal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.run(newTestDispatcher(&fakeEngine{}, nil))
			if res.Error == nil || res.Error.Kind != tc.want {
				t.Fatalf("error = %+v, want kind %s", res.Error, tc.want)
			}
			if res.State == nil {
				t.Fatal("state missing from failed result")
			}
		})
	}

	t.Run("negotiation", func(t *testing.T) {
		d := newTestDispatcher(&fakeEngine{offerErr: errors.New("no codecs")}, nil)
		handle(d, protocol.MsgCreateSession)
		res := handle(d, protocol.MsgMakeOffer)
		if res.Error == nil || res.Error.Kind != KindNegotiation {
			t.Fatalf("error = %+v", res.Error)
		}
		if !strings.Contains(res.Error.Message, "no codecs") {
			t.Fatalf("cause missing from %q", res.Error.Message)
		}
	})
}

func TestDispatcherCapture(t *testing.T) {
	capt := &fakeCapturer{}
	d := newTestDispatcher(&fakeEngine{}, capt)

	res := handle(d, protocol.MsgToggleCapture)
	if res.Error != nil || res.Running == nil || !*res.Running || !res.State.Capturing {
		t.Fatalf("toggle on = %+v", res)
	}

	capt.running = false // pipeline died on its own
	res = handle(d, protocol.MsgQueryState)
	if res.Error != nil || res.State.Capturing {
		t.Fatalf("state after external stop = %+v", res.State)
	}

	capt.startErr = errors.New("device busy")
	res = handle(d, protocol.MsgToggleCapture)
	if res.Error == nil || res.Error.Kind != KindCapture {
		t.Fatalf("error = %+v, want capture", res.Error)
	}
	if *res.Running || res.State.Capturing {
		t.Fatal("failed start rendered as running")
	}
}

func TestDispatcherFlushWarning(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDispatcher(eng, nil)

	handle(d, protocol.MsgCreateSession)
	handle(d, protocol.MsgAddCandidate, func(m *protocol.Message) { m.Text = `{"candidate":"candidate:1"}` })
	eng.reject = true

	res := handle(d, protocol.MsgAcceptOffer, func(m *protocol.Message) { m.SDP = testSDP })
	if res.Error != nil {
		t.Fatalf("acceptOffer: %+v", res.Error)
	}
	if !strings.Contains(res.Warning, "1 of 1") {
		t.Fatalf("warning = %q", res.Warning)
	}
}

func TestKind(t *testing.T) {
	if got := Kind(errors.New("x")); got != KindInternal {
		t.Errorf("plain error kind = %s", got)
	}
	err := &capture.Error{Op: "initialize", Err: capture.ErrInitialization}
	if got := Kind(err); got != KindInitialization {
		t.Errorf("capture init kind = %s", got)
	}
}

func TestDispatcherRefreshesCaptureState(t *testing.T) {
	capt := &fakeCapturer{diesAtOnce: true}
	d := newTestDispatcher(&fakeEngine{}, capt)

	res := handle(d, protocol.MsgToggleCapture)
	if res.Error != nil || res.Running == nil || !*res.Running {
		t.Fatalf("toggle result = %+v", res)
	}

	res = handle(d, protocol.MsgCreateSession)
	if res.Error != nil {
		t.Fatalf("createSession: %+v", res.Error)
	}
	if res.State.Capturing {
		t.Fatal("state still reports capture after the pipeline exited")
	}
}
