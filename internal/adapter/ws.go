package adapter

import (
	"context"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

//go:embed web/index.html
var indexHTML []byte

const (
	pinLength       = 6
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: sameOrigin,
}

// Bridge serves the local web page and drives the dispatcher from its
// WebSocket. One page is connected at a time; a reload replaces it once the
// old connection is gone.
type Bridge struct {
	dispatcher *Dispatcher
	listen     string
	pin        string

	listener net.Listener
	server   *http.Server

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	writeMu sync.Mutex // serializes writes to conn
}

// NewBridge creates a bridge that will listen on addr.
func NewBridge(dispatcher *Dispatcher, addr string) *Bridge {
	return &Bridge{
		dispatcher: dispatcher,
		listen:     addr,
		pin:        generatePIN(pinLength),
	}
}

// Start binds the listener and returns the page URL, PIN included.
func (b *Bridge) Start() (string, error) {
	listener, err := net.Listen("tcp", b.listen)
	if err != nil {
		return "", fmt.Errorf("failed to start web bridge: %w", err)
	}
	b.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleIndex)
	mux.HandleFunc("/ws", b.handleWS)
	b.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return fmt.Sprintf("http://%s/?pin=%s", listener.Addr().String(), b.pin), nil
}

// Serve handles requests until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.server == nil {
		return errors.New("web bridge not started")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.server.Serve(b.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()

	return b.server.Shutdown(shutdownCtx)
}

func (b *Bridge) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(indexHTML)
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("pin") != b.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only one page at a time.
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()

	util.LogInfo("web page connected from %s", r.RemoteAddr)
	b.serveConn(r.Context(), conn)

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	conn.Close()
	util.LogInfo("web page disconnected")
}

// serveConn replays the current state to a fresh page, then handles its
// commands one at a time.
func (b *Bridge) serveConn(ctx context.Context, conn *websocket.Conn) {
	b.PushState()
	for _, c := range b.dispatcher.LocalCandidates() {
		b.write(conn, protocol.Message{Type: protocol.MsgCandidate, Candidate: &c})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("web bridge read error: %v", err)
			}
			return
		}

		cmd, err := protocol.ParseCommand(data)
		if err != nil {
			state := b.dispatcher.State()
			b.write(conn, protocol.Message{
				Type:  protocol.MsgResult,
				Error: &protocol.ErrorInfo{Kind: KindMalformedInput, Message: err.Error()},
				State: &state,
			})
			continue
		}

		b.write(conn, b.dispatcher.Handle(ctx, cmd))
	}
}

// PushCandidate sends a relayed local candidate to the connected page, if
// any, followed by the updated state.
func (b *Bridge) PushCandidate(c protocol.Candidate) {
	conn := b.current()
	if conn == nil {
		return
	}
	b.write(conn, protocol.Message{Type: protocol.MsgCandidate, Candidate: &c})
	b.PushState()
}

// PushState sends the current state to the connected page, if any.
func (b *Bridge) PushState() {
	conn := b.current()
	if conn == nil {
		return
	}
	state := b.dispatcher.State()
	b.write(conn, protocol.Message{Type: protocol.MsgStateSync, State: &state})
}

func (b *Bridge) current() *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *Bridge) write(conn *websocket.Conn, msg protocol.Message) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		util.LogDebug("web bridge write failed: %v", err)
	}
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the page this bridge served.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host
}

// generatePIN returns a random numeric PIN of the specified length.
func generatePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
