// ABOUTME: WebSocket tap that mirrors the received stream to browser clients
// ABOUTME: Consumes one fan-out queue and broadcasts raw payloads or Opus packets as binary messages
package tap

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/audio/encode"
	"github.com/pcmstream/pcmstream-go/pkg/queue"
)

// DefaultPath is where the WebSocket endpoint is served
const DefaultPath = "/pcm"

// clientBuffer is how many payloads may wait for a slow client before
// further payloads are dropped for it
const clientBuffer = 64

// Broadcast encodings
const (
	EncodingPCM  = "pcm"
	EncodingOpus = "opus"
)

// Config configures a Tap
type Config struct {
	// Addr is the ip:port the HTTP server listens on
	Addr string

	Path   string
	Format audio.Format

	// Encoding is EncodingPCM (default) or EncodingOpus
	Encoding string
}

// Hello is the first (text) message sent to every client
type Hello struct {
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	FrameMs    int    `json:"frame_ms,omitempty"`
}

// client represents a connected client (internal)
type client struct {
	id       string
	conn     *websocket.Conn
	sendChan chan []byte
	dropped  atomic.Int64
}

// Tap broadcasts PCM payloads to WebSocket clients
type Tap struct {
	config    Config
	sessionID string
	queue     *queue.Queue
	opus      *encode.OpusPacketizer
	upgrader  websocket.Upgrader
	mux       *http.ServeMux

	clients   map[string]*client
	clientsMu sync.RWMutex

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	closed     atomic.Bool
	sent       atomic.Int64
	encodeErrs atomic.Int64
}

// New creates a tap fed by q
func New(config Config, q *queue.Queue) (*Tap, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Encoding == "" {
		config.Encoding = EncodingPCM
	}

	var packetizer *encode.OpusPacketizer
	switch config.Encoding {
	case EncodingPCM:
	case EncodingOpus:
		var err error
		packetizer, err = encode.NewOpusPacketizer(config.Format)
		if err != nil {
			return nil, fmt.Errorf("tap: %w", err)
		}
	default:
		return nil, fmt.Errorf("tap: unknown encoding %q", config.Encoding)
	}

	t := &Tap{
		config:    config,
		sessionID: uuid.New().String(),
		queue:     q,
		opus:      packetizer,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local monitoring tool, accept all origins
				return true
			},
		},
		clients: make(map[string]*client),
	}
	t.mux.HandleFunc(config.Path, t.handleWebSocket)
	return t, nil
}

// Handler returns the HTTP handler serving the tap endpoint
func (t *Tap) Handler() http.Handler {
	return t.mux
}

// Start listens on the configured address and serves in the background
func (t *Tap) Start() error {
	ln, err := net.Listen("tcp", t.config.Addr)
	if err != nil {
		return &audio.TransportError{Op: "bind", Addr: t.config.Addr, Err: err}
	}

	t.listener = ln
	t.httpServer = &http.Server{Handler: t.mux, ReadHeaderTimeout: 5 * time.Second}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Tap server error: %v", err)
		}
	}()

	log.Printf("WebSocket tap on ws://%s%s", ln.Addr(), t.config.Path)
	return nil
}

// Addr returns the listening address, or nil before Start
func (t *Tap) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Run broadcasts payloads until the queue is closed and drained or ctx is
// cancelled
func (t *Tap) Run(ctx context.Context) error {
	for {
		b, err := t.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if t.opus == nil {
			t.broadcast(b)
			continue
		}

		packets, err := t.opus.Encode(audio.DecodeNative(b))
		if err != nil && t.encodeErrs.Add(1) == 1 {
			log.Printf("Tap encoder error: %v", err)
		}
		for _, pkt := range packets {
			t.broadcast(pkt)
		}
	}
}

// broadcast hands the payload to every client without waiting on any
func (t *Tap) broadcast(b []byte) {
	t.clientsMu.RLock()
	defer t.clientsMu.RUnlock()

	for _, c := range t.clients {
		select {
		case c.sendChan <- b:
			t.sent.Add(1)
		default:
			if c.dropped.Add(1) == 1 {
				log.Printf("Tap client %s is slow, dropping audio", c.id)
			}
		}
	}
}

// handleWebSocket handles WebSocket connections
func (t *Tap) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if t.closed.Load() {
		http.Error(w, "tap closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New tap connection from %s", r.RemoteAddr)
	t.handleConnection(conn)
}

// handleConnection manages a client connection
func (t *Tap) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	h := Hello{
		SessionID:  t.sessionID,
		SampleRate: t.config.Format.SampleRate,
		Channels:   t.config.Format.Channels,
		Encoding:   Encoding(),
	}
	if t.opus != nil {
		h.Encoding = EncodingOpus
		h.FrameMs = 20
	}
	hello, err := json.Marshal(h)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		log.Printf("Error sending tap hello: %v", err)
		return
	}

	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		sendChan: make(chan []byte, clientBuffer),
	}

	t.clientsMu.Lock()
	t.clients[c.id] = c
	t.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.clientWriter(c)
	}()

	// Clients never send anything meaningful; reading detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Tap WebSocket error: %v", err)
			}
			break
		}
	}

	t.clientsMu.Lock()
	delete(t.clients, c.id)
	close(c.sendChan)
	t.clientsMu.Unlock()
	<-done

	log.Printf("Tap client disconnected: %s (%d dropped)", c.id, c.dropped.Load())
}

// clientWriter sends payloads to the client
func (t *Tap) clientWriter(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients
func (t *Tap) Clients() int {
	t.clientsMu.RLock()
	defer t.clientsMu.RUnlock()
	return len(t.clients)
}

// Sent returns how many payload messages have been queued to clients
func (t *Tap) Sent() int64 {
	return t.sent.Load()
}

// Close stops the HTTP server and disconnects all clients
func (t *Tap) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if t.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = t.httpServer.Shutdown(ctx)
	}

	// Hijacked connections are not closed by Shutdown
	t.clientsMu.RLock()
	for _, c := range t.clients {
		c.conn.Close()
	}
	t.clientsMu.RUnlock()

	t.wg.Wait()
	if err != nil {
		return fmt.Errorf("tap shutdown: %w", err)
	}
	return nil
}

// Encoding names the byte order of raw broadcast samples
func Encoding() string {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return "s16le"
	}
	return "s16be"
}
