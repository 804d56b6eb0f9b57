package scorechan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4 << 10
)

// HeaderProvider injects handshake headers (session cookie etc.) when dialing.
type HeaderProvider func() map[string]string

// WSPort carries frames over one WebSocket connection. Frames that are not
// valid JSON are dropped; the connection stays up.
type WSPort struct {
	conn      *websocket.Conn
	writeM    sync.Mutex
	listeners listenerSet
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
}

// NewWSPort wraps an established connection (either side). Frames are read
// only after Start, so handlers can be registered first.
func NewWSPort(conn *websocket.Conn, logger *zap.Logger) *WSPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn.SetReadLimit(wsReadLimit)
	ctx, cancel := context.WithCancel(context.Background())
	p := &WSPort{
		conn:   conn,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return p
}

// Start begins reading frames. Calls after the first are no-ops.
func (p *WSPort) Start() {
	p.start.Do(func() { go p.listen() })
}

// DialWS connects a game surface to a host endpoint.
func DialWS(ctx context.Context, url string, headers HeaderProvider, logger *zap.Logger) (*WSPort, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      buildHeaders(headers),
	})
	if err != nil {
		return nil, err
	}
	p := NewWSPort(conn, logger)
	p.Start()
	return p, nil
}

func (p *WSPort) listen() {
	defer close(p.done)
	for {
		typ, data, err := p.conn.Read(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				p.logger.Debug("ws_port_read_end", zap.Error(err))
			}
			p.cancel()
			return
		}
		if typ != websocket.MessageText {
			p.logger.Warn("ws_port_drop_frame", zap.String("reason", "binary"))
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn("ws_port_drop_frame", zap.String("reason", "invalid_json"), zap.Int("bytes", len(data)))
			continue
		}
		p.listeners.deliver(msg)
	}
}

func (p *WSPort) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	wctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
	}
	// wsjson.Write is not safe for concurrent writers
	p.writeM.Lock()
	defer p.writeM.Unlock()
	if err := wsjson.Write(wctx, p.conn, &msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return ErrPortClosed
	}
	return nil
}

func (p *WSPort) Listen(fn func(Message)) func() { return p.listeners.add(fn) }

// Done is closed once the read loop has stopped. It never closes before Start.
func (p *WSPort) Done() <-chan struct{} { return p.done }

func (p *WSPort) Close() error {
	err := p.conn.Close(websocket.StatusNormalClosure, "close")
	p.cancel()
	return err
}

func buildHeaders(h HeaderProvider) http.Header {
	hdr := http.Header{}
	if h == nil {
		return hdr
	}
	for k, v := range h() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
