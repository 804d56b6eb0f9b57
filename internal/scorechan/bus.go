package scorechan

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type handlerEntry struct {
	id int
	fn func(Message)
}

// Bus is a typed message bus over one Port. It is created per game session and
// handed to both the Surface and the Host roles; there is no global listener.
type Bus struct {
	id     string
	port   Port
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   int

	stop    func()
	ignored atomic.Int64
}

func NewBus(port Port, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		id:       uuid.NewString(),
		port:     port,
		handlers: make(map[string][]handlerEntry),
	}
	b.logger = logger.With(zap.String("channel_id", b.id))
	b.stop = port.Listen(b.dispatch)
	return b
}

// ID is the session capability id of this channel.
func (b *Bus) ID() string { return b.id }

func (b *Bus) Logger() *zap.Logger { return b.logger }

// On registers fn for frames of the given kind and returns an id for Remove.
func (b *Bus) On(kind string, fn func(Message)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], handlerEntry{id: id, fn: fn})
	return id
}

func (b *Bus) Remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, list := range b.handlers {
		for i, e := range list {
			if e.id == id {
				b.handlers[kind] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Send(ctx context.Context, kind string, value json.RawMessage) error {
	return b.port.Send(ctx, Message{Kind: kind, Value: value})
}

// Ignored counts frames dropped because of an unknown kind.
func (b *Bus) Ignored() int64 { return b.ignored.Load() }

// Close detaches the bus from its port. The port itself stays open.
func (b *Bus) Close() {
	if b.stop != nil {
		b.stop()
	}
}

func (b *Bus) dispatch(msg Message) {
	if !knownKind(msg.Kind) {
		b.ignored.Add(1)
		b.logger.Debug("channel_ignore_kind", zap.String("kind", msg.Kind))
		return
	}
	b.mu.RLock()
	list := make([]handlerEntry, len(b.handlers[msg.Kind]))
	copy(list, b.handlers[msg.Kind])
	b.mu.RUnlock()
	for _, e := range list {
		b.invoke(e, msg)
	}
}

// invoke isolates handler panics; a panic on this side is invisible to the peer.
func (b *Bus) invoke(e handlerEntry, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("channel_handler_panic", zap.String("kind", msg.Kind), zap.Int("handler_id", e.id), zap.Any("panic", r))
		}
	}()
	if e.fn != nil {
		e.fn(msg)
	}
}
