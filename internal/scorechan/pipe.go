package scorechan

import (
	"context"
	"errors"
	"sync"
)

var ErrPortClosed = errors.New("score channel port closed")

const pipeBuffer = 64

// PipeEnd is one side of an in-process channel created by NewPipe. Each end
// drains its inbox on a single goroutine, so handlers run to completion one
// frame at a time.
type PipeEnd struct {
	peer      *PipeEnd
	inbox     chan Message
	listeners listenerSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPipe returns two connected ends: what one sends the other receives.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a := newPipeEnd()
	b := newPipeEnd()
	a.peer, b.peer = b, a
	a.start()
	b.start()
	return a, b
}

func newPipeEnd() *PipeEnd {
	return &PipeEnd{
		inbox:  make(chan Message, pipeBuffer),
		stopCh: make(chan struct{}),
	}
}

func (p *PipeEnd) start() {
	go func() {
		for {
			select {
			case <-p.stopCh:
				return
			case msg := <-p.inbox:
				p.listeners.deliver(msg)
			}
		}
	}()
}

func (p *PipeEnd) Send(ctx context.Context, msg Message) error {
	if p.closed() || p.peer.closed() {
		return ErrPortClosed
	}
	select {
	case p.peer.inbox <- msg:
		return nil
	case <-p.peer.stopCh:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) Listen(fn func(Message)) func() { return p.listeners.add(fn) }

// Close stops delivery on both ends. Frames still queued are dropped; a
// handler already running finishes on its own.
func (p *PipeEnd) Close() error {
	p.shutdown()
	p.peer.shutdown()
	return nil
}

func (p *PipeEnd) shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *PipeEnd) closed() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}
