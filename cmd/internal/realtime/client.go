package realtime

import (
	"context"
	"sync"
)

// link is one live transport connection owned by a Channel run loop.
//
// Design notes:
//   - send is never closed; enqueue selects on ctx instead so late senders cannot panic.
//   - fail records the first cause and cancels ctx, which unblocks the reader, writer and heartbeat.
//   - close is idempotent.
type link struct {
	id   string
	conn Conn
	send chan []byte
	pong chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	cause error

	closeOnce sync.Once
}

func newLink(parent context.Context, conn Conn, queue int) *link {
	if queue <= 0 {
		queue = sendQueueSize
	}
	ctx, cancel := context.WithCancel(parent)
	return &link{
		id:     NewRandomHex(6),
		conn:   conn,
		send:   make(chan []byte, queue),
		pong:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// enqueue never blocks; a full queue drops the frame.
func (l *link) enqueue(b []byte) bool {
	select {
	case <-l.ctx.Done():
		return false
	case l.send <- b:
		return true
	default:
		return false
	}
}

func (l *link) fail(err error) {
	l.mu.Lock()
	if l.cause == nil {
		l.cause = err
	}
	l.mu.Unlock()
	l.cancel()
}

func (l *link) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

func (l *link) notePong() {
	select {
	case l.pong <- struct{}{}:
	default:
	}
}

func (l *link) drainPong() {
	select {
	case <-l.pong:
	default:
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		l.cancel()
		_ = l.conn.Close()
	})
}
