package session

import (
	"context"
	"io"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// MessageKind distinguishes the asynchronous messages a server pushes.
type MessageKind int

const (
	// KindNotification is a LISTEN/NOTIFY payload.
	KindNotification MessageKind = iota
	// KindNotice is an informational notice or warning.
	KindNotice
)

func (k MessageKind) String() string {
	switch k {
	case KindNotification:
		return "notification"
	case KindNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Message is one asynchronous message. Exactly one of Notification and
// Notice is set, according to Kind.
type Message struct {
	Kind         MessageKind
	Notification *pgconn.Notification
	Notice       *pgconn.Notice
}

// NotificationMessage wraps n in a Message.
func NotificationMessage(n *pgconn.Notification) Message {
	return Message{Kind: KindNotification, Notification: n}
}

// NoticeMessage wraps n in a Message.
func NoticeMessage(n *pgconn.Notice) Message {
	return Message{Kind: KindNotice, Notice: n}
}

// Stream yields the asynchronous messages of one session. Next returns io.EOF
// once the session has ended and every buffered message was returned, or
// another error if the stream failed.
type Stream interface {
	Next(ctx context.Context) (Message, error)
}

// Pipe is an unbounded in-memory Stream. Producers Push messages from
// callbacks that must never block, such as the pgx notification handlers.
type Pipe struct {
	mu     sync.Mutex
	queue  []Message
	err    error
	closed bool
	ready  chan struct{}
}

// NewPipe creates an empty open Pipe.
func NewPipe() *Pipe {
	return &Pipe{ready: make(chan struct{}, 1)}
}

// Push appends m. Messages pushed after Close are discarded.
func (p *Pipe) Push(m Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, m)
	p.mu.Unlock()
	p.signal()
}

// Close ends the stream. Buffered messages are still delivered, then Next
// returns err, or io.EOF when err is nil. Only the first call has effect.
func (p *Pipe) Close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if err == nil {
		err = io.EOF
	}
	p.err = err
	p.mu.Unlock()
	p.signal()
}

// Len returns the number of buffered messages.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Next implements Stream.
func (p *Pipe) Next(ctx context.Context) (Message, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			m := p.queue[0]
			p.queue[0] = Message{}
			p.queue = p.queue[1:]
			more := len(p.queue) > 0 || p.closed
			p.mu.Unlock()
			if more {
				p.signal()
			}
			return m, nil
		}
		if p.closed {
			err := p.err
			p.mu.Unlock()
			p.signal()
			return Message{}, err
		}
		p.mu.Unlock()

		select {
		case <-p.ready:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (p *Pipe) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}
