package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/livepeer/joy4/av"
)

// Kind tells what a queue carries. A queue takes the kind of the first
// real entry put into it and rejects every other kind afterwards.
type Kind int

const (
	KindUnknown Kind = iota
	KindPacket
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindFrame:
		return "frame"
	}
	return "unknown"
}

// Entry is one item travelling through a Queue: a demuxed packet, a decoded
// frame, or the end-of-stream marker.
type Entry struct {
	Kind     Kind
	Packet   av.Packet
	Frame    interface{}
	Duration time.Duration
	EOF      bool
}

func PacketEntry(pkt av.Packet, dur time.Duration) Entry {
	return Entry{Kind: KindPacket, Packet: pkt, Duration: dur}
}

func FrameEntry(frame interface{}, dts, dur time.Duration) Entry {
	return Entry{Kind: KindFrame, Frame: frame, Packet: av.Packet{Time: dts}, Duration: dur}
}

func EOFEntry() Entry {
	return Entry{EOF: true}
}

// ContractError is the panic value raised when a caller breaks a queue
// contract: putting after EOF, or mixing entry kinds.
type ContractError struct {
	Op  string
	Msg string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("stream: %s: %s", e.Op, e.Msg)
}

// Queue is a bounded FIFO. Put blocks while the queue is full and Get blocks
// while it is empty; both give up when their context is done.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	kind    Kind
	closed  bool // EOF enqueued
	eof     bool // EOF dequeued
	changed chan struct{}
	merger  *Merger
}

// NewQueue returns a queue holding at most size entries. Sizes below one
// are raised to one.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		entries: make([]Entry, 0, size),
		size:    size,
		changed: make(chan struct{}),
	}
}

// wake releases everyone parked on the current generation. Caller holds q.mu.
func (q *Queue) wake() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// wait parks until the queue changes or ctx is done. It is called with q.mu
// held and returns with q.mu held unless it returns an error.
func (q *Queue) wait(ctx context.Context) error {
	ch := q.changed
	q.mu.Unlock()
	select {
	case <-ch:
		q.mu.Lock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkPut panics on a contract violation. Caller holds q.mu; it is released
// before the panic.
func (q *Queue) checkPut(e Entry) {
	var cerr *ContractError
	switch {
	case q.closed:
		cerr = &ContractError{Op: "put", Msg: "queue already has EOF"}
	case e.EOF:
	case e.Kind == KindUnknown:
		cerr = &ContractError{Op: "put", Msg: "entry has no kind"}
	case q.kind != KindUnknown && q.kind != e.Kind:
		cerr = &ContractError{Op: "put", Msg: fmt.Sprintf("%v entry on a %v queue", e.Kind, q.kind)}
	}
	if cerr != nil {
		q.mu.Unlock()
		panic(cerr)
	}
}

// Put appends e, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, e Entry) error {
	q.mu.Lock()
	q.checkPut(e)
	for len(q.entries) >= q.size {
		if err := q.wait(ctx); err != nil {
			return err
		}
		q.checkPut(e)
	}
	if !e.EOF && q.kind == KindUnknown {
		q.kind = e.Kind
	}
	q.entries = append(q.entries, e)
	if e.EOF {
		q.closed = true
	}
	q.wake()
	m := q.merger
	q.mu.Unlock()

	if m != nil {
		m.signal()
	}
	return nil
}

// PutEOF enqueues the end-of-stream marker. Nothing may be put after it.
func (q *Queue) PutEOF(ctx context.Context) error {
	return q.Put(ctx, EOFEntry())
}

// pop removes the head. Caller holds q.mu and has checked the queue is not empty.
func (q *Queue) pop() (Entry, error) {
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	q.wake()
	if e.EOF {
		q.eof = true
		return Entry{}, io.EOF
	}
	return e, nil
}

// Get removes and returns the head entry, blocking while the queue is empty.
// Once the EOF marker has been taken Get returns io.EOF, now and on every
// later call.
func (q *Queue) Get(ctx context.Context) (Entry, error) {
	q.mu.Lock()
	for {
		if q.eof {
			q.mu.Unlock()
			return Entry{}, io.EOF
		}
		if len(q.entries) > 0 {
			break
		}
		if err := q.wait(ctx); err != nil {
			return Entry{}, err
		}
	}
	e, err := q.pop()
	q.mu.Unlock()
	return e, err
}

// take is the non-blocking Get used by a merger that has already seen a head.
func (q *Queue) take() (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false, nil
	}
	e, err := q.pop()
	return e, true, err
}

// Peek returns the head entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

type queueState struct {
	full bool
	eof  bool
	head Entry
	ok   bool
}

func (q *Queue) sample() queueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := queueState{full: len(q.entries) >= q.size, eof: q.eof}
	if len(q.entries) > 0 {
		st.head, st.ok = q.entries[0], true
	}
	return st
}

// Len is the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) Cap() int { return q.size }

// EOF reports whether the end-of-stream marker has been taken off the queue.
func (q *Queue) EOF() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eof
}

func (q *Queue) Kind() Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.kind
}
