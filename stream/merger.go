package stream

import (
	"context"
	"io"
	"sync"
)

// Comparator orders two entries: negative when a must come first, positive
// when b must, zero when either will do.
type Comparator func(a, b *Entry) int

// ByDTS orders entries by decode timestamp, lowest first.
func ByDTS(a, b *Entry) int {
	switch {
	case a.Packet.Time < b.Packet.Time:
		return -1
	case a.Packet.Time > b.Packet.Time:
		return 1
	}
	return 0
}

// Merger drains a set of queues as one stream ordered by its comparator.
//
// An entry is released only when every queue has either a head entry or has
// reached EOF, so the released entry is the global minimum. The exception is
// a full queue: then the best visible entry is released at once so that no
// producer stays blocked. Under that kind of backpressure the output may be
// locally out of order.
//
// The merger must be the only consumer of its queues.
type Merger struct {
	cmp     Comparator
	mu      sync.Mutex
	queues  []*Queue
	start   int
	changed chan struct{}
}

func NewMerger(cmp Comparator) *Merger {
	if cmp == nil {
		cmp = ByDTS
	}
	return &Merger{cmp: cmp, changed: make(chan struct{})}
}

// Add attaches q. A queue can belong to one merger only.
func (m *Merger) Add(q *Queue) {
	q.mu.Lock()
	if q.merger != nil && q.merger != m {
		q.mu.Unlock()
		panic(&ContractError{Op: "merge", Msg: "queue already belongs to a merger"})
	}
	q.merger = m
	q.mu.Unlock()

	m.mu.Lock()
	m.queues = append(m.queues, q)
	m.mu.Unlock()
	m.signal()
}

// Remove detaches q; its remaining entries stay in q.
func (m *Merger) Remove(q *Queue) {
	m.mu.Lock()
	for i, mq := range m.queues {
		if mq == q {
			m.queues = append(m.queues[:i], m.queues[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	q.mu.Lock()
	if q.merger == m {
		q.merger = nil
	}
	q.mu.Unlock()
	m.signal()
}

// Empty detaches every queue.
func (m *Merger) Empty() {
	m.mu.Lock()
	qs := m.queues
	m.queues = nil
	m.mu.Unlock()

	for _, q := range qs {
		q.mu.Lock()
		if q.merger == m {
			q.merger = nil
		}
		q.mu.Unlock()
	}
	m.signal()
}

func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

func (m *Merger) signal() {
	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

// better reports whether cand should replace best. Real data always beats a
// pending EOF marker.
func (m *Merger) better(cand, best *Entry) bool {
	if best.EOF {
		return !cand.EOF
	}
	if cand.EOF {
		return false
	}
	return m.cmp(best, cand) > 0
}

// pull makes one non-blocking attempt. Caller holds m.mu.
func (m *Merger) pull() (Entry, bool, error) {
	n := len(m.queues)
	if n == 0 {
		return Entry{}, false, io.EOF
	}

	for {
		m.start = (m.start + 1) % n

		var (
			best                *Queue
			bestHead            Entry
			nfull, nready, neof int
		)
		for i := 0; i < n; i++ {
			q := m.queues[(m.start+i)%n]
			st := q.sample()
			if st.full {
				nfull++
			}
			if st.eof {
				neof++
			}
			if !st.ok {
				continue
			}
			nready++
			if best == nil || m.better(&st.head, &bestHead) {
				best, bestHead = q, st.head
			}
		}

		if best != nil && (nfull > 0 || nready+neof == n) {
			e, ok, err := best.take()
			if err == io.EOF || !ok {
				// Took an EOF marker (or lost the head); look again.
				continue
			}
			return e, true, nil
		}
		if neof == n {
			return Entry{}, false, io.EOF
		}
		return Entry{}, false, nil
	}
}

// TryPull returns the next entry if one may be released now. It returns
// io.EOF once every queue has reached end of stream.
func (m *Merger) TryPull() (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pull()
}

// Pull blocks until an entry can be released, every queue has reached EOF
// (io.EOF), or ctx is done.
func (m *Merger) Pull(ctx context.Context) (Entry, error) {
	for {
		m.mu.Lock()
		ch := m.changed
		e, ok, err := m.pull()
		m.mu.Unlock()
		if err != nil {
			return Entry{}, err
		}
		if ok {
			return e, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}
