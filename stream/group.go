package stream

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// Sink is anything entries can be pushed into: a single Queue or a Group.
type Sink interface {
	Put(ctx context.Context, e Entry) error
	PutEOF(ctx context.Context) error
}

// Group fans one producer out to several queues. Each put lands in every
// member queue, in member order; a put blocks while any member is full.
type Group struct {
	lock   sync.Mutex
	queues []*Queue
}

func NewGroup(queues ...*Queue) *Group {
	return &Group{queues: queues}
}

// Add subscribes q to every subsequent put.
func (g *Group) Add(q *Queue) {
	g.lock.Lock()
	g.queues = append(g.queues, q)
	g.lock.Unlock()
}

func (g *Group) Queues() []*Queue {
	g.lock.Lock()
	defer g.lock.Unlock()
	qs := make([]*Queue, len(g.queues))
	copy(qs, g.queues)
	return qs
}

func (g *Group) Put(ctx context.Context, e Entry) error {
	for i, q := range g.Queues() {
		if err := q.Put(ctx, e); err != nil {
			glog.V(4).Infof("Group put stopped at member %v: %v", i, err)
			return err
		}
	}
	return nil
}

func (g *Group) PutEOF(ctx context.Context) error {
	return g.Put(ctx, EOFEntry())
}
