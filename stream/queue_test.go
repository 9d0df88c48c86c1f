package stream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/livepeer/joy4/av"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(ms int) Entry {
	return PacketEntry(av.Packet{Time: time.Duration(ms) * time.Millisecond, Data: []byte{byte(ms)}}, 0)
}

func TestQueuePutGetFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Put(ctx, pkt(i)))
	}
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, KindPacket, q.Kind())

	for i := 0; i < 4; i++ {
		e, err := q.Get(ctx)
		require.NoError(t, err)
		if e.Packet.Time != time.Duration(i)*time.Millisecond {
			t.Errorf("Expecting packet %v, got %v", i, e.Packet.Time)
		}
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := q.Put(ctx, pkt(i)); err != nil {
				t.Errorf("Put failed: %v", err)
				return
			}
		}
		q.PutEOF(ctx)
	}()

	n := 0
	for {
		assert.LessOrEqual(t, q.Len(), q.Cap())
		e, err := q.Get(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, time.Duration(n)*time.Millisecond, e.Packet.Time)
		n++
	}
	<-done
	assert.Equal(t, 50, n)
	assert.True(t, q.EOF())
}

func TestQueueEOFIsSticky(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(3)
	require.NoError(t, q.Put(ctx, pkt(1)))
	require.NoError(t, q.PutEOF(ctx))

	_, err := q.Get(ctx)
	require.NoError(t, err)
	assert.False(t, q.EOF())

	for i := 0; i < 3; i++ {
		_, err = q.Get(ctx)
		assert.Equal(t, io.EOF, err)
	}
	assert.True(t, q.EOF())
}

func TestQueuePeekDrain(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(8)
	for i := 0; i < 5; i++ {
		q.Put(ctx, pkt(i))
	}
	got := 0
	for {
		if _, ok := q.Peek(); !ok {
			break
		}
		q.Get(ctx)
		got++
	}
	assert.Equal(t, 5, got)
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)

	require.NoError(t, q.Put(context.Background(), pkt(0)))
	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel2()
	}()
	err = q.Put(ctx2, pkt(1))
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, q.Len())
}

func TestQueueFrames(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(4)
	require.NoError(t, q.Put(ctx, FrameEntry("picture", 80*time.Millisecond, 40*time.Millisecond)))
	assert.Equal(t, KindFrame, q.Kind())
	assert.Panics(t, func() { q.Put(ctx, pkt(1)) })
	q.PutEOF(ctx)

	e, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "picture", e.Frame)
	assert.Equal(t, 80*time.Millisecond, e.Packet.Time)
	assert.Equal(t, 40*time.Millisecond, e.Duration)
	_, err = q.Get(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestQueueContractViolations(t *testing.T) {
	ctx := context.Background()

	q := NewQueue(2)
	q.PutEOF(ctx)
	assert.PanicsWithError(t, "stream: put: queue already has EOF", func() { q.Put(ctx, pkt(1)) })

	q = NewQueue(2)
	q.Put(ctx, pkt(1))
	assert.Panics(t, func() { q.Put(ctx, FrameEntry(struct{}{}, 0, 0)) })

	q = NewQueue(2)
	assert.Panics(t, func() { q.Put(ctx, Entry{}) })

	// The queue stays usable after a rejected put.
	q.Put(ctx, pkt(2))
	assert.Equal(t, 1, q.Len())
}

func TestQueueSizeClamp(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1, q.Cap())
}

func TestGroupFanOut(t *testing.T) {
	ctx := context.Background()
	a, b, c := NewQueue(16), NewQueue(16), NewQueue(16)
	g := NewGroup(a, b)
	g.Add(c)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.Put(ctx, pkt(i)))
	}
	require.NoError(t, g.PutEOF(ctx))

	for _, q := range []*Queue{a, b, c} {
		var got []time.Duration
		for {
			e, err := q.Get(ctx)
			if err == io.EOF {
				break
			}
			got = append(got, e.Packet.Time)
		}
		require.Len(t, got, 10)
		for i, ts := range got {
			assert.Equal(t, time.Duration(i)*time.Millisecond, ts)
		}
	}
}

func TestGroupBlocksOnSlowestMember(t *testing.T) {
	ctx := context.Background()
	fast, slow := NewQueue(100), NewQueue(1)
	g := NewGroup(fast, slow)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			g.Put(ctx, pkt(i))
		}
		g.PutEOF(ctx)
	}()

	n := 0
	for {
		_, err := slow.Get(ctx)
		if err == io.EOF {
			break
		}
		n++
	}
	wg.Wait()
	assert.Equal(t, 20, n)
	assert.Equal(t, 21, fast.Len())
}
