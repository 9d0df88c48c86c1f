package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/livepeer/joy4/av"
)

var ErrDroppedRTMPStream = errors.New("RTMP Stream Stopped Without EOF")
var ErrNoSinks = errors.New("Stream Has No Sinks")

// VideoStream carries one ingest into per-track sinks. Sinks is indexed by
// av.Packet.Idx; packets for a track without a sink are dropped.
type VideoStream struct {
	StreamID string
	Sinks    []Sink

	held    []*av.Packet
	lastDur []time.Duration
}

func NewVideoStream(id string, sinks []Sink) *VideoStream {
	return &VideoStream{StreamID: id, Sinks: sinks}
}

func (s *VideoStream) GetStreamID() string {
	return s.StreamID
}

// WriteRTMPToStream reads packets from src until it is exhausted, routing each
// one to the sink of its track. Every packet is held back until the next one
// on the same track arrives, so that it can be stamped with its duration.
// When src ends, or fails, the held packets are flushed and every sink gets
// EOF. Cancelling ctx stops the copy without EOF.
func (s *VideoStream) WriteRTMPToStream(ctx context.Context, src av.Demuxer) error {
	if len(s.Sinks) == 0 {
		return ErrNoSinks
	}
	s.held = make([]*av.Packet, len(s.Sinks))
	s.lastDur = make([]time.Duration, len(s.Sinks))

	c := make(chan error, 1)
	go func() {
		c <- func() error {
			for {
				packet, err := src.ReadPacket()
				if err == io.EOF {
					return s.finish(ctx, nil)
				} else if err != nil {
					return s.finish(ctx, err)
				} else if len(packet.Data) == 0 {
					return s.finish(ctx, ErrDroppedRTMPStream)
				}

				if err := s.route(ctx, packet); err != nil {
					return err
				}
			}
		}()
	}()

	select {
	case <-ctx.Done():
		glog.Infof("Finished writing RTMP to Stream %v", s.StreamID)
		return ctx.Err()
	case err := <-c:
		return err
	}
}

func (s *VideoStream) route(ctx context.Context, pkt av.Packet) error {
	idx := int(pkt.Idx)
	if idx < 0 || idx >= len(s.Sinks) || s.Sinks[idx] == nil {
		glog.V(4).Infof("Stream %v: dropping packet for track %v", s.StreamID, idx)
		return nil
	}
	if prev := s.held[idx]; prev != nil {
		dur := pkt.Time - prev.Time
		if dur < 0 {
			dur = 0
		}
		s.lastDur[idx] = dur
		if err := s.Sinks[idx].Put(ctx, PacketEntry(*prev, dur)); err != nil {
			return err
		}
	}
	s.held[idx] = &pkt
	return nil
}

// finish flushes held packets and ends every sink. cause is returned unless
// flushing itself fails.
func (s *VideoStream) finish(ctx context.Context, cause error) error {
	if cause != nil {
		glog.Errorf("Stream %v ended: %v", s.StreamID, cause)
	}
	for idx, sink := range s.Sinks {
		if sink == nil {
			continue
		}
		if prev := s.held[idx]; prev != nil {
			if err := sink.Put(ctx, PacketEntry(*prev, s.lastDur[idx])); err != nil {
				return err
			}
			s.held[idx] = nil
		}
		if err := sink.PutEOF(ctx); err != nil {
			return err
		}
	}
	return cause
}
