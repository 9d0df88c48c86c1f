package core

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/livepeer/joy4/av"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/livehls/common"
	"github.com/livepeer/livehls/metrics"
	"github.com/livepeer/livehls/playlist"
	"github.com/livepeer/livehls/segmenter"
	"github.com/livepeer/livehls/stream"
)

var ErrNoTracks = errors.New("Ingest Has No Tracks")

// MuxerFactory returns a fresh segment muxer for each output.
type MuxerFactory func() segmenter.SegmentMuxer

func tsMuxer() segmenter.SegmentMuxer { return segmenter.NewTSMuxer() }

// Pipeline turns one ingest into every configured output. Each track of the
// ingest is fanned out to one queue per output, and each output merges its
// queues back into a single ordered stream for its segmenter.
type Pipeline struct {
	Config   *common.Config
	Metrics  *metrics.Metrics
	NewMuxer MuxerFactory
	Log      segmenter.Logger
}

func NewPipeline(conf *common.Config, m *metrics.Metrics) *Pipeline {
	return &Pipeline{Config: conf, Metrics: m, NewMuxer: tsMuxer}
}

// MasterManifest lists every output as a variant. Variant URIs are relative
// to the directory of the master playlist.
func (p *Pipeline) MasterManifest() (*playlist.Manifest, error) {
	base := filepath.Dir(p.Config.Master)
	mf := playlist.NewManifest(p.Config.Master)
	for _, o := range p.Config.Outputs {
		uri, err := filepath.Rel(base, filepath.Join(o.Prefix, o.Manifest))
		if err != nil {
			return nil, err
		}
		err = mf.AddVideoStream(o.Name, playlist.VariantParams{
			URI:        filepath.ToSlash(uri),
			Bandwidth:  o.Bandwidth,
			Resolution: o.Resolution,
			Codecs:     o.Codecs,
		})
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "variant %s", o.Name)
		}
	}
	return mf, nil
}

func (p *Pipeline) writeMaster() error {
	if p.Config.Master == "" {
		return nil
	}
	mf, err := p.MasterManifest()
	if err != nil {
		return err
	}
	return mf.GetManifest().Save(p.Config.Master)
}

func (p *Pipeline) segmenterOptions(o common.Output, streams []av.CodecData) segmenter.SegmenterOptions {
	return segmenter.SegmenterOptions{
		Name:        o.Name,
		Prefix:      o.Prefix,
		Manifest:    o.Manifest,
		Segment:     o.Segment,
		MinGOP:      o.MinGOP,
		MinWindow:   o.MinWindow,
		MaxSegments: o.MaxSegments,
		RetireDelay: o.RetireDelay,
		EndList:     o.EndList,
		Streams:     streams,
		Log:         p.Log,
	}
}

// Run segments src into every output until src ends or ctx is cancelled.
// The first failure of any output stops the others.
func (p *Pipeline) Run(ctx context.Context, id string, src av.Demuxer) error {
	streams, err := src.Streams()
	if err != nil {
		return pkgerrors.Wrap(err, "read stream header")
	}
	if len(streams) == 0 {
		return ErrNoTracks
	}
	if err := p.writeMaster(); err != nil {
		return pkgerrors.Wrap(err, "write master playlist")
	}

	groups := make([]*stream.Group, len(streams))
	sinks := make([]stream.Sink, len(streams))
	for i := range streams {
		groups[i] = stream.NewGroup()
		sinks[i] = groups[i]
	}

	segs := make([]*segmenter.Segmenter, len(p.Config.Outputs))
	mergers := make([]*stream.Merger, len(p.Config.Outputs))
	for i, o := range p.Config.Outputs {
		seg, err := segmenter.New(p.segmenterOptions(o, streams), p.NewMuxer(), p.Metrics)
		if err != nil {
			return pkgerrors.Wrapf(err, "output %s", o.Name)
		}
		segs[i] = seg
		mergers[i] = stream.NewMerger(stream.ByDTS)
		for _, grp := range groups {
			q := stream.NewQueue(p.Config.QueueSize)
			grp.Add(q)
			mergers[i].Add(q)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range segs {
		seg, merger := segs[i], mergers[i]
		g.Go(func() error { return seg.Run(gctx, merger) })
	}

	glog.Infof("Stream %v: segmenting %v tracks into %v outputs", id, len(streams), len(p.Config.Outputs))
	vs := stream.NewVideoStream(id, sinks)
	g.Go(func() error { return vs.WriteRTMPToStream(gctx, src) })
	return g.Wait()
}
