package segmenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/livepeer/joy4/av"
	pkgerrors "github.com/pkg/errors"

	"github.com/livepeer/livehls/metrics"
	"github.com/livepeer/livehls/playlist"
	"github.com/livepeer/livehls/segname"
	"github.com/livepeer/livehls/stream"
)

var ErrNoManifest = errors.New("Segmenter Needs A Manifest Path")
var ErrNoStreams = errors.New("Segmenter Needs Stream Parameters")

// DefaultRetireDelay is how many retired batches stay on disk before their
// files are deleted, giving clients that fetched an older playlist time to
// finish.
const DefaultRetireDelay = 4

// Logger receives the segmenter's diagnostics. The default writes to glog.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type glogLogger struct{}

func (glogLogger) Infof(format string, args ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
}

func (glogLogger) Warningf(format string, args ...interface{}) {
	glog.WarningDepth(1, fmt.Sprintf(format, args...))
}

func (glogLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf(format, args...))
}

type SegmenterOptions struct {
	Name     string // label for logs and metrics, defaults to Manifest
	Prefix   string // directory holding the manifest and the segments
	Manifest string // manifest file name under Prefix
	Segment  string // segment name template, see segname.Compile

	MinGOP         time.Duration // shortest segment; cuts happen on the next keyframe after it
	MinWindow      time.Duration // keep at least this much media in the playlist; zero keeps all
	MaxSegments    int           // keep at most this many segments; zero keeps all
	RetireDelay    int           // retired batches kept on disk, DefaultRetireDelay when zero
	TargetDuration int           // initial EXT-X-TARGETDURATION
	EndList        bool          // mark the playlist closed at end of input

	Streams []av.CodecData
	Log     Logger
}

// Source delivers the merged, time ordered packets of every track.
type Source interface {
	Pull(ctx context.Context) (stream.Entry, error)
}

// Segmenter cuts an ordered packet stream into segment files at keyframes
// and maintains the live playlist describing them.
type Segmenter struct {
	opts    SegmenterOptions
	mux     SegmentMuxer
	metrics *metrics.Metrics
	log     Logger
	namer   segname.Counter
	pl      *playlist.Playlist
	ref     int

	open     bool
	curName  string
	segStart time.Duration
	lastEnd  time.Duration
	dropped  int
}

// refTrack returns the index of the first video stream, or -1.
func refTrack(streams []av.CodecData) int {
	for i, s := range streams {
		if s != nil && s.Type().IsVideo() {
			return i
		}
	}
	return -1
}

func New(opts SegmenterOptions, mux SegmentMuxer, m *metrics.Metrics) (*Segmenter, error) {
	if opts.Manifest == "" {
		return nil, ErrNoManifest
	}
	if len(opts.Streams) == 0 {
		return nil, ErrNoStreams
	}
	namer, err := segname.Compile(opts.Segment)
	if err != nil {
		return nil, err
	}
	if opts.RetireDelay == 0 {
		opts.RetireDelay = DefaultRetireDelay
	}
	if opts.Name == "" {
		opts.Name = opts.Manifest
	}
	log := opts.Log
	if log == nil {
		log = glogLogger{}
	}
	return &Segmenter{
		opts:    opts,
		mux:     mux,
		metrics: m,
		log:     log,
		namer:   namer,
		ref:     refTrack(opts.Streams),
	}, nil
}

// Playlist is the live playlist. It belongs to the Run goroutine while Run
// is active.
func (s *Segmenter) Playlist() *playlist.Playlist {
	return s.pl
}

func (s *Segmenter) manifestPath() string {
	return segname.Prefix(s.opts.Manifest, s.opts.Prefix)
}

// resume loads the playlist of a previous run, if any, and continues its
// segment numbering after a discontinuity.
func (s *Segmenter) resume() error {
	path := s.manifestPath()
	pl, err := playlist.Load(path)
	if os.IsNotExist(err) {
		s.pl = playlist.New()
		s.pl.SetVersion(3)
		s.pl.SetTargetDuration(s.initialTarget())
		return nil
	}
	if err != nil {
		return err
	}

	if last := pl.LastSegment(); last != nil {
		if s.namer.Parse(last.URI) {
			s.namer.Increment()
		} else {
			s.log.Warningf("Segmenter %v: last segment %q does not match %q, numbering restarts", s.opts.Name, last.URI, s.opts.Segment)
		}
	}
	pl.PushDiscontinuity()
	pl.SetClosed(false)
	if pl.TargetDuration() < s.initialTarget() {
		pl.SetTargetDuration(s.initialTarget())
	}
	s.log.Infof("Segmenter %v: resuming %v with %v segments, next %v", s.opts.Name, path, pl.CountMedia(), s.namer.Format())
	s.pl = pl
	return nil
}

func (s *Segmenter) initialTarget() int {
	if s.opts.TargetDuration > 0 {
		return s.opts.TargetDuration
	}
	return int(math.Ceil(s.opts.MinGOP.Seconds()))
}

// Run segments everything src delivers. It returns nil once src reports
// io.EOF and the last segment is published.
func (s *Segmenter) Run(ctx context.Context, src Source) error {
	if err := s.resume(); err != nil {
		return err
	}
	s.metrics.OutputStarted()
	defer s.metrics.OutputStopped()

	for {
		e, err := src.Pull(ctx)
		if err == io.EOF {
			return s.finish()
		}
		if err != nil {
			if s.open {
				if ferr := s.closeSegment(s.lastEnd); ferr != nil {
					s.log.Errorf("Segmenter %v: flushing after %v: %v", s.opts.Name, err, ferr)
				}
			}
			return err
		}
		if err := s.writeEntry(e); err != nil {
			return err
		}
	}
}

func (s *Segmenter) writeEntry(e stream.Entry) error {
	if e.Kind != stream.KindPacket {
		return nil
	}
	pkt := e.Packet
	isRef := s.ref < 0 || (int(pkt.Idx) == s.ref && pkt.IsKeyFrame)

	switch {
	case !s.open && !isRef:
		s.dropped++
		if glog.V(2) {
			glog.Infof("Segmenter %v: dropping packet at %v before the first keyframe", s.opts.Name, pkt.Time)
		}
		return nil
	case !s.open:
		if err := s.openSegment(pkt.Time); err != nil {
			return err
		}
	case isRef && pkt.Time-s.segStart >= s.opts.MinGOP:
		if err := s.closeSegment(pkt.Time); err != nil {
			return err
		}
		if err := s.openSegment(pkt.Time); err != nil {
			return err
		}
	}

	if err := s.mux.WritePacket(pkt); err != nil {
		return pkgerrors.Wrapf(err, "write packet to %s", s.curName)
	}
	s.metrics.PacketWritten(s.opts.Name)
	if end := pkt.Time + e.Duration; end > s.lastEnd {
		s.lastEnd = end
	}
	return nil
}

func (s *Segmenter) openSegment(start time.Duration) error {
	name := s.namer.Next()
	if err := s.mux.Open(segname.Prefix(name, s.opts.Prefix), s.opts.Streams); err != nil {
		return pkgerrors.Wrapf(err, "open segment %s", name)
	}
	s.open = true
	s.curName = name
	s.segStart = start
	return nil
}

// closeSegment finishes the open segment at end, adds it to the playlist,
// trims the window and persists the playlist.
func (s *Segmenter) closeSegment(end time.Duration) error {
	s.open = false
	if err := s.mux.Close(); err != nil {
		return pkgerrors.Wrapf(err, "close segment %s", s.curName)
	}

	dur := (end - s.segStart).Seconds()
	if dur < 0 {
		dur = 0
	}
	s.pl.PushSegment(&playlist.Segment{URI: s.curName, Duration: dur})
	if target := int(math.Ceil(dur)); target > s.pl.TargetDuration() {
		s.pl.SetTargetDuration(target)
	}
	s.metrics.SegmentPublished(s.opts.Name, dur)

	retired := s.pl.Rotate(s.opts.MaxSegments)
	retired += s.pl.Expire(s.opts.MinWindow.Seconds())
	s.metrics.SegmentsRetired(s.opts.Name, retired)

	if err := s.save(); err != nil {
		return err
	}
	s.cleanup()
	return nil
}

func (s *Segmenter) save() error {
	if err := s.pl.Save(s.manifestPath()); err != nil {
		s.log.Errorf("Segmenter %v: cannot write manifest: %v", s.opts.Name, err)
		return err
	}
	s.metrics.ManifestWritten(s.opts.Name)
	return nil
}

// cleanup deletes the files of retired batches older than the retire delay.
// Failures are logged and skipped.
func (s *Segmenter) cleanup() {
	for s.pl.RetiredBatches() > s.opts.RetireDelay {
		for _, it := range s.pl.PopRetired() {
			seg, ok := it.(*playlist.Segment)
			if !ok {
				continue
			}
			path := segname.Prefix(seg.URI, s.opts.Prefix)
			if err := os.Remove(path); err != nil {
				s.log.Warningf("Segmenter %v: cannot delete %v: %v", s.opts.Name, path, err)
				s.metrics.CleanupFailed(s.opts.Name)
			}
		}
	}
}

func (s *Segmenter) finish() error {
	if s.opts.EndList {
		s.pl.SetClosed(true)
	}
	if s.open {
		if err := s.closeSegment(s.lastEnd); err != nil {
			return err
		}
	} else if err := s.save(); err != nil {
		return err
	}
	s.log.Infof("Segmenter %v: finished with %v segments in the window, %v packets dropped", s.opts.Name, s.pl.CountMedia(), s.dropped)
	return nil
}
