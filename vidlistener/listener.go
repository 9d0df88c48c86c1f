package vidlistener

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/livepeer/joy4/av"
	joy4rtmp "github.com/livepeer/joy4/format/rtmp"

	"github.com/livepeer/livehls/metrics"
)

var ErrBusy = errors.New("Another Stream Is Publishing")

// Publisher consumes one ingest until it ends.
type Publisher interface {
	Run(ctx context.Context, streamID string, src av.Demuxer) error
}

// VidListener accepts RTMP publishes and hands them to a Publisher, one at a
// time. A publish arriving while another is active is refused.
type VidListener struct {
	RtmpServer *joy4rtmp.Server
	Metrics    *metrics.Metrics

	mu     sync.Mutex
	active string
}

func getStreamIDFromPath(reqPath string) string {
	return strings.Trim(reqPath, "/")
}

// HandleRTMPPublish installs the publish handler. Publishes run under ctx.
func (s *VidListener) HandleRTMPPublish(ctx context.Context, pub Publisher) {
	s.RtmpServer.HandlePublish = func(conn *joy4rtmp.Conn) {
		glog.Infof("RTMP server got upstream")
		defer conn.Close()
		if err := s.publish(ctx, pub, conn.URL.Path, conn); err != nil {
			glog.Errorf("RTMP Stream Publish Error: %v", err)
		}
	}
}

func (s *VidListener) publish(ctx context.Context, pub Publisher, reqPath string, src av.Demuxer) error {
	streamID := getStreamIDFromPath(reqPath)
	s.mu.Lock()
	if s.active != "" {
		active := s.active
		s.mu.Unlock()
		glog.Errorf("Refusing %v, %v is publishing", streamID, active)
		return ErrBusy
	}
	s.active = streamID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = ""
		s.mu.Unlock()
	}()

	s.Metrics.IngestStarted()
	glog.Infof("Got RTMP Stream: %v", streamID)
	err := pub.Run(ctx, streamID, src)
	glog.Infof("RTMP Stream %v ended: %v", streamID, err)
	return err
}

// Active returns the ID of the stream being published, or "".
func (s *VidListener) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
