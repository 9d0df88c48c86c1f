package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/livepeer/joy4/av"
	"github.com/livepeer/m3u8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/livehls/common"
	"github.com/livepeer/livehls/metrics"
	"github.com/livepeer/livehls/playlist"
	"github.com/livepeer/livehls/segmenter"
)

type fakeCodec struct{ typ av.CodecType }

func (c fakeCodec) Type() av.CodecType { return c.typ }

type fakeDemuxer struct {
	streams []av.CodecData
	packets []av.Packet
	err     error
}

func (d *fakeDemuxer) Streams() ([]av.CodecData, error) { return d.streams, d.err }

func (d *fakeDemuxer) ReadPacket() (av.Packet, error) {
	if len(d.packets) == 0 {
		return av.Packet{}, io.EOF
	}
	pkt := d.packets[0]
	d.packets = d.packets[1:]
	return pkt, nil
}

// avDemuxer yields secs seconds of 25fps video, keyframe every second, and
// 50 audio packets per second.
func avDemuxer(secs int) *fakeDemuxer {
	d := &fakeDemuxer{streams: []av.CodecData{fakeCodec{av.H264}, fakeCodec{av.AAC}}}
	for i := 0; i < secs*25; i++ {
		ts := time.Duration(i) * 40 * time.Millisecond
		d.packets = append(d.packets, av.Packet{Idx: 0, Time: ts, IsKeyFrame: i%25 == 0, Data: []byte{1}})
		d.packets = append(d.packets, av.Packet{Idx: 1, Time: ts, Data: []byte{2}})
		d.packets = append(d.packets, av.Packet{Idx: 1, Time: ts + 20*time.Millisecond, Data: []byte{2}})
	}
	return d
}

type memMuxer struct {
	path string
	n    int
}

func (m *memMuxer) Open(path string, streams []av.CodecData) error {
	if m.path != "" {
		return segmenter.ErrSegmentOpen
	}
	m.path, m.n = path, 0
	return nil
}

func (m *memMuxer) WritePacket(pkt av.Packet) error {
	m.n++
	return nil
}

func (m *memMuxer) Close() error {
	path := m.path
	m.path = ""
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{byte(m.n)}, 0644)
}

func testConfig(dir string) *common.Config {
	return &common.Config{
		Master:    filepath.Join(dir, "master.m3u8"),
		QueueSize: 8,
		Outputs: []common.Output{
			{Name: "hi", Prefix: filepath.Join(dir, "hi"), Manifest: "index.m3u8", Segment: "%6d.ts",
				MinGOP: 2 * time.Second, EndList: true, Bandwidth: 2000000, Resolution: "1280x720"},
			{Name: "lo", Prefix: filepath.Join(dir, "lo"), Manifest: "index.m3u8", Segment: "lo_%4a.ts",
				MinGOP: time.Second, MaxSegments: 3, EndList: true, Bandwidth: 500000},
		},
	}
}

func newTestPipeline(conf *common.Config) *Pipeline {
	p := NewPipeline(conf, metrics.New())
	p.NewMuxer = func() segmenter.SegmentMuxer { return &memMuxer{} }
	return p
}

func TestPipelineRun(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(testConfig(dir))

	require.NoError(t, p.Run(context.Background(), "movie", avDemuxer(6)))

	hi, err := playlist.Load(filepath.Join(dir, "hi", "index.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, 3, hi.CountMedia())
	assert.Equal(t, 6.0, hi.Duration())
	assert.True(t, hi.IsClosed())

	lo, err := playlist.Load(filepath.Join(dir, "lo", "index.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, 3, lo.CountMedia())
	assert.Equal(t, 3, lo.MediaSequence())
	assert.Equal(t, "lo_aaaf.ts", lo.LastSegment().URI)

	f, err := os.Open(filepath.Join(dir, "master.m3u8"))
	require.NoError(t, err)
	defer f.Close()
	pl, typ, err := m3u8.DecodeFrom(f, true)
	require.NoError(t, err)
	require.Equal(t, m3u8.MASTER, typ)
	master := pl.(*m3u8.MasterPlaylist)
	require.Len(t, master.Variants, 2)
	assert.Equal(t, "hi/index.m3u8", master.Variants[0].URI)
	assert.Equal(t, uint32(2000000), master.Variants[0].Bandwidth)
	assert.Equal(t, "lo/index.m3u8", master.Variants[1].URI)
}

func TestPipelineNoMaster(t *testing.T) {
	dir := t.TempDir()
	conf := testConfig(dir)
	conf.Master = ""
	p := newTestPipeline(conf)

	require.NoError(t, p.Run(context.Background(), "movie", avDemuxer(2)))
	_, err := os.Stat(filepath.Join(dir, "master.m3u8"))
	assert.True(t, os.IsNotExist(err))
}

func TestPipelineHeaderErrors(t *testing.T) {
	p := newTestPipeline(testConfig(t.TempDir()))

	boom := errors.New("boom")
	err := p.Run(context.Background(), "movie", &fakeDemuxer{err: boom})
	assert.True(t, errors.Is(err, boom))

	assert.Equal(t, ErrNoTracks, p.Run(context.Background(), "movie", &fakeDemuxer{}))
}

func TestPipelineBadOutput(t *testing.T) {
	conf := testConfig(t.TempDir())
	conf.Master = ""
	conf.Outputs[1].Segment = "static.ts"
	p := newTestPipeline(conf)

	err := p.Run(context.Background(), "movie", avDemuxer(1))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "output lo"))
}

func TestPipelineDuplicateVariant(t *testing.T) {
	conf := testConfig(t.TempDir())
	conf.Outputs[1].Bandwidth = conf.Outputs[0].Bandwidth
	conf.Outputs[1].Resolution = conf.Outputs[0].Resolution
	p := newTestPipeline(conf)

	_, err := p.MasterManifest()
	assert.Error(t, err)
}
