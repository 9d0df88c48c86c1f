package playlist

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/livepeer/m3u8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaText = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:17
#EXT-X-PLAYLIST-TYPE:EVENT
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example/k1",IV=0x1
#EXT-X-PROGRAM-DATE-TIME:2020-01-01T00:00:00Z
#EXTINF:4.004,first
live/000017.ts
#EXTINF:3.2,
live/000018.ts
#EXT-X-DISCONTINUITY
#EXT-X-KEY:METHOD=NONE
#EXTINF:4,
#EXT-X-BYTERANGE:100@0
live/000019.ts
#EXT-X-ENDLIST
trailing/ignored.ts
`

func TestParseMedia(t *testing.T) {
	pl, err := Parse(mediaText)
	require.NoError(t, err)

	assert.Equal(t, 3, pl.Version())
	assert.Equal(t, 4, pl.TargetDuration())
	assert.Equal(t, 17, pl.MediaSequence())
	assert.Equal(t, "EVENT", pl.Meta[MetaPlaylistType])
	assert.True(t, pl.IsClosed())
	require.Len(t, pl.Items, 4)
	assert.Equal(t, 3, pl.CountMedia())

	first := pl.Items[0].(*Segment)
	assert.Equal(t, "live/000017.ts", first.URI)
	assert.Equal(t, 4.004, first.Duration)
	assert.Equal(t, "first", first.Title)
	uri, _ := first.Context[ContextKey].Get("URI")
	assert.Equal(t, "https://keys.example/k1", uri)

	_, ok := pl.Items[2].(Discontinuity)
	assert.True(t, ok)
	last := pl.Items[3].(*Segment)
	assert.NotContains(t, last.Context, ContextKey, "METHOD=NONE ends the key")
	assert.Equal(t, "live/000019.ts", pl.LastSegment().URI)
}

const masterText = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="English",DEFAULT=YES
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=86000,URI="low/iframe.m3u8"
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2560000
mid/index.m3u8
plain/index.m3u8
`

func TestParseMaster(t *testing.T) {
	pl, err := Parse(masterText)
	require.NoError(t, err)

	require.Len(t, pl.Variants, 3)
	assert.Equal(t, int64(1280000), pl.Variants[0].Bandwidth())
	assert.Equal(t, "640x360", pl.Variants[0].Resolution())
	assert.Equal(t, "mid/index.m3u8", pl.Variants[1].URI)
	assert.Equal(t, "plain/index.m3u8", pl.Variants[2].URI)
	assert.Len(t, pl.Variants[2].StreamInf, 0)
	assert.Len(t, pl.Lists[ListMedia], 1)
	assert.Len(t, pl.Lists[ListIFrameStreamInf], 1)
	assert.Empty(t, pl.Items)
}

func TestRoundTrip(t *testing.T) {
	for _, text := range []string{mediaText, masterText} {
		pl, err := Parse(text)
		require.NoError(t, err)
		text, err := pl.Encode()
		require.NoError(t, err)
		again, err := Parse(string(text))
		require.NoError(t, err)
		assert.Equal(t, pl, again)
		assert.Equal(t, pl.String(), again.String())
	}
}

func TestRoundTripBuilt(t *testing.T) {
	pl := New()
	pl.SetVersion(3)
	pl.SetTargetDuration(2)
	mapCtx := Context{ContextMap: AttrList{{Key: "URI", Value: "init.mp4", Quoted: true}}}
	for i := 0; i < 6; i++ {
		s := seg(i, 1.5)
		s.Context = mapCtx.Clone()
		pl.PushSegment(s)
		if i == 2 {
			pl.PushDiscontinuity()
		}
	}
	pl.Retire(2)
	pl.Retired = nil

	text, err := pl.Encode()
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(text, []byte("#EXT-X-MAP:")))
	again, err := Parse(string(text))
	require.NoError(t, err)
	assert.Equal(t, pl, again)
}

func TestRoundTripKeyEnds(t *testing.T) {
	key := AttrList{{Key: "METHOD", Value: "AES-128"}, {Key: "URI", Value: "k", Quoted: true}}
	pl := New()
	pl.SetTargetDuration(2)
	a := seg(0, 2)
	a.Context = Context{ContextKey: key}
	pl.PushSegment(a)
	pl.PushSegment(seg(1, 2))
	c := seg(2, 2)
	c.Context = Context{ContextKey: key.Clone()}
	pl.PushSegment(c)

	text, err := pl.Encode()
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(text, []byte("#EXT-X-KEY:METHOD=NONE\n")))
	assert.Equal(t, 3, bytes.Count(text, []byte("#EXT-X-KEY:")))

	again, err := Parse(string(text))
	require.NoError(t, err)
	assert.Equal(t, pl, again)
	assert.Nil(t, again.Items[1].(*Segment).Context)
}

func TestEncodeRejectsClearedMap(t *testing.T) {
	pl := New()
	a := seg(0, 2)
	a.Context = Context{ContextMap: AttrList{{Key: "URI", Value: "init.mp4", Quoted: true}}}
	pl.PushSegment(a)
	pl.PushSegment(seg(1, 2))

	_, err := pl.Encode()
	assert.Equal(t, ErrMapCleared, err)
	assert.Equal(t, ErrMapCleared, pl.Save(filepath.Join(t.TempDir(), "index.m3u8")))
}

func TestWriteTo(t *testing.T) {
	pl := New()
	pl.SetTargetDuration(2)
	pl.PushSegment(seg(0, 2))

	var buf bytes.Buffer
	n, err := pl.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, pl.String(), buf.String())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		text string
		line int
	}{
		{"#EXTM3U\n#ext-x-version:3\n", 2},
		{"#EXTM3U\n# comment\n", 2},
		{"#EXTM3U\n#EXT-X-TARGETDURATION\n", 2},
		{"#EXTM3U\n\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\n", 3},
		{"#EXTM3U\n#EXT-X-KEY:METHOD\n", 2},
		{"#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=\"1\" RESOLUTION=2\n", 2},
		{"#EXTM3U\n#EXT-X-ENDLIST:now\n", 2},
		{"#EXTM3U\n#EXT-X-I-FRAMES-ONLY:YES\n", 2},
		{"#EXTM3U\n#EXTINF:abc,\nx.ts\n", 2},
		{"#EXTM3U\n#EXTINF\nx.ts\n", 2},
	}
	for _, c := range cases {
		_, err := Parse(c.text)
		perr, ok := err.(*ParseError)
		if !ok {
			t.Errorf("Expecting a ParseError for %q, got %v", c.text, err)
			continue
		}
		assert.Equal(t, c.line, perr.Line, c.text)
	}

	_, err := Parse("x.ts\n#EXTINF:1,\n")
	assert.Equal(t, ErrNoHeader, err)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live", "index.m3u8")

	_, err := Load(path)
	assert.True(t, os.IsNotExist(err))

	pl, err := Parse(mediaText)
	require.NoError(t, err)
	require.NoError(t, pl.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, pl, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n#EXT-X-VERSION\n"), 0644))
	_, err = Load(path)
	_, ok := errors.Cause(err).(*ParseError)
	assert.True(t, ok)
}

// The encoded output must be readable by an independent HLS client.
func TestEncodeDecodesWithM3U8(t *testing.T) {
	pl := New()
	pl.SetVersion(3)
	pl.SetTargetDuration(4)
	for i := 0; i < 5; i++ {
		pl.PushSegment(seg(i, 3.5))
	}
	pl.Retire(2)
	pl.SetClosed(true)

	text, err := pl.Encode()
	require.NoError(t, err)
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(text), true)
	require.NoError(t, err)
	require.Equal(t, m3u8.MEDIA, listType)
	mpl := p.(*m3u8.MediaPlaylist)
	assert.Equal(t, uint64(2), mpl.SeqNo)
	assert.Equal(t, uint(3), mpl.Count())
	assert.Equal(t, "seg2.ts", mpl.Segments[0].URI)
	assert.Equal(t, 3.5, mpl.Segments[0].Duration)
	assert.False(t, mpl.Live) // livepeer/m3u8 records #EXT-X-ENDLIST as Live=false

	m := NewManifest("master")
	require.NoError(t, m.AddVideoStream("a", VariantParams{URI: "a.m3u8", Bandwidth: 100000, Resolution: "320x240"}))
	text, err = m.GetManifest().Encode()
	require.NoError(t, err)
	p, listType, err = m3u8.DecodeFrom(bytes.NewReader(text), true)
	require.NoError(t, err)
	require.Equal(t, m3u8.MASTER, listType)
	master := p.(*m3u8.MasterPlaylist)
	require.Len(t, master.Variants, 1)
	assert.Equal(t, "a.m3u8", master.Variants[0].URI)
	assert.Equal(t, uint32(100000), master.Variants[0].Bandwidth)
}
