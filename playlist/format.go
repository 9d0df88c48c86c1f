package playlist

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"strconv"

	"github.com/livepeer/livehls/segname"
)

// ErrMapCleared is returned when a record without EXT-X-MAP follows one with
// it. HLS has no tag that ends a MAP, so the playlist cannot be written.
var ErrMapCleared = errors.New("playlist: EXT-X-MAP cannot be cleared")

var metaOrder = []string{MetaVersion, MetaTargetDuration, MetaMediaSequence, MetaPlaylistType, MetaAllowCache}
var listOrder = []string{ListMedia, ListIFrameStreamInf}
var contextOrder = []string{ContextMap, ContextKey}

// ordered returns all with the known keys first, in known order, and the
// rest sorted.
func ordered(known []string, all []string) []string {
	present := make(map[string]bool, len(all))
	for _, k := range all {
		present[k] = true
	}
	var keys []string
	for _, k := range known {
		if present[k] {
			keys = append(keys, k)
			delete(present, k)
		}
	}
	var extra []string
	for k := range present {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

type encoder struct {
	buf     bytes.Buffer
	running Context
}

func (e *encoder) line(parts ...string) {
	for _, p := range parts {
		e.buf.WriteString(p)
	}
	e.buf.WriteByte('\n')
}

// context emits the MAP/KEY tags whose attributes differ from those already
// in force. A KEY that is no longer in force is ended with METHOD=NONE.
func (e *encoder) context(c Context) error {
	if len(e.running[ContextMap]) > 0 && len(c[ContextMap]) == 0 {
		return ErrMapCleared
	}
	if len(e.running[ContextKey]) > 0 && len(c[ContextKey]) == 0 {
		e.line("#EXT-X-KEY:METHOD=NONE")
		delete(e.running, ContextKey)
	}
	var all []string
	for k := range c {
		all = append(all, k)
	}
	for _, k := range ordered(contextOrder, all) {
		if prev, ok := e.running[k]; ok && prev.Equal(c[k]) {
			continue
		}
		e.line("#EXT-X-", k, ":", c[k].String())
		if e.running == nil {
			e.running = Context{}
		}
		e.running[k] = c[k].Clone()
	}
	return nil
}

func formatDuration(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// Encode renders the playlist as M3U8 text.
func (p *Playlist) Encode() ([]byte, error) {
	e := &encoder{}
	e.line("#EXTM3U")

	var metaKeys []string
	for k := range p.Meta {
		metaKeys = append(metaKeys, k)
	}
	for _, k := range ordered(metaOrder, metaKeys) {
		e.line("#EXT-X-", k, ":", p.Meta[k])
	}
	if p.IFramesOnly {
		e.line("#EXT-X-I-FRAMES-ONLY")
	}

	var listKeys []string
	for k, l := range p.Lists {
		if len(l) > 0 {
			listKeys = append(listKeys, k)
		}
	}
	for _, k := range ordered(listOrder, listKeys) {
		for _, l := range p.Lists[k] {
			e.line("#EXT-X-", k, ":", l.String())
		}
	}

	for _, v := range p.Variants {
		if err := e.context(v.Context); err != nil {
			return nil, err
		}
		if len(v.StreamInf) > 0 {
			e.line("#EXT-X-STREAM-INF:", v.StreamInf.String())
		}
		e.line(v.URI)
	}

	for _, it := range p.Items {
		switch it := it.(type) {
		case Discontinuity:
			e.line("#EXT-X-DISCONTINUITY")
		case *Segment:
			if err := e.context(it.Context); err != nil {
				return nil, err
			}
			e.line("#EXTINF:", formatDuration(it.Duration), ",", it.Title)
			e.line(it.URI)
		}
	}

	if p.Closed {
		e.line("#EXT-X-ENDLIST")
	}
	return e.buf.Bytes(), nil
}

// String is the encoded playlist, or the encoding error text.
func (p *Playlist) String() string {
	b, err := p.Encode()
	if err != nil {
		return err.Error()
	}
	return string(b)
}

// WriteTo writes the encoded playlist to w.
func (p *Playlist) WriteTo(w io.Writer) (int64, error) {
	b, err := p.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Save writes the playlist to path through a temporary file, so that readers
// only ever see a complete playlist.
func (p *Playlist) Save(path string) error {
	b, err := p.Encode()
	if err != nil {
		return err
	}
	return segname.WriteFile(path, b)
}
