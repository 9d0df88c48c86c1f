// Package playlist models an HLS playlist in memory and converts it to and
// from M3U8 text.
package playlist

import (
	"math"
	"strconv"
)

// Meta keys for the scalar tags, named after the tag without its EXT-X- prefix.
const (
	MetaVersion        = "VERSION"
	MetaTargetDuration = "TARGETDURATION"
	MetaMediaSequence  = "MEDIA-SEQUENCE"
	MetaPlaylistType   = "PLAYLIST-TYPE"
	MetaAllowCache     = "ALLOW-CACHE"
)

// Lists keys for tags that may repeat.
const (
	ListMedia           = "MEDIA"
	ListIFrameStreamInf = "I-FRAME-STREAM-INF"
)

// Context keys for the single attribute list tags that apply to the records
// following them.
const (
	ContextMap = "MAP"
	ContextKey = "KEY"
)

// Item is an entry of the media list: a *Segment or a Discontinuity.
type Item interface {
	isItem()
}

type Segment struct {
	URI      string
	Duration float64
	Title    string
	Context  Context
}

func (*Segment) isItem() {}

// Discontinuity marks a break in the timeline between its neighbours.
type Discontinuity struct{}

func (Discontinuity) isItem() {}

// Variant is a media playlist referenced from a master playlist.
type Variant struct {
	URI       string
	StreamInf AttrList
	Context   Context
}

func (v *Variant) Bandwidth() int64 {
	n, _ := v.StreamInf.Int("BANDWIDTH")
	return n
}

func (v *Variant) ProgramID() int64 {
	n, _ := v.StreamInf.Int("PROGRAM-ID")
	return n
}

func (v *Variant) Resolution() string {
	r, _ := v.StreamInf.Get("RESOLUTION")
	return r
}

// Context holds the EXT-X-MAP and EXT-X-KEY attributes in force for a record.
type Context map[string]AttrList

func (c Context) Clone() Context {
	if len(c) == 0 {
		return nil
	}
	n := make(Context, len(c))
	for k, v := range c {
		n[k] = v.Clone()
	}
	return n
}

func (c Context) Equal(o Context) bool {
	if len(c) != len(o) {
		return false
	}
	for k, v := range c {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Playlist is a media or master playlist. Items holds the live window,
// Retired the batches removed from it that still have files on disk.
type Playlist struct {
	Meta        map[string]string
	Lists       map[string][]AttrList
	IFramesOnly bool
	Items       []Item
	Variants    []*Variant
	Retired     [][]Item
	Closed      bool
}

func New() *Playlist {
	return &Playlist{
		Meta:  make(map[string]string),
		Lists: make(map[string][]AttrList),
	}
}

func (p *Playlist) PushSegment(s *Segment) {
	p.Items = append(p.Items, s)
}

// PushDiscontinuity appends a marker unless the list is empty or already ends
// with one. It reports whether a marker was added.
func (p *Playlist) PushDiscontinuity() bool {
	if len(p.Items) == 0 {
		return false
	}
	if _, ok := p.Items[len(p.Items)-1].(Discontinuity); ok {
		return false
	}
	p.Items = append(p.Items, Discontinuity{})
	return true
}

func (p *Playlist) PushVariant(v *Variant) {
	p.Variants = append(p.Variants, v)
}

// LastSegment returns the newest segment, or nil.
func (p *Playlist) LastSegment() *Segment {
	for i := len(p.Items) - 1; i >= 0; i-- {
		if s, ok := p.Items[i].(*Segment); ok {
			return s
		}
	}
	return nil
}

func (p *Playlist) CountMedia() int {
	n := 0
	for _, it := range p.Items {
		if _, ok := it.(*Segment); ok {
			n++
		}
	}
	return n
}

// Retire removes the n oldest segments, and the markers around them, from the
// window. The removed items are queued as one batch in Retired and the media
// sequence advances by the number of segments removed, which is returned.
func (p *Playlist) Retire(n int) int {
	if n <= 0 {
		return 0
	}
	todo := n
	i := 0
	for ; i < len(p.Items); i++ {
		if _, ok := p.Items[i].(*Segment); ok {
			if todo == 0 {
				break
			}
			todo--
		}
	}
	if i == 0 {
		return 0
	}

	batch := make([]Item, i)
	copy(batch, p.Items[:i])
	p.Items = append([]Item(nil), p.Items[i:]...)
	p.Retired = append(p.Retired, batch)

	removed := n - todo
	p.SetMediaSequence(p.MediaSequence() + removed)
	return removed
}

// Rotate retires the oldest segments beyond max. A max below one keeps
// everything.
func (p *Playlist) Rotate(max int) int {
	if max <= 0 {
		return 0
	}
	if excess := p.CountMedia() - max; excess > 0 {
		return p.Retire(excess)
	}
	return 0
}

// Duration is the total duration of the window in seconds.
func (p *Playlist) Duration() float64 {
	var d float64
	for _, it := range p.Items {
		if s, ok := it.(*Segment); ok {
			d += s.Duration
		}
	}
	return d
}

// Expire keeps the shortest tail of the window lasting at least min seconds
// and retires every segment before it. A zero or non-finite min keeps
// everything.
func (p *Playlist) Expire(min float64) int {
	if min <= 0 || math.IsNaN(min) || math.IsInf(min, 0) {
		return 0
	}
	elapsed := 0.0
	pos := len(p.Items)
	reached := false
	for pos > 0 {
		pos--
		s, ok := p.Items[pos].(*Segment)
		if !ok {
			continue
		}
		elapsed += s.Duration
		if elapsed >= min {
			reached = true
			break
		}
	}
	if !reached {
		return 0
	}

	n := 0
	for _, it := range p.Items[:pos] {
		if _, ok := it.(*Segment); ok {
			n++
		}
	}
	return p.Retire(n)
}

// SetClosed sets the end-of-list flag and returns its previous value.
func (p *Playlist) SetClosed(closed bool) bool {
	prev := p.Closed
	p.Closed = closed
	return prev
}

func (p *Playlist) IsClosed() bool { return p.Closed }

func (p *Playlist) metaInt(key string) int {
	n, err := strconv.Atoi(p.Meta[key])
	if err != nil {
		return 0
	}
	return n
}

func (p *Playlist) MediaSequence() int { return p.metaInt(MetaMediaSequence) }

func (p *Playlist) setMetaInt(key string, n int) {
	if p.Meta == nil {
		p.Meta = make(map[string]string)
	}
	p.Meta[key] = strconv.Itoa(n)
}

func (p *Playlist) SetMediaSequence(n int) { p.setMetaInt(MetaMediaSequence, n) }

func (p *Playlist) TargetDuration() int { return p.metaInt(MetaTargetDuration) }

func (p *Playlist) SetTargetDuration(n int) { p.setMetaInt(MetaTargetDuration, n) }

func (p *Playlist) Version() int { return p.metaInt(MetaVersion) }

func (p *Playlist) SetVersion(n int) { p.setMetaInt(MetaVersion, n) }

func (p *Playlist) RetiredBatches() int { return len(p.Retired) }

// PopRetired removes and returns the oldest retired batch, or nil.
func (p *Playlist) PopRetired() []Item {
	if len(p.Retired) == 0 {
		return nil
	}
	b := p.Retired[0]
	p.Retired[0] = nil
	p.Retired = p.Retired[1:]
	return b
}
