package playlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseError reports malformed playlist text.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("playlist: line %d: %s", e.Line, e.Msg)
}

var ErrNoHeader = errors.New("playlist: missing #EXTM3U")

func errAttr(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

type parseState int

const (
	stateInit parseState = iota
	stateHLS
	stateSegment
	stateVariant
	stateIgnore
)

func isTagChar(c byte) bool {
	return isKeyChar(c) || (c >= '0' && c <= '9')
}

type parser struct {
	pl      *Playlist
	state   parseState
	global  Context
	seg     *Segment
	variant *Variant
	line    int
}

func (ps *parser) fail(format string, args ...interface{}) error {
	return &ParseError{Line: ps.line, Msg: fmt.Sprintf(format, args...)}
}

// attrs parses the ":KEY=VALUE,..." tail of tag.
func (ps *parser) attrs(tag, rest string) (AttrList, error) {
	if !strings.HasPrefix(rest, ":") {
		return nil, ps.fail("missing attribute list after %s", tag)
	}
	l, err := ParseAttrs(strings.TrimLeft(rest[1:], " \t"))
	if err != nil {
		return nil, ps.fail("%s: %v", tag, err)
	}
	return l, nil
}

func (ps *parser) value(tag, rest string) (string, error) {
	if !strings.HasPrefix(rest, ":") {
		return "", ps.fail("missing value after %s", tag)
	}
	return rest[1:], nil
}

func (ps *parser) tag(tag, rest string) error {
	switch ps.state {
	case stateInit:
		if tag == "EXTM3U" {
			ps.state = stateHLS
		}
		return nil
	case stateVariant, stateIgnore:
		return nil
	case stateHLS:
		handled, err := ps.playlistTag(tag, rest)
		if handled || err != nil {
			return err
		}
	}
	return ps.segmentTag(tag, rest)
}

// playlistTag handles the tags valid between records. It reports false for
// tags left to segmentTag.
func (ps *parser) playlistTag(tag, rest string) (bool, error) {
	pl := ps.pl
	switch tag {
	case "EXT-X-MAP", "EXT-X-KEY":
		l, err := ps.attrs(tag, rest)
		if err != nil {
			return true, err
		}
		key := strings.TrimPrefix(tag, "EXT-X-")
		if method, _ := l.Get("METHOD"); key == ContextKey && method == "NONE" {
			delete(ps.global, key)
			break
		}
		ps.global[key] = l
	case "EXT-X-ALLOW-CACHE", "EXT-X-MEDIA-SEQUENCE", "EXT-X-PLAYLIST-TYPE",
		"EXT-X-TARGETDURATION", "EXT-X-VERSION":
		v, err := ps.value(tag, rest)
		if err != nil {
			return true, err
		}
		pl.Meta[strings.TrimPrefix(tag, "EXT-X-")] = v
	case "EXT-X-MEDIA", "EXT-X-I-FRAME-STREAM-INF":
		l, err := ps.attrs(tag, rest)
		if err != nil {
			return true, err
		}
		key := strings.TrimPrefix(tag, "EXT-X-")
		pl.Lists[key] = append(pl.Lists[key], l)
	case "EXT-X-I-FRAMES-ONLY":
		if rest != "" {
			return true, ps.fail("extra text after %s", tag)
		}
		pl.IFramesOnly = true
	case "EXT-X-ENDLIST":
		if rest != "" {
			return true, ps.fail("extra text after %s", tag)
		}
		pl.Closed = true
		ps.state = stateIgnore
	case "EXT-X-STREAM-INF":
		l, err := ps.attrs(tag, rest)
		if err != nil {
			return true, err
		}
		ps.variant = &Variant{StreamInf: l, Context: ps.global.Clone()}
		ps.state = stateVariant
	case "EXT-X-DISCONTINUITY":
		pl.Items = append(pl.Items, Discontinuity{})
	default:
		return false, nil
	}
	return true, nil
}

func (ps *parser) segmentTag(tag, rest string) error {
	if tag != "EXTINF" {
		// EXT-X-PROGRAM-DATE-TIME, EXT-X-BYTERANGE and unknown tags are dropped.
		return nil
	}
	v, err := ps.value(tag, rest)
	if err != nil {
		return err
	}
	dur, title := v, ""
	if i := strings.IndexByte(v, ','); i >= 0 {
		dur, title = v[:i], v[i+1:]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(dur), 64)
	if err != nil {
		return ps.fail("bad duration %q in %s", dur, tag)
	}
	if ps.seg == nil {
		ps.seg = &Segment{Context: ps.global.Clone()}
	}
	ps.seg.Duration, ps.seg.Title = d, title
	ps.state = stateSegment
	return nil
}

func (ps *parser) uri(uri string) {
	switch ps.state {
	case stateSegment:
		ps.seg.URI = uri
		ps.pl.Items = append(ps.pl.Items, ps.seg)
	case stateVariant:
		ps.variant.URI = uri
		ps.pl.Variants = append(ps.pl.Variants, ps.variant)
	case stateHLS:
		ps.pl.Variants = append(ps.pl.Variants, &Variant{URI: uri, Context: ps.global.Clone()})
	default:
		return
	}
	ps.seg, ps.variant = nil, nil
	ps.state = stateHLS
}

func (ps *parser) parseLine(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if text[0] != '#' {
		ps.uri(text)
		return nil
	}
	s := text[1:]
	if s == "" || !isKeyChar(s[0]) {
		return ps.fail("bad tag name")
	}
	i := 1
	for i < len(s) && isTagChar(s[i]) {
		i++
	}
	return ps.tag(s[:i], s[i:])
}

// Decode reads an M3U8 playlist from r.
func Decode(r io.Reader) (*Playlist, error) {
	ps := &parser{pl: New(), global: Context{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		ps.line++
		if err := ps.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "playlist: read")
	}
	if ps.state == stateInit {
		return nil, ErrNoHeader
	}
	return ps.pl, nil
}

// Parse parses playlist text.
func Parse(text string) (*Playlist, error) {
	return Decode(strings.NewReader(text))
}

// Load reads the playlist at path. A missing file yields an error satisfying
// os.IsNotExist.
func Load(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pl, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "playlist: load %s", path)
	}
	return pl, nil
}
