package playlist

import (
	"strconv"
	"strings"
)

// Attr is one KEY=VALUE pair of an attribute list. Quoted records whether the
// value was, or must be, written as a quoted string.
type Attr struct {
	Key    string
	Value  string
	Quoted bool
}

// AttrList is an ordered attribute list such as the payload of
// EXT-X-STREAM-INF or EXT-X-KEY.
type AttrList []Attr

func (l AttrList) Get(key string) (string, bool) {
	for _, a := range l {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func (l AttrList) Int(key string) (int64, bool) {
	v, ok := l.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set replaces the value of key, or appends it.
func (l *AttrList) Set(key, value string, quoted bool) {
	for i := range *l {
		if (*l)[i].Key == key {
			(*l)[i].Value, (*l)[i].Quoted = value, quoted
			return
		}
	}
	*l = append(*l, Attr{Key: key, Value: value, Quoted: quoted})
}

func (l AttrList) Clone() AttrList {
	if l == nil {
		return nil
	}
	c := make(AttrList, len(l))
	copy(c, l)
	return c
}

func (l AttrList) Equal(o AttrList) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i] != o[i] {
			return false
		}
	}
	return true
}

func (l AttrList) String() string {
	var b strings.Builder
	for i, a := range l {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.Key)
		b.WriteByte('=')
		if !a.Quoted {
			b.WriteString(a.Value)
			continue
		}
		b.WriteByte('"')
		for _, r := range a.Value {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
	}
	return b.String()
}

func isKeyChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || c == '-'
}

// ParseAttrs parses KEY=VALUE,KEY="VALUE",... Keys are upper-case letters and
// hyphens. A quoted value runs to the closing quote, with backslash escaping
// the character after it; an unquoted value runs to the next comma.
func ParseAttrs(s string) (AttrList, error) {
	var l AttrList
	i := 0
	for {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		start := i
		for i < len(s) && isKeyChar(s[i]) {
			i++
		}
		if i == start {
			return nil, errAttr("missing attribute name at %q", s[start:])
		}
		key := s[start:i]
		if i >= len(s) || s[i] != '=' {
			return nil, errAttr("missing '=' after %s", key)
		}
		i++

		a := Attr{Key: key}
		if i < len(s) && s[i] == '"' {
			i++
			var v strings.Builder
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					v.WriteByte(s[i+1])
					i += 2
					continue
				}
				i++
				if c == '"' {
					closed = true
					break
				}
				v.WriteByte(c)
			}
			if !closed {
				return nil, errAttr("missing closing quote for %s", key)
			}
			a.Value, a.Quoted = v.String(), true
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			a.Value = s[i : i+end]
			i += end
		}
		l = append(l, a)

		if i == len(s) {
			return l, nil
		}
		if s[i] != ',' {
			return nil, errAttr("missing ',' after %s", key)
		}
		i++
	}
}
