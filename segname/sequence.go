package segname

import (
	"strconv"
	"strings"
)

const (
	symNum   = "0123456789"
	symAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type seqField struct {
	lit   string
	width int
}

// Sequence is a fixed-width radix counter spread over the fields of a
// template. %Nn fields use decimal digits and %Na fields use a-z then 0-9.
// All fields together form one number, most significant first, so a
// template may not mix the two symbol sets.
type Sequence struct {
	template string
	fields   []seqField
	tail     string
	sym      string
	digits   []int
	length   int
}

func NewSequence(template string) (*Sequence, error) {
	s := &Sequence{template: template}
	var lit strings.Builder
	for i := 0; i < len(template); {
		c := template[i]
		if c != '%' {
			lit.WriteByte(c)
			i++
			continue
		}
		pos := i
		i++
		if i < len(template) && template[i] == '%' {
			lit.WriteByte('%')
			i++
			continue
		}
		start := i
		for i < len(template) && template[i] >= '0' && template[i] <= '9' {
			i++
		}
		if i == start {
			return nil, templateErr(template, pos, "expected field length")
		}
		width, err := strconv.Atoi(template[start:i])
		if err != nil || width > 64 {
			return nil, templateErr(template, pos, "field length too large")
		}
		if i >= len(template) {
			return nil, templateErr(template, pos, "missing sequence type")
		}
		var sym string
		switch template[i] {
		case 'n':
			sym = symNum
		case 'a':
			sym = symAlnum
		default:
			return nil, templateErr(template, pos, "bad sequence type")
		}
		i++
		if s.sym != "" && s.sym != sym {
			return nil, templateErr(template, pos, "can't mix sequence types")
		}
		s.sym = sym
		s.fields = append(s.fields, seqField{lit: lit.String(), width: width})
		s.length += lit.Len() + width
		lit.Reset()
	}
	s.tail = lit.String()
	s.length += len(s.tail)

	n := 0
	for _, f := range s.fields {
		n += f.width
	}
	if n == 0 {
		return nil, templateErr(template, len(template), "no sequence fields")
	}
	s.digits = make([]int, n)
	return s, nil
}

func (s *Sequence) Len() int { return s.length }

// Radix is the number of symbols per digit.
func (s *Sequence) Radix() int { return len(s.sym) }

func (s *Sequence) Format() string {
	var b strings.Builder
	b.Grow(s.length)
	d := 0
	for _, f := range s.fields {
		b.WriteString(f.lit)
		for i := 0; i < f.width; i++ {
			b.WriteByte(s.sym[s.digits[d]])
			d++
		}
	}
	b.WriteString(s.tail)
	return b.String()
}

func (s *Sequence) Next() string {
	name := s.Format()
	s.Increment()
	return name
}

// Increment advances the sequence and reports whether it wrapped to zero.
func (s *Sequence) Increment() bool {
	radix := len(s.sym)
	for pos := len(s.digits) - 1; pos >= 0; pos-- {
		s.digits[pos]++
		if s.digits[pos] < radix {
			return false
		}
		s.digits[pos] = 0
	}
	return true
}

// Parse sets the sequence from a name it rendered. On mismatch it returns
// false and leaves the sequence unchanged.
func (s *Sequence) Parse(name string) bool {
	if len(name) != s.length {
		return false
	}
	digits := make([]int, len(s.digits))
	pos, d := 0, 0
	for _, f := range s.fields {
		if name[pos:pos+len(f.lit)] != f.lit {
			return false
		}
		pos += len(f.lit)
		for i := 0; i < f.width; i++ {
			v := strings.IndexByte(s.sym, name[pos])
			if v < 0 {
				return false
			}
			digits[d] = v
			pos++
			d++
		}
	}
	if name[pos:] != s.tail {
		return false
	}
	copy(s.digits, digits)
	return true
}

// Compare orders two sequences by value. Sequences of different lengths
// compare as if the shorter one had leading zero digits.
func (s *Sequence) Compare(o *Sequence) int {
	if len(o.digits) > len(s.digits) {
		return -o.Compare(s)
	}
	extra := len(s.digits) - len(o.digits)
	for _, v := range s.digits[:extra] {
		if v != 0 {
			return 1
		}
	}
	for i, v := range s.digits[extra:] {
		switch {
		case v < o.digits[i]:
			return -1
		case v > o.digits[i]:
			return 1
		}
	}
	return 0
}
