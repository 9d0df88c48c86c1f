// Package segname generates the file names of segments from templates and
// publishes files atomically.
package segname

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrTemplate = errors.New("bad name template")

// MaxWidth is the widest %Nd field; 10^18 still fits an int64.
const MaxWidth = 18

// Counter is a name generator that can be resumed from a name it produced.
type Counter interface {
	Format() string
	Next() string
	Increment() bool
	Parse(name string) bool
}

// Compile builds the counter for template: a Sequence when it uses %Nn or
// %Na fields, a Namer otherwise.
func Compile(template string) (Counter, error) {
	for i := 0; i < len(template); i++ {
		if template[i] != '%' {
			continue
		}
		j := i + 1
		for j < len(template) && template[j] >= '0' && template[j] <= '9' {
			j++
		}
		if j < len(template) && (template[j] == 'n' || template[j] == 'a') {
			return NewSequence(template)
		}
		if j < len(template) && template[j] == '%' && j == i+1 {
			i = j
		}
	}
	return New(template)
}

type field struct {
	lit   string
	width int
	value int64
}

// Namer renders names from a template of literal text and zero-padded
// decimal counters (%Nd). %% stands for a literal percent sign. The counters
// act as the digits of one number, the rightmost being least significant.
type Namer struct {
	template string
	fields   []field
	tail     string
	length   int
}

func templateErr(template string, pos int, msg string) error {
	return errors.Wrapf(ErrTemplate, "%s at offset %d of %q", msg, pos, template)
}

func New(template string) (*Namer, error) {
	n := &Namer{template: template}
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
			return nil, templateErr(template, pos, "missing field width")
		}
		width, err := strconv.Atoi(template[start:i])
		if err != nil || width > MaxWidth {
			return nil, templateErr(template, pos, "field width too large")
		}
		if width == 0 {
			return nil, templateErr(template, pos, "field width must be non-zero")
		}
		if i >= len(template) {
			return nil, templateErr(template, pos, "missing conversion character")
		}
		if template[i] != 'd' {
			return nil, templateErr(template, pos, "only legal conversion is %Nd")
		}
		i++
		n.fields = append(n.fields, field{lit: lit.String(), width: width})
		n.length += lit.Len() + width
		lit.Reset()
	}
	if len(n.fields) == 0 {
		return nil, templateErr(template, len(template), "no counter fields")
	}
	n.tail = lit.String()
	n.length += len(n.tail)
	return n, nil
}

// MustNew is New for templates known to be valid.
func MustNew(template string) *Namer {
	n, err := New(template)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Namer) Template() string { return n.template }

// Len is the length of every name the namer renders.
func (n *Namer) Len() int { return n.length }

func (n *Namer) Format() string {
	var b strings.Builder
	b.Grow(n.length)
	for _, f := range n.fields {
		b.WriteString(f.lit)
		s := strconv.FormatInt(f.value, 10)
		for i := len(s); i < f.width; i++ {
			b.WriteByte('0')
		}
		b.WriteString(s)
	}
	b.WriteString(n.tail)
	return b.String()
}

// Next returns the current name and advances the counters.
func (n *Namer) Next() string {
	name := n.Format()
	n.Increment()
	return name
}

func pow10(w int) int64 {
	p := int64(1)
	for ; w > 0; w-- {
		p *= 10
	}
	return p
}

// Increment advances the counters by one. It reports true when the most
// significant field wrapped, after which every field is zero again.
func (n *Namer) Increment() bool {
	for i := len(n.fields) - 1; i >= 0; i-- {
		f := &n.fields[i]
		f.value++
		if f.value < pow10(f.width) {
			return false
		}
		f.value = 0
	}
	return true
}

// Parse sets the counters from a name rendered by this template. It returns
// false, leaving the counters alone, when name does not match.
func (n *Namer) Parse(name string) bool {
	if len(name) != n.length {
		return false
	}
	values := make([]int64, len(n.fields))
	pos := 0
	for i, f := range n.fields {
		if name[pos:pos+len(f.lit)] != f.lit {
			return false
		}
		pos += len(f.lit)
		digits := name[pos : pos+f.width]
		for j := 0; j < len(digits); j++ {
			if digits[j] < '0' || digits[j] > '9' {
				return false
			}
		}
		v, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return false
		}
		values[i] = v
		pos += f.width
	}
	if name[pos:] != n.tail {
		return false
	}
	for i := range n.fields {
		n.fields[i].value = values[i]
	}
	return true
}
