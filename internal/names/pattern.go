package names

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// ErrInvalidPattern means a filename pattern could not be parsed.
var ErrInvalidPattern = errors.New("invalid filename pattern")

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentSlot
	segmentEnum
)

type segment struct {
	kind segmentKind
	text string   // literal text
	slot int      // slot index
	alts []string // enumeration alternatives
}

// PatternEntry is a parsed filename template.
//
// Syntax:
//   - {0} is the base name from the file list, {n} (n >= 1) is column n-1
//     of the current theater row
//   - [1-3] and [01-99] are numeric ranges, zero padded to the width of the
//     range's first bound
//   - [a-d] is a character range
//   - [tem,sno] lists substring alternatives, [abc] lists characters
//   - everything else is literal
type PatternEntry struct {
	Source      string
	Description string // template using the same slots; {0} is the base description

	segments []segment
	maxSlot  int
}

// ParsePattern parses src. Duplicate alternatives inside one enumeration are
// reported as warnings; the first occurrence is kept.
func ParsePattern(src string) (PatternEntry, []string, error) {
	p := PatternEntry{Source: src, maxSlot: -1}
	var warnings []string
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			p.segments = append(p.segments, segment{kind: segmentLiteral, text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return PatternEntry{}, nil, fmt.Errorf("%w: unterminated slot in %q", ErrInvalidPattern, src)
			}
			n, err := strconv.Atoi(src[i+1 : i+end])
			if err != nil || n < 0 {
				return PatternEntry{}, nil, fmt.Errorf("%w: bad slot %q in %q", ErrInvalidPattern, src[i:i+end+1], src)
			}
			flush()
			p.segments = append(p.segments, segment{kind: segmentSlot, slot: n})
			p.maxSlot = max(p.maxSlot, n)
			i += end

		case '[':
			end := strings.IndexByte(src[i:], ']')
			if end < 0 {
				return PatternEntry{}, nil, fmt.Errorf("%w: unterminated enumeration in %q", ErrInvalidPattern, src)
			}
			alts, warn, err := parseEnumeration(src[i+1 : i+end])
			if err != nil {
				return PatternEntry{}, nil, fmt.Errorf("%w: %w in %q", ErrInvalidPattern, err, src)
			}
			if warn != "" {
				warnings = append(warnings, fmt.Sprintf("%s in %q", warn, src))
			}
			flush()
			p.segments = append(p.segments, segment{kind: segmentEnum, alts: alts})
			i += end

		case ']', '}':
			return PatternEntry{}, nil, fmt.Errorf("%w: unbalanced %q in %q", ErrInvalidPattern, c, src)

		default:
			lit.WriteByte(c)
		}
	}
	flush()

	return p, warnings, nil
}

// MustParsePattern is ParsePattern for patterns known to be valid.
func MustParsePattern(src string) PatternEntry {
	p, _, err := ParsePattern(src)
	if err != nil {
		panic(err)
	}
	return p
}

func parseEnumeration(body string) ([]string, string, error) {
	if body == "" {
		return nil, "", errors.New("empty enumeration")
	}

	var alts []string
	switch {
	case strings.Contains(body, ","):
		alts = strings.Split(body, ",")

	case isNumericRange(body):
		from, to, _ := strings.Cut(body, "-")
		lo, _ := strconv.Atoi(from)
		hi, _ := strconv.Atoi(to)
		if lo > hi {
			return nil, "", fmt.Errorf("descending range [%s]", body)
		}
		width := len(from)
		for n := lo; n <= hi; n++ {
			alts = append(alts, fmt.Sprintf("%0*d", width, n))
		}

	case len(body) == 3 && body[1] == '-':
		if body[0] > body[2] {
			return nil, "", fmt.Errorf("descending range [%s]", body)
		}
		for c := body[0]; ; c++ {
			alts = append(alts, string(c))
			if c == body[2] {
				break
			}
		}

	default:
		for i := 0; i < len(body); i++ {
			alts = append(alts, body[i:i+1])
		}
	}

	seen := make(map[string]struct{}, len(alts))
	unique := alts[:0]
	var dups []string
	for _, a := range alts {
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			dups = append(dups, a)
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, a)
	}

	var warning string
	if len(dups) > 0 {
		warning = fmt.Sprintf("duplicate alternatives %q in [%s]", dups, body)
	}
	return unique, warning, nil
}

func isNumericRange(s string) bool {
	from, to, ok := strings.Cut(s, "-")
	return ok && isDigits(from) && isDigits(to)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// TheaterDependent reports whether the pattern references a theater column.
func (p PatternEntry) TheaterDependent() bool {
	return p.maxSlot >= 1
}

// HasEnumeration reports whether the pattern expands to more than one name
// per slot assignment.
func (p PatternEntry) HasEnumeration() bool {
	for _, s := range p.segments {
		if s.kind == segmentEnum {
			return true
		}
	}
	return false
}

// Expand yields every name the pattern produces for base and one theater
// row, leftmost enumeration varying slowest. Slots past the end of row
// expand to nothing.
func (p PatternEntry) Expand(base string, row []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		// Odometer over the enumeration segments.
		var enums []int
		for i, s := range p.segments {
			if s.kind == segmentEnum {
				enums = append(enums, i)
			}
		}
		digits := make([]int, len(enums))

		for {
			var b strings.Builder
			d := 0
			for _, s := range p.segments {
				switch s.kind {
				case segmentLiteral:
					b.WriteString(s.text)
				case segmentSlot:
					b.WriteString(slotValue(s.slot, base, row))
				case segmentEnum:
					b.WriteString(s.alts[digits[d]])
					d++
				}
			}
			if !yield(b.String()) {
				return
			}

			k := len(digits) - 1
			for ; k >= 0; k-- {
				digits[k]++
				if digits[k] < len(p.segments[enums[k]].alts) {
					break
				}
				digits[k] = 0
			}
			if k < 0 {
				return
			}
		}
	}
}

// Describe fills the description template for one expansion. An empty
// template yields the base description.
func (p PatternEntry) Describe(baseDescription string, row []string) string {
	if p.Description == "" {
		return baseDescription
	}
	var b strings.Builder
	tmpl := p.Description
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:open])
		if n, err := strconv.Atoi(tmpl[open+1 : open+end]); err == nil {
			b.WriteString(slotValue(n, baseDescription, row))
		} else {
			b.WriteString(tmpl[open : open+end+1])
		}
		tmpl = tmpl[open+end+1:]
	}
	return strings.TrimSpace(b.String())
}

func slotValue(n int, base string, row []string) string {
	if n == 0 {
		return base
	}
	if n-1 < len(row) {
		return row[n-1]
	}
	return ""
}
