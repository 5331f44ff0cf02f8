package smpp

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressPattern matches destination or source addresses owned by a session.
// A pattern is either an exact address or a numeric range "start-end".
type AddressPattern struct {
	exact    string
	numeric  bool
	low      uint64
	high     uint64
	minDigit int
	maxDigit int
}

// ParseAddressPattern parses one pattern. A range needs both ends to be
// integers with start <= end.
func ParseAddressPattern(s string) (AddressPattern, error) {
	if s == "" {
		return AddressPattern{}, fmt.Errorf("%w: empty address pattern", ErrInvalidField)
	}

	start, end, isRange := strings.Cut(s, "-")
	if !isRange {
		return AddressPattern{exact: s}, nil
	}

	low, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return AddressPattern{}, fmt.Errorf("%w: range start %q", ErrInvalidField, start)
	}
	high, err := strconv.ParseUint(end, 10, 64)
	if err != nil {
		return AddressPattern{}, fmt.Errorf("%w: range end %q", ErrInvalidField, end)
	}
	if low > high {
		return AddressPattern{}, fmt.Errorf("%w: inverted range %q", ErrInvalidField, s)
	}

	return AddressPattern{
		numeric:  true,
		low:      low,
		high:     high,
		minDigit: min(len(start), len(end)),
		maxDigit: max(len(start), len(end)),
	}, nil
}

// Match reports whether addr falls within the pattern
func (p AddressPattern) Match(addr string) bool {
	if !p.numeric {
		return p.exact == addr
	}
	if len(addr) < p.minDigit || len(addr) > p.maxDigit || !allDigits(addr) {
		return false
	}
	n, err := strconv.ParseUint(addr, 10, 64)
	if err != nil {
		return false
	}
	return n >= p.low && n <= p.high
}

func (p AddressPattern) String() string {
	if p.numeric {
		return fmt.Sprintf("%d-%d", p.low, p.high)
	}
	return p.exact
}

// AddressSet is an OR of patterns
type AddressSet []AddressPattern

// ParseAddressSet splits a '|' separated list into patterns. An empty string
// yields an empty set; an empty piece inside the list is an error.
func ParseAddressSet(s string) (AddressSet, error) {
	if s == "" {
		return nil, nil
	}
	pieces := strings.Split(s, "|")
	set := make(AddressSet, 0, len(pieces))
	for _, piece := range pieces {
		p, err := ParseAddressPattern(piece)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// Match reports whether any pattern matches addr
func (s AddressSet) Match(addr string) bool {
	for _, p := range s {
		if p.Match(addr) {
			return true
		}
	}
	return false
}

// Covers reports whether every address matched by o is matched by p
func (p AddressPattern) Covers(o AddressPattern) bool {
	if !o.numeric {
		return p.Match(o.exact)
	}
	if !p.numeric {
		return false
	}
	return p.low <= o.low && o.high <= p.high && p.minDigit <= o.minDigit && o.maxDigit <= p.maxDigit
}

// Covers reports whether each pattern of o is covered by some pattern of s
func (s AddressSet) Covers(o AddressSet) bool {
	for _, want := range o {
		covered := false
		for _, have := range s {
			if have.Covers(want) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
