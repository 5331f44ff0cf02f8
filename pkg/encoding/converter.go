package encoding

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

// Conversion error codes
const (
	CodeUnsupportedCharset = -1
	CodeTransformFailed    = -2
)

// ErrUnsupportedCharset is returned when no codec is known for a charset name.
var ErrUnsupportedCharset = errors.New("unsupported charset")

// ConversionError reports a converter fault that could not be recovered by
// substituting '?' for the offending input.
type ConversionError struct {
	From Charset
	To   Charset
	Code int
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert %s to %s (code %d): %v", e.From, e.To, e.Code, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// replacement is written wherever input cannot be represented
const replacement = '?'

var knownEncodings = map[Charset]encoding.Encoding{
	CharsetLatin1:    charmap.ISO8859_1,
	CharsetCyrillic:  charmap.ISO8859_5,
	CharsetHebrew:    charmap.ISO8859_8,
	CharsetEUCJP:     japanese.EUCJP,
	CharsetISO2022JP: japanese.ISO2022JP,
	CharsetKSC5601:   korean.EUCKR,
	CharsetUCS2:      unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// Converter transcodes byte strings from one charset to another.
type Converter struct {
	from Charset
	to   Charset
}

// NewConverter creates a converter between two charsets
func NewConverter(from, to Charset) *Converter {
	return &Converter{from: from, to: to}
}

// Convert transcodes src. Conversions involving GSM7 are staged through UTF-8.
func (c *Converter) Convert(src []byte) ([]byte, error) {
	if c.from == c.to && c.from != CharsetUTF8 {
		return append([]byte(nil), src...), nil
	}

	text, err := decode(src, c.from)
	if err != nil {
		return nil, &ConversionError{From: c.from, To: c.to, Code: codeOf(err), Err: err}
	}

	out, err := encode(text, c.to)
	if err != nil {
		return nil, &ConversionError{From: c.from, To: c.to, Code: codeOf(err), Err: err}
	}
	return out, nil
}

// Convert transcodes src from one charset to another.
func Convert(src []byte, from, to Charset) ([]byte, error) {
	return NewConverter(from, to).Convert(src)
}

// ToUTF8 decodes a message body according to its data_coding.
func ToUTF8(src []byte, dataCoding byte) (string, error) {
	out, err := Convert(src, SelectCharset(dataCoding), CharsetUTF8)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FromUTF8 encodes text for a message body with the given data_coding.
func FromUTF8(text string, dataCoding byte) ([]byte, error) {
	return Convert([]byte(text), CharsetUTF8, SelectCharset(dataCoding))
}

// SwapUCS2 converts little-endian UCS-2 to big-endian (and back). An odd
// trailing byte is padded with a NUL before pairs are swapped.
func SwapUCS2(src []byte) []byte {
	out := make([]byte, len(src), len(src)+1)
	copy(out, src)
	if len(out)%2 != 0 {
		out = append(out, 0)
	}
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

func codeOf(err error) int {
	if errors.Is(err, ErrUnsupportedCharset) {
		return CodeUnsupportedCharset
	}
	return CodeTransformFailed
}

func lookup(cs Charset) (encoding.Encoding, error) {
	if e, ok := knownEncodings[cs]; ok {
		return e, nil
	}
	e, err := ianaindex.IANA.Encoding(string(cs))
	if err != nil || e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCharset, cs)
	}
	return e, nil
}

// decode returns src as UTF-8 text
func decode(src []byte, from Charset) (string, error) {
	switch from {
	case CharsetGSM7:
		return DecodeGSM7(src), nil
	case CharsetUTF8:
		return sanitizeUTF8(src), nil
	case CharsetASCII:
		return asciiOnly(string(src)), nil
	}

	e, err := lookup(from)
	if err != nil {
		return "", err
	}
	out, err := e.NewDecoder().Bytes(src)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", from, err)
	}
	return sanitizeUTF8(out), nil
}

// encode writes UTF-8 text in the target charset
func encode(text string, to Charset) ([]byte, error) {
	switch to {
	case CharsetGSM7:
		return EncodeGSM7(text), nil
	case CharsetUTF8:
		return []byte(text), nil
	case CharsetASCII:
		return []byte(asciiOnly(text)), nil
	}

	e, err := lookup(to)
	if err != nil {
		return nil, err
	}
	out, err := e.NewEncoder().String(text)
	if err == nil {
		return []byte(out), nil
	}

	// Replace the runes the target cannot hold, then encode in one pass so
	// stateful encodings keep their shift state across the whole text.
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if _, rerr := e.NewEncoder().String(string(r)); rerr != nil {
			sb.WriteRune(replacement)
			continue
		}
		sb.WriteRune(r)
	}
	out, err = e.NewEncoder().String(sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", to, err)
	}
	return []byte(out), nil
}

func sanitizeUTF8(b []byte) string {
	if utf8.Valid(b) && !strings.ContainsRune(string(b), utf8.RuneError) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError {
			sb.WriteRune(replacement)
		} else {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}

func asciiOnly(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r > 0x7F || r == utf8.RuneError {
			sb.WriteRune(replacement)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
