// Package flatjson reads and writes JSON objects whose values are all
// scalars. Nested objects and arrays are rejected. Every value is kept as a
// string: strings are unescaped, numbers and literals keep their source text.
package flatjson

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MaxKeyLength   = 50
	MaxValueLength = 255
)

// SyntaxError describes malformed input
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid JSON at offset %d: %s", e.Offset, e.Msg)
}

// Parse decodes a flat JSON object into a map. Members with an empty value
// are dropped; a repeated key keeps its last value.
func Parse(data []byte) (map[string]string, error) {
	p := &parser{data: data}
	obj, err := p.object()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.data) {
		return nil, p.errorf("unexpected trailing data")
	}
	return obj, nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.data) {
		return 0, false
	}
	return p.data[p.pos], true
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	got, ok := p.peek()
	if !ok {
		return p.errorf("expected %q, got end of input", c)
	}
	if got != c {
		return p.errorf("expected %q, got %q", c, got)
	}
	p.pos++
	return nil
}

// object = '{' [ member { ',' member } ] '}'
func (p *parser) object() (map[string]string, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	obj := make(map[string]string)

	p.skipSpace()
	if c, ok := p.peek(); ok && c == '}' {
		p.pos++
		return obj, nil
	}

	for {
		key, value, err := p.member()
		if err != nil {
			return nil, err
		}
		if value != "" {
			obj[key] = value
		}

		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated object")
		}
		p.pos++
		switch c {
		case ',':
			continue
		case '}':
			return obj, nil
		default:
			return nil, p.errorf("expected ',' or '}', got %q", c)
		}
	}
}

// member = string ':' value
func (p *parser) member() (string, string, error) {
	p.skipSpace()
	key, err := p.str()
	if err != nil {
		return "", "", err
	}
	if key == "" {
		return "", "", p.errorf("empty key")
	}
	if len(key) > MaxKeyLength {
		return "", "", p.errorf("key longer than %d bytes", MaxKeyLength)
	}
	if err := p.expect(':'); err != nil {
		return "", "", err
	}
	value, err := p.value()
	if err != nil {
		return "", "", err
	}
	if len(value) > MaxValueLength {
		return "", "", p.errorf("value of %q longer than %d bytes", key, MaxValueLength)
	}
	return key, value, nil
}

func (p *parser) value() (string, error) {
	p.skipSpace()
	c, ok := p.peek()
	if !ok {
		return "", p.errorf("missing value")
	}
	switch {
	case c == '"':
		return p.str()
	case c == '{' || c == '[':
		return "", p.errorf("nested values are not supported")
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		for _, lit := range []string{"true", "false", "null"} {
			if strings.HasPrefix(string(p.data[p.pos:]), lit) {
				p.pos += len(lit)
				return lit, nil
			}
		}
		return "", p.errorf("unexpected character %q", c)
	}
}

func (p *parser) number() (string, error) {
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	text := string(p.data[start:p.pos])
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		p.pos = start
		return "", p.errorf("invalid number %q", text)
	}
	return text, nil
}

func (p *parser) str() (string, error) {
	if c, ok := p.peek(); !ok || c != '"' {
		return "", p.errorf("expected string")
	}
	p.pos++

	var b strings.Builder
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '"':
			p.pos++
			return b.String(), nil
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return "", err
			}
		case c < 0x20:
			return "", p.errorf("control character in string")
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) escape(b *strings.Builder) error {
	p.pos++ // backslash
	c, ok := p.peek()
	if !ok {
		return p.errorf("unterminated escape")
	}
	p.pos++
	switch c {
	case '"', '\\', '/':
		b.WriteByte(c)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'u':
		if p.pos+4 > len(p.data) {
			return p.errorf("short unicode escape")
		}
		code, err := strconv.ParseUint(string(p.data[p.pos:p.pos+4]), 16, 32)
		if err != nil {
			return p.errorf("invalid unicode escape")
		}
		p.pos += 4
		b.WriteRune(rune(code))
	default:
		return p.errorf("invalid escape %q", c)
	}
	return nil
}

// Marshal encodes obj as a flat JSON object with keys in sorted order.
func Marshal(obj map[string]string) []byte {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = appendString(buf, k)
		buf = append(buf, ": "...)
		buf = appendString(buf, obj[k])
	}
	return append(buf, '}')
}

// MarshalArray encodes objs as a JSON array, one object per line.
func MarshalArray(objs []map[string]string) []byte {
	buf := []byte("[\n")
	for i, obj := range objs {
		if i > 0 {
			buf = append(buf, ",\n"...)
		}
		buf = append(buf, Marshal(obj)...)
	}
	return append(buf, "\n]"...)
}

const hex = "0123456789abcdef"

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"', '\\':
				buf = append(buf, '\\', c)
			case '\n':
				buf = append(buf, '\\', 'n')
			case '\r':
				buf = append(buf, '\\', 'r')
			case '\t':
				buf = append(buf, '\\', 't')
			default:
				if c < 0x20 {
					buf = append(buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
				} else {
					buf = append(buf, c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, `\ufffd`...)
		} else {
			buf = append(buf, s[i:i+size]...)
		}
		i += size
	}
	return append(buf, '"')
}
