package query

import (
	"fmt"
	"strconv"
	"strings"
)

// decodeURLON parses URL object notation into the same generic tree shape
// encoding/json produces (map[string]any, []any, string, float64, bool,
// nil). The grammar:
//
//	value  := '$' object | '@' array | '=' string | ':' literal
//	object := key value ('&' key value)* ';'?
//	array  := value ('&' value)* ';'?
//
// '&' separates entries of the innermost open container; ';' closes it.
// '/' escapes the following character inside keys and strings.
func decodeURLON(input string) (any, error) {
	p := &urlonParser{s: input}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.closers() // trailing semicolons are harmless
	if p.i != len(p.s) {
		return nil, fmt.Errorf("unexpected character at offset %d", p.i)
	}
	return v, nil
}

type urlonParser struct {
	s string
	i int
}

func (p *urlonParser) value() (any, error) {
	if p.i >= len(p.s) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch p.s[p.i] {
	case '$':
		p.i++
		return p.object()
	case '@':
		p.i++
		return p.array()
	case '=':
		p.i++
		return p.str(), nil
	case ':':
		p.i++
		return p.literal()
	default:
		return nil, fmt.Errorf("unexpected character %q at offset %d", p.s[p.i], p.i)
	}
}

func (p *urlonParser) object() (any, error) {
	obj := map[string]any{}
	for {
		if p.i >= len(p.s) {
			return obj, nil
		}
		if p.s[p.i] == ';' {
			p.i++
			return obj, nil
		}
		key := p.key()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[key] = val

		if p.i < len(p.s) && p.s[p.i] == ';' {
			p.i++
			return obj, nil
		}
		if p.i < len(p.s) && p.s[p.i] == '&' {
			p.i++
			continue
		}
		return obj, nil
	}
}

func (p *urlonParser) array() (any, error) {
	arr := []any{}
	for {
		if p.i >= len(p.s) || p.s[p.i] == ';' {
			if p.i < len(p.s) {
				p.i++
			}
			return arr, nil
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)

		if p.i < len(p.s) && p.s[p.i] == ';' {
			p.i++
			return arr, nil
		}
		if p.i < len(p.s) && p.s[p.i] == '&' {
			p.i++
			continue
		}
		return arr, nil
	}
}

// key reads an object key, stopping at any structural character.
func (p *urlonParser) key() string {
	var b strings.Builder
	for p.i < len(p.s) {
		c := p.s[p.i]
		if c == '/' && p.i+1 < len(p.s) {
			b.WriteByte(p.s[p.i+1])
			p.i += 2
			continue
		}
		if c == '$' || c == '@' || c == '=' || c == ':' || c == '&' || c == ';' {
			break
		}
		b.WriteByte(c)
		p.i++
	}
	return b.String()
}

// str reads a string value, stopping at an unescaped separator.
func (p *urlonParser) str() string {
	var b strings.Builder
	for p.i < len(p.s) {
		c := p.s[p.i]
		if c == '/' && p.i+1 < len(p.s) {
			b.WriteByte(p.s[p.i+1])
			p.i += 2
			continue
		}
		if c == '&' || c == ';' {
			break
		}
		b.WriteByte(c)
		p.i++
	}
	return b.String()
}

// literal reads a non-string primitive: true, false, null or a number.
func (p *urlonParser) literal() (any, error) {
	start := p.i
	for p.i < len(p.s) && p.s[p.i] != '&' && p.s[p.i] != ';' {
		p.i++
	}
	token := p.s[start:p.i]
	switch token {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	n, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid literal %q", token)
	}
	return n, nil
}

// closers consumes trailing container terminators.
func (p *urlonParser) closers() {
	for p.i < len(p.s) && p.s[p.i] == ';' {
		p.i++
	}
}
